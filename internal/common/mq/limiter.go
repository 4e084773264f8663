package mq

import "context"

// TokenLimiter is a counting FetchLimiter.
type TokenLimiter struct {
	tokens chan struct{}
}

func NewTokenLimiter(size int) *TokenLimiter {
	if size <= 0 {
		size = 1
	}
	return &TokenLimiter{tokens: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *TokenLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.tokens <- struct{}{}:
		return nil
	}
}

func (l *TokenLimiter) Release() {
	select {
	case <-l.tokens:
	default:
	}
}

// InUse returns the number of held slots.
func (l *TokenLimiter) InUse() int {
	return len(l.tokens)
}
