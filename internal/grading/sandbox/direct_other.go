//go:build !linux

package sandbox

import (
	"context"

	appErr "instagrade/pkg/errors"
)

func (d *DirectStrategy) runProcess(ctx context.Context, job Job, script string) (RawResult, error) {
	return RawResult{}, appErr.New(appErr.SandboxUnavailable).WithMessage("direct sandbox strategy requires linux")
}
