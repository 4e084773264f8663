package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Submission lookup errors
// 13100-13199: Grading & sandbox errors
// 13200-13299: Plagiarism scan errors

const (
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError     ErrorCode = 10100
	RecordNotFound    ErrorCode = 10101
	TransactionFailed ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301

	// Submission (13000-13099)
	SubmissionNotFound   ErrorCode = 13000
	AssignmentNotFound   ErrorCode = 13001
	LanguageNotSupported ErrorCode = 13003

	// Grading (13100-13199)
	GradingQueueFull   ErrorCode = 13100
	SandboxUnavailable ErrorCode = 13101
	RuntimeError       ErrorCode = 13103
	TimeLimitExceeded  ErrorCode = 13104
	PersistenceFailure ErrorCode = 13110

	// Plagiarism scan (13200-13299)
	ScanFailure    ErrorCode = 13200
	StorageError   ErrorCode = 13201
	ScanInProgress ErrorCode = 13202
)

var errorMessages = map[ErrorCode]string{
	Success:              "Success",
	InternalServerError:  "Internal server error",
	InvalidParams:        "Invalid parameters",
	NotFound:             "Resource not found",
	TooManyRequests:      "Too many requests",
	ServiceUnavailable:   "Service temporarily unavailable",
	Timeout:              "Request timeout",
	DatabaseError:        "Database error",
	RecordNotFound:       "Record not found",
	TransactionFailed:    "Transaction failed",
	CacheError:           "Cache error",
	LockFailed:           "Failed to acquire lock",
	ValidationFailed:     "Validation failed",
	InvalidFormat:        "Invalid format",
	SubmissionNotFound:   "Submission not found",
	AssignmentNotFound:   "Assignment not found",
	LanguageNotSupported: "Programming language not supported",
	GradingQueueFull:     "Grading worker pool is full",
	SandboxUnavailable:   "Sandbox backend unavailable",
	RuntimeError:         "Runtime error",
	TimeLimitExceeded:    "Time limit exceeded",
	PersistenceFailure:   "Failed to persist grading result",
	ScanFailure:          "Plagiarism scan failed",
	StorageError:         "Object storage error",
	ScanInProgress:       "Plagiarism scan already in progress",
}

// Message returns the default message for the code.
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus maps the code to the status returned by the ops API.
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == InvalidParams, c == ValidationFailed, c == InvalidFormat, c == LanguageNotSupported:
		return http.StatusBadRequest
	case c == NotFound, c == RecordNotFound, c == SubmissionNotFound, c == AssignmentNotFound:
		return http.StatusNotFound
	case c == TooManyRequests, c == GradingQueueFull:
		return http.StatusTooManyRequests
	case c == ScanInProgress:
		return http.StatusConflict
	case c == ServiceUnavailable, c == SandboxUnavailable:
		return http.StatusServiceUnavailable
	case c == Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
