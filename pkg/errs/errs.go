package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Kind classifies a failure for the retry/degrade policy.
type Kind int

const (
	// KindUnknown unclassified failure, not retried
	KindUnknown Kind = iota
	// KindNetwork connectivity or timeout, retryable on the send path
	KindNetwork
	// KindAuth expired or invalid credentials
	KindAuth
	// KindNotFound resource gone server-side, terminal
	KindNotFound
	// KindStorage local cache/disk failure, always swallowed
	KindStorage
	// KindParse malformed or unexpected payload shape
	KindParse
)

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and operation label.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, op string, format string, a ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, a...)}
}

// KindOf extracts the kind from err, falling back to structural checks for
// errors produced outside this package (net timeouts, context deadlines).
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// IsRetryable reports whether the send path may retry after err.
func IsRetryable(err error) bool {
	return KindOf(err) == KindNetwork
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// IsNotFound reports whether err means the resource is gone server-side.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
