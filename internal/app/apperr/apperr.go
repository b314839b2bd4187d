// Package apperr holds the caller-facing error taxonomy shared by application services.
// Services wrap one of the sentinels below; transports map them to status codes.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrRateLimited      = errors.New("rate limited")
	ErrStorage          = errors.New("storage failure")
)

var kinds = []error{
	ErrUnauthorized,
	ErrPermissionDenied,
	ErrInvalidInput,
	ErrNotFound,
	ErrConflict,
	ErrRateLimited,
	ErrStorage,
}

// Invalid reports an InvalidInput condition with a descriptive reason.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

// Denied reports a PermissionDenied condition with a reason.
func Denied(reason string) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, reason)
}

// NotFound reports a missing resource.
func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// Storage wraps a persistence fault. The cause stays in the chain for logging.
func Storage(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, cause)
}

// Kind returns the taxonomy sentinel err belongs to, or nil for unclassified errors.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Reason returns the descriptive reason attached to a taxonomy error.
// Storage errors never expose their cause.
func Reason(err error) string {
	kind := Kind(err)
	if kind == nil {
		return ""
	}
	if kind == ErrStorage {
		return ErrStorage.Error()
	}
	msg := err.Error()
	prefix := kind.Error() + ": "
	if idx := strings.Index(msg, prefix); idx >= 0 {
		return msg[idx+len(prefix):]
	}
	return kind.Error()
}
