package window

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every *ConfigError returned from New.
	ErrInvalidConfig = errors.New("window: invalid configuration")

	// ErrPermitLimitExceeded is returned when a caller asks for more permits
	// than the limiter could ever hold. Such requests are never queued.
	ErrPermitLimitExceeded = errors.New("window: permit count exceeds permit limit")

	// ErrInvalidPermits is returned for negative permit counts.
	ErrInvalidPermits = errors.New("window: permit count must not be negative")

	// ErrDisposed is returned by any operation invoked after Close.
	ErrDisposed = errors.New("window: limiter is disposed")

	// ErrCanceled is returned by Acquire when the caller's context ends while
	// the request is still queued. The context error is wrapped alongside it.
	ErrCanceled = errors.New("window: acquire canceled")
)

// ConfigError describes a single rejected Options field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidConfig, e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// invariant panics when permit or queue accounting is inconsistent. Reaching
// it means the limiter itself is broken, so there is nothing to recover.
func invariant(ok bool, msg string) {
	if !ok {
		panic("window: invariant violated: " + msg)
	}
}
