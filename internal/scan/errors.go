package scan

import (
	"errors"
	"fmt"
)

// Error kinds. Check with errors.Is.
var (
	// ErrConnection means the source cannot be opened or stopped talking.
	// It is fatal to the current run.
	ErrConnection = errors.New("connection error")

	// ErrSchema means a replay file header does not match the fixed layout.
	ErrSchema = errors.New("schema error")

	// ErrConfiguration means a parameter was rejected before any I/O.
	ErrConfiguration = errors.New("configuration error")

	// ErrShutdown means a stop or close step failed. It is reported as a
	// warning and never blocks the remaining shutdown steps.
	ErrShutdown = errors.New("shutdown error")
)

// Error carries the failing operation alongside its kind.
type Error struct {
	Kind error  // one of the Err* sentinels above
	Op   string // e.g. "open", "stop_motor", "read header"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ConnectionError wraps err as an ErrConnection for op.
func ConnectionError(op string, err error) error {
	return newError(ErrConnection, op, err)
}

// SchemaError reports a header mismatch.
func SchemaError(op string, format string, args ...any) error {
	return newError(ErrSchema, op, fmt.Errorf(format, args...))
}

// ConfigurationError reports a rejected parameter.
func ConfigurationError(op string, format string, args ...any) error {
	return newError(ErrConfiguration, op, fmt.Errorf(format, args...))
}

// ShutdownError wraps a failed stop or close step.
func ShutdownError(op string, err error) error {
	return newError(ErrShutdown, op, err)
}
