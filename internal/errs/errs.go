// Package errs defines the error taxonomy shared by the loaders, adapters,
// executor and orchestrator. Every type wraps its cause so callers can use
// errors.Is / errors.As across package boundaries.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigError is a bad or missing configuration value. Fatal before any test runs.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	s := "config"
	if e.Field != "" {
		s += " " + e.Field
	}
	s += ": " + e.Message
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError describes a malformed test definition. The test is excluded
// from the run, the rest proceed.
type ValidationError struct {
	File     string
	Test     string
	Problems []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid test")
	if e.Test != "" {
		fmt.Fprintf(&b, " %q", e.Test)
	}
	if e.File != "" {
		fmt.Fprintf(&b, " (%s)", e.File)
	}
	b.WriteString(": ")
	b.WriteString(strings.Join(e.Problems, "; "))
	return b.String()
}

// Add appends a problem.
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// OrNil returns nil when no problem was recorded.
func (e *ValidationError) OrNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// ConnectionError is returned when a required adapter cannot connect.
type ConnectionError struct {
	Adapter string
	Cause   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting %s adapter: %v", e.Adapter, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// LoaderError is a test file that could not be read or parsed.
type LoaderError struct {
	File  string
	Cause error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.File, e.Cause)
}

func (e *LoaderError) Unwrap() error { return e.Cause }

// AdapterError is the only error type an adapter lets cross the Execute
// boundary. Transport errors stay reachable through Unwrap but are never
// returned bare.
type AdapterError struct {
	Adapter string
	Action  string
	Message string
	Cause   error
}

func (e *AdapterError) Error() string {
	s := fmt.Sprintf("%s %s: %s", e.Adapter, e.Action, e.Message)
	if e.Cause != nil && e.Cause.Error() != e.Message {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *AdapterError) Unwrap() error { return e.Cause }

// NewAdapterError wraps cause for the given adapter and action.
func NewAdapterError(adapter, action string, cause error) *AdapterError {
	var ae *AdapterError
	if errors.As(cause, &ae) {
		return ae
	}
	msg := "failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &AdapterError{Adapter: adapter, Action: action, Message: msg, Cause: cause}
}

// InterpolationError is an unresolved placeholder or a failing built-in function.
type InterpolationError struct {
	Expr    string
	Message string
	Cause   error
}

func (e *InterpolationError) Error() string {
	s := fmt.Sprintf("interpolating {{%s}}: %s", e.Expr, e.Message)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *InterpolationError) Unwrap() error { return e.Cause }

// TimeoutError marks an operation that exceeded its time budget.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
}

// Kind classifies err for reporting.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var (
		cfgErr  *ConfigError
		valErr  *ValidationError
		connErr *ConnectionError
		loadErr *LoaderError
		adpErr  *AdapterError
		intErr  *InterpolationError
		toErr   *TimeoutError
	)
	switch {
	case errors.As(err, &toErr):
		return "timeout"
	case errors.As(err, &intErr):
		return "interpolation"
	case errors.As(err, &adpErr):
		return "adapter"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &valErr):
		return "validation"
	case errors.As(err, &loadErr):
		return "loader"
	case errors.As(err, &cfgErr):
		return "config"
	}
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "error"
}

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var toErr *TimeoutError
	return errors.As(err, &toErr)
}
