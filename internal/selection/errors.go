package selection

import (
	"errors"
	"fmt"
)

// ConfigError reports a selection or clause that cannot be constructed.
// Configuration errors are not recoverable: they are returned at
// construction time and nothing is mutated.
type ConfigError struct {
	// Code identifies the error category.
	Code ConfigErrorCode

	// Message is a human-readable description.
	Message string

	// Name identifies the selection, param or field involved, if any.
	Name string
}

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeUnknownStrategy indicates a strategy name outside the closed set.
	ErrCodeUnknownStrategy ConfigErrorCode = "UNKNOWN_STRATEGY"

	// ErrCodeMalformedClause indicates a clause missing a source or fields,
	// or carrying values that do not fit its kind.
	ErrCodeMalformedClause ConfigErrorCode = "MALFORMED_CLAUSE"

	// ErrCodeNotifyDepth indicates a listener re-entered an update beyond
	// the configured maximum notification depth.
	ErrCodeNotifyDepth ConfigErrorCode = "NOTIFY_DEPTH_EXCEEDED"
)

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Name)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsNotifyDepthError returns true if err reports a re-entrancy limit hit.
func IsNotifyDepthError(err error) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeNotifyDepth
	}
	return false
}

func malformed(name, format string, args ...any) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMalformedClause,
		Message: fmt.Sprintf(format, args...),
		Name:    name,
	}
}
