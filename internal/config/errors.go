package config

import (
	"errors"
	"fmt"
)

// ConfigError reports a configuration problem that cannot be recovered from.
// Phases stop immediately when they see one.
type ConfigError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "configuration error"
	if e.Key != "" {
		msg += " at " + e.Key
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(key, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// WrapConfigError marks err as a configuration error for key.
func WrapConfigError(key, reason string, err error) *ConfigError {
	return &ConfigError{Key: key, Reason: reason, Err: err}
}

// IsConfigError reports whether err (or anything it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
