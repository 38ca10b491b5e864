package pipeline

import (
	"errors"
	"fmt"

	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// ConfigError reports an invalid pipeline, action or template configuration.
type ConfigError struct {
	Component string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Component, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(component, format string, args ...any) error {
	return &ConfigError{Component: component, Err: fmt.Errorf(format, args...)}
}

// ConversionError reports a value that could not be converted.
type ConversionError struct {
	Converter string
	Value     model.Value
	Err       error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("converter %s failed on %s value %q: %v", e.Converter, e.Value.TypeName(), e.Value.String(), e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// LimitExceededError signals that a configured maximum number of adds or
// emits was reached. It ends the current datasource early.
type LimitExceededError struct {
	What  string
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("max %s exceeded: %d", e.What, e.Limit)
}

// IsLimitExceeded reports whether err, or anything it wraps, is a LimitExceededError.
func IsLimitExceeded(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le)
}

// RecordError is an error raised while handling a record that no error
// handler action dealt with.
type RecordError struct {
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("unhandled record error: %v", e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// DispatchError wraps an action failure with the event being dispatched.
type DispatchError struct {
	Key       string
	ValueType string
	Action    string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("error while handling key %q [value type %s] in action %s: %v", e.Key, e.ValueType, e.Action, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
