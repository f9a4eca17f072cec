// Package errors classifies graphdb failures and defines the domain error
// types reported by ingestion and queries.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller what to do with a failure.
type ErrorClass int

const (
	// ErrorTransient failures may succeed on retry.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid failures are caused by the input and never succeed on retry.
	ErrorInvalid
	// ErrorFatal failures should stop the process.
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors shared by the stores and the NATS client.
var (
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrInvalidData   = errors.New("invalid data format")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrDataCorrupted = errors.New("data corrupted")
)

var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrNoConnection, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrConnectionTimeout, ErrorTransient},
	{ErrStorageUnavailable, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{context.Canceled, ErrorTransient},
	{ErrInvalidConfig, ErrorFatal},
	{ErrDataCorrupted, ErrorFatal},
	{ErrInvalidData, ErrorInvalid},
}

// Driver and transport errors are often plain strings; these substrings
// mark them.
var (
	transientWords = []string{"timeout", "connection", "network", "temporary", "unavailable", "busy", "retry"}
	fatalWords     = []string{"fatal", "panic", "corrupted", "invalid config", "out of memory"}
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classify returns the class of err and whether anything about err
// determined it.
func classify(err error) (ErrorClass, bool) {
	if isPermanentDomainError(err) {
		return ErrorInvalid, true
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, s := range sentinelClasses {
		if errors.Is(err, s.err) {
			return s.class, true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, w := range transientWords {
		if strings.Contains(msg, w) {
			return ErrorTransient, true
		}
	}
	for _, w := range fatalWords {
		if strings.Contains(msg, w) {
			return ErrorFatal, true
		}
	}
	return ErrorTransient, false
}

// Classify returns the error class for err. Unrecognized errors are
// transient so they get another attempt.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	class, _ := classify(err)
	return class
}

func is(err error, want ErrorClass) bool {
	if err == nil {
		return false
	}
	class, known := classify(err)
	return known && class == want
}

// IsTransient reports whether err is known to be retryable.
func IsTransient(err error) bool { return is(err, ErrorTransient) }

// IsInvalid reports whether err was caused by the input.
func IsInvalid(err error) bool { return is(err, ErrorInvalid) }

// IsFatal reports whether err should stop processing.
func IsFatal(err error) bool { return is(err, ErrorFatal) }

// Wrap adds context following the pattern "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}
