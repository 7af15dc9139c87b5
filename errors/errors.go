// Package errors provides the error classification used across the oscquery server.
//
// Errors fall into three classes. Transient errors (read timeouts, would-block) are
// retried in place by the loop that hit them. Invalid errors are bad input: structural
// misuse of the node graph by the application, malformed configuration, or undecodable
// network payloads. Fatal errors stop the owning loop or the startup sequence.
//
// Wrapping follows the "component.method: action failed: %w" format and keeps the
// chain intact for errors.Is and errors.As.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
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

// Node graph errors. These are always reported to the caller of AddNode/RmNode.
var (
	ErrNameCollision  = errors.New("name collision")
	ErrInvalidHandle  = errors.New("invalid handle")
	ErrNotAContainer  = errors.New("not a container")
	ErrInvalidName    = errors.New("invalid node name")
	ErrAccessMismatch = errors.New("parameter access does not match node kind")
)

// Wire errors. Decode failures are counted and dropped, never surfaced to a peer.
var (
	ErrDecodeFailure = errors.New("decode failure")
	ErrUnknownType   = errors.New("unknown OSC type tag")
)

// Lifecycle and configuration errors
var (
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConnectionLost = errors.New("connection lost")
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

// IsTransient reports whether err is worth retrying in place: a read deadline tick,
// a would-block, or an explicitly transient classified error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnectionLost)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	for _, known := range []error{
		ErrNameCollision, ErrInvalidHandle, ErrNotAContainer, ErrInvalidName,
		ErrAccessMismatch, ErrDecodeFailure, ErrUnknownType, ErrInvalidConfig,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

// Classify returns the error class for an error. Unknown errors are fatal: the
// network loops only retry what they positively know to be transient.
func Classify(err error) ErrorClass {
	switch {
	case IsTransient(err):
		return ErrorTransient
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorFatal
	}
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Is, As, New and Join re-export the standard library so callers can import a single
// errors package.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)
