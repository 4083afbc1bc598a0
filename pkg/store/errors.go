package store

import (
	"errors"
	"fmt"
)

// ErrorClass classifies store and persistence failures.
type ErrorClass string

const (
	// ErrorClassPersistenceRead covers unavailable or corrupt storage at rehydration.
	// These are logged and tolerated.
	ErrorClassPersistenceRead ErrorClass = "persistence_read"

	// ErrorClassPersistenceWrite covers failed writes of changed slices.
	// The key is retried on its next change.
	ErrorClassPersistenceWrite ErrorClass = "persistence_write"

	// ErrorClassDispatch covers reducer and middleware failures.
	// These are returned to the caller of Dispatch.
	ErrorClassDispatch ErrorClass = "dispatch"

	// ErrorClassPolicy marks actions rejected by a policy guard.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassConfiguration marks invalid construction parameters.
	ErrorClassConfiguration ErrorClass = "configuration"
)

// Error codes for programmatic handling.
const (
	ErrCodeReducer      = "REDUCER_FAILED"
	ErrCodePanic        = "PANIC"
	ErrCodeMiddleware   = "MIDDLEWARE_FAILED"
	ErrCodeInvalid      = "INVALID_ACTION"
	ErrCodeUnknownSlice = "UNKNOWN_SLICE"
	ErrCodeDecode       = "DECODE_FAILED"
	ErrCodeDenied       = "DENIED"
)

var (
	// ErrUnknownSlice is returned when state names a slice with no reducer.
	ErrUnknownSlice = errors.New("unknown slice")

	// ErrDuplicateSlice is returned when a slice name is registered twice.
	ErrDuplicateSlice = errors.New("duplicate slice")
)

// StoreError is a classified error with context.
// nolint:revive // StoreError reads better than store.Error at call sites
type StoreError struct {
	Class ErrorClass `json:"class"`

	Message string `json:"message"`

	Code string `json:"code,omitempty"`

	// Key is the slice involved, if any.
	Key string `json:"key,omitempty"`

	// Action is the action type being dispatched, if any.
	Action string `json:"action,omitempty"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Action != "" {
		msg += fmt.Sprintf(" (action=%s)", e.Action)
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches another *StoreError with the same class and code.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewDispatchError creates an error for a failed reducer or middleware.
func NewDispatchError(message string, err error) *StoreError {
	return &StoreError{Class: ErrorClassDispatch, Message: message, Err: err}
}

// NewPolicyError creates an error for a denied action.
func NewPolicyError(message string, err error) *StoreError {
	return &StoreError{Class: ErrorClassPolicy, Message: message, Code: ErrCodeDenied, Err: err}
}

// NewReadError creates a tolerated persistence read error.
func NewReadError(message string, err error) *StoreError {
	return &StoreError{Class: ErrorClassPersistenceRead, Message: message, Err: err}
}

// NewWriteError creates a persistence write error.
func NewWriteError(message string, err error) *StoreError {
	return &StoreError{Class: ErrorClassPersistenceWrite, Message: message, Err: err}
}

// NewConfigurationError creates an error for invalid construction parameters.
func NewConfigurationError(message string, err error) *StoreError {
	return &StoreError{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// WithKey sets the slice key.
func (e *StoreError) WithKey(key string) *StoreError {
	e.Key = key
	return e
}

// WithAction sets the action type.
func (e *StoreError) WithAction(actionType string) *StoreError {
	e.Action = actionType
	return e
}

// WithCode sets the error code.
func (e *StoreError) WithCode(code string) *StoreError {
	e.Code = code
	return e
}

// ClassOf returns the class of err, or "" when err is not a *StoreError.
func ClassOf(err error) ErrorClass {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Class
	}
	return ""
}

// IsPolicyDenied reports whether err is a policy rejection.
func IsPolicyDenied(err error) bool {
	return ClassOf(err) == ErrorClassPolicy
}
