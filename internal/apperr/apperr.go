// Package apperr defines the error taxonomy shared by the booking services.
// Every error that should reach a client carries a Kind (how it is reported)
// and a stable machine-readable Code.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidInput
	KindInvalidStateTransition
	KindConflict
	KindUnavailable
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidStateTransition:
		return "invalid_state_transition"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// Stable error codes.
const (
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeIdempotencyKeyConflict = "IDEMPOTENCY_KEY_CONFLICT"
	CodeSlotNotAvailable       = "SLOT_NOT_AVAILABLE"
	CodeForbidden              = "FORBIDDEN"
	CodeServiceInactive        = "SERVICE_INACTIVE"
	CodeInvalidTimeSlot        = "INVALID_TIME_SLOT"
	CodeInvalidTimeRange       = "INVALID_TIME_RANGE"
	CodeInvalidOrderStatus     = "INVALID_ORDER_STATUS"
	CodeInvalidIdempotencyKey  = "INVALID_IDEMPOTENCY_KEY"
	CodeInvalidRequestID       = "INVALID_REQUEST_ID"
	CodeInvalidStatus          = "INVALID_STATUS"
	CodePaymentNotFound        = "PAYMENT_NOT_FOUND"
	CodeValidation             = "VALIDATION_ERROR"
	CodeInternal               = "INTERNAL_ERROR"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so callers can compare against the
// sentinel-style values returned by the constructors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NotFound reports a missing resource, e.g. NotFound("Order", "ORD_1").
func NotFound(resource, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// InvalidInput reports a request that fails validation.
func InvalidInput(code, message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: code, Message: message}
}

// InvalidTransition reports a rejected state transition. The message carries
// the current state for the caller.
func InvalidTransition(message string) *Error {
	return &Error{
		Kind:    KindInvalidStateTransition,
		Code:    CodeInvalidStateTransition,
		Message: message,
	}
}

// Conflict reports a lost uniqueness race or a reused key with a different payload.
func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// Unavailable reports a resource that exists but cannot be acquired.
func Unavailable(code, message string) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: message}
}

// Forbidden reports a caller that does not own the resource it mutates.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: message}
}

// Internal wraps an unexpected failure. The message is never shown to clients.
func Internal(err error, message string) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// KindOf returns the Kind of err, KindInternal when unclassified.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}
