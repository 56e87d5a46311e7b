// Package errors provides kind-tagged domain errors for the payment core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Domain error kinds. Every recoverable failure the payment core reports is
// tagged with one of these so the request boundary can map it without string
// matching.
const (
	KindValidation          = "ValidationError"
	KindOrderNotEligible    = "OrderNotEligible"
	KindTxNotEligible       = "TransactionNotEligible"
	KindNoActiveChallenge   = "NoActiveChallenge"
	KindTooManyAttempts     = "TooManyAttempts"
	KindRiskBlocked         = "RiskBlocked"
	KindIntegrity           = "IntegrityError"
	KindInsufficientStock   = "InsufficientStockAtSettlement"
	KindAlreadyProcessed    = "AlreadyProcessed"
	KindUpstreamUnavailable = "UpstreamUnavailable"
	KindNotFound            = "NotFound"
	KindInternal            = "Internal"
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Details carries safe, client-visible context (risk score, attempts left).
	Details map[string]any `json:"details,omitempty"`

	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

func NewWithKind(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(err error) *Error {
	return &Error{Kind: KindInternal, cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

// Reason returns a copy of the error with kind set to given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// WithDetail returns a copy of the error with one detail field added.
func (e *Error) WithDetail(key string, value any) *Error {
	err := *e
	err.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap sets the error cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Is implements the needed interface for errors.Is.
// Two Errors match when their kinds match.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrValidation          = NewWithKind(KindValidation, "invalid request")
	ErrOrderNotEligible    = NewWithKind(KindOrderNotEligible, "order not found or already processed")
	ErrTxNotEligible       = NewWithKind(KindTxNotEligible, "transaction not found or already processed")
	ErrNoActiveChallenge   = NewWithKind(KindNoActiveChallenge, "no OTP found, please reinitiate payment")
	ErrTooManyAttempts     = NewWithKind(KindTooManyAttempts, "too many OTP attempts, transaction cancelled")
	ErrRiskBlocked         = NewWithKind(KindRiskBlocked, "transaction blocked due to suspicious activity")
	ErrIntegrity           = NewWithKind(KindIntegrity, "payload integrity check failed")
	ErrInsufficientStock   = NewWithKind(KindInsufficientStock, "insufficient stock at settlement")
	ErrAlreadyProcessed    = NewWithKind(KindAlreadyProcessed, "operation already processed")
	ErrUpstreamUnavailable = NewWithKind(KindUpstreamUnavailable, "upstream processor unavailable")
	ErrNotFound            = NewWithKind(KindNotFound, "not found")
)

// HTTPStatus maps a domain error kind to the status code reported at the
// request boundary. Unknown kinds map to 500 so internals never leak.
func HTTPStatus(err error) int {
	var e *Error
	if !As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation, KindNoActiveChallenge, KindTooManyAttempts:
		return http.StatusBadRequest
	case KindOrderNotEligible, KindTxNotEligible, KindNotFound:
		return http.StatusNotFound
	case KindRiskBlocked:
		return http.StatusForbidden
	case KindAlreadyProcessed:
		return http.StatusConflict
	case KindInsufficientStock:
		return http.StatusConflict
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Kind extracts the kind tag from an error, or KindInternal when the error
// is not a domain error.
func Kind(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
