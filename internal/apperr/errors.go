// Package apperr defines the error taxonomy shared by every engine and the
// HTTP layer. Each error carries a stable code so thin clients can branch
// without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindForbidden
	KindUnauthorized
	KindNotFound
	KindResource
	KindUnavailable
	KindRateLimited
)

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeConflict            = "CONFLICT"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeStaleBid            = "STALE_BID"
	CodeForbidden           = "FORBIDDEN"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotFound            = "NOT_FOUND"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeBelowMinimum        = "BELOW_MINIMUM"
	CodeListingUnavailable  = "LISTING_UNAVAILABLE"
	CodeBidTooLow           = "BID_TOO_LOW"
	CodeRateLimited         = "RATE_LIMITED"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// Error is an application error. Two errors match under errors.Is when their
// codes are equal, so wrapped sentinels compare by code.
type Error struct {
	Kind            Kind
	Code            string
	Message         string
	UserMessage     string
	SuggestedAction string
	Err             error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new Error.
func New(kind Kind, code, message, userMessage, suggestedAction string) *Error {
	return &Error{
		Kind:            kind,
		Code:            code,
		Message:         message,
		UserMessage:     userMessage,
		SuggestedAction: suggestedAction,
	}
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

var (
	ErrValidation = New(KindValidation, CodeValidation,
		"validation failed", "Some of the submitted data is invalid.", "Correct the highlighted fields and try again.")
	ErrConflict = New(KindConflict, CodeConflict,
		"state changed concurrently", "This item was changed by someone else.", "Refresh and try again.")
	ErrInvalidTransition = New(KindConflict, CodeInvalidTransition,
		"invalid status transition", "This action is no longer available for the order.", "Refresh the order to see its current status.")
	ErrStaleBid = New(KindConflict, CodeStaleBid,
		"bid is no longer the highest", "A higher bid has arrived since you last looked.", "Refresh the bids and accept the current highest one.")
	ErrForbidden = New(KindForbidden, CodeForbidden,
		"forbidden", "You are not allowed to perform this action.", "")
	ErrUnauthorized = New(KindUnauthorized, CodeUnauthorized,
		"unauthorized", "Please sign in again.", "Sign in and retry.")
	ErrNotFound = New(KindNotFound, CodeNotFound,
		"not found", "The requested item could not be found.", "")
	ErrInsufficientBalance = New(KindResource, CodeInsufficientBalance,
		"insufficient balance", "Your balance is not enough for this amount.", "Lower the amount or top up your balance.")
	ErrBelowMinimum = New(KindResource, CodeBelowMinimum,
		"amount below platform minimum", "The amount is below the minimum allowed.", "Increase the amount to at least the minimum.")
	ErrListingUnavailable = New(KindResource, CodeListingUnavailable,
		"listing is not available", "This item is no longer available.", "Browse other items.")
	ErrBidTooLow = New(KindResource, CodeBidTooLow,
		"bid must exceed the current highest bid", "Your bid must be higher than the current highest bid.", "Raise your bid and try again.")
	ErrRateLimited = New(KindRateLimited, CodeRateLimited,
		"rate limit exceeded", "Too many requests.", "Wait a moment and try again.")
	ErrUnavailable = New(KindUnavailable, CodeServiceUnavailable,
		"storage temporarily unavailable", "The service is temporarily unavailable.", "Retry the same request shortly.")
	ErrInternal = New(KindInternal, CodeInternal,
		"internal error", "Something went wrong.", "Try again later.")
)

// Validation builds a validation error with a field-specific message.
func Validation(format string, args ...any) *Error {
	return ErrValidation.Withf(format, args...)
}

// From extracts the application error carried by err. Unknown errors map to
// ErrInternal with err as the cause.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err)
}

// HTTPStatus maps an error kind to the HTTP status used in responses.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindResource:
		return http.StatusUnprocessableEntity
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
