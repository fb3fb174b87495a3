package domain

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ConfigurationError reports a provider secret or setting that is not configured.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return "missing configuration: " + e.Setting
}

// ValidationError reports bad client input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UpstreamError reports a payment provider rejecting a call. Body is the raw provider
// response and is only ever logged.
type UpstreamError struct {
	Provider Provider
	Status   int
	Message  string
	Body     string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s returned status %d", e.Provider, e.Status)
}

// PaymentNotCompletedError reports a payment that exists but is not in a paid state.
type PaymentNotCompletedError struct {
	Status string
}

func (e *PaymentNotCompletedError) Error() string {
	return fmt.Sprintf("payment not completed (status %q)", e.Status)
}

// PersistenceError reports a failed data-store write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// MissingUserError reports a paid checkout that carries no owning user reference.
type MissingUserError struct {
	SessionID string
}

func (e *MissingUserError) Error() string {
	return "no user reference on checkout session " + e.SessionID
}

// AmountMismatchError reports a provider amount that disagrees with the lines the order
// would record. Reference is the provider session or capture id to reconcile against.
type AmountMismatchError struct {
	Provider  Provider
	Reference string
	Expected  decimal.Decimal
	Actual    decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("%s %s: paid amount %s does not match order lines %s",
		e.Provider, e.Reference, e.Expected.StringFixed(2), e.Actual.StringFixed(2))
}

// HTTPStatus maps an error from any layer to the status code returned at the request boundary.
func HTTPStatus(err error) int {
	var (
		cfgErr      *ConfigurationError
		validErr    *ValidationError
		upstreamErr *UpstreamError
		paymentErr  *PaymentNotCompletedError
		persistErr  *PersistenceError
		userErr     *MissingUserError
		mismatchErr *AmountMismatchError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validErr), errors.As(err, &paymentErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyExists), errors.As(err, &mismatchErr):
		return http.StatusConflict
	case errors.As(err, &upstreamErr):
		if upstreamErr.Status >= 400 && upstreamErr.Status < 500 {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case errors.As(err, &cfgErr), errors.As(err, &persistErr), errors.As(err, &userErr):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// PublicMessage is the short message shown to storefront users for err.
func PublicMessage(err error) string {
	var (
		validErr    *ValidationError
		upstreamErr *UpstreamError
		paymentErr  *PaymentNotCompletedError
		mismatchErr *AmountMismatchError
	)
	switch {
	case errors.As(err, &validErr):
		return validErr.Message
	case errors.As(err, &paymentErr):
		return "payment has not been completed"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrInvalidTransition):
		return "status change not allowed"
	case errors.As(err, &mismatchErr):
		return "payment amount does not match the order"
	case errors.As(err, &upstreamErr):
		if upstreamErr.Message != "" && upstreamErr.Status < 500 {
			return upstreamErr.Message
		}
		return "payment provider unavailable"
	}
	return "internal server error"
}
