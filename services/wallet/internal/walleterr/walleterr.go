// Package walleterr holds the error kinds shared by the wallet engine and
// their mapping onto stable API codes.
package walleterr

import (
	"errors"
	"net/http"
)

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrOverUnlock             = errors.New("unlock exceeds locked balance")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidCurrency        = errors.New("invalid currency")
	ErrAmountTooSmall         = errors.New("amount too small to cover fees")
	ErrLockPeriodActive       = errors.New("investment lock period active")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateTxHash        = errors.New("duplicate transaction hash")
	ErrNotFound               = errors.New("not found")
	ErrExternalService        = errors.New("external service failure")

	ErrInvalidPlan     = errors.New("invalid investment plan")
	ErrInvalidDuration = errors.New("invalid investment duration")
	ErrBelowMinimum    = errors.New("amount below plan minimum")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidMethod   = errors.New("invalid payment method")
)

type kind struct {
	err    error
	code   string
	status int
}

var kinds = []kind{
	{ErrInsufficientFunds, "INSUFFICIENT_FUNDS", http.StatusBadRequest},
	{ErrOverUnlock, "OVER_UNLOCK", http.StatusBadRequest},
	{ErrInvalidAmount, "INVALID_AMOUNT", http.StatusBadRequest},
	{ErrInvalidCurrency, "INVALID_CURRENCY", http.StatusBadRequest},
	{ErrAmountTooSmall, "AMOUNT_TOO_SMALL", http.StatusBadRequest},
	{ErrLockPeriodActive, "LOCK_PERIOD_ACTIVE", http.StatusBadRequest},
	{ErrInvalidStateTransition, "INVALID_STATE_TRANSITION", http.StatusBadRequest},
	{ErrDuplicateTxHash, "DUPLICATE_TX_HASH", http.StatusBadRequest},
	{ErrInvalidPlan, "INVALID_PLAN", http.StatusBadRequest},
	{ErrInvalidDuration, "INVALID_DURATION", http.StatusBadRequest},
	{ErrBelowMinimum, "BELOW_MINIMUM", http.StatusBadRequest},
	{ErrInvalidAddress, "INVALID_ADDRESS", http.StatusBadRequest},
	{ErrInvalidMethod, "INVALID_METHOD", http.StatusBadRequest},
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrExternalService, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
}

// Code returns the stable API code for err, or INTERNAL_ERROR.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "INTERNAL_ERROR"
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// IsClientError reports whether err is a known domain or validation error.
func IsClientError(err error) bool {
	return HTTPStatus(err) < http.StatusInternalServerError
}

// Message returns text that is safe to show to API callers.
func Message(err error) string {
	switch HTTPStatus(err) {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable, please retry"
	}
	return err.Error()
}
