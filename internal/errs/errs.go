// Package errs holds the error kinds shared by every component.
//
// Packages declare their own sentinel errors wrapping one of these kinds
// (fmt.Errorf("room not found: %w", errs.ErrNotFound)) so that transport
// layers can classify any error with errors.Is.
package errs

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidAction       = errors.New("invalid action")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("conflict")
	ErrAlreadyExists       = errors.New("already exists")
	ErrBadRequest          = errors.New("bad request")
	ErrForbidden           = errors.New("forbidden")
)

// Kind returns the taxonomy name of err, "internal" when unclassified.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error kind to a response code.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "not_found":
		return http.StatusNotFound
	case "invalid_state", "conflict", "already_exists":
		return http.StatusConflict
	case "invalid_action":
		return http.StatusUnprocessableEntity
	case "insufficient_balance":
		return http.StatusPaymentRequired
	case "bad_request":
		return http.StatusBadRequest
	case "forbidden":
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
