// Package apperr holds the error taxonomy shared by every marketplace operation
// and its mapping onto HTTP responses.
package apperr

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a referenced quote, vendor, coupon or payment session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when no valid principal accompanies the call.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the principal lacks rights on the target resource.
	ErrForbidden = errors.New("forbidden")
	// ErrInsufficientBalance is returned when a debit would drive a vendor's credit balance below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUpstreamUnavailable is returned when the payment or email provider cannot be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidTransition is returned when a quote, vendor or coupon is not in a state that allows the operation.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrConflict is returned when a uniqueness rule rejects the write.
	ErrConflict = errors.New("conflict")
	// ErrValidation is returned when a request is malformed.
	ErrValidation = errors.New("validation failed")
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Retryable reports whether the caller may retry the same call later.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// Status maps err to an HTTP status code and the message shown to the user.
// Business-rule failures carry their own text; transport failures get a generic retry prompt.
func Status(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient balance, buy more credits"
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable, please retry"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
