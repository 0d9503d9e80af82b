// Package apperr defines the error kinds shared by the domain services and
// their mapping to HTTP responses.
package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error kinds. Every domain error wraps exactly one of these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrConflict       = errors.New("conflict")
	ErrForbidden      = errors.New("forbidden")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func NotFound(msg string) error  { return &kindError{kind: ErrNotFound, msg: msg} }
func Invalid(msg string) error   { return &kindError{kind: ErrInvalidRequest, msg: msg} }
func Conflict(msg string) error  { return &kindError{kind: ErrConflict, msg: msg} }
func Forbidden(msg string) error { return &kindError{kind: ErrForbidden, msg: msg} }

// Status returns the HTTP status code for err. Errors that wrap none of the
// kinds are internal errors.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts err into an echo.HTTPError. Internal errors are not
// echoed back to the client; the caller's access log still records them.
func HTTPError(err error) *echo.HTTPError {
	status := Status(err)
	if status == http.StatusInternalServerError {
		he := echo.NewHTTPError(status, "internal server error")
		he.Internal = err
		return he
	}
	return echo.NewHTTPError(status, err.Error())
}
