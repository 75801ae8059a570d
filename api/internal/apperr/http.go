package apperr

import (
	"errors"
	"net/http"
)

// HTTPError is a failure produced by the routing layer itself.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

func (e *HTTPError) StatusCode() int { return e.Status }

// Name is the framework-style exception name used in notice logs.
func (e *HTTPError) Name() string {
	switch e.Status {
	case http.StatusNotFound:
		return "NotFoundException"
	case http.StatusMethodNotAllowed:
		return "MethodNotAllowedException"
	case http.StatusForbidden:
		return "ForbiddenException"
	case http.StatusRequestEntityTooLarge:
		return "PayloadTooLargeException"
	}
	return "HttpException"
}

// Passthrough reports whether the error is answered with the default
// plain-text response instead of a diagnostic record.
func (e *HTTPError) Passthrough() bool {
	switch e.Status {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusForbidden:
		return true
	}
	return false
}

func NotFound(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Message: msg}
}

func MethodNotAllowed(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusMethodNotAllowed, Message: msg}
}

func Forbidden(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusForbidden, Message: msg}
}

func TooLarge(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusRequestEntityTooLarge, Message: msg}
}

// AsPassthrough reports whether err is a passthrough routing error. Plain
// wrappers (fmt.Errorf with %w) are looked through; an *Error is not, since
// a domain error decides its own outcome even when it wraps a 404.
func AsPassthrough(err error) (*HTTPError, bool) {
	for err != nil {
		switch e := err.(type) {
		case *HTTPError:
			return e, e.Passthrough()
		case *Error:
			return nil, false
		}
		err = errors.Unwrap(err)
	}
	return nil, false
}
