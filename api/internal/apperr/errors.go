// Package apperr is the single vocabulary of failures the service reports.
// Every domain failure is an *Error tagged with a Kind; the reporter in
// package diag turns it into a status code, a wire body and log lines.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

type Kind int

const (
	Unclassified Kind = iota
	SendEmailFailure
	ExternalServiceFailure
	StorageFailure
	InvalidInvocation
	InvalidParameters
	InvalidEmailAddress
	DuplicateAccount
	AccountNotActivated
	AccountNotFound
)

type kindInfo struct {
	name    string
	message string
	status  int
}

var kinds = map[Kind]kindInfo{
	Unclassified:           {"Unclassified", "Unknown error", http.StatusInternalServerError},
	SendEmailFailure:       {"SendEmailFailure", "Failed to send email", http.StatusInternalServerError},
	ExternalServiceFailure: {"ExternalServiceFailure", "SendGrid error", http.StatusInternalServerError},
	StorageFailure:         {"StorageFailure", "Failed to manipulate database", http.StatusInternalServerError},
	InvalidInvocation:      {"InvalidInvocation", "Wrong call", http.StatusBadRequest},
	InvalidParameters:      {"InvalidParameters", "Invalid parameters", http.StatusBadRequest},
	InvalidEmailAddress:    {"InvalidEmailAddress", "Invalid email address", http.StatusBadRequest},
	DuplicateAccount:       {"DuplicateAccount", "Account already exists, please try a different identifier", http.StatusBadRequest},
	AccountNotActivated:    {"AccountNotActivated", "Account is still not activated", http.StatusBadRequest},
	AccountNotFound:        {"AccountNotFound", "The account does not exist", http.StatusNotFound},
}

func (k Kind) String() string {
	if ki, ok := kinds[k]; ok {
		return ki.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// DefaultMessage is the message used when a constructor gets no override.
func (k Kind) DefaultMessage() string { return kinds[k].message }

// DefaultStatus is the HTTP status for k; unknown kinds are server errors.
func (k Kind) DefaultStatus() int {
	if ki, ok := kinds[k]; ok {
		return ki.status
	}
	return http.StatusInternalServerError
}

// StatusCoder is implemented by errors that know their HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Describer lets an error override the label reported in the "error" field.
type Describer interface {
	Description() string
}

// Error is the tagged domain failure. Fields are set once by a constructor.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Status  int
	Desc    string
	stack   []uintptr
}

// Error returns the message, or the kind's default for a bare literal.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.DefaultMessage()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) StatusCode() int {
	if e.Status == 0 {
		return e.Kind.DefaultStatus()
	}
	return e.Status
}

// Name is the kind name, e.g. "StorageFailure".
func (e *Error) Name() string { return e.Kind.String() }

// Description returns the label set with WithDescription, or "".
func (e *Error) Description() string { return e.Desc }

// WithDescription returns a copy carrying desc as its reported label.
func (e *Error) WithDescription(desc string) *Error {
	c := *e
	c.Desc = desc
	return &c
}

// Stack renders the call stack captured when the error was built.
func (e *Error) Stack() string {
	return formatStack(e.stack)
}

func newError(k Kind, msg string, cause error) *Error {
	if strings.TrimSpace(msg) == "" {
		msg = k.DefaultMessage()
	}
	return &Error{
		Kind:    k,
		Message: msg,
		Cause:   cause,
		Status:  k.DefaultStatus(),
		stack:   callers(4),
	}
}

func SendEmail(msg string, cause error) *Error {
	return newError(SendEmailFailure, msg, cause)
}

func ExternalService(msg string, cause error) *Error {
	return newError(ExternalServiceFailure, msg, cause)
}

func Storage(msg string, cause error) *Error {
	return newError(StorageFailure, msg, cause)
}

func WrongCall(msg string, cause error) *Error {
	return newError(InvalidInvocation, msg, cause)
}

func InvalidParams(msg string, cause error) *Error {
	return newError(InvalidParameters, msg, cause)
}

func InvalidEmail(msg string, cause error) *Error {
	return newError(InvalidEmailAddress, msg, cause)
}

func AccountExists(msg string, cause error) *Error {
	return newError(DuplicateAccount, msg, cause)
}

func NotActivated(msg string, cause error) *Error {
	return newError(AccountNotActivated, msg, cause)
}

func AccountMissing(msg string, cause error) *Error {
	return newError(AccountNotFound, msg, cause)
}

// Unknown wraps an unexpected failure. Message and status come from the
// cause when msg is empty and the cause carries them.
func Unknown(cause error, msg string) *Error {
	return unknown(cause, msg)
}

func unknown(cause error, msg string) *Error {
	if strings.TrimSpace(msg) == "" {
		if cause != nil && cause.Error() != "" {
			msg = cause.Error()
		} else {
			msg = Unclassified.DefaultMessage()
		}
	}
	status := http.StatusInternalServerError
	var sc StatusCoder
	if cause != nil && errors.As(cause, &sc) && sc.StatusCode() > 0 {
		status = sc.StatusCode()
	}
	return &Error{
		Kind:    Unclassified,
		Message: msg,
		Cause:   cause,
		Status:  status,
		stack:   callers(4),
	}
}

// Classify maps err into the taxonomy. An *Error anywhere in the chain is
// returned as is; anything else becomes Unclassified wrapping err.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return unknown(err, "")
}

// Is reports whether err carries an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func callers(skip int) []uintptr {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	return pcs[:n]
}

func formatStack(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(pcs)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "    at %s (%s:%d)\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
