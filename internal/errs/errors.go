// Package errs carries the error codes shared by the provisioning and routing layers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	EInternal     = "internal error"
	ENotFound     = "not found"
	EConflict     = "conflict"
	EInvalid      = "invalid"
	EUnavailable  = "unavailable"
	EUnauthorized = "unauthorized"
	EForbidden    = "forbidden"
)

// Error is a coded error. Code targets automated handlers, Msg is for operators,
// Op and Err chain errors together in a logical stack trace.
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		fmt.Fprintf(&b, "<%s>", e.Code)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error with the given code and message.
func New(code, op, msg string) *Error {
	return &Error{Code: code, Op: op, Msg: msg}
}

// Wrap attaches a code and operation to err. A nil err yields nil.
func Wrap(err error, code, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// Code returns the code of the outermost coded error in the chain, EInternal for
// uncoded errors and "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	for errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		if e.Err == nil {
			break
		}
		err = e.Err
	}
	return EInternal
}

var statusCodes = map[string]int{
	EInternal:     http.StatusInternalServerError,
	ENotFound:     http.StatusNotFound,
	EConflict:     http.StatusConflict,
	EInvalid:      http.StatusBadRequest,
	EUnavailable:  http.StatusServiceUnavailable,
	EUnauthorized: http.StatusUnauthorized,
	EForbidden:    http.StatusForbidden,
}

// HTTPStatus maps a code to an HTTP status.
func HTTPStatus(code string) int {
	if s, ok := statusCodes[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}
