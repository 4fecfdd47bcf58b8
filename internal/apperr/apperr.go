// Package apperr carries the error taxonomy shared by the stores, services and
// HTTP handlers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindAuthorization
	KindNotFound
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Messages shown on the login form.
const (
	MsgNoSuchUser  = "No such user"
	MsgLoginFailed = "Login failed"
)

// Error is a classified failure. ErrID identifies the failure on the generic
// error page; Fields holds per-field messages for redisplayed forms.
type Error struct {
	Kind    Kind
	ErrID   string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.ErrID
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: fields}
}

// Field builds a validation error for a single form field.
func Field(field, msg string) *Error {
	return Validation(msg, map[string]string{field: msg})
}

func Auth(msg string) *Error {
	return &Error{Kind: KindAuth, Message: msg}
}

func Authorization(errID string) *Error {
	return &Error{Kind: KindAuthorization, ErrID: errID, Message: "not authorized"}
}

func NotFound(errID string) *Error {
	return &Error{Kind: KindNotFound, ErrID: errID, Message: "not found"}
}

func Storage(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
