package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrKind classifies errors produced by the data plane. Each kind maps to one
// HTTP status; user-visible bodies are always {"error": ..., "status": ...}.
type ErrKind int

const (
	ErrValidation ErrKind = iota
	ErrInvalidParameter
	ErrNotFound
	ErrUnauthorized
	ErrUnsupportedMediaType
	ErrPayloadTooLarge
	ErrDatabase
	ErrInternal
)

func (k ErrKind) String() string {
	switch k {
	case ErrValidation:
		return "validation"
	case ErrInvalidParameter:
		return "invalid parameter"
	case ErrNotFound:
		return "not found"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrUnsupportedMediaType:
		return "unsupported media type"
	case ErrPayloadTooLarge:
		return "payload too large"
	case ErrDatabase:
		return "database"
	default:
		return "internal"
	}
}

// HTTPStatus returns the HTTP status code for the error kind.
func (k ErrKind) HTTPStatus() int {
	switch k {
	case ErrValidation, ErrInvalidParameter:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified data-plane error.
type Error struct {
	Kind ErrKind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.err }

// Message returns the user-visible message. Database and internal errors are
// redacted so query text and driver detail never reach clients.
func (e *Error) Message() string {
	switch e.Kind {
	case ErrDatabase:
		return "database error"
	case ErrInternal:
		return "internal server error"
	}
	return e.Msg
}

// NewError creates a classified error with a user-visible message.
func NewError(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError classifies an underlying error.
func WrapError(kind ErrKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, err: err}
}

// KindOf extracts the kind from any error; unclassified errors are internal.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// errorBody is the wire shape of every user-visible error.
type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// ErrorResponse builds the JSON error response for a status and message.
func ErrorResponse(status int, msg string) *Response {
	body, _ := json.Marshal(errorBody{Error: msg, Status: status})
	return &Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		Body:   body,
	}
}

// ResponseForError converts a pipeline error into its final HTTP response.
func ResponseForError(err error) *Response {
	var e *Error
	if errors.As(err, &e) {
		return ErrorResponse(e.Kind.HTTPStatus(), e.Message())
	}
	return ErrorResponse(http.StatusInternalServerError, "internal server error")
}
