// Package apperr defines the error taxonomy shared by the stores, the order
// coordinator and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeStateConflict     Code = "STATE_CONFLICT"
	CodeExhaustedRetries  Code = "EXHAUSTED_RETRIES"
	CodePersistence       Code = "PERSISTENCE_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:        {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeUnauthorized:      {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodeForbidden:         {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied"},
	CodeNotFound:          {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", DetailsAllowed: true},
	CodeConflict:          {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
	CodeInsufficientStock: {HTTPStatus: http.StatusConflict, Retryable: true, PublicMessage: "insufficient stock", DetailsAllowed: true},
	CodeStateConflict:     {HTTPStatus: http.StatusConflict, PublicMessage: "order state changed concurrently", DetailsAllowed: true},
	CodeExhaustedRetries:  {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "could not allocate a unique code"},
	CodePersistence:       {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "storage failure"},
	CodeInternal:          {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
}

// Public reports whether the message of an error with this code may be shown to clients.
func (c Code) Public() bool {
	switch c {
	case CodeValidation, CodeUnauthorized, CodeForbidden, CodeNotFound, CodeConflict,
		CodeInsufficientStock, CodeStateConflict:
		return true
	}
	return false
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Validation builds a validation error naming the offending field.
func Validation(field, reason string) *Error {
	return New(CodeValidation, field+": "+reason).WithDetails(map[string]string{"field": field, "reason": reason})
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the first *Error in err's chain, or nil.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of err, CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
