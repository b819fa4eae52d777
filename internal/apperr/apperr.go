// Package apperr defines the error kinds surfaced at the HTTP boundary.
// Handlers never pick status codes for domain failures themselves; they
// hand the error to response.FromError, which asks this package.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnsupportedType
	KindStorage
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnsupportedType:
		return "unsupported_type"
	case KindStorage:
		return "storage"
	case KindConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// Error is a classified application error. Field names the request field
// (or subsystem) the message belongs to; it becomes the key of the
// "errors" object in the response body.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	// Status overrides the default status for the kind when non-zero.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the response status for the error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindValidation, KindUnsupportedType:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindStorage:
		return http.StatusExpectationFailed
	default:
		return http.StatusInternalServerError
	}
}

// Validation reports malformed or missing input.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// MissingFile reports a request that carried no file payload.
func MissingFile(field string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: "failedUpload", Status: http.StatusPreconditionFailed}
}

// TooLarge reports a payload above the configured size limit.
func TooLarge(field string, limit int64) *Error {
	return &Error{
		Kind:    KindValidation,
		Field:   field,
		Message: fmt.Sprintf("file exceeds limit of %d bytes", limit),
		Status:  http.StatusRequestEntityTooLarge,
	}
}

// NotFound reports an unknown id.
func NotFound(field, message string) *Error {
	return &Error{Kind: KindNotFound, Field: field, Message: message}
}

// UnsupportedType reports a file rejected by the type policy.
func UnsupportedType(field, message string) *Error {
	return &Error{Kind: KindUnsupportedType, Field: field, Message: message}
}

// Storage wraps a driver I/O failure.
func Storage(message string, err error) *Error {
	return &Error{Kind: KindStorage, Field: "file", Message: message, Err: err}
}

// Configuration reports an invalid or unsupported setup.
func Configuration(field, message string) *Error {
	return &Error{Kind: KindConfiguration, Field: field, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
