// Package response provides shared JSON response helpers for HTTP handlers.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/techdocs/turbo/internal/apperr"
)

// ErrorBody is the error payload returned for every failed request.
type ErrorBody struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

// JSON writes a JSON-encoded payload with the given HTTP status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// OK writes a 200 response with data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 response with data.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Error writes an error response with a single field message.
func Error(w http.ResponseWriter, status int, field, message string) {
	JSON(w, status, ErrorBody{Status: status, Errors: map[string]string{field: message}})
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, "auth", message)
}

// InternalError writes a 500 response with a generic message.
func InternalError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, "server", "internal server error")
}

// FromError maps err onto a response. Classified errors keep their field
// and message; anything else is logged and reported as a 500.
func FromError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		logger.Error("unhandled error", slog.String("error", err.Error()))
		InternalError(w)
		return
	}
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError || appErr.Kind == apperr.KindStorage {
		logger.Error("request failed",
			slog.String("kind", appErr.Kind.String()),
			slog.String("error", err.Error()),
		)
	}
	Error(w, status, appErr.Field, appErr.Message)
}
