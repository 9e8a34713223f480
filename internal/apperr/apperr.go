// Package apperr defines the error taxonomy shared by the store, services and HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthorized       = errors.New("authorization required")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("resource not found")
	ErrBadRequest         = errors.New("bad request")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("resource conflict")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrAlreadyCompleted   = errors.New("exam record already completed")
	ErrExtractionFailed   = errors.New("question extraction failed")
	ErrGradingFailed      = errors.New("grading failed")
)

var kinds = []struct {
	err    error
	code   string
	status int
}{
	{ErrUnauthorized, "Unauthorized", http.StatusUnauthorized},
	{ErrInvalidToken, "InvalidToken", http.StatusUnauthorized},
	{ErrForbidden, "Forbidden", http.StatusForbidden},
	{ErrNotFound, "NotFound", http.StatusNotFound},
	{ErrValidation, "ValidationFailed", http.StatusBadRequest},
	{ErrBadRequest, "BadRequest", http.StatusBadRequest},
	{ErrInsufficientPoints, "InsufficientPoints", http.StatusBadRequest},
	{ErrAlreadyCompleted, "AlreadyCompleted", http.StatusConflict},
	{ErrConflict, "Conflict", http.StatusConflict},
	{ErrExtractionFailed, "ExtractionFailed", http.StatusInternalServerError},
	{ErrGradingFailed, "GradingFailed", http.StatusInternalServerError},
}

// HTTPStatus maps domain errors to HTTP status codes.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Code returns the stable error code for err, "InternalError" for unknown errors.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "InternalError"
}

// ExposeDetail reports whether the raw error text may be shown to the caller.
// LLM pipeline failures and unclassified errors carry their text; everything
// else is reduced to its localized code message.
func ExposeDetail(err error) bool {
	if errors.Is(err, ErrExtractionFailed) || errors.Is(err, ErrGradingFailed) {
		return true
	}
	return Code(err) == "InternalError"
}
