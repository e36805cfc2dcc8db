package handler

// RESPONSE HELPERS:
// Every control API answer goes through writeJSON or writeError, so the CLI
// and any script talking to the daemon always see the same shapes:
//
//	success: the command's result as JSON
//	failure: {"error": "rate_limited", "message": "...", "retryAfterSeconds": 60}
//
// ERROR MAPPING:
// Domain code never knows about HTTP. The kind carried by an *AppError is
// translated here, once, with errors.Is walking the wrap chain:
//
//	ErrValidation    → 400
//	ErrUnauthorized  → 401
//	ErrNotFound      → 404
//	ErrConflict      → 409
//	ErrRateLimited   → 429 (+ Retry-After)
//	ErrOffline       → 503
//	ErrTransient     → 503
//	ErrQuotaExceeded → 507
//	anything else    → 500 with a generic message

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/sakif/streakwatch/internal/apperror"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	Field             string `json:"field,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

// writeJSON sets headers and status before the body; anything set after the
// first Write is ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are gone already, logging is all that is left
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

var errorKinds = []struct {
	kind   error
	status int
	name   string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{apperror.ErrOffline, http.StatusServiceUnavailable, "offline"},
	{apperror.ErrTransient, http.StatusServiceUnavailable, "unavailable"},
	{apperror.ErrQuotaExceeded, http.StatusInsufficientStorage, "quota_exceeded"},
}

// writeError maps a domain error to a status code and sends it. Errors that
// are not *AppError never leak their text: it may hold paths or SQL.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		slog.Error("unhandled error in control API", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, name := http.StatusInternalServerError, "internal_error"
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			status, name = k.status, k.name
			break
		}
	}

	resp := ErrorResponse{Error: name, Message: appErr.Message, Field: appErr.Field}
	if wait, ok := apperror.RetryAfterOf(err); ok {
		resp.RetryAfterSeconds = int(math.Ceil(wait.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
	}
	writeJSON(w, status, resp)
}
