package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/homelink-core/internal/command"
	"github.com/nerrad567/homelink-core/internal/device"
)

// Error is the body of an error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error Error `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeUnauthorized  = "unauthorised"
	ErrCodeForbidden     = "forbidden"
	ErrCodeConflict      = "conflict"
	ErrCodeAlreadyExists = "already_exists"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeUnavailable   = "unavailable"
	ErrCodeInternal      = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: Error{Code: code, Message: message}})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps registry and dispatcher errors to responses.
// Duplicates are reported with duplicateStatus so the legacy routes can keep
// their 400 and "already registered" wording.
func writeDeviceError(w http.ResponseWriter, err error, duplicateStatus int) {
	switch {
	case errors.Is(err, device.ErrDeviceExists):
		if duplicateStatus == http.StatusConflict {
			writeError(w, http.StatusConflict, ErrCodeConflict, "Device already exists")
			return
		}
		writeError(w, duplicateStatus, ErrCodeAlreadyExists, "Device already registered")
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "Device not found")
	case errors.Is(err, command.ErrForbidden):
		writeForbidden(w, "Not your device")
	case errors.Is(err, device.ErrInvalidDevice), errors.Is(err, device.ErrInvalidState):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
