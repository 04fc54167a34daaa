package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-ota/internal/device"
	"github.com/nerrad567/gray-logic-ota/internal/firmware"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeInstallInProgress  = "install_in_progress"
	ErrCodeNoUpdate           = "no_update_available"
	ErrCodeVersionUnavailable = "version_unavailable"
	ErrCodeUnavailable        = "unavailable"
	ErrCodeNotRefreshable     = "not_refreshable"
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
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
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

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps catalogue and firmware errors to responses.
// fallback is the message used for unexpected errors.
func writeDomainError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, firmware.ErrDeviceNotFound):
		writeNotFound(w, "device is not managed for firmware updates")
	case errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, firmware.ErrInstallInProgress):
		writeError(w, http.StatusConflict, ErrCodeInstallInProgress, "an install is already running for this device")
	case errors.Is(err, firmware.ErrVersionUnavailable):
		writeError(w, http.StatusConflict, ErrCodeVersionUnavailable, err.Error())
	case errors.Is(err, firmware.ErrNothingToRefresh):
		writeError(w, http.StatusBadRequest, ErrCodeNotRefreshable, "firmware state has no value to refresh; request a check instead")
	default:
		writeInternalError(w, fallback)
	}
}

// isValidationError checks whether an error is a device validation error.
// ValidateDevice wraps several sentinels, so all of them are checked.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidSlug) ||
		errors.Is(err, device.ErrInvalidNodeID) ||
		errors.Is(err, device.ErrInvalidTag)
}
