package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body of every non-2xx API response. Retryable
// mirrors the flag carried by socket error messages.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// RespondJSON writes data with the given status.
func RespondJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func respond(w http.ResponseWriter, status int, body ErrorResponse) {
	_ = RespondJSON(w, status, body)
}

// RespondError writes a standardized error response.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	respond(w, status, ErrorResponse{Error: code, Message: message})
}

// RespondValidationError writes a 400 naming the offending field.
func RespondValidationError(w http.ResponseWriter, code, message, field string) {
	respond(w, http.StatusBadRequest, ErrorResponse{Error: code, Message: message, Field: field})
}

// RespondRetryable writes a 503 that tells the client to try again.
func RespondRetryable(w http.ResponseWriter, code, message string) {
	respond(w, http.StatusServiceUnavailable, ErrorResponse{Error: code, Message: message, Retryable: true})
}

func RespondInternalError(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
}

func RespondNotFound(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusNotFound, code, message)
}

func RespondUnauthorized(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusUnauthorized, code, message)
}

func RespondForbidden(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusForbidden, code, message)
}

func RespondBadRequest(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusBadRequest, code, message)
}
