package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the envelope of every non-2xx response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse is the envelope of every 2xx response that has a body
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Error codes of ErrorResponse
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeRateLimited  = "rate_limit_exceeded"
	CodeIntegrity    = "integrity_error"
	CodeInternal     = "internal_error"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:      CodeBadRequest,
	http.StatusUnauthorized:    CodeUnauthorized,
	http.StatusForbidden:       CodeForbidden,
	http.StatusNotFound:        CodeNotFound,
	http.StatusConflict:        CodeConflict,
	http.StatusTooManyRequests: CodeRateLimited,
}

// WriteJSON writes data as JSON with the given status. A nil data writes
// the status only.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes data in a 200 envelope
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteCreated writes data in a 201 envelope
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, SuccessResponse{Data: data})
}

// WriteError writes an error envelope whose code follows from status.
// Statuses without a dedicated code are reported as internal_error.
func WriteError(w http.ResponseWriter, status int, message string, details map[string]interface{}) error {
	code, ok := statusCodes[status]
	if !ok {
		code = CodeInternal
	}
	return writeError(w, status, code, message, details)
}

// WriteBadRequest writes a 400 envelope
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusBadRequest, message, details)
}

// WriteUnauthorized writes a 401 envelope
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusUnauthorized, orDefault(message, "Authentication required"), nil)
}

// WriteForbidden writes a 403 envelope
func WriteForbidden(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusForbidden, orDefault(message, "Access forbidden"), nil)
}

// WriteNotFound writes a 404 envelope
func WriteNotFound(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusNotFound, orDefault(message, "Resource not found"), nil)
}

// WriteConflict writes a 409 envelope. Version conflicts carry the
// expected and current versions in details.
func WriteConflict(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusConflict, message, details)
}

// WriteTooManyRequests writes a 429 envelope
func WriteTooManyRequests(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteError(w, http.StatusTooManyRequests, orDefault(message, "Rate limit exceeded"), details)
}

// WriteInternalServerError writes a 500 envelope without details
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	return writeError(w, http.StatusInternalServerError, CodeInternal, orDefault(message, "Internal server error"), nil)
}

// WriteIntegrityError writes a 500 response for a stored reference that no
// longer resolves. Unlike WriteInternalServerError it keeps the details.
func WriteIntegrityError(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return writeError(w, http.StatusInternalServerError, CodeIntegrity, message, details)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) error {
	return WriteJSON(w, status, ErrorResponse{Error: code, Message: message, Details: details})
}

func orDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}
