package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestWriteJSON_NilDataWritesStatusOnly(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteJSON(w, http.StatusServiceUnavailable, nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteOK_WrapsPolicyInDataEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteOK(w, map[string]interface{}{"name": "default", "version": 3}))

	assert.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Data struct {
			Name    string `json:"name"`
			Version int64  `json:"version"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "default", response.Data.Name)
	assert.Equal(t, int64(3), response.Data.Version)
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteCreated(w, map[string]string{"id": "7b0e"}))

	assert.Equal(t, http.StatusCreated, w.Code)
	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "7b0e", response.Data.(map[string]interface{})["id"])
}

func TestWriteConflict_CarriesVersions(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteConflict(w, "conflict: policy was modified", map[string]interface{}{
		"entity_type":      "policy",
		"expected_version": 2,
		"current_version":  4,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusConflict, w.Code)
	response := decodeError(t, w)
	assert.Equal(t, CodeConflict, response.Error)
	assert.Equal(t, float64(2), response.Details["expected_version"])
	assert.Equal(t, float64(4), response.Details["current_version"])
}

func TestWriteIntegrityError_KeepsReferenceDetails(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteIntegrityError(w, "policy references a rule that does not resolve", map[string]interface{}{
		"ref_kind":  "template",
		"ref_id":    "1c7d6b0e-7f0a-4e53-9d59-9a8f1c1c0b11",
		"policy_id": "f0e2a3b4-8c1d-4a5b-9e6f-7a8b9c0d1e2f",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	response := decodeError(t, w)
	assert.Equal(t, CodeIntegrity, response.Error)
	assert.Equal(t, "template", response.Details["ref_kind"])
	assert.Equal(t, "1c7d6b0e-7f0a-4e53-9d59-9a8f1c1c0b11", response.Details["ref_id"])
}

func TestWriteInternalServerError_DropsDetails(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteInternalServerError(w, ""))

	response := decodeError(t, w)
	assert.Equal(t, CodeInternal, response.Error)
	assert.Equal(t, "Internal server error", response.Message)
	assert.Nil(t, response.Details)
}

func TestWriteTooManyRequests_CarriesQuotaWindow(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteTooManyRequests(w, "", map[string]interface{}{
		"limit":    100,
		"reset_at": "2026-01-01T11:00:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	response := decodeError(t, w)
	assert.Equal(t, CodeRateLimited, response.Error)
	assert.Equal(t, "Rate limit exceeded", response.Message)
	assert.Equal(t, float64(100), response.Details["limit"])
	assert.Equal(t, "2026-01-01T11:00:00Z", response.Details["reset_at"])
}

func TestErrorWriters_DefaultMessages(t *testing.T) {
	tests := []struct {
		name    string
		write   func(http.ResponseWriter) error
		status  int
		code    string
		message string
	}{
		{"unauthorized", func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") }, http.StatusUnauthorized, CodeUnauthorized, "Authentication required"},
		{"forbidden", func(w http.ResponseWriter) error { return WriteForbidden(w, "") }, http.StatusForbidden, CodeForbidden, "Access forbidden"},
		{"not found", func(w http.ResponseWriter) error { return WriteNotFound(w, "") }, http.StatusNotFound, CodeNotFound, "Resource not found"},
		{"custom message wins", func(w http.ResponseWriter) error { return WriteForbidden(w, "tenant mismatch") }, http.StatusForbidden, CodeForbidden, "tenant mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.status, w.Code)
			response := decodeError(t, w)
			assert.Equal(t, tt.code, response.Error)
			assert.Equal(t, tt.message, response.Message)
		})
	}
}

func TestWriteError_CodeFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, CodeBadRequest},
		{http.StatusNotFound, CodeNotFound},
		{http.StatusConflict, CodeConflict},
		{http.StatusTooManyRequests, CodeRateLimited},
		{http.StatusTeapot, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			w := httptest.NewRecorder()
			details := map[string]interface{}{"entity_type": "rule_template"}

			require.NoError(t, WriteError(w, tt.status, "rule template not found", details))

			assert.Equal(t, tt.status, w.Code)
			response := decodeError(t, w)
			assert.Equal(t, tt.code, response.Error)
			assert.Equal(t, "rule_template", response.Details["entity_type"])
		})
	}
}
