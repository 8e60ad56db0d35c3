package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/curator/pkg/apperr"
	"github.com/platinummonkey/curator/pkg/observability"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "who") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "no") }, http.StatusForbidden},
		{"created", func(w http.ResponseWriter) { WriteCreated(w, map[string]int{"id": 1}) }, http.StatusCreated},
		{"success", func(w http.ResponseWriter) { WriteSuccess(w, []string{}) }, http.StatusOK},
		{"no content", func(w http.ResponseWriter) { WriteNoContent(w) }, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", apperr.Validation("name", "is required"), http.StatusBadRequest, apperr.Validation("name", "is required").Error()},
		{"forbidden", apperr.Forbidden("role %s cannot be deactivated", "admin"), http.StatusForbidden, "role admin cannot be deactivated"},
		{"not found", apperr.NotFound("role", "ghost"), http.StatusNotFound, apperr.NotFound("role", "ghost").Error()},
		{"transport", apperr.Transport("list roles", errors.New("dial tcp: refused")), http.StatusServiceUnavailable, "storage unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := observability.NewLogger(observability.DebugLevel, &logs)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(observability.WithLogger(req.Context(), logger))
			w := httptest.NewRecorder()

			WriteAppError(w, req, tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.status, StatusFor(tt.err))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body.Error, tt.message)
			assert.NotContains(t, body.Error, "dial tcp")

			if tt.status == http.StatusBadRequest {
				assert.Equal(t, "name", body.Field)
			} else {
				assert.Empty(t, body.Field)
			}

			if tt.status >= 500 {
				assert.Contains(t, logs.String(), tt.err.Error())
			} else {
				assert.Empty(t, logs.String())
			}
		})
	}
}
