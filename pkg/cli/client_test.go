package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ClientCredentials(t *testing.T) {
	var tokenRequests int
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "curator.admin", r.Form.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "token-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-User-ID"))
		assert.Equal(t, "/api/v1/permissions/categories", r.URL.Path)
		json.NewEncoder(w).Encode([]string{"collections"})
	}))
	defer api.Close()

	client := NewClient(context.Background(), ClientOptions{
		Server:       api.URL + "/",
		TokenURL:     tokenServer.URL,
		ClientID:     "curator-cli",
		ClientSecret: "secret",
		Scopes:       []string{"curator.admin"},
	})

	for i := 0; i < 2; i++ {
		var categories []string
		require.NoError(t, client.get(context.Background(), "/permissions/categories", &categories))
		assert.Equal(t, []string{"collections"}, categories)
	}
	assert.Equal(t, 1, tokenRequests, "token is cached until expiry")
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
		message string
	}{
		{
			name: "json error body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"insufficient permissions"}`))
			},
			status:  http.StatusForbidden,
			message: "insufficient permissions",
		},
		{
			name: "plain body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream down", http.StatusBadGateway)
			},
			status:  http.StatusBadGateway,
			message: "Bad Gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClient(context.Background(), ClientOptions{Server: server.URL, UserID: "u-1"})
			err := client.get(context.Background(), "/roles", nil)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestParseExpiry(t *testing.T) {
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now
	now = func() time.Time { return fixed }
	defer func() { now = old }()

	got, err := parseExpiry("72h")
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(72*time.Hour), got)

	got, err = parseExpiry("2026-07-01T00:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 30, 22, 0, 0, 0, time.UTC), got)

	_, err = parseExpiry("next week")
	assert.Error(t, err)
	_, err = parseExpiry("0s")
	assert.Error(t, err)
}
