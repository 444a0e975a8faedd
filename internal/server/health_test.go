package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-triggers/internal/testutil"
)

func get(t *testing.T, h http.Handler, path string) (int, HealthResponse) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	router := NewRouter(nil, time.Second)

	code, body := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
}

func TestReady(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return testutil.ErrStoreDown }

	code, body := get(t, NewRouter(map[string]HealthCheck{"storage": healthy, "broker": healthy}, time.Second), "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"storage": "ok", "broker": "ok"}, body.Checks)

	code, body = get(t, NewRouter(map[string]HealthCheck{"storage": down, "broker": healthy}, time.Second), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, testutil.ErrStoreDown.Error(), body.Checks["storage"])
	assert.Equal(t, "ok", body.Checks["broker"])
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(nil, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
