package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/handler"
)

func TestHealthCheckReportsDatabase(t *testing.T) {
	env := setupApp(t, envOptions{})

	status, resp := env.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var health handler.HealthResponse
	require.NoError(t, json.Unmarshal(resp.Data, &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "up", health.Database)
	require.Equal(t, "test", health.Environment)

	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	status, resp = env.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.NoError(t, json.Unmarshal(resp.Data, &health))
	require.Equal(t, "degraded", health.Status)
	require.Equal(t, "down", health.Database)
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	env := setupApp(t, envOptions{})

	status, _ := env.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, status)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "assessment_http_requests_total")
}
