package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okCheck(context.Context) error   { return nil }
func downCheck(context.Context) error { return errors.New("dial tcp: connection refused") }

func TestReadiness(t *testing.T) {
	tests := []struct {
		name   string
		checks []HealthCheck
		status int
		want   string
	}{
		{"all up", []HealthCheck{{Name: "postgres", Critical: true, Check: okCheck}, {Name: "redis", Check: okCheck}}, http.StatusOK, "ok"},
		{"redis down", []HealthCheck{{Name: "postgres", Critical: true, Check: okCheck}, {Name: "redis", Check: downCheck}}, http.StatusOK, "degraded"},
		{"postgres down", []HealthCheck{{Name: "postgres", Critical: true, Check: downCheck}, {Name: "redis", Check: downCheck}}, http.StatusServiceUnavailable, "error"},
		{"no dependencies", nil, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks, "test", "v1")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.status, rec.Code)
			resp := decode[ReadinessResponse](t, rec)
			assert.Equal(t, tt.want, resp.Status)
			require.Len(t, resp.Dependencies, len(tt.checks))
			for _, c := range tt.checks {
				assert.Contains(t, []string{"ok", "down"}, resp.Dependencies[c.Name])
			}
		})
	}
}

func TestLiveness(t *testing.T) {
	h := NewHealthHandler(nil, "test", "v1")
	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LivenessResponse{Status: "ok", Version: "v1", Env: "test"}, decode[LivenessResponse](t, rec))
}
