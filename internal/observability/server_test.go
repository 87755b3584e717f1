package observability

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

	"github.com/tessera-crm/tessera/internal/config"
)

type stubChecker struct {
	name string
	err  error
}

func (c *stubChecker) Name() string                { return c.name }
func (c *stubChecker) Check(context.Context) error { return c.err }

func newTestServer(t *testing.T, checkers ...Checker) *Server {
	t.Helper()

	cfg := &config.ObservabilityConfig{
		Port:          "9090",
		Timeout:       5 * time.Second,
		LivenessPath:  "/healthz",
		ReadinessPath: "/readyz",
		MetricsPath:   "/metrics",
	}
	return NewServer(cfg, NewMetrics(), checkers...)
}

func TestHandleLiveness(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.handleLiveness(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleReadiness(t *testing.T) {
	t.Parallel()

	t.Run("all components healthy", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(t,
			&stubChecker{name: "postgres"},
			&stubChecker{name: "redis"},
		)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

		srv.handleReadiness(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Status     string        `json:"status"`
			Components []probeResult `json:"components"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Status)
		require.Len(t, body.Components, 2)
		assert.Equal(t, "postgres", body.Components[0].Name)
		assert.Equal(t, "ok", body.Components[1].Status)
	})

	t.Run("one component down yields 503", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(t,
			&stubChecker{name: "postgres"},
			&stubChecker{name: "redis", err: errors.New("connection refused")},
		)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

		srv.handleReadiness(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body struct {
			Status     string        `json:"status"`
			Components []probeResult `json:"components"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unavailable", body.Status)
		assert.Equal(t, "unavailable", body.Components[1].Status)
		assert.Equal(t, "connection refused", body.Components[1].Error)
	})

	t.Run("no checkers is trivially ready", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(t)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

		srv.handleReadiness(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.metrics.SetSegmentMembers("seg-1", 42)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tessera_segment_members")
}
