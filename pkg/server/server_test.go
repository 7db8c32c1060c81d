package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/sitegen/pkg/adapter"
	"github.com/zen-systems/sitegen/pkg/breaker"
	"github.com/zen-systems/sitegen/pkg/config"
	"github.com/zen-systems/sitegen/pkg/metrics"
	"github.com/zen-systems/sitegen/pkg/pipeline"
	"github.com/zen-systems/sitegen/pkg/router"
)

func newTestServer(t *testing.T) (*Server, *pipeline.Pipeline) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mock := adapter.NewMockAdapter(adapter.WithResponder(func(_ context.Context, req adapter.Request) (string, error) {
		if strings.HasPrefix(req.Messages[1].Content, "Choose the sections") {
			return `["hero"]`, nil
		}
		return `{"headline":"Fresh bread daily"}`, nil
	}))
	adapters := map[string]adapter.Adapter{"anthropic": mock, "openai": mock, "google": mock, "deepseek": mock}

	reg := prometheus.NewRegistry()
	cfg := config.DefaultRoutingConfig()
	cfg.Retry.MaxRetries = 0
	p, err := pipeline.New(cfg, adapters, pipeline.WithMetrics(metrics.New(reg)))
	require.NoError(t, err)
	return New(p, WithGatherer(reg)), p
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestGenerate(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("Should return the outcome", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/v1/generate", `{"prompt":"A bakery","context":{"business_name":"Crumb"}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var out pipeline.Outcome
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		assert.True(t, out.Success)
		require.Len(t, out.Items, 1)
		assert.Equal(t, "hero", out.Items[0].ID)
		assert.Equal(t, pipeline.ProvenanceGenerated, out.Items[0].Provenance)
		assert.JSONEq(t, `{"headline":"Fresh bread daily"}`, string(out.Items[0].Payload))
	})

	t.Run("Should reject a missing prompt", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/v1/generate", `{"prompt":""}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "prompt is required")
	})

	t.Run("Should reject malformed JSON", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/v1/generate", `{"prompt":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid request body")
	})

	t.Run("Should reject an unknown priority", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/v1/generate", `{"prompt":"x","priority":"cheapest"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid priority")
	})

	t.Run("Should report unknown items as unprocessable", func(t *testing.T) {
		w := do(t, s, http.MethodPost, "/v1/generate", `{"prompt":"x","items":["carousel"]}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestCircuits(t *testing.T) {
	s, p := newTestServer(t)
	for i := 0; i < 5; i++ {
		p.Breaker().RecordFailure("gpt-4o")
	}

	w := do(t, s, http.MethodGet, "/v1/circuits", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap []breaker.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Len(t, snap, 1)
	assert.Equal(t, "gpt-4o", snap[0].Model)
	assert.Contains(t, w.Body.String(), `"state":"open"`)

	w = do(t, s, http.MethodPost, "/v1/circuits/gpt-4o/reset", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, breaker.Closed, p.Breaker().State("gpt-4o"))
	assert.Empty(t, p.Breaker().Snapshot())
}

func TestRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/v1/routes", "")
	require.Equal(t, http.StatusOK, w.Code)

	var routes []router.RouteInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &routes))
	var tasks []string
	for _, r := range routes {
		tasks = append(tasks, r.Task)
	}
	assert.Contains(t, tasks, config.TaskContent)
	assert.Contains(t, tasks, config.TaskSelection)
}

func TestReliabilityAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/generate", `{"prompt":"A bakery"}`).Code)

	w := do(t, s, http.MethodGet, "/v1/reliability?window=50", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Stats struct {
			TotalRequests int    `json:"total_requests"`
			Health        string `json:"health"`
		} `json:"stats"`
		Adaptive []router.Observation `json:"adaptive"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Stats.TotalRequests)
	assert.Equal(t, "healthy", body.Stats.Health)
	assert.Len(t, body.Adaptive, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/reliability?window=-1", "").Code)

	w = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `sitegen_runs_total{success="true"} 1`)
	assert.Contains(t, w.Body.String(), "sitegen_model_attempts_total")
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","health":"healthy"}`, w.Body.String())
}
