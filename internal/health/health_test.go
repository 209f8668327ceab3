// SPDX-License-Identifier: MIT

package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotemedia-ai/remotemedia-engine/internal/metrics"
	"github.com/remotemedia-ai/remotemedia-engine/internal/modelregistry"
)

type mockSessions struct{ sessions []SessionStatus }

func (m *mockSessions) Sessions() []SessionStatus { return m.sessions }

type mockMetrics struct{ payloads map[string]metrics.Payload }

func (m *mockMetrics) SessionMetrics() map[string]metrics.Payload { return m.payloads }

type mockModels struct{ m modelregistry.Metrics }

func (m *mockModels) ModelRegistryMetrics() modelregistry.Metrics { return m.m }

func TestNewHandler(t *testing.T) {
	assert.NotNil(t, NewHandler(nil))
}

func TestHealthyWhenAllSessionsReady(t *testing.T) {
	provider := &mockSessions{sessions: []SessionStatus{
		{ID: "s1", Status: "ready", Nodes: []NodeStatus{{ID: "n1", Status: "ready"}}},
	}}

	h := NewHandler(provider)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "s1", resp.Sessions[0].ID)
}

func TestUnhealthyWhenASessionFailed(t *testing.T) {
	provider := &mockSessions{sessions: []SessionStatus{
		{ID: "s1", Status: "failed", Nodes: []NodeStatus{{ID: "n1", Status: "failed", Error: "boom"}}},
	}}

	h := NewHandler(provider)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestHealthyWithNoSessions(t *testing.T) {
	h := NewHandler(&mockSessions{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRejectsNonGetMethods(t *testing.T) {
	h := NewHandler(&mockSessions{})
	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsRendersPrometheusText(t *testing.T) {
	sess := metrics.NewSession([]string{"mul", "add"})
	sess.RecordIn("mul")
	sess.RecordOut("mul", 1)
	sess.RecordProcessing("mul", 10*time.Millisecond)

	h := NewHandler(&mockSessions{}).
		WithMetrics(&mockMetrics{payloads: map[string]metrics.Payload{"s1": sess.Payload()}}).
		WithModelRegistry(&mockModels{m: modelregistry.Metrics{Hits: 5, Misses: 1, HitRate: 5.0 / 6.0, TotalModels: 2}})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `remotemedia_node_messages_in_total{session="s1",node="mul"} 1`)
	assert.Contains(t, body, "remotemedia_model_cache_hits_total 5")
	assert.Contains(t, body, "remotemedia_model_cache_entries 2")
}

func TestMetricsWithoutProvidersIsEmptyButValid(t *testing.T) {
	h := NewHandler(&mockSessions{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
