// SPDX-License-Identifier: MIT

// Package health implements the engine's health and metrics HTTP surface
// (SPEC_FULL.md §4.13): GET /healthz reports per-session, per-node status;
// GET /metrics aggregates the spec.md §6 metrics payload across every live
// session, plus model-registry cache statistics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/remotemedia-ai/remotemedia-engine/internal/metrics"
	"github.com/remotemedia-ai/remotemedia-engine/internal/modelregistry"
)

// NodeStatus is one node's entry in a session's /healthz report.
type NodeStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SessionStatus is one session's entry in the /healthz report.
type SessionStatus struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Age       time.Duration `json:"age_ns"`
	Nodes     []NodeStatus  `json:"nodes"`
}

// Response is the JSON body returned by /healthz.
type Response struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Sessions  []SessionStatus `json:"sessions"`
}

// SessionProvider reports the live status of every session the process is
// currently driving. The engine CLI implements this with a single-run
// status (cmd/remotemedia-engine's runStatus) that reports the one
// session it executes, without per-node entries.
type SessionProvider interface {
	Sessions() []SessionStatus
}

// MetricsProvider supplies per-session metrics payloads keyed by session id
// for /metrics aggregation.
type MetricsProvider interface {
	SessionMetrics() map[string]metrics.Payload
}

// ModelRegistryProvider supplies model-cache statistics for /metrics.
type ModelRegistryProvider interface {
	ModelRegistryMetrics() modelregistry.Metrics
}

// Handler serves /healthz and /metrics.
type Handler struct {
	sessions SessionProvider
	metrics  MetricsProvider
	models   ModelRegistryProvider
}

// NewHandler creates a health/metrics HTTP handler.
func NewHandler(sessions SessionProvider) *Handler {
	return &Handler{sessions: sessions}
}

// WithMetrics attaches a metrics provider, enabling /metrics.
func (h *Handler) WithMetrics(p MetricsProvider) *Handler {
	h.metrics = p
	return h
}

// WithModelRegistry attaches a model-registry provider, adding its cache
// statistics to /metrics.
func (h *Handler) WithModelRegistry(p ModelRegistryProvider) *Handler {
	h.models = p
	return h
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{Timestamp: time.Now()}

	var sessions []SessionStatus
	if h.sessions != nil {
		sessions = h.sessions.Sessions()
	}
	resp.Sessions = sessions

	healthy := true
	for _, s := range sessions {
		if s.Status != "ready" && s.Status != "running" {
			healthy = false
			break
		}
	}

	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format response aggregating the
// spec.md §6 metrics payload across every live session, plus model-registry
// cache hit/miss statistics (spec.md §4.8). Implemented directly against
// the exposition format rather than an external client library, following
// the source's dependency-free metrics rendering.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder

	if h.metrics != nil {
		perSession := h.metrics.SessionMetrics()

		fmt.Fprintln(&sb, "# HELP remotemedia_node_messages_in_total Messages received by a node.")
		fmt.Fprintln(&sb, "# TYPE remotemedia_node_messages_in_total counter")
		for sessionID, payload := range perSession {
			for nodeID, n := range payload.PerNode {
				fmt.Fprintf(&sb, "remotemedia_node_messages_in_total{session=%q,node=%q} %d\n", sessionID, nodeID, n.MessagesIn)
			}
		}

		fmt.Fprintln(&sb, "# HELP remotemedia_node_messages_out_total Messages emitted by a node.")
		fmt.Fprintln(&sb, "# TYPE remotemedia_node_messages_out_total counter")
		for sessionID, payload := range perSession {
			for nodeID, n := range payload.PerNode {
				fmt.Fprintf(&sb, "remotemedia_node_messages_out_total{session=%q,node=%q} %d\n", sessionID, nodeID, n.MessagesOut)
			}
		}

		fmt.Fprintln(&sb, "# HELP remotemedia_node_failures_total Failures recorded by a node.")
		fmt.Fprintln(&sb, "# TYPE remotemedia_node_failures_total counter")
		for sessionID, payload := range perSession {
			for nodeID, n := range payload.PerNode {
				fmt.Fprintf(&sb, "remotemedia_node_failures_total{session=%q,node=%q} %d\n", sessionID, nodeID, n.Failures)
			}
		}

		fmt.Fprintln(&sb, "# HELP remotemedia_node_avg_processing_ns Average wall-clock processing time per input message.")
		fmt.Fprintln(&sb, "# TYPE remotemedia_node_avg_processing_ns gauge")
		for sessionID, payload := range perSession {
			for nodeID, n := range payload.PerNode {
				fmt.Fprintf(&sb, "remotemedia_node_avg_processing_ns{session=%q,node=%q} %d\n", sessionID, nodeID, n.AvgNs)
			}
		}

		fmt.Fprintln(&sb, "# HELP remotemedia_session_peak_channel_depth Peak channel depth observed in a session.")
		fmt.Fprintln(&sb, "# TYPE remotemedia_session_peak_channel_depth gauge")
		for sessionID, payload := range perSession {
			fmt.Fprintf(&sb, "remotemedia_session_peak_channel_depth{session=%q} %d\n", sessionID, payload.Session.PeakChannelDepth)
		}
	}

	if h.models != nil {
		m := h.models.ModelRegistryMetrics()

		fmt.Fprintln(&sb, "# HELP remotemedia_model_cache_hits_total Model registry cache hits.")
		fmt.Fprintln(&sb, "# TYPE remotemedia_model_cache_hits_total counter")
		fmt.Fprintf(&sb, "remotemedia_model_cache_hits_total %d\n", m.Hits)

		fmt.Fprintln(&sb, "# HELP remotemedia_model_cache_misses_total Model registry cache misses.")
		fmt.Fprintln(&sb, "# TYPE remotemedia_model_cache_misses_total counter")
		fmt.Fprintf(&sb, "remotemedia_model_cache_misses_total %d\n", m.Misses)

		fmt.Fprintln(&sb, "# HELP remotemedia_model_cache_hit_rate Model registry cache hit rate.")
		fmt.Fprintln(&sb, "# TYPE remotemedia_model_cache_hit_rate gauge")
		fmt.Fprintf(&sb, "remotemedia_model_cache_hit_rate %f\n", m.HitRate)

		fmt.Fprintln(&sb, "# HELP remotemedia_model_cache_entries Models currently resident in the cache.")
		fmt.Fprintln(&sb, "# TYPE remotemedia_model_cache_entries gauge")
		fmt.Fprintf(&sb, "remotemedia_model_cache_entries %d\n", m.TotalModels)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health/metrics HTTP server on addr, shutting
// down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady starts the server, binding synchronously so port-in-use
// errors surface immediately, then closes ready (if non-nil) once listening.
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}
