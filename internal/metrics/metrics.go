// SPDX-License-Identifier: MIT

// Package metrics implements per-node counters and session aggregation
// (spec.md §4.9, §6, C14), exposed both via the FFI's enable_metrics
// payload and the health/metrics HTTP surface (SPEC_FULL.md §4.13).
//
// Per SPEC_FULL.md §9's resolution of the source's wall-time-vs-CPU-time
// ambiguity, every duration here is wall time measured around a node's
// process/flush call, consistent across in-process and out-of-process
// nodes.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// NodeCounters are the per-node statistics named in spec.md §6's metrics
// payload.
type NodeCounters struct {
	MessagesIn        int64
	MessagesOut       int64
	Failures          int64
	ProcessingNsTotal int64
}

// AvgNs returns the mean wall-clock processing time per input message.
func (c NodeCounters) AvgNs() int64 {
	if c.MessagesIn == 0 {
		return 0
	}
	return c.ProcessingNsTotal / c.MessagesIn
}

type nodeCounters struct {
	messagesIn        atomic.Int64
	messagesOut       atomic.Int64
	failures          atomic.Int64
	processingNsTotal atomic.Int64
}

func (n *nodeCounters) snapshot() NodeCounters {
	return NodeCounters{
		MessagesIn:        n.messagesIn.Load(),
		MessagesOut:       n.messagesOut.Load(),
		Failures:          n.failures.Load(),
		ProcessingNsTotal: n.processingNsTotal.Load(),
	}
}

// Session aggregates counters across every node in one session (spec.md §6).
type Session struct {
	mu        sync.RWMutex
	nodes     map[string]*nodeCounters
	startedAt time.Time
	peakDepth atomic.Int64
}

// NewSession returns a Session ready to record for nodeIDs.
func NewSession(nodeIDs []string) *Session {
	s := &Session{nodes: make(map[string]*nodeCounters, len(nodeIDs)), startedAt: time.Now()}
	for _, id := range nodeIDs {
		s.nodes[id] = &nodeCounters{}
	}
	return s
}

func (s *Session) counters(nodeID string) *nodeCounters {
	s.mu.RLock()
	n, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if ok {
		return n
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[nodeID]; ok {
		return n
	}
	n = &nodeCounters{}
	s.nodes[nodeID] = n
	return n
}

// RecordIn increments messages_in for nodeID.
func (s *Session) RecordIn(nodeID string) {
	s.counters(nodeID).messagesIn.Add(1)
}

// RecordOut increments messages_out for nodeID by n (a node may emit
// zero or more outputs per input; spec.md §4.6).
func (s *Session) RecordOut(nodeID string, n int) {
	if n > 0 {
		s.counters(nodeID).messagesOut.Add(int64(n))
	}
}

// RecordFailure increments failures for nodeID.
func (s *Session) RecordFailure(nodeID string) {
	s.counters(nodeID).failures.Add(1)
}

// RecordProcessing adds elapsed wall-clock time to processing_ns_total for
// nodeID. Callers wrap a node's process/flush call with
// time.Since(start) (SPEC_FULL.md §9).
func (s *Session) RecordProcessing(nodeID string, elapsed time.Duration) {
	s.counters(nodeID).processingNsTotal.Add(elapsed.Nanoseconds())
}

// ObserveChannelDepth updates the session's peak_channel_depth high-water
// mark (spec.md §6).
func (s *Session) ObserveChannelDepth(depth int64) {
	for {
		cur := s.peakDepth.Load()
		if depth <= cur {
			return
		}
		if s.peakDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

// PerNode returns a snapshot of every node's counters.
func (s *Session) PerNode() map[string]NodeCounters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]NodeCounters, len(s.nodes))
	for id, n := range s.nodes {
		out[id] = n.snapshot()
	}
	return out
}

// TotalNs returns wall-clock time elapsed since the session started.
func (s *Session) TotalNs() int64 {
	return time.Since(s.startedAt).Nanoseconds()
}

// PeakChannelDepth returns the session's channel-depth high-water mark.
func (s *Session) PeakChannelDepth() int64 {
	return s.peakDepth.Load()
}

// NodePayload is the per-node shape of the spec.md §6 metrics payload.
type NodePayload struct {
	MessagesIn  int64 `json:"messages_in"`
	MessagesOut int64 `json:"messages_out"`
	Failures    int64 `json:"failures"`
	AvgNs       int64 `json:"avg_ns"`
}

// SessionPayload is the session-level shape of the spec.md §6 metrics
// payload.
type SessionPayload struct {
	TotalNs          int64 `json:"total_ns"`
	PeakChannelDepth int64 `json:"peak_channel_depth"`
}

// Payload is the full enable_metrics=true response shape (spec.md §6).
type Payload struct {
	PerNode map[string]NodePayload `json:"per_node"`
	Session SessionPayload         `json:"session"`
}

// Payload renders the session into the wire shape spec.md §6 defines.
func (s *Session) Payload() Payload {
	perNode := make(map[string]NodePayload, len(s.nodes))
	for id, c := range s.PerNode() {
		perNode[id] = NodePayload{
			MessagesIn:  c.MessagesIn,
			MessagesOut: c.MessagesOut,
			Failures:    c.Failures,
			AvgNs:       c.AvgNs(),
		}
	}
	return Payload{
		PerNode: perNode,
		Session: SessionPayload{
			TotalNs:          s.TotalNs(),
			PeakChannelDepth: s.PeakChannelDepth(),
		},
	}
}
