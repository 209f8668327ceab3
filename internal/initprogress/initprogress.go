// SPDX-License-Identifier: MIT

// Package initprogress implements the per-node initialization state
// machine and session-level readiness aggregation (spec.md §4.5, C9).
package initprogress

import (
	"context"
	"sync"
	"time"

	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// Phase is a node's position in the initialization DAG (spec.md §4.5):
// Starting → LoadingModel → Connecting → Ready, with Failed absorbing from
// any state.
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseLoadingModel
	PhaseConnecting
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "Starting"
	case PhaseLoadingModel:
		return "LoadingModel"
	case PhaseConnecting:
		return "Connecting"
	case PhaseReady:
		return "Ready"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// rank orders the non-terminal-failure phases so transitions can be
// checked for monotonicity; Failed is exempt from the rank check and is
// always accepted.
func (p Phase) rank() int { return int(p) }

// Update is one state-machine transition for a node.
type Update struct {
	NodeID    string
	Phase     Phase
	Fraction  float64
	Message   string
	Timestamp time.Time
	Err       error // set when Phase == PhaseFailed
}

// Tracker aggregates per-node Updates into session-level readiness
// (spec.md §4.5: "A session becomes Ready when all its nodes reach Ready;
// it fails fast on the first Failed").
type Tracker struct {
	mu        sync.Mutex
	nodes     map[string]Update
	callbacks []func(Update)
	readyCh   chan struct{}
	readyOnce sync.Once
	failedCh  chan struct{}
	failOnce  sync.Once
	failure   *Update
}

// New creates a Tracker for the given node ids, all starting in
// PhaseStarting.
func New(nodeIDs []string) *Tracker {
	t := &Tracker{
		nodes:    make(map[string]Update, len(nodeIDs)),
		readyCh:  make(chan struct{}),
		failedCh: make(chan struct{}),
	}
	now := time.Now()
	for _, id := range nodeIDs {
		t.nodes[id] = Update{NodeID: id, Phase: PhaseStarting, Timestamp: now}
	}
	return t
}

// OnUpdate registers a callback invoked synchronously on every transition
// (spec.md §4.5: "Hosts may register a callback invoked on every update").
func (t *Tracker) OnUpdate(cb func(Update)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

func clampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Update applies a phase transition for nodeID. Fractions are clamped to
// [0,1] (advisory); phase transitions are authoritative and must be
// monotonic unless moving to Failed, which is accepted from any state
// (spec.md §4.5). A node in Failed cannot move to any other phase.
func (t *Tracker) Update(nodeID string, phase Phase, fraction float64, message string, err error) error {
	t.mu.Lock()

	cur, known := t.nodes[nodeID]
	if !known {
		t.mu.Unlock()
		return rmerrors.New(rmerrors.KindValidation, "initprogress: unknown node %q", nodeID)
	}
	if cur.Phase == PhaseFailed && phase != PhaseFailed {
		t.mu.Unlock()
		return rmerrors.New(rmerrors.KindValidation,
			"initprogress: node %q cannot leave %s for %s", nodeID, cur.Phase, phase)
	}
	if phase != PhaseFailed && phase.rank() < cur.Phase.rank() {
		t.mu.Unlock()
		return rmerrors.New(rmerrors.KindValidation,
			"initprogress: node %q cannot move backward from %s to %s", nodeID, cur.Phase, phase)
	}

	upd := Update{
		NodeID:    nodeID,
		Phase:     phase,
		Fraction:  clampFraction(fraction),
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
	t.nodes[nodeID] = upd

	allReady := phase == PhaseReady
	if allReady {
		for _, n := range t.nodes {
			if n.Phase != PhaseReady {
				allReady = false
				break
			}
		}
	}
	firstFailure := phase == PhaseFailed && t.failure == nil
	if firstFailure {
		t.failure = &upd
	}
	callbacks := append([]func(Update){}, t.callbacks...)
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb(upd)
	}
	if allReady {
		t.readyOnce.Do(func() { close(t.readyCh) })
	}
	if firstFailure {
		t.failOnce.Do(func() { close(t.failedCh) })
	}
	return nil
}

// SessionReady reports whether every tracked node has reached PhaseReady.
func (t *Tracker) SessionReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.nodes {
		if n.Phase != PhaseReady {
			return false
		}
	}
	return true
}

// FirstFailure returns the first Failed update observed, if any.
func (t *Tracker) FirstFailure() (Update, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failure == nil {
		return Update{}, false
	}
	return *t.failure, true
}

// Snapshot returns the current Update for every tracked node.
func (t *Tracker) Snapshot() map[string]Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Update, len(t.nodes))
	for id, u := range t.nodes {
		out[id] = u
	}
	return out
}

// WaitForInitialization blocks until the session becomes Ready, a node
// fails, ctx is cancelled, or timeout elapses, polling at pollInterval
// (spec.md §4.5: "a wait_for_initialization(timeout, poll_ms) blocking
// call").
func (t *Tracker) WaitForInitialization(ctx context.Context, timeout, pollInterval time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.readyCh:
			return nil
		case <-t.failedCh:
			f, _ := t.FirstFailure()
			return rmerrors.New(rmerrors.KindInitFailed, "node %q failed during initialization: %s", f.NodeID, f.Message).WithNode(f.NodeID)
		case <-ctx.Done():
			return rmerrors.Wrap(rmerrors.KindTimeout, ctx.Err(), "initialization wait cancelled")
		case <-deadline.C:
			return rmerrors.New(rmerrors.KindTimeout, "initialization did not complete within %s", timeout)
		case <-ticker.C:
			// Wake periodically per poll_ms; readiness/failure above are
			// also observed via their own closed channels without delay.
		}
	}
}
