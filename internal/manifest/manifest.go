// SPDX-License-Identifier: MIT

// Package manifest implements the versioned pipeline DSL (spec.md §3, §4.3):
// nodes, params, connections, and capabilities, plus the validation rules
// the scheduler depends on before it will build a runtime graph.
package manifest

import (
	"encoding/json"
	"time"

	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// CurrentVersion is the only manifest dialect version this engine accepts
// (spec.md §4.3: "unknown version" is rejected; §9: "new versions are
// additive").
const CurrentVersion = "v1"

// Metadata describes a manifest's provenance.
type Metadata struct {
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Capabilities are declared per node and constrain scheduling (spec.md §3,
// §4.6: streaming nodes receive an async sequence; non-streaming nodes are
// invoked once per item).
//
// spec.md §3 leaves the capabilities set open-ended ("{ streaming: bool,
// needs_gpu: bool, ... }"). OutOfProcess is this engine's extension of that
// set: it resolves §2's otherwise-unstated question of how a manifest
// requests process isolation for a node, by making it a per-node capability
// rather than a session-wide mode. Unset (false) means the scheduler
// constructs the node in-process via the registry (C5/C7); set means it
// spawns a worker process for it (C8) and wires its channels over SHM
// instead of in-memory queues.
type Capabilities struct {
	Streaming    bool `json:"streaming"`
	NeedsGPU     bool `json:"needs_gpu"`
	OutOfProcess bool `json:"out_of_process"`
}

// Node is one manifest entry. NodeType is looked up in the registry (C5)
// unless the entry is an instance placeholder (§4.7), signalled by
// IsInstance being set by the host before the manifest is handed to the
// scheduler — it never appears in the wire JSON.
type Node struct {
	ID           string                 `json:"id"`
	NodeType     string                 `json:"node_type"`
	Params       map[string]interface{} `json:"params,omitempty"`
	Capabilities *Capabilities          `json:"capabilities,omitempty"`

	// IsInstance marks a placeholder for a host-supplied worker instance
	// (spec.md §4.7). Such nodes skip node_type lookup at validation time.
	IsInstance bool `json:"-"`
}

// Connection is one manifest edge. Ports default to "out"/"in" (spec.md §3).
type Connection struct {
	From     string `json:"from"`
	To       string `json:"to"`
	FromPort string `json:"from_port,omitempty"`
	ToPort   string `json:"to_port,omitempty"`
}

// Manifest is the full pipeline description (spec.md §3).
type Manifest struct {
	Version     string       `json:"version"`
	Metadata    Metadata     `json:"metadata"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections,omitempty"`
}

// Parse decodes manifest JSON. It does not validate; call Validate
// separately so callers can distinguish malformed JSON from a structurally
// sound but semantically invalid manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindValidation, err, "manifest: invalid JSON")
	}
	return &m, nil
}

// Marshal re-encodes a manifest. Round-tripping a v1 manifest through the
// core must be byte-stable modulo key ordering (spec.md §9); json.Marshal's
// deterministic struct field order satisfies that for any single build.
func (m *Manifest) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// EffectiveConnections returns m.Connections, or, if empty and there is more
// than one node, the sequential wiring implied by list order (spec.md §3:
// "Absence of explicit connections on a node list implies sequential wiring
// in list order").
func (m *Manifest) EffectiveConnections() []Connection {
	if len(m.Connections) > 0 || len(m.Nodes) < 2 {
		return m.Connections
	}
	conns := make([]Connection, 0, len(m.Nodes)-1)
	for i := 0; i+1 < len(m.Nodes); i++ {
		conns = append(conns, Connection{From: m.Nodes[i].ID, To: m.Nodes[i+1].ID})
	}
	return conns
}

func (c Connection) fromPort() string {
	if c.FromPort == "" {
		return "out"
	}
	return c.FromPort
}

func (c Connection) toPort() string {
	if c.ToPort == "" {
		return "in"
	}
	return c.ToPort
}
