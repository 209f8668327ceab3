// SPDX-License-Identifier: MIT

// Package scheduler builds a runtime graph from a validated manifest and
// drives it (spec.md §4.6, C10/C11): topological construction, per-edge
// routing, streaming vs single-item node semantics, flush, and
// cancellation.
package scheduler

import (
	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// graph is the adjacency derived from a manifest's effective connections,
// keyed by node id (ports are not distinguished in v1: a node has exactly
// one input stream and one output stream, spec.md §3's `(node_id, port)`
// pending-output invariant collapses to one pending output per node).
type graph struct {
	order      []string
	downstream map[string][]string
	sinks      []string
}

func buildGraph(m *manifest.Manifest) (*graph, error) {
	order, err := manifest.TopologicalOrder(m)
	if err != nil {
		return nil, err
	}

	downstream := make(map[string][]string, len(order))
	for _, id := range order {
		downstream[id] = nil
	}
	for _, c := range m.EffectiveConnections() {
		downstream[c.From] = append(downstream[c.From], c.To)
	}

	var sinks []string
	for _, id := range order {
		if len(downstream[id]) == 0 {
			sinks = append(sinks, id)
		}
	}
	if len(sinks) == 0 {
		return nil, rmerrors.New(rmerrors.KindValidation, "scheduler: manifest has no sink node")
	}

	return &graph{order: order, downstream: downstream, sinks: sinks}, nil
}

func (g *graph) isSink(id string) bool {
	return len(g.downstream[id]) == 0
}
