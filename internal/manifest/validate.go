// SPDX-License-Identifier: MIT

package manifest

import (
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// KnownType reports whether node_type is registered. Validate calls it for
// every non-instance node (spec.md §4.3).
type KnownType func(nodeType string) bool

// Options tunes validation for callers that expect no input (e.g. a
// manifest meant only to be authored, not yet run).
type Options struct {
	// RequireNonEmpty rejects an empty Nodes list; set when the manifest is
	// about to be executed (spec.md §4.3: "empty nodes list when input is
	// expected").
	RequireNonEmpty bool
}

// Validate checks a manifest against every rule in spec.md §4.3:
// unknown version, duplicate node ids, dangling from/to, cycles, empty
// nodes list (when required), and unknown node_type (unless the node is an
// instance placeholder).
func Validate(m *Manifest, known KnownType, opts Options) error {
	if m.Version != CurrentVersion {
		return rmerrors.New(rmerrors.KindValidation, "unsupported manifest version %q, want %q", m.Version, CurrentVersion)
	}
	if opts.RequireNonEmpty && len(m.Nodes) == 0 {
		return rmerrors.New(rmerrors.KindValidation, "manifest has no nodes")
	}

	ids := make(map[string]*Node, len(m.Nodes))
	for i := range m.Nodes {
		n := &m.Nodes[i]
		if n.ID == "" {
			return rmerrors.New(rmerrors.KindValidation, "node at index %d has empty id", i)
		}
		if _, dup := ids[n.ID]; dup {
			return rmerrors.New(rmerrors.KindValidation, "duplicate node id %q", n.ID)
		}
		ids[n.ID] = n
	}

	for i, n := range m.Nodes {
		if n.IsInstance {
			continue
		}
		if n.NodeType == "" {
			return rmerrors.New(rmerrors.KindValidation, "node %q (index %d) has empty node_type", n.ID, i)
		}
		if known != nil && !known(n.NodeType) {
			return rmerrors.New(rmerrors.KindValidation, "node %q has unknown node_type %q", n.ID, n.NodeType)
		}
	}

	conns := m.EffectiveConnections()
	adj := make(map[string][]string, len(ids))
	indegree := make(map[string]int, len(ids))
	for id := range ids {
		indegree[id] = 0
	}
	for _, c := range conns {
		fromNode, ok := ids[c.From]
		if !ok {
			return rmerrors.New(rmerrors.KindValidation, "connection references unknown node %q as from", c.From)
		}
		_ = fromNode
		if _, ok := ids[c.To]; !ok {
			return rmerrors.New(rmerrors.KindValidation, "connection references unknown node %q as to", c.To)
		}
		if c.From == c.To {
			return rmerrors.New(rmerrors.KindValidation, "node %q connects to itself", c.From)
		}
		adj[c.From] = append(adj[c.From], c.To)
		indegree[c.To]++
	}

	order, err := topologicalSort(ids, adj, indegree)
	if err != nil {
		return err
	}

	if len(m.Nodes) > 1 {
		var sources []string
		for _, id := range order {
			if indegree[id] == 0 {
				sources = append(sources, id)
			}
		}
		if len(sources) == 0 {
			return rmerrors.New(rmerrors.KindValidation, "manifest has no source node")
		}
		// The scheduler seeds a single input item onto exactly one node
		// (spec.md §4.6's source) in topological order; a manifest with
		// more than one indegree-0 node would silently starve every
		// source but the first instead of running both, so it is
		// rejected here rather than left to fail at runtime.
		if len(sources) > 1 {
			return rmerrors.New(rmerrors.KindValidation, "manifest has multiple source nodes %v, want exactly one", sources)
		}

		reachable := make(map[string]bool, len(ids))
		var queue []string
		for id := range ids {
			if indegree[id] == 0 {
				reachable[id] = true
				queue = append(queue, id)
			}
		}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			for _, next := range adj[id] {
				if !reachable[next] {
					reachable[next] = true
					queue = append(queue, next)
				}
			}
		}
		for id := range ids {
			if !reachable[id] {
				return rmerrors.New(rmerrors.KindValidation, "node %q is disconnected from every source", id)
			}
		}
	}

	return nil
}

// topologicalSort performs Kahn's algorithm, returning an error carrying
// ErrorKind::Validation if the graph has a cycle (spec.md §3, §4.3: "graph
// is a connected DAG (no cycles)").
func topologicalSort(ids map[string]*Node, adj map[string][]string, indegree map[string]int) ([]string, error) {
	remaining := make(map[string]int, len(indegree))
	for id, d := range indegree {
		remaining[id] = d
	}

	var queue []string
	for id, d := range remaining {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(ids) {
		var cyclic []string
		for id, d := range remaining {
			if d > 0 {
				cyclic = append(cyclic, id)
			}
		}
		return nil, rmerrors.New(rmerrors.KindValidation, "manifest graph has a cycle among nodes %v", cyclic)
	}
	return order, nil
}

// TopologicalOrder returns the node ids in dependency order, as the
// scheduler needs for graph build (spec.md §4.6). It assumes m has already
// passed Validate.
func TopologicalOrder(m *Manifest) ([]string, error) {
	ids := make(map[string]*Node, len(m.Nodes))
	for i := range m.Nodes {
		ids[m.Nodes[i].ID] = &m.Nodes[i]
	}
	adj := make(map[string][]string, len(ids))
	indegree := make(map[string]int, len(ids))
	for id := range ids {
		indegree[id] = 0
	}
	for _, c := range m.EffectiveConnections() {
		adj[c.From] = append(adj[c.From], c.To)
		indegree[c.To]++
	}
	return topologicalSort(ids, adj, indegree)
}

// EdgesInto returns the connections whose To field equals nodeID, in
// manifest order, with ports defaulted (spec.md §3).
func EdgesInto(m *Manifest, nodeID string) []Connection {
	var out []Connection
	for _, c := range m.EffectiveConnections() {
		if c.To == nodeID {
			out = append(out, Connection{From: c.From, To: c.To, FromPort: c.fromPort(), ToPort: c.toPort()})
		}
	}
	return out
}

// EdgesFrom returns the connections whose From field equals nodeID.
func EdgesFrom(m *Manifest, nodeID string) []Connection {
	var out []Connection
	for _, c := range m.EffectiveConnections() {
		if c.From == nodeID {
			out = append(out, Connection{From: c.From, To: c.To, FromPort: c.fromPort(), ToPort: c.toPort()})
		}
	}
	return out
}
