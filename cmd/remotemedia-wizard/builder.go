// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
	"github.com/remotemedia-ai/remotemedia-engine/internal/registry"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// Builder accumulates a manifest one node/connection at a time, live-validating
// against a registry the way spec.md §4.16 requires of an interactive author.
// It is deliberately independent of any prompting library so it can be
// exercised directly in tests.
type Builder struct {
	m   *manifest.Manifest
	reg *registry.Registry
}

// NewBuilder starts an empty v1 manifest named name.
func NewBuilder(name string, reg *registry.Registry) *Builder {
	return &Builder{
		m: &manifest.Manifest{
			Version:  manifest.CurrentVersion,
			Metadata: manifest.Metadata{Name: name},
		},
		reg: reg,
	}
}

// LoadBuilder reads an existing manifest from path.
func LoadBuilder(path string, reg *registry.Registry) (*Builder, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindValidation, err, "wizard: read manifest")
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	return &Builder{m: m, reg: reg}, nil
}

// NodeIDs returns every node id currently in the manifest, in list order.
func (b *Builder) NodeIDs() []string {
	ids := make([]string, len(b.m.Nodes))
	for i, n := range b.m.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// KnownNodeTypes returns the built-in node_types (those
// registry.RegisterBuiltins installs) in a fixed order, for driving a
// selection prompt; any other type registered on the wizard's registry is
// not listed.
func (b *Builder) KnownNodeTypes() []string {
	return []string{"Multiply", "Add", "PassThrough", "Counter"}
}

// AddNode appends a node, rejecting a duplicate id or an unregistered
// node_type up front rather than waiting for a full Validate call.
func (b *Builder) AddNode(id, nodeType string, params map[string]interface{}, caps *manifest.Capabilities) error {
	if id == "" {
		return rmerrors.New(rmerrors.KindValidation, "wizard: node id must not be empty")
	}
	for _, existing := range b.m.Nodes {
		if existing.ID == id {
			return rmerrors.New(rmerrors.KindValidation, "wizard: node id %q already used", id)
		}
	}
	if nodeType == "" {
		return rmerrors.New(rmerrors.KindValidation, "wizard: node_type must not be empty")
	}
	if b.reg != nil && !b.reg.Has(nodeType) {
		return rmerrors.New(rmerrors.KindValidation, "wizard: unknown node_type %q", nodeType)
	}

	b.m.Nodes = append(b.m.Nodes, manifest.Node{
		ID:           id,
		NodeType:     nodeType,
		Params:       params,
		Capabilities: caps,
	})
	return nil
}

// AddConnection appends an edge between two already-added nodes.
func (b *Builder) AddConnection(from, to, fromPort, toPort string) error {
	if !b.hasNode(from) {
		return rmerrors.New(rmerrors.KindValidation, "wizard: unknown from node %q", from)
	}
	if !b.hasNode(to) {
		return rmerrors.New(rmerrors.KindValidation, "wizard: unknown to node %q", to)
	}
	b.m.Connections = append(b.m.Connections, manifest.Connection{
		From: from, To: to, FromPort: fromPort, ToPort: toPort,
	})
	return nil
}

// RemoveNode drops a node and every connection touching it.
func (b *Builder) RemoveNode(id string) error {
	if !b.hasNode(id) {
		return rmerrors.New(rmerrors.KindValidation, "wizard: unknown node %q", id)
	}

	nodes := make([]manifest.Node, 0, len(b.m.Nodes))
	for _, n := range b.m.Nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	b.m.Nodes = nodes

	conns := make([]manifest.Connection, 0, len(b.m.Connections))
	for _, c := range b.m.Connections {
		if c.From != id && c.To != id {
			conns = append(conns, c)
		}
	}
	b.m.Connections = conns
	return nil
}

func (b *Builder) hasNode(id string) bool {
	for _, n := range b.m.Nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// Validate runs the full spec.md §4.3 rule set against the manifest built
// so far.
func (b *Builder) Validate() error {
	var known manifest.KnownType
	if b.reg != nil {
		known = b.reg.KnownTypeFunc()
	}
	return manifest.Validate(b.m, known, manifest.Options{})
}

// JSON renders the manifest for display or saving.
func (b *Builder) JSON() ([]byte, error) {
	return b.m.Marshal()
}

// Save writes the manifest to path.
func (b *Builder) Save(path string) error {
	raw, err := b.m.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return rmerrors.Wrap(rmerrors.KindValidation, err, "wizard: write manifest")
	}
	return nil
}

// Summary renders one line per node, annotated with its wiring, for the
// wizard's status display.
func (b *Builder) Summary() string {
	if len(b.m.Nodes) == 0 {
		return "(empty manifest)"
	}
	s := ""
	for _, n := range b.m.Nodes {
		s += fmt.Sprintf("  %s [%s]\n", n.ID, n.NodeType)
	}
	for _, c := range b.m.Connections {
		s += fmt.Sprintf("  %s -> %s\n", c.From, c.To)
	}
	return s
}
