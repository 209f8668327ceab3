// SPDX-License-Identifier: MIT

package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

func allKnown(string) bool { return true }

func linearManifest() *Manifest {
	return &Manifest{
		Version: CurrentVersion,
		Nodes: []Node{
			{ID: "a", NodeType: "Multiply"},
			{ID: "b", NodeType: "Add"},
		},
	}
}

func TestValidateAcceptsLinearManifestWithImplicitConnections(t *testing.T) {
	m := linearManifest()
	require.NoError(t, Validate(m, allKnown, Options{}))

	order, err := TopologicalOrder(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestValidateRejectsUnknownVersion(t *testing.T) {
	m := linearManifest()
	m.Version = "v2"
	err := Validate(m, allKnown, Options{})
	require.Error(t, err)
	rerr, ok := rmerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, rmerrors.KindValidation, rerr.Kind)
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	m := &Manifest{
		Version: CurrentVersion,
		Nodes: []Node{
			{ID: "a", NodeType: "Multiply"},
			{ID: "a", NodeType: "Add"},
		},
	}
	err := Validate(m, allKnown, Options{})
	require.Error(t, err)
}

func TestValidateRejectsDanglingConnection(t *testing.T) {
	m := &Manifest{
		Version:     CurrentVersion,
		Nodes:       []Node{{ID: "a", NodeType: "Multiply"}},
		Connections: []Connection{{From: "a", To: "ghost"}},
	}
	err := Validate(m, allKnown, Options{})
	require.Error(t, err)
}

func TestValidateRejectsCycle(t *testing.T) {
	m := &Manifest{
		Version: CurrentVersion,
		Nodes: []Node{
			{ID: "a", NodeType: "Multiply"},
			{ID: "b", NodeType: "Add"},
		},
		Connections: []Connection{
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}
	err := Validate(m, allKnown, Options{})
	require.Error(t, err)
}

func TestValidateRejectsEmptyNodesWhenRequired(t *testing.T) {
	m := &Manifest{Version: CurrentVersion}
	err := Validate(m, allKnown, Options{RequireNonEmpty: true})
	require.Error(t, err)
}

func TestValidateAllowsEmptyNodesWhenNotRequired(t *testing.T) {
	m := &Manifest{Version: CurrentVersion}
	require.NoError(t, Validate(m, allKnown, Options{}))
}

func TestValidateRejectsUnknownNodeType(t *testing.T) {
	m := linearManifest()
	err := Validate(m, func(string) bool { return false }, Options{})
	require.Error(t, err)
}

func TestValidateSkipsTypeLookupForInstancePlaceholders(t *testing.T) {
	m := &Manifest{
		Version: CurrentVersion,
		Nodes:   []Node{{ID: "a", IsInstance: true}},
	}
	require.NoError(t, Validate(m, func(string) bool { return false }, Options{}))
}

func TestValidateRejectsMultipleSourceNodes(t *testing.T) {
	m := &Manifest{
		Version: CurrentVersion,
		Nodes: []Node{
			{ID: "a", NodeType: "Multiply"},
			{ID: "b", NodeType: "Multiply"},
			{ID: "c", NodeType: "Add"},
		},
		Connections: []Connection{
			{From: "a", To: "c"},
			{From: "b", To: "c"},
		},
	}
	err := Validate(m, allKnown, Options{})
	require.Error(t, err)
	rerr, ok := rmerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, rmerrors.KindValidation, rerr.Kind)
}

func TestValidateRejectsDisconnectedNode(t *testing.T) {
	m := &Manifest{
		Version: CurrentVersion,
		Nodes: []Node{
			{ID: "a", NodeType: "Multiply"},
			{ID: "b", NodeType: "Add"},
			{ID: "c", NodeType: "Sub"},
		},
		Connections: []Connection{{From: "a", To: "b"}},
	}
	err := Validate(m, allKnown, Options{})
	require.Error(t, err)
}

func TestEdgesIntoAndFromDefaultPorts(t *testing.T) {
	m := linearManifest()
	into := EdgesInto(m, "b")
	require.Len(t, into, 1)
	assert.Equal(t, "out", into[0].FromPort)
	assert.Equal(t, "in", into[0].ToPort)

	from := EdgesFrom(m, "a")
	require.Len(t, from, 1)
	assert.Equal(t, "b", from[0].To)
}
