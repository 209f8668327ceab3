// SPDX-License-Identifier: MIT

package instance

import (
	"encoding/json"
	"fmt"

	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// Entry is one element of a mixed pipeline list: either a manifest node
// (to be constructed via the registry, C5) or a pre-constructed worker
// instance (spec.md §4.7).
type Entry struct {
	Manifest *manifest.Node
	Instance Worker
}

// IsInstance reports whether this entry is an instance-path worker.
func (e Entry) IsInstance() bool { return e.Instance != nil }

// ClassifyMixedList validates a host-supplied list that may mix manifest
// dicts (as map[string]interface{} or manifest.Node) and worker instances
// (spec.md §4.7: "Mixed pipelines... are validated: every entry is either
// a manifest-dict or a worker instance; anything else is TypeError with
// the offending positions enumerated").
func ClassifyMixedList(items []interface{}) ([]Entry, error) {
	entries := make([]Entry, len(items))
	var badPositions []int

	for i, item := range items {
		switch v := item.(type) {
		case Worker:
			entries[i] = Entry{Instance: v}
		case manifest.Node:
			n := v
			entries[i] = Entry{Manifest: &n}
		case *manifest.Node:
			entries[i] = Entry{Manifest: v}
		case map[string]interface{}:
			n, err := decodeManifestNode(v)
			if err != nil {
				badPositions = append(badPositions, i)
				continue
			}
			entries[i] = Entry{Manifest: n}
		default:
			badPositions = append(badPositions, i)
		}
	}

	if len(badPositions) > 0 {
		return nil, rmerrors.New(rmerrors.KindTypeMismatch,
			"mixed pipeline list has non-Node, non-instance entries at positions %v", badPositions)
	}

	// Sequential connections are synthesized in list order (spec.md §4.7);
	// that belongs to the scheduler's graph build, not classification.
	return entries, nil
}

// IsPureInstanceList reports whether every entry is an instance, letting
// the caller take the fast path that skips manifest JSON generation
// entirely (spec.md §4.7).
func IsPureInstanceList(entries []Entry) bool {
	for _, e := range entries {
		if !e.IsInstance() {
			return false
		}
	}
	return len(entries) > 0
}

func decodeManifestNode(v map[string]interface{}) (*manifest.Node, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("instance: re-marshal candidate node: %w", err)
	}
	var n manifest.Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("instance: decode candidate node: %w", err)
	}
	return &n, nil
}
