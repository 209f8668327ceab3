// SPDX-License-Identifier: MIT

// Package ffi implements the host-facing boundary (spec.md §4.9, C12):
// execute_pipeline, execute_pipeline_with_input, and
// execute_pipeline_with_instances, each detecting the shape of whatever a
// host handed it and dispatching to the registry or instance-bypass path.
package ffi

import (
	"fmt"

	"github.com/remotemedia-ai/remotemedia-engine/internal/instance"
	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// Serializable is satisfied by a host-language pipeline object that can
// render itself to manifest JSON (spec.md §4.9's "pipeline object with a
// serialize() method"). Go has no dynamically-typed host boundary to
// detect this duck-typed case at runtime, so it is modeled as an explicit
// interface instead.
type Serializable interface {
	Serialize() ([]byte, error)
}

// resolved is a manifest plus the instance-path workers it references by
// node id, ready for the scheduler.
type resolved struct {
	manifest  *manifest.Manifest
	instances map[string]instance.Worker
}

// resolveInput detects pipelineOrManifest's shape (spec.md §4.9) and
// normalizes it to a manifest + instance map.
func resolveInput(pipelineOrManifest interface{}) (*resolved, error) {
	switch v := pipelineOrManifest.(type) {
	case string:
		return resolveManifestJSON([]byte(v))
	case []byte:
		return resolveManifestJSON(v)
	case *manifest.Manifest:
		return &resolved{manifest: v, instances: map[string]instance.Worker{}}, nil
	case manifest.Manifest:
		m := v
		return &resolved{manifest: &m, instances: map[string]instance.Worker{}}, nil
	case []interface{}:
		return resolveList(v)
	case Serializable:
		data, err := v.Serialize()
		if err != nil {
			return nil, rmerrors.Wrap(rmerrors.KindValidation, err, "ffi: pipeline object failed to serialize")
		}
		return resolveManifestJSON(data)
	default:
		return nil, rmerrors.New(rmerrors.KindTypeMismatch, "ffi: unrecognized pipeline input of type %T", pipelineOrManifest)
	}
}

func resolveManifestJSON(data []byte) (*resolved, error) {
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	return &resolved{manifest: m, instances: map[string]instance.Worker{}}, nil
}

// resolveList handles spec.md §4.9's "list of manifest dicts, list of
// workers, or mixed list" cases, via instance.ClassifyMixedList.
func resolveList(items []interface{}) (*resolved, error) {
	entries, err := instance.ClassifyMixedList(items)
	if err != nil {
		return nil, err
	}
	return resolveEntries(entries)
}

// resolveEntries builds a manifest from pre-classified entries, wiring
// sequential connections in list order (spec.md §4.7). Instance entries
// become IsInstance placeholder nodes; manifest entries pass through.
func resolveEntries(entries []instance.Entry) (*resolved, error) {
	m := &manifest.Manifest{Version: manifest.CurrentVersion}
	instances := make(map[string]instance.Worker, len(entries))

	for i, e := range entries {
		if e.IsInstance() {
			id := fmt.Sprintf("instance_%d", i)
			m.Nodes = append(m.Nodes, manifest.Node{ID: id, IsInstance: true})
			instances[id] = e.Instance
			continue
		}
		m.Nodes = append(m.Nodes, *e.Manifest)
	}

	return &resolved{manifest: m, instances: instances}, nil
}

// resolveInstanceWorkers is the raw instance path (spec.md §4.9's
// execute_pipeline_with_instances): every element must be a Worker.
func resolveInstanceWorkers(workers []instance.Worker) (*resolved, error) {
	items := make([]interface{}, len(workers))
	for i, w := range workers {
		items[i] = w
	}
	entries, err := instance.ClassifyMixedList(items)
	if err != nil {
		return nil, err
	}
	return resolveEntries(entries)
}
