// SPDX-License-Identifier: MIT

// Package registry implements the node_type → factory map (spec.md §4.3,
// C5), including auto-registration of built-in node types on first lookup.
//
// spec.md §9 flags the source's "try three constructor patterns" factory
// logic as a porting concession best replaced, in a systems language, by a
// single construction signature with thin adapter shims for legacy
// constructors. Factory here is that one signature; FromIDOnly/
// FromParamsOnly are the shims.
package registry

import (
	"sync"

	"github.com/remotemedia-ai/remotemedia-engine/internal/instance"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// Factory constructs a worker for one manifest node.
type Factory func(id string, params map[string]interface{}) (instance.Worker, error)

// FromIDOnly adapts a constructor that only needs the node id.
func FromIDOnly(fn func(id string) (instance.Worker, error)) Factory {
	return func(id string, _ map[string]interface{}) (instance.Worker, error) {
		return fn(id)
	}
}

// FromParamsOnly adapts a constructor that only needs the decoded params.
func FromParamsOnly(fn func(params map[string]interface{}) (instance.Worker, error)) Factory {
	return func(_ string, params map[string]interface{}) (instance.Worker, error) {
		return fn(params)
	}
}

// Registry maps node_type strings to Factory functions. It is
// process-scoped (spec.md §9: "global registries... are process-scoped
// singletons guarded by an internal synchronization primitive").
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory

	autoRegisterOnce sync.Once
	autoRegister     func(*Registry)
}

// New returns an empty registry. Call SetAutoRegister before the first
// lookup to wire built-in node_type registration.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// SetAutoRegister installs the function invoked exactly once, on first
// Has/Construct call, to register built-in node types (spec.md §4.3:
// "one-shot auto-registration of built-in node types on first lookup").
func (r *Registry) SetAutoRegister(fn func(*Registry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoRegister = fn
}

// Register associates nodeType with a Factory. Calling Register again for
// the same nodeType replaces the previous factory, matching "registration
// occurs by explicit call" (spec.md §4.3).
func (r *Registry) Register(nodeType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[nodeType] = f
}

func (r *Registry) ensureAutoRegistered() {
	r.autoRegisterOnce.Do(func() {
		r.mu.RLock()
		fn := r.autoRegister
		r.mu.RUnlock()
		if fn != nil {
			fn(r)
		}
	})
}

// Has reports whether nodeType has a registered factory, triggering
// auto-registration first.
func (r *Registry) Has(nodeType string) bool {
	r.ensureAutoRegistered()
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[nodeType]
	return ok
}

// KnownTypeFunc adapts Has to manifest.KnownType for Validate calls.
func (r *Registry) KnownTypeFunc() func(string) bool {
	return r.Has
}

// Construct builds a worker for nodeType with the given id and params
// (spec.md §4.3: "Registry path: node_type string in manifest → factory
// lookup → construction from params").
func (r *Registry) Construct(id, nodeType string, params map[string]interface{}) (instance.Worker, error) {
	r.ensureAutoRegistered()
	r.mu.RLock()
	f, ok := r.factories[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil, rmerrors.New(rmerrors.KindValidation, "no factory registered for node_type %q", nodeType).WithNode(id)
	}
	w, err := f(id, params)
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindInitFailed, err, "constructing node %q (%s) failed", id, nodeType).WithNode(id)
	}
	return w, nil
}
