// SPDX-License-Identifier: MIT

// Package modelregistry implements the shared model registry (spec.md
// §4.8, C6): a process-local, single-flight cache of loaded ML assets
// keyed by (model_id, device), deduplicating loads across nodes that
// request the same model.
package modelregistry

import (
	"context"
	"sync"

	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// Key identifies a cached asset.
type Key struct {
	ModelID string
	Device  string
}

// State is the lifecycle of a registry entry.
type State int

const (
	StateLoading State = iota
	StateReady
	StateFailed
)

// Asset is anything a Loader can produce. MemoryUsage is advisory (spec.md
// §4.8: "from a memory_usage() method on the asset if present"); assets
// that don't need to report a size can return 0.
type Asset interface {
	MemoryUsage() int64
}

// Loader loads the asset for a Key. It runs at most once per key while
// concurrent callers coalesce onto the same call (spec.md §4.8: "Concurrent
// calls for the same key coalesce: exactly one loader invocation").
type Loader func(ctx context.Context) (Asset, error)

// Handle is a shared-ownership reference to a cached asset. Release must
// be called exactly once per handle obtained from GetOrLoad; the asset is
// evicted when the last outstanding handle is released.
type Handle struct {
	reg *Registry
	key Key
}

// Asset returns the underlying cached asset.
func (h *Handle) Asset() Asset {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	e := h.reg.entries[h.key]
	if e == nil {
		return nil
	}
	return e.asset
}

// Release decrements the entry's refcount, evicting it once no holder
// remains (spec.md §4.8: "entries live as long as any handle is
// outstanding").
func (h *Handle) Release() {
	h.reg.release(h.key)
}

type entry struct {
	state   State
	asset   Asset
	err     error
	holders int
	done    chan struct{} // closed once Loading resolves to Ready or Failed
}

// Metrics reports aggregate registry statistics (spec.md §4.8).
type Metrics struct {
	Hits             int64
	Misses           int64
	HitRate          float64
	TotalModels      int
	TotalMemoryBytes int64
}

// Registry is a process-local, lock-guarded model cache (spec.md §9:
// "process-scoped singletons guarded by an internal synchronization
// primitive").
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
	hits    int64
	misses  int64
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[Key]*entry)}
}

// GetOrLoad returns a shared Handle for key, invoking loader if absent.
// Concurrent GetOrLoad calls for the same key block on the in-flight load
// and all observe the same asset (spec.md §4.8's single-flight invariant).
func (r *Registry) GetOrLoad(ctx context.Context, key Key, loader Loader) (*Handle, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		switch e.state {
		case StateReady:
			e.holders++
			r.hits++
			r.mu.Unlock()
			return &Handle{reg: r, key: key}, nil
		case StateLoading:
			r.mu.Unlock()
			<-e.done
			return r.awaitResolved(ctx, key, e)
		case StateFailed:
			// A prior Failed entry has already been removed by the
			// loader goroutine before closing done; fall through to
			// start a fresh load.
		}
	}

	e = &entry{state: StateLoading, done: make(chan struct{})}
	r.entries[key] = e
	r.misses++
	r.mu.Unlock()

	asset, err := loader(ctx)

	r.mu.Lock()
	if err != nil {
		e.state = StateFailed
		e.err = rmerrors.Wrap(rmerrors.KindInitFailed, err, "model load failed for %s@%s", key.ModelID, key.Device)
		delete(r.entries, key) // Failed propagates then removes, allowing retry (spec.md §4.8)
		r.mu.Unlock()
		close(e.done)
		return nil, e.err
	}
	e.state = StateReady
	e.asset = asset
	e.holders = 1
	r.mu.Unlock()
	close(e.done)

	return &Handle{reg: r, key: key}, nil
}

// awaitResolved is called after a waiter observes e.done closed; it
// re-checks the registry because a Failed entry was already removed.
func (r *Registry) awaitResolved(ctx context.Context, key Key, e *entry) (*Handle, error) {
	if e.state == StateFailed {
		return nil, e.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[key]; ok && cur == e && e.state == StateReady {
		e.holders++
		r.hits++
		return &Handle{reg: r, key: key}, nil
	}
	// The entry that was Loading resolved to Failed and was removed, or a
	// racing Clear() dropped it; the caller gets the failure or may retry.
	if e.err != nil {
		return nil, e.err
	}
	return nil, rmerrors.New(rmerrors.KindUnknown, "model registry entry for %s@%s vanished during load", key.ModelID, key.Device)
}

func (r *Registry) release(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return
	}
	e.holders--
	if e.holders <= 0 {
		delete(r.entries, key)
	}
}

// Metrics returns a snapshot of cache statistics (spec.md §4.8).
func (r *Registry) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	var totalMem int64
	totalModels := 0
	for _, e := range r.entries {
		if e.state == StateReady {
			totalModels++
			if e.asset != nil {
				totalMem += e.asset.MemoryUsage()
			}
		}
	}

	total := r.hits + r.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(r.hits) / float64(total)
	}

	return Metrics{
		Hits:             r.hits,
		Misses:           r.misses,
		HitRate:          hitRate,
		TotalModels:      totalModels,
		TotalMemoryBytes: totalMem,
	}
}

// Clear evicts every entry. The caller is responsible for ensuring no
// active use (spec.md §4.8).
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[Key]*entry)
}
