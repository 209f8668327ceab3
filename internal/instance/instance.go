// SPDX-License-Identifier: MIT

// Package instance implements the worker contract and the instance-bypass
// execution path (spec.md §4.7, C7): opaque, pre-constructed worker objects
// that skip the node-type registry entirely, plus the serialization
// lifecycle (cleanup-before-send, initialize-after-receive) needed to move
// them across a process boundary.
//
// spec.md §9 flags duck-typed attribute probing (hasattr) as a porting
// concession; here the contract is an explicit interface, witnessed at
// compile time by both registry-constructed and instance-path workers.
package instance

import (
	"context"
	"sync"

	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
	"github.com/remotemedia-ai/remotemedia-engine/internal/runtimedata"
)

// Result is zero or more output items produced by one Process or Flush
// call (spec.md §4.6: "Streaming nodes may buffer internally and yield
// N≥0 outputs per input"; non-streaming nodes return exactly one item or
// none to drop, i.e. len(Items) ∈ {0,1}).
type Result struct {
	Items []runtimedata.Data
}

// Empty is the zero-output Result, used by nodes that drop an input.
var Empty = Result{}

// One wraps a single output item, the common non-streaming case.
func One(d runtimedata.Data) Result {
	return Result{Items: []runtimedata.Data{d}}
}

// Worker is the contract every node satisfies, whether constructed through
// the registry (C5) or passed in directly via the instance path (spec.md
// §6 "Worker contract").
type Worker interface {
	Initialize(ctx context.Context) error
	Process(ctx context.Context, item runtimedata.Data) (Result, error)
	Cleanup(ctx context.Context) error
	// Streaming reports capabilities.streaming, fixed at construction
	// (spec.md §3).
	Streaming() bool
}

// Flusher is implemented by workers with an end-of-stream hook (spec.md
// §6: "flush() -> item | AsyncIter<item> | None", optional).
type Flusher interface {
	Flush(ctx context.Context) (Result, error)
}

// IPCCapable is implemented by workers that can cross a process boundary
// via the instance-serialization protocol (spec.md §4.7). TypeKey names the
// Decoder that can reconstruct this worker's concrete type on the other
// side; Encode is called only after Cleanup, so it must not attempt to
// serialize file handles, sockets, GPU memory, or model weights.
type IPCCapable interface {
	Worker
	TypeKey() string
	Encode() ([]byte, error)
}

// Decoder reconstructs a worker from bytes produced by a matching Encode.
type Decoder func(data []byte) (Worker, error)

var (
	decodersMu sync.RWMutex
	decoders   = map[string]Decoder{}
)

// RegisterDecoder associates typeKey (as returned by IPCCapable.TypeKey)
// with a Decoder. Concrete worker packages call this from an init() the
// same way the registry auto-registers built-in node_types (C5).
func RegisterDecoder(typeKey string, dec Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[typeKey] = dec
}

func lookupDecoder(typeKey string) (Decoder, bool) {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	dec, ok := decoders[typeKey]
	return dec, ok
}

// Handle wraps a Worker with the initialize/cleanup lifecycle bookkeeping
// the scheduler and the serialization protocol both rely on: initialize()
// is idempotent after cleanup, and cleanup() is safe to call on an
// already-clean worker.
type Handle struct {
	mu          sync.Mutex
	worker      Worker
	initialized bool
}

// NewHandle wraps w. The worker starts uninitialized.
func NewHandle(w Worker) *Handle {
	return &Handle{worker: w}
}

// Worker returns the wrapped worker.
func (h *Handle) Worker() Worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.worker
}

// IsInitialized reports whether Initialize has succeeded since the last
// Cleanup.
func (h *Handle) IsInitialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

// Initialize calls the wrapped worker's Initialize exactly once; repeated
// calls while already initialized are no-ops (spec.md §6: "idempotent
// after cleanup").
func (h *Handle) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initialized {
		return nil
	}
	if err := h.worker.Initialize(ctx); err != nil {
		return rmerrors.Wrap(rmerrors.KindInitFailed, err, "worker initialize failed")
	}
	h.initialized = true
	return nil
}

// Cleanup calls the wrapped worker's Cleanup if currently initialized, and
// is a no-op otherwise.
func (h *Handle) Cleanup(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return nil
	}
	err := h.worker.Cleanup(ctx)
	h.initialized = false
	return err
}

// Process delegates to the wrapped worker.
func (h *Handle) Process(ctx context.Context, item runtimedata.Data) (Result, error) {
	return h.Worker().Process(ctx, item)
}

// Flush delegates to the wrapped worker if it implements Flusher, and
// returns Empty otherwise.
func (h *Handle) Flush(ctx context.Context) (Result, error) {
	if f, ok := h.Worker().(Flusher); ok {
		return f.Flush(ctx)
	}
	return Empty, nil
}
