// SPDX-License-Identifier: MIT

package instance

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
)

// DefaultSizeLimitBytes is the default instance-serialization size limit
// (spec.md §4.7, C15 config key serialization_size_limit_bytes): 100 MiB.
const DefaultSizeLimitBytes = 100 * 1024 * 1024

// SerializeForIPC implements spec.md §4.7 step 1: if the handle is
// initialized, cleanup() runs first (cleanup failures are logged, not
// fatal); the worker is then encoded via IPCCapable, subject to sizeLimit.
// Any refusal is a SerializationError naming nodeName, carrying the
// original cause and an actionable suggestion.
func SerializeForIPC(ctx context.Context, nodeName string, h *Handle, sizeLimit int64, logger *slog.Logger) (typeKey string, data []byte, err error) {
	if h.IsInitialized() {
		if cerr := h.Cleanup(ctx); cerr != nil && logger != nil {
			logger.Warn("cleanup before serialization failed", "node_id", nodeName, "error", cerr)
		}
	}

	enc, ok := h.Worker().(IPCCapable)
	if !ok {
		return "", nil, rmerrors.New(rmerrors.KindSerializationError, "worker does not support IPC serialization").
			WithNode(nodeName).
			WithSuggestion("implement instance.IPCCapable (TypeKey/Encode), excluding non-serializable attributes")
	}

	data, encErr := enc.Encode()
	if encErr != nil {
		return "", nil, rmerrors.Wrap(rmerrors.KindSerializationError, encErr, "encode failed: %v", encErr).
			WithNode(nodeName).
			WithSuggestion("implement a state hook that excludes non-serializable attributes (locks, sockets, file handles, threads)")
	}

	if sizeLimit > 0 && int64(len(data)) > sizeLimit {
		return "", nil, rmerrors.New(rmerrors.KindSerializationError, "encoded state is %d bytes, exceeds limit %d", len(data), sizeLimit).
			WithNode(nodeName).
			WithSuggestion("reduce serialized state, or raise serialization_size_limit_bytes")
	}

	return enc.TypeKey(), data, nil
}

// DeserializeFromIPC implements spec.md §4.7 step 3: reconstruct the
// worker via the Decoder registered for typeKey, then call Initialize
// exactly once; any failure is InitFailed.
func DeserializeFromIPC(ctx context.Context, typeKey string, data []byte) (*Handle, error) {
	dec, ok := lookupDecoder(typeKey)
	if !ok {
		return nil, rmerrors.New(rmerrors.KindInitFailed, "no decoder registered for type key %q", typeKey)
	}
	w, err := dec(data)
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindInitFailed, err, "decode failed for type key %q", typeKey)
	}
	h := NewHandle(w)
	if err := h.Initialize(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Envelope is the wire shape carrying a serialized instance across argv or
// stdin (spec.md §4.7 step 2): small payloads travel via CLI argument,
// larger ones via stdin, chosen by the caller based on size.
type Envelope struct {
	TypeKey string `json:"type_key"`
	Data    []byte `json:"data"`
}

// MarshalEnvelope wraps a serialized instance for transport.
func MarshalEnvelope(typeKey string, data []byte) ([]byte, error) {
	return json.Marshal(Envelope{TypeKey: typeKey, Data: data})
}

// UnmarshalEnvelope reverses MarshalEnvelope.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, rmerrors.Wrap(rmerrors.KindSerializationError, err, "invalid instance envelope")
	}
	return e, nil
}
