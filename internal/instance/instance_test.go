// SPDX-License-Identifier: MIT

package instance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
	"github.com/remotemedia-ai/remotemedia-engine/internal/runtimedata"
)

type counterWorker struct {
	initCount    int
	cleanupCount int
	processed    int
	streaming    bool
}

func (w *counterWorker) Initialize(ctx context.Context) error {
	w.initCount++
	return nil
}

func (w *counterWorker) Process(ctx context.Context, item runtimedata.Data) (Result, error) {
	w.processed++
	return One(item), nil
}

func (w *counterWorker) Cleanup(ctx context.Context) error {
	w.cleanupCount++
	return nil
}

func (w *counterWorker) Streaming() bool { return w.streaming }

func (w *counterWorker) TypeKey() string { return "counterWorker" }

func (w *counterWorker) Encode() ([]byte, error) {
	return []byte{byte(w.processed)}, nil
}

func decodeCounterWorker(data []byte) (Worker, error) {
	return &counterWorker{processed: int(data[0])}, nil
}

func init() {
	RegisterDecoder("counterWorker", decodeCounterWorker)
}

func TestHandleInitializeIsIdempotent(t *testing.T) {
	w := &counterWorker{}
	h := NewHandle(w)
	ctx := context.Background()

	require.NoError(t, h.Initialize(ctx))
	require.NoError(t, h.Initialize(ctx))
	assert.Equal(t, 1, w.initCount)
}

func TestHandleCleanupIsIdempotent(t *testing.T) {
	w := &counterWorker{}
	h := NewHandle(w)
	ctx := context.Background()

	require.NoError(t, h.Initialize(ctx))
	require.NoError(t, h.Cleanup(ctx))
	require.NoError(t, h.Cleanup(ctx))
	assert.Equal(t, 1, w.cleanupCount)
}

func TestStateAcrossStreamIsMonotonic(t *testing.T) {
	w := &counterWorker{}
	h := NewHandle(w)
	ctx := context.Background()
	require.NoError(t, h.Initialize(ctx))

	for i := 0; i < 10; i++ {
		_, err := h.Process(ctx, runtimedata.NewText("s", int64(i), "x"))
		require.NoError(t, err)
	}
	assert.Equal(t, 10, w.processed)
}

func TestSerializeForIPCCleansUpThenEncodes(t *testing.T) {
	w := &counterWorker{}
	h := NewHandle(w)
	ctx := context.Background()
	require.NoError(t, h.Initialize(ctx))
	w.processed = 7

	typeKey, data, err := SerializeForIPC(ctx, "node-a", h, DefaultSizeLimitBytes, nil)
	require.NoError(t, err)
	assert.Equal(t, "counterWorker", typeKey)
	assert.Equal(t, byte(7), data[0])
	assert.Equal(t, 1, w.cleanupCount)
	assert.False(t, h.IsInitialized())
}

func TestDeserializeFromIPCInitializesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	h, err := DeserializeFromIPC(ctx, "counterWorker", []byte{3})
	require.NoError(t, err)
	require.True(t, h.IsInitialized())

	w := h.Worker().(*counterWorker)
	assert.Equal(t, 3, w.processed)
	assert.Equal(t, 1, w.initCount)
}

func TestSerializeForIPCRejectsNonIPCCapableWorker(t *testing.T) {
	w := &nonSerializableWorker{}
	h := NewHandle(w)
	ctx := context.Background()

	_, _, err := SerializeForIPC(ctx, "node-b", h, DefaultSizeLimitBytes, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node-b")
}

type nonSerializableWorker struct{}

func (w *nonSerializableWorker) Initialize(ctx context.Context) error { return nil }
func (w *nonSerializableWorker) Process(ctx context.Context, item runtimedata.Data) (Result, error) {
	return Empty, nil
}
func (w *nonSerializableWorker) Cleanup(ctx context.Context) error { return nil }
func (w *nonSerializableWorker) Streaming() bool                  { return false }

func TestClassifyMixedListRejectsInvalidEntries(t *testing.T) {
	items := []interface{}{
		&counterWorker{},
		map[string]interface{}{"id": "a", "node_type": "PassThrough"},
		42,
		"not a node",
	}
	_, err := ClassifyMixedList(items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2")
	assert.Contains(t, err.Error(), "3")
}

func TestClassifyMixedListAcceptsValidEntries(t *testing.T) {
	items := []interface{}{
		&counterWorker{},
		map[string]interface{}{"id": "a", "node_type": "PassThrough"},
	}
	entries, err := ClassifyMixedList(items)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsInstance())
	assert.False(t, entries[1].IsInstance())
	assert.Equal(t, "a", entries[1].Manifest.ID)
}

func TestIsPureInstanceList(t *testing.T) {
	entries := []Entry{{Instance: &counterWorker{}}, {Instance: &counterWorker{}}}
	assert.True(t, IsPureInstanceList(entries))

	entries = append(entries, Entry{Manifest: &manifest.Node{ID: "x", NodeType: "PassThrough"}})
	assert.False(t, IsPureInstanceList(entries))
}
