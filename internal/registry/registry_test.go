// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotemedia-ai/remotemedia-engine/internal/instance"
	"github.com/remotemedia-ai/remotemedia-engine/internal/runtimedata"
)

func TestAutoRegistrationHappensOnce(t *testing.T) {
	r := New()
	calls := 0
	r.SetAutoRegister(func(reg *Registry) {
		calls++
		RegisterBuiltins(reg)
	})

	assert.True(t, r.Has("Multiply"))
	assert.True(t, r.Has("Add"))
	assert.Equal(t, 1, calls)
}

func TestConstructUnknownNodeTypeFails(t *testing.T) {
	r := New()
	r.SetAutoRegister(RegisterBuiltins)
	_, err := r.Construct("n1", "DoesNotExist", nil)
	require.Error(t, err)
}

func TestLinearPipelineScenario(t *testing.T) {
	r := New()
	r.SetAutoRegister(RegisterBuiltins)
	ctx := context.Background()

	mul, err := r.Construct("a", "Multiply", map[string]interface{}{"factor": 2.0})
	require.NoError(t, err)
	add, err := r.Construct("b", "Add", map[string]interface{}{"addend": 10.0})
	require.NoError(t, err)

	inputs := []float64{1, 2, 3}
	want := []float64{12, 14, 16}

	for i, in := range inputs {
		d := jsonData("s", int64(i), in)
		mid, err := mul.Process(ctx, d)
		require.NoError(t, err)
		out, err := add.Process(ctx, mid.Items[0])
		require.NoError(t, err)
		got, err := jsonNumber(out.Items[0])
		require.NoError(t, err)
		assert.Equal(t, want[i], got)
	}
}

func TestCounterNodeStateAcrossStream(t *testing.T) {
	r := New()
	r.SetAutoRegister(RegisterBuiltins)
	ctx := context.Background()

	w, err := r.Construct("c", "Counter", map[string]interface{}{"multiplier": 3.0})
	require.NoError(t, err)
	cn := w.(*counterNode)

	for i := 1; i <= 10; i++ {
		_, err := cn.Process(ctx, jsonData("s", int64(i), float64(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 10, cn.ProcessedCount())
}

func TestInstanceStreamingScenario(t *testing.T) {
	r := New()
	r.SetAutoRegister(RegisterBuiltins)
	ctx := context.Background()

	w, err := r.Construct("c", "Counter", map[string]interface{}{"multiplier": 3.0})
	require.NoError(t, err)
	h := instance.NewHandle(w)
	require.NoError(t, h.Initialize(ctx))

	var outputs []float64
	for i := 1; i <= 10; i++ {
		res, err := h.Process(ctx, jsonData("s", int64(i), float64(i)))
		require.NoError(t, err)
		v, err := jsonNumber(res.Items[0])
		require.NoError(t, err)
		outputs = append(outputs, v)
	}

	assert.Equal(t, []float64{3, 6, 9, 12, 15, 18, 21, 24, 27, 30}, outputs)
	assert.Equal(t, 10, w.(*counterNode).ProcessedCount())
}

func TestPassThroughNodeReturnsInputUnchanged(t *testing.T) {
	r := New()
	r.SetAutoRegister(RegisterBuiltins)
	ctx := context.Background()

	w, err := r.Construct("p", "PassThrough", nil)
	require.NoError(t, err)

	d := runtimedata.NewText("s", 1, "hello")
	res, err := w.Process(ctx, d)
	require.NoError(t, err)
	got, err := res.Items[0].AsText()
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}
