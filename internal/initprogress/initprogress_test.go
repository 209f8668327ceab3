// SPDX-License-Identifier: MIT

package initprogress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionBecomesReadyWhenAllNodesReady(t *testing.T) {
	tr := New([]string{"a", "b"})
	require.NoError(t, tr.Update("a", PhaseReady, 1, "done", nil))
	assert.False(t, tr.SessionReady())

	require.NoError(t, tr.Update("b", PhaseReady, 1, "done", nil))
	assert.True(t, tr.SessionReady())
}

func TestFractionsAreClamped(t *testing.T) {
	tr := New([]string{"a"})
	require.NoError(t, tr.Update("a", PhaseLoadingModel, 5, "loading", nil))
	snap := tr.Snapshot()
	assert.Equal(t, 1.0, snap["a"].Fraction)

	require.NoError(t, tr.Update("a", PhaseConnecting, -5, "connecting", nil))
	snap = tr.Snapshot()
	assert.Equal(t, 0.0, snap["a"].Fraction)
}

func TestBackwardTransitionRejected(t *testing.T) {
	tr := New([]string{"a"})
	require.NoError(t, tr.Update("a", PhaseConnecting, 1, "", nil))
	err := tr.Update("a", PhaseStarting, 0, "", nil)
	require.Error(t, err)
}

func TestFailedAbsorbsFromAnyState(t *testing.T) {
	tr := New([]string{"a"})
	require.NoError(t, tr.Update("a", PhaseLoadingModel, 0.5, "", nil))
	require.NoError(t, tr.Update("a", PhaseFailed, 0, "oom", assert.AnError))

	f, ok := tr.FirstFailure()
	require.True(t, ok)
	assert.Equal(t, "a", f.NodeID)
}

func TestCallbackFiresOnEveryUpdate(t *testing.T) {
	tr := New([]string{"a"})
	var seen []Phase
	tr.OnUpdate(func(u Update) { seen = append(seen, u.Phase) })

	require.NoError(t, tr.Update("a", PhaseLoadingModel, 0, "", nil))
	require.NoError(t, tr.Update("a", PhaseConnecting, 0, "", nil))
	require.NoError(t, tr.Update("a", PhaseReady, 1, "", nil))

	assert.Equal(t, []Phase{PhaseLoadingModel, PhaseConnecting, PhaseReady}, seen)
}

func TestWaitForInitializationReturnsOnReady(t *testing.T) {
	tr := New([]string{"a"})
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = tr.Update("a", PhaseReady, 1, "", nil)
	}()

	err := tr.WaitForInitialization(context.Background(), time.Second, 5*time.Millisecond)
	require.NoError(t, err)
}

func TestWaitForInitializationFailsFastOnFailure(t *testing.T) {
	tr := New([]string{"a", "b"})
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = tr.Update("a", PhaseFailed, 0, "crashed", assert.AnError)
	}()

	err := tr.WaitForInitialization(context.Background(), time.Second, 5*time.Millisecond)
	require.Error(t, err)
}

func TestWaitForInitializationTimesOut(t *testing.T) {
	tr := New([]string{"a"})
	err := tr.WaitForInitialization(context.Background(), 20*time.Millisecond, 5*time.Millisecond)
	require.Error(t, err)
}
