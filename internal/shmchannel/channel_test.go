// SPDX-License-Identifier: MIT

package shmchannel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReceiveFIFO(t *testing.T) {
	root := t.TempDir()
	name := Name("sess-1", "nodeA", "output")

	pub, err := CreatePublisher(root, name, DefaultConfig())
	require.NoError(t, err)
	defer pub.Unmap()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub, err := OpenSubscriber(ctx, root, name, time.Second, DefaultConfig())
	require.NoError(t, err)
	defer sub.Unmap()

	for _, msg := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		require.NoError(t, pub.TryPublish(msg))
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok, closed := sub.TryReceive()
		require.True(t, ok)
		require.False(t, closed)
		assert.Equal(t, want, string(got))
	}

	_, ok, closed := sub.TryReceive()
	assert.False(t, ok)
	assert.False(t, closed)
}

func TestBackpressureWouldBlock(t *testing.T) {
	root := t.TempDir()
	name := Name("sess-2", "nodeA", "output")
	cfg := Config{Capacity: 2, History: 2, Backpressure: true}

	pub, err := CreatePublisher(root, name, cfg)
	require.NoError(t, err)
	defer pub.Unmap()

	require.NoError(t, pub.TryPublish([]byte("1")))
	require.NoError(t, pub.TryPublish([]byte("2")))

	err = pub.TryPublish([]byte("3"))
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestDropOldestWhenBackpressureDisabled(t *testing.T) {
	root := t.TempDir()
	name := Name("sess-3", "nodeA", "output")
	cfg := Config{Capacity: 2, History: 2, Backpressure: false}

	pub, err := CreatePublisher(root, name, cfg)
	require.NoError(t, err)
	defer pub.Unmap()

	require.NoError(t, pub.TryPublish([]byte("1")))
	require.NoError(t, pub.TryPublish([]byte("2")))
	require.NoError(t, pub.TryPublish([]byte("3")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub, err := OpenSubscriber(ctx, root, name, time.Second, cfg)
	require.NoError(t, err)
	defer sub.Unmap()

	got, ok, _ := sub.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "2", string(got))

	got, ok, _ = sub.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "3", string(got))
}

func TestLateSubscriberReplaysHistory(t *testing.T) {
	root := t.TempDir()
	name := Name("sess-4", "nodeA", "output")
	cfg := Config{Capacity: 10, History: 10, Backpressure: true}

	pub, err := CreatePublisher(root, name, cfg)
	require.NoError(t, err)
	defer pub.Unmap()

	require.NoError(t, pub.TryPublish([]byte("x")))
	require.NoError(t, pub.TryPublish([]byte("y")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub, err := OpenSubscriber(ctx, root, name, time.Second, cfg)
	require.NoError(t, err)
	defer sub.Unmap()

	got, ok, _ := sub.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "x", string(got))
}

func TestOpenSubscriberRetriesThenFallsBackToCreate(t *testing.T) {
	root := t.TempDir()
	name := Name("sess-5", "nodeA", "output")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub, err := OpenSubscriber(ctx, root, name, 100*time.Millisecond, DefaultConfig())
	require.NoError(t, err)
	defer sub.Unmap()

	_, ok, closed := sub.TryReceive()
	assert.False(t, ok)
	assert.False(t, closed)
}

func TestSegmentGrowsPastInitialSlotCapacity(t *testing.T) {
	root := t.TempDir()
	name := Name("sess-6", "nodeA", "output")

	pub, err := CreatePublisher(root, name, DefaultConfig())
	require.NoError(t, err)
	defer pub.Unmap()

	big := make([]byte, DefaultInitialSlotCap*3)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, pub.TryPublish(big))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub, err := OpenSubscriber(ctx, root, name, time.Second, DefaultConfig())
	require.NoError(t, err)
	defer sub.Unmap()

	got, ok, _ := sub.TryReceive()
	require.True(t, ok)
	assert.Equal(t, big, got)
}

func TestCreatePublisherIsIdempotent(t *testing.T) {
	root := t.TempDir()
	name := Name("sess-7", "nodeA", "output")

	p1, err := CreatePublisher(root, name, DefaultConfig())
	require.NoError(t, err)
	defer p1.Unmap()
	require.NoError(t, p1.TryPublish([]byte("seen")))

	p2, err := CreatePublisher(root, name, DefaultConfig())
	require.NoError(t, err)
	defer p2.Unmap()

	assert.Equal(t, p1.seg.writeSeq(), p2.seg.writeSeq())
}

func TestCloseSignalsEndOfStreamAfterDrain(t *testing.T) {
	root := t.TempDir()
	name := Name("sess-8", "nodeA", "output")

	pub, err := CreatePublisher(root, name, DefaultConfig())
	require.NoError(t, err)
	defer pub.Unmap()
	require.NoError(t, pub.TryPublish([]byte("only")))
	require.NoError(t, pub.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sub, err := OpenSubscriber(ctx, root, name, time.Second, DefaultConfig())
	require.NoError(t, err)
	defer sub.Unmap()

	_, ok, closed := sub.TryReceive()
	require.True(t, ok)
	assert.False(t, closed)

	_, ok, closed = sub.TryReceive()
	assert.False(t, ok)
	assert.True(t, closed)
}

func TestControlNameAndRemove(t *testing.T) {
	root := t.TempDir()
	cname := ControlName("sess-9", "nodeA")
	assert.Equal(t, "control/sess-9_nodeA", cname)

	pub, err := CreatePublisher(root, cname, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, pub.Unmap())

	require.NoError(t, Remove(root, cname))
	require.NoError(t, Remove(root, cname)) // idempotent
}
