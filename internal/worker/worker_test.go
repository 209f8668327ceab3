// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotemedia-ai/remotemedia-engine/internal/shmchannel"
)

func TestBuildArgsIncludesRequiredFlags(t *testing.T) {
	args, stdin, err := BuildArgs(Config{
		NodeType:  "Multiply",
		NodeID:    "n1",
		SessionID: "s1",
		IPCRoot:   "/tmp/rm",
		LogLevel:  "debug",
		Params:    map[string]interface{}{"factor": 2.0},
	})
	require.NoError(t, err)
	assert.Nil(t, stdin)
	assert.Contains(t, args, "--node-type")
	assert.Contains(t, args, "Multiply")
	assert.Contains(t, args, "--params")
}

func TestBuildArgsParamsViaStdin(t *testing.T) {
	args, stdin, err := BuildArgs(Config{
		NodeType: "Multiply", NodeID: "n1", SessionID: "s1", IPCRoot: "/tmp/rm",
		Params:         map[string]interface{}{"factor": 2.0},
		ParamsViaStdin: true,
	})
	require.NoError(t, err)
	assert.Contains(t, args, "--params-stdin")
	assert.Contains(t, string(stdin), "factor")
}

func TestTailBufferKeepsMostRecentLines(t *testing.T) {
	tb := newTailBuffer(2)
	_, _ = tb.Write([]byte("one\ntwo\nthree\n"))
	assert.Equal(t, "two\nthree", tb.String())
}

func TestTailBufferRetainsUnterminatedPartial(t *testing.T) {
	tb := newTailBuffer(10)
	_, _ = tb.Write([]byte("complete\n"))
	_, _ = tb.Write([]byte("partial"))
	assert.Equal(t, "complete\npartial", tb.String())
}

func TestControlMessageRoundTrip(t *testing.T) {
	b := encodeControlMessage(ControlMessage{Type: "progress", Phase: "LoadingModel", Fraction: 0.5, Message: "loading"})
	m, err := decodeControlMessage(b)
	require.NoError(t, err)
	assert.Equal(t, "progress", m.Type)
	assert.Equal(t, 0.5, m.Fraction)
}

func TestHandshakeBothSidesAgree(t *testing.T) {
	root := t.TempDir()
	cfg := HandshakeConfig{
		Root: root, SessionID: "sess", NodeID: "nodeA",
		InputChannel: shmchannel.DefaultConfig(), OutputChannel: shmchannel.DefaultConfig(),
		ChannelOpenTimeout: time.Second, ReadinessTimeout: 5 * time.Second,
	}

	workerDone := make(chan *WorkerSide, 1)
	workerErr := make(chan error, 1)
	go func() {
		ws, err := RunWorkerHandshake(context.Background(), cfg)
		if err != nil {
			workerErr <- err
			return
		}
		workerDone <- ws
	}()

	ep, err := RunSupervisorHandshake(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, ep.Input)
	require.NotNil(t, ep.Output)
	require.NotNil(t, ep.Control)

	select {
	case werr := <-workerErr:
		t.Fatalf("worker handshake failed: %v", werr)
	case ws := <-workerDone:
		defer ws.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("worker side of handshake never completed")
	}

	defer ep.Close()
}

func TestProgressMessagesForwardedDuringHandshake(t *testing.T) {
	root := t.TempDir()
	session, node := "sess2", "nodeB"
	cfg := HandshakeConfig{
		Root: root, SessionID: session, NodeID: node,
		InputChannel: shmchannel.DefaultConfig(), OutputChannel: shmchannel.DefaultConfig(),
		ChannelOpenTimeout: time.Second, ReadinessTimeout: 5 * time.Second,
	}

	var mu sync.Mutex
	var phases []string
	cfg.OnProgress = func(phase string, fraction float64, message string) {
		mu.Lock()
		phases = append(phases, phase)
		mu.Unlock()
	}

	go func() {
		controlPub, err := shmchannel.CreatePublisher(root, shmchannel.ControlName(session, node), shmchannel.DefaultConfig())
		if err != nil {
			return
		}
		_ = PublishProgress(context.Background(), controlPub, "LoadingModel", 0.3, "loading")

		inputSub, err := shmchannel.OpenSubscriber(context.Background(), root, shmchannel.Name(session, node, "input"), time.Second, shmchannel.DefaultConfig())
		if err != nil {
			return
		}
		defer inputSub.Unmap()

		outputPub, err := shmchannel.CreatePublisher(root, shmchannel.Name(session, node, "output"), shmchannel.DefaultConfig())
		if err != nil {
			return
		}
		defer outputPub.Unmap()

		_ = PublishReady(context.Background(), controlPub)
	}()

	ep, err := RunSupervisorHandshake(context.Background(), cfg)
	require.NoError(t, err)
	defer ep.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, phases, "LoadingModel")
}

func TestSupervisorHandshakeTimesOutIfWorkerNeverStarts(t *testing.T) {
	root := t.TempDir()
	cfg := HandshakeConfig{
		Root: root, SessionID: "sess", NodeID: "lonely",
		InputChannel: shmchannel.DefaultConfig(), OutputChannel: shmchannel.DefaultConfig(),
		ChannelOpenTimeout: 50 * time.Millisecond, ReadinessTimeout: 150 * time.Millisecond,
	}
	_, err := RunSupervisorHandshake(context.Background(), cfg)
	require.Error(t, err)
}
