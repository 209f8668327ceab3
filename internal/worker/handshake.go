// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"time"

	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
	"github.com/remotemedia-ai/remotemedia-engine/internal/shmchannel"
)

// DefaultReadinessTimeout bounds how long a supervisor waits for a worker
// to publish READY (spec.md §4.4).
const DefaultReadinessTimeout = 30 * time.Second

// DefaultChannelOpenTimeout bounds how long either side retries opening a
// segment the other side is expected to create (spec.md §4.4's ~50×100ms
// retry window).
const DefaultChannelOpenTimeout = 5 * time.Second

// HandshakeConfig parameterizes one node's readiness handshake.
type HandshakeConfig struct {
	Root                string
	SessionID           string
	NodeID              string
	InputChannel        shmchannel.Config
	OutputChannel       shmchannel.Config
	ChannelOpenTimeout  time.Duration
	ReadinessTimeout    time.Duration
	OnProgress          func(phase string, fraction float64, message string)
}

// Endpoints are the channel handles a supervisor holds for one node after
// a successful handshake.
type Endpoints struct {
	Input   *shmchannel.Publisher
	Output  *shmchannel.Subscriber
	Control *shmchannel.Subscriber
}

// Close unmaps every channel held by Endpoints.
func (e *Endpoints) Close() {
	if e == nil {
		return
	}
	if e.Input != nil {
		_ = e.Input.Unmap()
	}
	if e.Output != nil {
		_ = e.Output.Unmap()
	}
	if e.Control != nil {
		_ = e.Control.Unmap()
	}
}

func normalizeTimeouts(cfg *HandshakeConfig) {
	if cfg.ChannelOpenTimeout <= 0 {
		cfg.ChannelOpenTimeout = DefaultChannelOpenTimeout
	}
	if cfg.ReadinessTimeout <= 0 {
		cfg.ReadinessTimeout = DefaultReadinessTimeout
	}
}

// RunSupervisorHandshake drives the supervisor side of spec.md §4.4's
// readiness protocol:
//
//  1. Creates the node's input channel as publisher (idempotent: the
//     worker never creates it, so the supervisor owns creation).
//  2. Opens the node's control channel as subscriber, retrying until the
//     worker creates it.
//  3. Opens the node's output channel as subscriber, retrying until the
//     worker creates it as publisher.
//  4. Reads control messages until a "ready" message arrives, forwarding
//     "progress" messages to OnProgress, all within ReadinessTimeout.
//
// On any failure it unmaps whatever channels it already opened.
func RunSupervisorHandshake(ctx context.Context, cfg HandshakeConfig) (*Endpoints, error) {
	normalizeTimeouts(&cfg)
	ctx, cancel := context.WithTimeout(ctx, cfg.ReadinessTimeout)
	defer cancel()

	inputPub, err := shmchannel.CreatePublisher(cfg.Root, shmchannel.Name(cfg.SessionID, cfg.NodeID, "input"), cfg.InputChannel)
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindInitFailed, err, "worker %q: create input channel", cfg.NodeID).WithNode(cfg.NodeID)
	}
	ep := &Endpoints{Input: inputPub}

	controlSub, err := shmchannel.OpenSubscriber(ctx, cfg.Root, shmchannel.ControlName(cfg.SessionID, cfg.NodeID), cfg.ChannelOpenTimeout, shmchannel.DefaultConfig())
	if err != nil {
		ep.Close()
		return nil, rmerrors.Wrap(rmerrors.KindInitFailed, err, "worker %q: open control channel", cfg.NodeID).WithNode(cfg.NodeID)
	}
	ep.Control = controlSub

	outputSub, err := shmchannel.OpenSubscriber(ctx, cfg.Root, shmchannel.Name(cfg.SessionID, cfg.NodeID, "output"), cfg.ChannelOpenTimeout, cfg.OutputChannel)
	if err != nil {
		ep.Close()
		return nil, rmerrors.Wrap(rmerrors.KindInitFailed, err, "worker %q: open output channel", cfg.NodeID).WithNode(cfg.NodeID)
	}
	ep.Output = outputSub

	for {
		raw, err := controlSub.Receive(ctx)
		if err != nil {
			ep.Close()
			return nil, rmerrors.Wrap(rmerrors.KindInitFailed, err, "worker %q: did not become ready within %s", cfg.NodeID, cfg.ReadinessTimeout).WithNode(cfg.NodeID)
		}
		msg, err := decodeControlMessage(raw)
		if err != nil {
			continue
		}
		switch msg.Type {
		case "ready":
			return ep, nil
		case "progress":
			if cfg.OnProgress != nil {
				cfg.OnProgress(msg.Phase, msg.Fraction, msg.Message)
			}
		}
	}
}

// WorkerSide holds the channel endpoints a worker process uses after
// completing its half of the handshake.
type WorkerSide struct {
	Control *shmchannel.Publisher
	Input   *shmchannel.Subscriber
	Output  *shmchannel.Publisher
}

// Close unmaps every channel held by WorkerSide.
func (w *WorkerSide) Close() {
	if w == nil {
		return
	}
	if w.Control != nil {
		_ = w.Control.Unmap()
	}
	if w.Input != nil {
		_ = w.Input.Unmap()
	}
	if w.Output != nil {
		_ = w.Output.Unmap()
	}
}

// RunWorkerHandshake drives the worker side of spec.md §4.4: create the
// control publisher, open input as subscriber (retrying for the
// supervisor to have created it), create output as publisher, yield once
// to let the scheduler observe the new segment, then publish ready.
func RunWorkerHandshake(ctx context.Context, cfg HandshakeConfig) (*WorkerSide, error) {
	normalizeTimeouts(&cfg)

	controlPub, err := shmchannel.CreatePublisher(cfg.Root, shmchannel.ControlName(cfg.SessionID, cfg.NodeID), shmchannel.DefaultConfig())
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindInitFailed, err, "worker %q: create control channel", cfg.NodeID).WithNode(cfg.NodeID)
	}
	w := &WorkerSide{Control: controlPub}

	inputSub, err := shmchannel.OpenSubscriber(ctx, cfg.Root, shmchannel.Name(cfg.SessionID, cfg.NodeID, "input"), cfg.ChannelOpenTimeout, cfg.InputChannel)
	if err != nil {
		w.Close()
		return nil, rmerrors.Wrap(rmerrors.KindInitFailed, err, "worker %q: open input channel", cfg.NodeID).WithNode(cfg.NodeID)
	}
	w.Input = inputSub

	outputPub, err := shmchannel.CreatePublisher(cfg.Root, shmchannel.Name(cfg.SessionID, cfg.NodeID, "output"), cfg.OutputChannel)
	if err != nil {
		w.Close()
		return nil, rmerrors.Wrap(rmerrors.KindInitFailed, err, "worker %q: create output channel", cfg.NodeID).WithNode(cfg.NodeID)
	}
	w.Output = outputPub

	// Yield once so the scheduler's goroutine has a chance to observe the
	// new output segment before this worker announces readiness.
	time.Sleep(time.Millisecond)

	if err := PublishReady(ctx, controlPub); err != nil {
		w.Close()
		return nil, rmerrors.Wrap(rmerrors.KindInitFailed, err, "worker %q: publish ready", cfg.NodeID).WithNode(cfg.NodeID)
	}
	return w, nil
}

// PublishProgress publishes a progress ControlMessage on the worker's
// control channel.
func PublishProgress(ctx context.Context, pub *shmchannel.Publisher, phase string, fraction float64, message string) error {
	return pub.Publish(ctx, encodeControlMessage(ControlMessage{Type: "progress", Phase: phase, Fraction: fraction, Message: message}))
}

// PublishReady publishes the terminal "ready" ControlMessage.
func PublishReady(ctx context.Context, pub *shmchannel.Publisher) error {
	return pub.Publish(ctx, encodeControlMessage(ControlMessage{Type: "ready"}))
}
