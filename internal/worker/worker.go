// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"time"

	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
	"github.com/remotemedia-ai/remotemedia-engine/internal/shmchannel"
)

// LaunchConfig bundles everything needed to spawn a worker process and
// drive its readiness handshake from the supervisor side.
type LaunchConfig struct {
	Process    Config
	Handshake  HandshakeConfig
	OnProgress func(phase string, fraction float64, message string)
}

// Worker is a running out-of-process node: its OS process plus the
// supervisor-side channel endpoints obtained from the readiness handshake.
type Worker struct {
	NodeID    string
	Root      string
	SessionID string
	Process   *Process
	Endpoints *Endpoints
}

// Launch starts the worker binary and blocks until it reports readiness or
// fails. If the process exits before becoming ready, the returned error is
// rmerrors.KindInitFailed annotated with the process's captured stderr
// tail (spec.md §4.4, §5).
func Launch(ctx context.Context, cfg LaunchConfig) (*Worker, error) {
	cfg.Handshake.OnProgress = cfg.OnProgress
	if cfg.Process.ShutdownGrace <= 0 {
		cfg.Process.ShutdownGrace = DefaultShutdownGrace
	}

	proc, err := Start(ctx, cfg.Process)
	if err != nil {
		return nil, err
	}

	type result struct {
		ep  *Endpoints
		err error
	}
	handshakeDone := make(chan result, 1)
	go func() {
		ep, err := RunSupervisorHandshake(ctx, cfg.Handshake)
		handshakeDone <- result{ep, err}
	}()

	select {
	case exitErr := <-proc.Done():
		return nil, rmerrors.New(rmerrors.KindInitFailed,
			"worker %q exited before becoming ready: %v\n%s", cfg.Handshake.NodeID, exitErr, proc.StderrTail()).
			WithNode(cfg.Handshake.NodeID)

	case r := <-handshakeDone:
		if r.err != nil {
			_ = proc.Stop(cfg.Process.ShutdownGrace)
			return nil, rmerrors.Wrap(rmerrors.KindInitFailed, r.err, "worker %q: %s", cfg.Handshake.NodeID, proc.StderrTail()).
				WithNode(cfg.Handshake.NodeID)
		}
		return &Worker{
			NodeID:    cfg.Handshake.NodeID,
			Root:      cfg.Handshake.Root,
			SessionID: cfg.Handshake.SessionID,
			Process:   proc,
			Endpoints: r.ep,
		}, nil
	}
}

// Wait blocks until the worker process exits, reporting a KindWorkerCrashed
// error if it exits with a non-nil error (spec.md §5).
func (w *Worker) Wait() error {
	err := <-w.Process.Done()
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindWorkerCrashed, err, "worker %q crashed: %s", w.NodeID, w.Process.StderrTail()).WithNode(w.NodeID)
	}
	return nil
}

// Shutdown stops the worker process gracefully, unmaps its channels, and
// deletes their backing segment files so a later session reusing the same
// session id never reopens a segment this session already closed (spec.md
// §8: "no dangling SHM services remain after cancellation").
func (w *Worker) Shutdown(grace time.Duration) error {
	err := w.Process.Stop(grace)
	w.Endpoints.Close()

	_ = shmchannel.Remove(w.Root, shmchannel.Name(w.SessionID, w.NodeID, "input"))
	_ = shmchannel.Remove(w.Root, shmchannel.Name(w.SessionID, w.NodeID, "output"))
	_ = shmchannel.Remove(w.Root, shmchannel.ControlName(w.SessionID, w.NodeID))

	return err
}
