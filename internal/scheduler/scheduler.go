// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/remotemedia-ai/remotemedia-engine/internal/initprogress"
	"github.com/remotemedia-ai/remotemedia-engine/internal/instance"
	"github.com/remotemedia-ai/remotemedia-engine/internal/lock"
	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
	"github.com/remotemedia-ai/remotemedia-engine/internal/metrics"
	"github.com/remotemedia-ai/remotemedia-engine/internal/registry"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
	"github.com/remotemedia-ai/remotemedia-engine/internal/runtimedata"
	"github.com/remotemedia-ai/remotemedia-engine/internal/shmchannel"
	"github.com/remotemedia-ai/remotemedia-engine/internal/util"
	"github.com/remotemedia-ai/remotemedia-engine/internal/worker"
)

// lockAcquireTimeout bounds how long New waits for another scheduler to
// release a session lock on the same IPCRoot/SessionID pair.
const lockAcquireTimeout = 5 * time.Second

// Config parameterizes one scheduler/session (spec.md §4.11's engine
// config feeds these defaults at the host boundary).
type Config struct {
	SessionID          string
	IPCRoot            string
	WorkerBinaryPath   string
	LogLevel           string
	RegisterModules    []string
	ChannelOpenTimeout time.Duration
	ReadinessTimeout   time.Duration
	ShutdownGrace      time.Duration
	ChannelConfig      shmchannel.Config
}

// Scheduler builds a runtime graph from a manifest and drives it (spec.md
// §4.6, C10/C11). It exclusively owns every node, channel, and the session
// (spec.md §3 "Ownership").
type Scheduler struct {
	cfg      Config
	manifest *manifest.Manifest
	graph    *graph
	nodes    map[string]*runtimeNode
	progress *initprogress.Tracker
	metrics  *metrics.Session
	cancel   context.CancelFunc
	lock     *lock.FileLock
}

// New validates nothing itself — callers run manifest.Validate first — and
// constructs (but does not initialize) every node in topological order.
func New(m *manifest.Manifest, reg *registry.Registry, instances map[string]instance.Worker, cfg Config) (*Scheduler, error) {
	g, err := buildGraph(m)
	if err != nil {
		return nil, err
	}

	wcfg := workerDefaults{
		BinaryPath:         cfg.WorkerBinaryPath,
		IPCRoot:            cfg.IPCRoot,
		SessionID:          cfg.SessionID,
		LogLevel:           cfg.LogLevel,
		ChannelOpenTimeout: cfg.ChannelOpenTimeout,
		ReadinessTimeout:   cfg.ReadinessTimeout,
		ShutdownGrace:      cfg.ShutdownGrace,
		ChannelConfig:      cfg.ChannelConfig,
		RegisterModules:    cfg.RegisterModules,
	}

	byID := make(map[string]manifest.Node, len(m.Nodes))
	for _, n := range m.Nodes {
		byID[n.ID] = n
	}

	nodes := make(map[string]*runtimeNode, len(m.Nodes))
	for _, id := range g.order {
		n, ok := byID[id]
		if !ok {
			return nil, rmerrors.New(rmerrors.KindValidation, "scheduler: node %q in topological order but not in manifest", id)
		}
		rn, err := constructNode(n, reg, instances, wcfg)
		if err != nil {
			return nil, err
		}
		nodes[id] = rn
	}

	var sessionLock *lock.FileLock
	if cfg.IPCRoot != "" && cfg.SessionID != "" {
		fl, err := lock.NewFileLock(filepath.Join(cfg.IPCRoot, cfg.SessionID+".lock"))
		if err != nil {
			return nil, rmerrors.Wrap(rmerrors.KindResourceLimit, err, "scheduler: create session lock")
		}
		if err := fl.Acquire(lockAcquireTimeout); err != nil {
			return nil, rmerrors.Wrap(rmerrors.KindResourceLimit, err, "scheduler: session %q is already running against %q", cfg.SessionID, cfg.IPCRoot)
		}
		sessionLock = fl
	}

	return &Scheduler{
		cfg:      cfg,
		manifest: m,
		graph:    g,
		nodes:    nodes,
		progress: initprogress.New(g.order),
		metrics:  metrics.NewSession(g.order),
		lock:     sessionLock,
	}, nil
}

// Progress returns the session's initialization tracker (spec.md §4.5).
func (s *Scheduler) Progress() *initprogress.Tracker { return s.progress }

// Metrics returns the session's metrics, including per-node counters and
// peak channel depth (spec.md §4.9, §6).
func (s *Scheduler) Metrics() *metrics.Session { return s.metrics }

// Initialize constructs/launches every node and waits for the whole
// session to become Ready, bounded by readinessTimeout (spec.md §4.5, §4.4).
func (s *Scheduler) Initialize(ctx context.Context, readinessTimeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	errCh := make(chan error, len(s.graph.order))
	for _, id := range s.graph.order {
		id := id
		n := s.nodes[id]
		_ = s.progress.Update(id, initprogress.PhaseConnecting, 0, "initializing", nil)
		// A panicking node.Initialize must not take down every other
		// session's goroutines with it; util.SafeGo recovers it into a
		// regular InitFailed error instead.
		util.SafeGo(fmt.Sprintf("node-init:%s", id), os.Stderr, func() {
			if err := n.initialize(ctx); err != nil {
				_ = s.progress.Update(id, initprogress.PhaseFailed, 0, err.Error(), err)
				errCh <- err
				return
			}
			_ = s.progress.Update(id, initprogress.PhaseReady, 1, "ready", nil)
			errCh <- nil
		}, func(r interface{}, _ []byte) {
			err := rmerrors.New(rmerrors.KindInitFailed, "node %q panicked during initialize: %v", id, r)
			_ = s.progress.Update(id, initprogress.PhaseFailed, 0, err.Error(), err)
			errCh <- err
		})
	}

	if readinessTimeout <= 0 {
		readinessTimeout = worker.DefaultReadinessTimeout
	}
	return s.progress.WaitForInitialization(ctx, readinessTimeout, 20*time.Millisecond)
}

// RunMany drives the full §4.6 loop across a non-empty ordered input list:
// each input is published to the source node and propagated through the
// graph in topological order, per-input sink outputs are collected in
// order, and a flush pass runs once after the last input.
func (s *Scheduler) RunMany(ctx context.Context, inputs []runtimedata.Data) ([][]runtimedata.Data, error) {
	if len(inputs) == 0 {
		return nil, rmerrors.New(rmerrors.KindValidation, "scheduler: RunMany requires a non-empty input list")
	}

	results := make([][]runtimedata.Data, 0, len(inputs))
	for _, input := range inputs {
		out, err := s.runOne(ctx, input)
		if err != nil {
			return nil, err
		}
		results = append(results, out)
	}

	flushOut, err := s.runFlush(ctx)
	if err != nil {
		return nil, err
	}
	if len(flushOut) > 0 {
		results = append(results, flushOut)
	}
	return results, nil
}

// runOne implements spec.md §4.6 steps 1-2 for a single input item: publish
// on the source, walk topological order, propagate each node's outputs to
// its downstream nodes, and collect sink outputs.
func (s *Scheduler) runOne(ctx context.Context, input runtimedata.Data) ([]runtimedata.Data, error) {
	pending := map[string][]runtimedata.Data{s.graph.order[0]: {input}}
	var sinkOutputs []runtimedata.Data

	for _, id := range s.graph.order {
		select {
		case <-ctx.Done():
			return nil, rmerrors.Wrap(rmerrors.KindTimeout, ctx.Err(), "scheduler: cancelled")
		default:
		}

		items := pending[id]
		delete(pending, id)
		if len(items) == 0 {
			continue
		}

		node := s.nodes[id]
		var outs []runtimedata.Data
		for _, item := range items {
			select {
			case <-ctx.Done():
				return nil, rmerrors.Wrap(rmerrors.KindTimeout, ctx.Err(), "scheduler: cancelled")
			default:
			}
			result, err := node.process(ctx, item, s.metrics)
			if err != nil {
				return nil, err
			}
			outs = append(outs, result.Items...)
		}

		s.metrics.ObserveChannelDepth(int64(len(outs)))

		if s.graph.isSink(id) {
			sinkOutputs = append(sinkOutputs, outs...)
			continue
		}
		for _, down := range s.graph.downstream[id] {
			pending[down] = append(pending[down], outs...)
		}
	}
	return sinkOutputs, nil
}

// runFlush implements spec.md §4.6 step 3: signal flush to each node in
// topological order, propagating any final batch through to the sinks.
func (s *Scheduler) runFlush(ctx context.Context) ([]runtimedata.Data, error) {
	pending := map[string][]runtimedata.Data{}
	var sinkOutputs []runtimedata.Data

	for _, id := range s.graph.order {
		node := s.nodes[id]
		result, err := node.flush(ctx, s.metrics)
		if err != nil {
			return nil, err
		}
		outs := append([]runtimedata.Data{}, pending[id]...)
		delete(pending, id)

		for _, item := range outs {
			r, err := node.process(ctx, item, s.metrics)
			if err != nil {
				return nil, err
			}
			result.Items = append(result.Items, r.Items...)
		}

		if s.graph.isSink(id) {
			sinkOutputs = append(sinkOutputs, result.Items...)
			continue
		}
		for _, down := range s.graph.downstream[id] {
			pending[down] = append(pending[down], result.Items...)
		}
	}
	return sinkOutputs, nil
}

// Shutdown cancels the session and releases every node's resources
// (spec.md §5: cooperative cancellation, grace period, then kill).
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = worker.DefaultShutdownGrace
	}

	var firstErr error
	for _, id := range s.graph.order {
		if err := s.nodes[id].shutdown(ctx, grace); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.lock != nil {
		_ = s.lock.Release()
		_ = s.lock.Close()
	}

	return firstErr
}
