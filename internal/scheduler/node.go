// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"time"

	"github.com/remotemedia-ai/remotemedia-engine/internal/instance"
	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
	"github.com/remotemedia-ai/remotemedia-engine/internal/metrics"
	"github.com/remotemedia-ai/remotemedia-engine/internal/registry"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
	"github.com/remotemedia-ai/remotemedia-engine/internal/runtimedata"
	"github.com/remotemedia-ai/remotemedia-engine/internal/shmchannel"
	"github.com/remotemedia-ai/remotemedia-engine/internal/worker"
)

// runtimeNode is one constructed, schedulable node (spec.md §3's "Node
// instance runtime state"). InProcess nodes are driven directly through
// their instance.Handle; OutOfProcess nodes are driven by publishing to,
// and receiving from, a spawned worker.Worker's channels — the scheduler
// always owns the opposite endpoint of a worker's channels (spec.md §3
// "Ownership"), so two out-of-process nodes never talk to each other
// directly, only through this scheduler.
type runtimeNode struct {
	id        string
	streaming bool
	handle    *instance.Handle // set for in-process nodes
	w         *worker.Worker   // set for out-of-process nodes, after Launch
	launchCfg worker.LaunchConfig
}

func (n *runtimeNode) outOfProcess() bool { return n.handle == nil }

// constructNode builds (but does not initialize) a runtimeNode for one
// manifest entry.
func constructNode(node manifest.Node, reg *registry.Registry, instances map[string]instance.Worker, wcfg workerDefaults) (*runtimeNode, error) {
	streaming := node.Capabilities != nil && node.Capabilities.Streaming
	outOfProcess := node.Capabilities != nil && node.Capabilities.OutOfProcess

	if node.IsInstance {
		w, ok := instances[node.ID]
		if !ok {
			return nil, rmerrors.New(rmerrors.KindValidation, "scheduler: node %q marked instance but no instance supplied", node.ID).WithNode(node.ID)
		}
		if outOfProcess {
			return nil, rmerrors.New(rmerrors.KindValidation, "scheduler: instance-path node %q cannot be out_of_process", node.ID).WithNode(node.ID)
		}
		return &runtimeNode{id: node.ID, streaming: streaming, handle: instance.NewHandle(w)}, nil
	}

	if outOfProcess {
		return &runtimeNode{
			id:        node.ID,
			streaming: streaming,
			launchCfg: buildLaunchConfig(node, wcfg),
		}, nil
	}

	w, err := reg.Construct(node.ID, node.NodeType, node.Params)
	if err != nil {
		return nil, err
	}
	return &runtimeNode{id: node.ID, streaming: streaming, handle: instance.NewHandle(w)}, nil
}

type workerDefaults struct {
	BinaryPath         string
	IPCRoot            string
	SessionID          string
	LogLevel           string
	ChannelOpenTimeout time.Duration
	ReadinessTimeout   time.Duration
	ShutdownGrace      time.Duration
	ChannelConfig      shmchannel.Config
	RegisterModules    []string
}

func buildLaunchConfig(node manifest.Node, d workerDefaults) worker.LaunchConfig {
	return worker.LaunchConfig{
		Process: worker.Config{
			BinaryPath:      d.BinaryPath,
			NodeType:        node.NodeType,
			NodeID:          node.ID,
			SessionID:       d.SessionID,
			IPCRoot:         d.IPCRoot,
			LogLevel:        d.LogLevel,
			Params:          node.Params,
			RegisterModules: d.RegisterModules,
			ShutdownGrace:   d.ShutdownGrace,
		},
		Handshake: worker.HandshakeConfig{
			Root:               d.IPCRoot,
			SessionID:          d.SessionID,
			NodeID:             node.ID,
			InputChannel:       d.ChannelConfig,
			OutputChannel:      d.ChannelConfig,
			ChannelOpenTimeout: d.ChannelOpenTimeout,
			ReadinessTimeout:   d.ReadinessTimeout,
		},
	}
}

// initialize starts an in-process node's lifecycle, or launches and
// handshakes an out-of-process node's worker process.
func (n *runtimeNode) initialize(ctx context.Context) error {
	if n.handle != nil {
		return n.handle.Initialize(ctx)
	}
	w, err := worker.Launch(ctx, n.launchCfg)
	if err != nil {
		return err
	}
	n.w = w
	return nil
}

// process runs one input item through the node, recording wall-clock
// processing time and message counters on sess (spec.md §9's wall-clock
// resolution).
func (n *runtimeNode) process(ctx context.Context, item runtimedata.Data, sess *metrics.Session) (instance.Result, error) {
	sess.RecordIn(n.id)
	start := time.Now()

	var result instance.Result
	var err error
	if n.handle != nil {
		result, err = n.handle.Process(ctx, item)
	} else {
		result, err = n.processOutOfProcess(ctx, item)
	}

	sess.RecordProcessing(n.id, time.Since(start))
	if err != nil {
		sess.RecordFailure(n.id)
		return instance.Result{}, rmerrors.Wrap(rmerrors.KindWorkerCrashed, err, "node %q: process failed", n.id).WithNode(n.id)
	}
	sess.RecordOut(n.id, len(result.Items))
	return result, nil
}

func (n *runtimeNode) processOutOfProcess(ctx context.Context, item runtimedata.Data) (instance.Result, error) {
	pub := shmchannel.TypedPublisher{Publisher: n.w.Endpoints.Input}
	if err := pub.PublishData(ctx, item); err != nil {
		return instance.Result{}, err
	}
	sub := shmchannel.TypedSubscriber{Subscriber: n.w.Endpoints.Output}
	out, err := sub.ReceiveData(ctx)
	if err != nil {
		return instance.Result{}, err
	}
	return instance.One(out), nil
}

// flush signals end-of-input to the node (spec.md §4.6 step 3). In-process
// nodes implementing Flusher emit a final batch; out-of-process nodes
// are not flushed in this release (see DESIGN.md).
func (n *runtimeNode) flush(ctx context.Context, sess *metrics.Session) (instance.Result, error) {
	if n.handle == nil {
		return instance.Empty, nil
	}
	result, err := n.handle.Flush(ctx)
	if err != nil {
		sess.RecordFailure(n.id)
		return instance.Result{}, rmerrors.Wrap(rmerrors.KindWorkerCrashed, err, "node %q: flush failed", n.id).WithNode(n.id)
	}
	sess.RecordOut(n.id, len(result.Items))
	return result, nil
}

// shutdown releases the node's resources: Cleanup for in-process nodes,
// graceful process termination for out-of-process ones.
func (n *runtimeNode) shutdown(ctx context.Context, grace time.Duration) error {
	if n.handle != nil {
		return n.handle.Cleanup(ctx)
	}
	if n.w != nil {
		return n.w.Shutdown(grace)
	}
	return nil
}
