// SPDX-License-Identifier: MIT

// Package main implements the out-of-process node worker binary (spec.md
// §6, SPEC_FULL.md C8/C19): a single long-lived process hosting exactly one
// manifest node, speaking the handshake and data-plane protocol in
// internal/worker and internal/shmchannel.
//
// Usage:
//
//	remotemedia-worker --node-type=TYPE --node-id=ID --session-id=SID \
//	    --ipc-root=PATH [--log-level=LEVEL] [--register-module=NAME]... \
//	    [--params=JSON | --params-stdin]
//
// The binary links every node_type the engine ships (registry.RegisterBuiltins);
// --register-module names are validated against that set rather than
// dynamically loaded, since Go has no runtime plugin-loading story the
// source's dynamic import does.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/remotemedia-ai/remotemedia-engine/internal/instance"
	"github.com/remotemedia-ai/remotemedia-engine/internal/registry"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
	"github.com/remotemedia-ai/remotemedia-engine/internal/shmchannel"
	"github.com/remotemedia-ai/remotemedia-engine/internal/worker"
)

type moduleList []string

func (m *moduleList) String() string { return fmt.Sprint([]string(*m)) }
func (m *moduleList) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	var (
		nodeType    = flag.String("node-type", "", "manifest node_type to construct")
		nodeID      = flag.String("node-id", "", "manifest node id")
		sessionID   = flag.String("session-id", "", "session id")
		ipcRoot     = flag.String("ipc-root", "", "IPC channel segment directory")
		logLevel    = flag.String("log-level", "info", "debug|info|warn|error")
		paramsJSON  = flag.String("params", "", "node params, JSON object")
		paramsStdin = flag.Bool("params-stdin", false, "read node params JSON from stdin")
		modules     moduleList
	)
	flag.Var(&modules, "register-module", "expected-registered node_type (repeatable); validated, not loaded")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	logger = logger.With("session_id", *sessionID, "node_id", *nodeID, "node_type", *nodeType)

	if err := run(logger, *nodeType, *nodeID, *sessionID, *ipcRoot, *paramsJSON, *paramsStdin, modules); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(logger *slog.Logger, nodeType, nodeID, sessionID, ipcRoot, paramsJSON string, paramsStdin bool, modules moduleList) error {
	if nodeType == "" || nodeID == "" || sessionID == "" || ipcRoot == "" {
		return rmerrors.New(rmerrors.KindValidation, "worker: --node-type, --node-id, --session-id, and --ipc-root are required")
	}

	params, err := loadParams(paramsJSON, paramsStdin)
	if err != nil {
		return err
	}

	reg := registry.New()
	reg.SetAutoRegister(registry.RegisterBuiltins)
	for _, m := range modules {
		if !reg.Has(m) {
			return rmerrors.New(rmerrors.KindValidation, "worker: --register-module %q is not a known node_type", m)
		}
	}

	w, err := reg.Construct(nodeID, nodeType, params)
	if err != nil {
		return err
	}
	handle := instance.NewHandle(w)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := handle.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), worker.DefaultShutdownGrace)
		defer cancel()
		if err := handle.Cleanup(cleanupCtx); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()

	side, err := worker.RunWorkerHandshake(ctx, worker.HandshakeConfig{
		Root:          ipcRoot,
		SessionID:     sessionID,
		NodeID:        nodeID,
		InputChannel:  shmchannel.DefaultConfig(),
		OutputChannel: shmchannel.DefaultConfig(),
	})
	if err != nil {
		return err
	}
	defer side.Close()

	logger.Info("worker ready")
	return serve(ctx, logger, nodeID, handle, side)
}

func loadParams(paramsJSON string, paramsStdin bool) (map[string]interface{}, error) {
	var raw []byte
	switch {
	case paramsStdin:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, rmerrors.Wrap(rmerrors.KindValidation, err, "worker: read --params-stdin")
		}
		raw = data
	case paramsJSON != "":
		raw = []byte(paramsJSON)
	default:
		return nil, nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindValidation, err, "worker: decode params JSON")
	}
	return params, nil
}

// serve is the §4.6 per-node processing loop: receive one input item,
// process it, publish every output item, repeat until the input channel
// closes or ctx is cancelled.
func serve(ctx context.Context, logger *slog.Logger, nodeID string, handle *instance.Handle, side *worker.WorkerSide) error {
	in := shmchannel.TypedSubscriber{Subscriber: side.Input}
	out := shmchannel.TypedPublisher{Publisher: side.Output}

	for {
		item, err := in.ReceiveData(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return rmerrors.Wrap(rmerrors.KindChannelClosed, err, "worker: input channel closed").WithNode(nodeID)
		}

		result, err := handle.Process(ctx, item)
		if err != nil {
			logger.Error("process failed", "error", err)
			continue
		}
		for _, o := range result.Items {
			if err := out.PublishData(ctx, o); err != nil {
				return rmerrors.Wrap(rmerrors.KindChannelClosed, err, "worker: output channel closed").WithNode(nodeID)
			}
		}
	}
}
