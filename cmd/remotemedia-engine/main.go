// SPDX-License-Identifier: MIT

// Package main implements the remotemedia-engine daemon entrypoint
// (spec.md §6, SPEC_FULL.md §4.14): it loads a manifest, drives it once
// through the FFI boundary (C12) as a library call, prints the result as
// JSON, optionally serves /healthz for the duration of the run, and
// optionally pins the resolved effective config back to disk.
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
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/remotemedia-ai/remotemedia-engine/internal/config"
	"github.com/remotemedia-ai/remotemedia-engine/internal/ffi"
	"github.com/remotemedia-ai/remotemedia-engine/internal/health"
	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
	"github.com/remotemedia-ai/remotemedia-engine/internal/registry"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
	"github.com/remotemedia-ai/remotemedia-engine/internal/runtimedata"
	"github.com/remotemedia-ai/remotemedia-engine/internal/scheduler"
)

func main() {
	var (
		configPath    = flag.String("config", config.ConfigFilePath, "path to engine config YAML")
		manifestPath  = flag.String("manifest", "", "path to manifest JSON, or - for stdin")
		inputPath     = flag.String("input", "", "path to input items JSON array, or - for stdin (optional)")
		enableMetrics = flag.Bool("enable-metrics", false, "include the metrics payload in the result")
		logLevel      = flag.String("log-level", "", "override config log_level: debug|info|warn|error")
		healthAddr    = flag.String("health-addr", "", "serve /healthz and /metrics on this address for the run's duration")
		saveConfig    = flag.String("save-config", "", "pin the resolved effective config to this path, backing up any existing file first")
	)
	flag.Parse()

	if err := run(*configPath, *manifestPath, *inputPath, *enableMetrics, *logLevel, *healthAddr, *saveConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, manifestPath, inputPath string, enableMetrics bool, logLevelOverride, healthAddr, saveConfigPath string) error {
	cfg, err := loadEngineConfig(configPath)
	if err != nil {
		return err
	}
	if logLevelOverride != "" {
		cfg.LogLevel = logLevelOverride
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	if saveConfigPath != "" {
		backupPath, err := cfg.SaveWithBackup(saveConfigPath)
		if err != nil {
			return rmerrors.Wrap(rmerrors.KindValidation, err, "engine: save resolved config")
		}
		if backupPath != "" {
			logger.Info("backed up existing config before overwrite", "backup", backupPath)
		}
	}

	if manifestPath == "" {
		return rmerrors.New(rmerrors.KindValidation, "engine: --manifest is required")
	}
	manifestData, err := readPathOrStdin(manifestPath)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindValidation, err, "engine: read manifest")
	}

	m, err := manifest.Parse(manifestData)
	if err != nil {
		return err
	}

	var inputs []runtimedata.Data
	if inputPath != "" {
		inputs, err = readInputs(m.Metadata.Name, inputPath)
		if err != nil {
			return err
		}
	}

	reg := registry.New()
	reg.SetAutoRegister(registry.RegisterBuiltins)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := ffi.Options{
		Registry:      reg,
		EnableMetrics: enableMetrics,
		Validate:      manifest.Options{RequireNonEmpty: len(inputs) > 0},
		Scheduler: scheduler.Config{
			SessionID:          sessionID(m),
			IPCRoot:            cfg.IPCRoot,
			WorkerBinaryPath:   cfg.WorkerBinaryPath,
			LogLevel:           cfg.LogLevel,
			ReadinessTimeout:   cfg.ReadinessTimeout,
			ChannelOpenTimeout: cfg.ChannelOpenTimeout,
			ShutdownGrace:      cfg.WorkerShutdownGrace,
		},
	}

	status := newRunStatus(opts.Scheduler.SessionID)

	if healthAddr != "" {
		stopHealth, err := serveHealthDuringRun(ctx, healthAddr, logger, status)
		if err != nil {
			return err
		}
		defer stopHealth()
	}

	status.set("running")

	var result *ffi.Result
	if len(inputs) > 0 {
		result, err = ffi.ExecutePipelineWithInput(ctx, opts, m, inputs)
	} else {
		result, err = ffi.ExecutePipeline(ctx, opts, m)
	}
	if err != nil {
		status.fail(err)
		return err
	}
	status.set("completed")

	return json.NewEncoder(os.Stdout).Encode(result)
}

// sessionID derives the session id a scheduler is constructed with
// (spec.md §3: a session is "created per execute_* invocation"). An
// unnamed manifest falls back to a fresh UUID rather than a constant, so
// two sequential runs never collide on the same channel names (spec.md
// §4.2: "{session_id}_{node_id}_input" must be unique) or the same
// session lock path.
func sessionID(m *manifest.Manifest) string {
	if m.Metadata.Name != "" {
		return m.Metadata.Name
	}
	return uuid.NewString()
}

func loadEngineConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
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

func readPathOrStdin(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	// #nosec G304 - path is an operator-supplied CLI flag
	return os.ReadFile(path)
}

func readInputs(sessionID, path string) ([]runtimedata.Data, error) {
	raw, err := readPathOrStdin(path)
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindValidation, err, "engine: read input")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindValidation, err, "engine: input must be a JSON array")
	}

	now := time.Now().UnixNano()
	inputs := make([]runtimedata.Data, len(items))
	for i, item := range items {
		inputs[i] = runtimedata.NewJSON(sessionID, now, item)
	}
	return inputs, nil
}

// runStatus is the single-session SessionProvider this one-shot CLI
// reports through /healthz: it reflects the run's own lifecycle
// (initializing -> running -> completed/failed) rather than per-node
// progress, since ffi.ExecutePipeline owns and tears down its
// scheduler internally and reports no intermediate node state back to
// the caller. A long-running daemon variant (not built here) would
// instead register every live scheduler.Scheduler it is driving.
type runStatus struct {
	mu        sync.Mutex
	sessionID string
	status    string
	startedAt time.Time
	err       error
}

func newRunStatus(sessionID string) *runStatus {
	return &runStatus{sessionID: sessionID, status: "initializing", startedAt: time.Now()}
}

func (r *runStatus) set(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

func (r *runStatus) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = "failed"
	r.err = err
}

func (r *runStatus) Sessions() []health.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := health.SessionStatus{
		ID:        r.sessionID,
		Status:    r.status,
		StartedAt: r.startedAt,
		Age:       time.Since(r.startedAt),
	}
	if r.err != nil {
		s.Nodes = []health.NodeStatus{{ID: r.sessionID, Status: "failed", Error: r.err.Error()}}
	}
	return []health.SessionStatus{s}
}

func serveHealthDuringRun(ctx context.Context, addr string, logger *slog.Logger, status *runStatus) (func(), error) {
	handlerCtx, cancel := context.WithCancel(ctx)
	handler := health.NewHandler(status)

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- health.ListenAndServeReady(handlerCtx, addr, handler, ready)
	}()

	select {
	case <-ready:
	case err := <-errCh:
		cancel()
		return nil, err
	}

	logger.Info("health surface listening", "addr", addr)
	return func() {
		cancel()
		<-errCh
	}, nil
}
