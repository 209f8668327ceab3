// SPDX-License-Identifier: MIT

package ffi

import (
	"context"

	"github.com/remotemedia-ai/remotemedia-engine/internal/instance"
	"github.com/remotemedia-ai/remotemedia-engine/internal/manifest"
	"github.com/remotemedia-ai/remotemedia-engine/internal/metrics"
	"github.com/remotemedia-ai/remotemedia-engine/internal/registry"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
	"github.com/remotemedia-ai/remotemedia-engine/internal/runtimedata"
	"github.com/remotemedia-ai/remotemedia-engine/internal/scheduler"
)

// Options parameterizes every exported FFI call.
type Options struct {
	Registry      *registry.Registry
	Scheduler     scheduler.Config
	EnableMetrics bool
	Validate      manifest.Options
}

// Result is the spec.md §4.9 wire shape: outputs plus, when
// EnableMetrics is set, per-node counters.
type Result struct {
	Outputs []runtimedata.Data
	Metrics *metrics.Payload
}

func newSession(m *manifest.Manifest, opts Options, instances map[string]instance.Worker) (*scheduler.Scheduler, error) {
	known := opts.Registry.KnownTypeFunc()
	if err := manifest.Validate(m, known, opts.Validate); err != nil {
		return nil, err
	}
	return scheduler.New(m, opts.Registry, instances, opts.Scheduler)
}

func drive(ctx context.Context, sched *scheduler.Scheduler, opts Options, inputs []runtimedata.Data) (*Result, error) {
	if err := sched.Initialize(ctx, opts.Scheduler.ReadinessTimeout); err != nil {
		return nil, err
	}
	defer func() { _ = sched.Shutdown(ctx) }()

	batches, err := sched.RunMany(ctx, inputs)
	if err != nil {
		return nil, err
	}

	var outputs []runtimedata.Data
	for _, b := range batches {
		outputs = append(outputs, b...)
	}

	res := &Result{Outputs: outputs}
	if opts.EnableMetrics {
		p := sched.Metrics().Payload()
		res.Metrics = &p
	}
	return res, nil
}

// ExecutePipeline runs pipelineOrManifest once with a single synthesized
// null-JSON input item and returns the final sink output (spec.md §4.9).
// It exists for source-style pipelines that generate their own data and
// only need a single drive-to-completion call; pipelines that consume a
// real input stream should use ExecutePipelineWithInput instead.
func ExecutePipeline(ctx context.Context, opts Options, pipelineOrManifest interface{}) (*Result, error) {
	r, err := resolveInput(pipelineOrManifest)
	if err != nil {
		return nil, err
	}
	sched, err := newSession(r.manifest, opts, r.instances)
	if err != nil {
		return nil, err
	}
	return drive(ctx, sched, opts, []runtimedata.Data{runtimedata.NewJSON("", 0, []byte("null"))})
}

// ExecutePipelineWithInput runs pipelineOrManifest once per element of
// inputs, in order, returning every sink output across the whole run plus
// a final flush pass (spec.md §4.9, §4.6).
func ExecutePipelineWithInput(ctx context.Context, opts Options, pipelineOrManifest interface{}, inputs []runtimedata.Data) (*Result, error) {
	if len(inputs) == 0 {
		return nil, rmerrors.New(rmerrors.KindValidation, "ffi: execute_pipeline_with_input requires a non-empty input list")
	}
	r, err := resolveInput(pipelineOrManifest)
	if err != nil {
		return nil, err
	}
	sched, err := newSession(r.manifest, opts, r.instances)
	if err != nil {
		return nil, err
	}
	return drive(ctx, sched, opts, inputs)
}

// ExecutePipelineWithInstances is the raw instance path (spec.md §4.9):
// every element of workers must satisfy instance.Worker. When inputs is
// empty, a single synthesized null-JSON item drives the pipeline once.
func ExecutePipelineWithInstances(ctx context.Context, opts Options, workers []instance.Worker, inputs []runtimedata.Data) (*Result, error) {
	r, err := resolveInstanceWorkers(workers)
	if err != nil {
		return nil, err
	}
	sched, err := newSession(r.manifest, opts, r.instances)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		inputs = []runtimedata.Data{runtimedata.NewJSON("", 0, []byte("null"))}
	}
	return drive(ctx, sched, opts, inputs)
}
