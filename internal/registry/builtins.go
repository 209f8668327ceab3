// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/remotemedia-ai/remotemedia-engine/internal/instance"
	"github.com/remotemedia-ai/remotemedia-engine/internal/rmerrors"
	"github.com/remotemedia-ai/remotemedia-engine/internal/runtimedata"
)

// RegisterBuiltins installs the built-in node_types exercised by spec.md
// §8's end-to-end scenarios: arithmetic nodes over the Json variant and a
// no-op pass-through. Concrete ML/audio nodes (VAD, Whisper, etc.) are
// out of scope (spec.md §1) and are not registered here.
func RegisterBuiltins(r *Registry) {
	r.Register("Multiply", FromParamsOnly(newMultiplyNode))
	r.Register("Add", FromParamsOnly(newAddNode))
	r.Register("PassThrough", FromIDOnly(newPassThroughNode))
	r.Register("Counter", FromParamsOnly(newCounterNode))
}

func jsonNumber(d runtimedata.Data) (float64, error) {
	raw, err := d.AsJSON()
	if err != nil {
		return 0, err
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, rmerrors.Wrap(rmerrors.KindTypeMismatch, err, "expected a JSON number")
	}
	return f, nil
}

func jsonData(sessionID string, ts int64, v float64) runtimedata.Data {
	raw, _ := json.Marshal(v)
	return runtimedata.NewJSON(sessionID, ts, raw)
}

type arithmeticNode struct {
	op func(x float64) float64
}

func (n *arithmeticNode) Initialize(ctx context.Context) error { return nil }

func (n *arithmeticNode) Process(ctx context.Context, item runtimedata.Data) (instance.Result, error) {
	x, err := jsonNumber(item)
	if err != nil {
		return instance.Empty, err
	}
	return instance.One(jsonData(item.SessionID, item.Timestamp, n.op(x))), nil
}

func (n *arithmeticNode) Cleanup(ctx context.Context) error { return nil }
func (n *arithmeticNode) Streaming() bool                   { return false }

func paramFloat(params map[string]interface{}, key string, def float64) float64 {
	if params == nil {
		return def
	}
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func newMultiplyNode(params map[string]interface{}) (instance.Worker, error) {
	factor := paramFloat(params, "factor", 1)
	return &arithmeticNode{op: func(x float64) float64 { return x * factor }}, nil
}

func newAddNode(params map[string]interface{}) (instance.Worker, error) {
	addend := paramFloat(params, "addend", 0)
	return &arithmeticNode{op: func(x float64) float64 { return x + addend }}, nil
}

type passThroughNode struct{ id string }

func (n *passThroughNode) Initialize(ctx context.Context) error { return nil }
func (n *passThroughNode) Process(ctx context.Context, item runtimedata.Data) (instance.Result, error) {
	return instance.One(item), nil
}
func (n *passThroughNode) Cleanup(ctx context.Context) error { return nil }
func (n *passThroughNode) Streaming() bool                   { return false }

func newPassThroughNode(id string) (instance.Worker, error) {
	return &passThroughNode{id: id}, nil
}

// counterNode is the spec.md §8 "State across stream" demonstration node:
// its processed_count increments monotonically across every Process call
// on a single instance, and emits x*multiplier.
type counterNode struct {
	multiplier     float64
	processedCount int
}

func (n *counterNode) Initialize(ctx context.Context) error { return nil }

func (n *counterNode) Process(ctx context.Context, item runtimedata.Data) (instance.Result, error) {
	x, err := jsonNumber(item)
	if err != nil {
		return instance.Empty, err
	}
	n.processedCount++
	return instance.One(jsonData(item.SessionID, item.Timestamp, x*n.multiplier)), nil
}

func (n *counterNode) Cleanup(ctx context.Context) error { return nil }
func (n *counterNode) Streaming() bool                   { return false }

// ProcessedCount exposes the monotonic counter for tests and host
// introspection (spec.md §8 scenario 2: "processed_count equals 10").
func (n *counterNode) ProcessedCount() int { return n.processedCount }

func (n *counterNode) TypeKey() string { return "registry.counterNode" }

func (n *counterNode) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Multiplier     float64 `json:"multiplier"`
		ProcessedCount int     `json:"processed_count"`
	}{n.multiplier, n.processedCount})
}

func decodeCounterNode(data []byte) (instance.Worker, error) {
	var s struct {
		Multiplier     float64 `json:"multiplier"`
		ProcessedCount int     `json:"processed_count"`
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("registry: decode counterNode: %w", err)
	}
	return &counterNode{multiplier: s.Multiplier, processedCount: s.ProcessedCount}, nil
}

func init() {
	instance.RegisterDecoder("registry.counterNode", decodeCounterNode)
}

func newCounterNode(params map[string]interface{}) (instance.Worker, error) {
	return &counterNode{multiplier: paramFloat(params, "multiplier", 1)}, nil
}
