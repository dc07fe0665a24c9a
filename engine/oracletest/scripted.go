// Package oracletest provides deterministic Oracle implementations for tests.
package oracletest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/becomeliminal/yieldmind/core"
	"github.com/becomeliminal/yieldmind/engine"
)

// Response configures one oracle turn in a scripted sequence.
type Response struct {
	Response *engine.OracleResponse
	Err      error
}

// ScriptedOracle replays responses in order and records every request.
type ScriptedOracle struct {
	mu        sync.Mutex
	index     int
	responses []Response
	requests  []*engine.OracleRequest
}

func NewScriptedOracle(responses ...Response) *ScriptedOracle {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedOracle{responses: cloned}
}

var _ engine.Oracle = (*ScriptedOracle)(nil)

func (o *ScriptedOracle) Send(_ context.Context, req *engine.OracleRequest) (*engine.OracleResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.requests = append(o.requests, req)
	if o.index >= len(o.responses) {
		return nil, fmt.Errorf("script exhausted at step %d", o.index+1)
	}
	current := o.responses[o.index]
	o.index++
	if current.Err != nil {
		return nil, current.Err
	}
	return current.Response, nil
}

// Requests returns the requests received so far.
func (o *ScriptedOracle) Requests() []*engine.OracleRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*engine.OracleRequest, len(o.requests))
	copy(out, o.requests)
	return out
}

// Calls returns the number of Send invocations.
func (o *ScriptedOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

// ToolUse builds a tool_use response with the given blocks.
func ToolUse(blocks ...core.ContentBlock) Response {
	return Response{Response: &engine.OracleResponse{
		StopReason: engine.StopReasonToolUse,
		Content:    blocks,
		Usage:      core.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}}
}

// EndTurn builds a final text response.
func EndTurn(text string) Response {
	return Response{Response: &engine.OracleResponse{
		StopReason: "end_turn",
		Content:    []core.ContentBlock{core.NewTextBlock(text)},
		Usage:      core.TokenUsage{InputTokens: 100, OutputTokens: 10},
	}}
}

// Fail builds a transport failure.
func Fail(err error) Response {
	return Response{Err: err}
}

// Call builds a tool_use block with JSON-encoded input.
func Call(id, name string, input any) core.ContentBlock {
	raw, err := json.Marshal(input)
	if err != nil {
		panic(err)
	}
	return core.NewToolUseBlock(id, name, raw)
}

// Recommend builds a recommend_rebalance tool_use block.
func Recommend(id string, should bool, target string, delta float64, reason string) core.ContentBlock {
	return Call(id, "recommend_rebalance", map[string]any{
		"should_rebalance": should,
		"target_protocol":  target,
		"delta_percentage": delta,
		"reason":           reason,
	})
}

// RiskAdjusted builds a calculate_risk_adjusted_return tool_use block.
func RiskAdjusted(id string, apy, risk any) core.ContentBlock {
	return Call(id, "calculate_risk_adjusted_return", map[string]any{"apy": apy, "risk_score": risk})
}
