package engine_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/becomeliminal/yieldmind/core"
	"github.com/becomeliminal/yieldmind/engine"
)

func call(name, input string) core.ToolCall {
	return core.ToolCall{ID: "toolu_1", Name: name, Input: json.RawMessage(input)}
}

func TestParseInvocation_RiskAdjustedReturn(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantAPY       float64
		wantSanitized bool
	}{
		{name: "valid", input: `{"apy": 15.2, "risk_score": 4}`, wantAPY: 15.2},
		{name: "string numbers", input: `{"apy": "15.2", "risk_score": "4"}`, wantAPY: 15.2},
		{name: "negative", input: `{"apy": -3, "risk_score": 4}`, wantAPY: 0, wantSanitized: true},
		{name: "missing fields", input: `{}`, wantAPY: 0, wantSanitized: true},
		{name: "malformed json", input: `not json`, wantAPY: 0, wantSanitized: true},
		{name: "empty input", input: ``, wantAPY: 0, wantSanitized: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := engine.ParseInvocation(call("calculate_risk_adjusted_return", tt.input))
			c, ok := inv.(engine.RiskAdjustedReturnCall)
			if !ok {
				t.Fatalf("got %T, want RiskAdjustedReturnCall", inv)
			}
			if c.CallID() != "toolu_1" {
				t.Errorf("CallID = %q", c.CallID())
			}
			if c.Input.APY != tt.wantAPY {
				t.Errorf("APY = %v, want %v", c.Input.APY, tt.wantAPY)
			}
			if c.Input.Sanitized() != tt.wantSanitized {
				t.Errorf("Sanitized = %v, want %v", c.Input.Sanitized(), tt.wantSanitized)
			}
		})
	}
}

func TestParseInvocation_RecommendRebalance_Valid(t *testing.T) {
	inv := engine.ParseInvocation(call("recommend_rebalance",
		`{"should_rebalance": true, "target_protocol": "Venus", "delta_percentage": 3.5, "reason": "better yield", "thought": " compared all three "}`))

	c, ok := inv.(engine.RecommendRebalanceCall)
	if !ok {
		t.Fatalf("got %T (%+v), want RecommendRebalanceCall", inv, inv)
	}
	want := core.RebalanceDecision{
		ShouldRebalance: true,
		TargetProtocol:  "Venus",
		DeltaPercentage: 3.5,
		Reason:          "better yield",
	}
	if c.Decision != want {
		t.Errorf("Decision = %+v, want %+v", c.Decision, want)
	}
	if c.Thought != "compared all three" {
		t.Errorf("Thought = %q", c.Thought)
	}
}

func TestParseInvocation_RecommendRebalance_Coercion(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantShould bool
		wantDelta  float64
	}{
		{
			name:       "string bool and delta",
			input:      `{"should_rebalance": "true", "target_protocol": "Lista DAO", "delta_percentage": "4.2", "reason": "r"}`,
			wantShould: true,
			wantDelta:  4.2,
		},
		{
			name:      "false with empty target",
			input:     `{"should_rebalance": "FALSE", "target_protocol": "", "delta_percentage": 0, "reason": "optimal"}`,
			wantDelta: 0,
		},
		{
			name:      "negative delta allowed",
			input:     `{"should_rebalance": false, "target_protocol": "", "delta_percentage": -1.5, "reason": "worse"}`,
			wantDelta: -1.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := engine.ParseInvocation(call("recommend_rebalance", tt.input))
			c, ok := inv.(engine.RecommendRebalanceCall)
			if !ok {
				t.Fatalf("got %T (%+v), want RecommendRebalanceCall", inv, inv)
			}
			if c.Decision.ShouldRebalance != tt.wantShould {
				t.Errorf("ShouldRebalance = %v, want %v", c.Decision.ShouldRebalance, tt.wantShould)
			}
			if c.Decision.DeltaPercentage != tt.wantDelta {
				t.Errorf("DeltaPercentage = %v, want %v", c.Decision.DeltaPercentage, tt.wantDelta)
			}
		})
	}
}

func TestParseInvocation_RecommendRebalance_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		wantMsg string
	}{
		{name: "not an object", input: `[1,2]`, wantErr: engine.ErrInvalidField, wantMsg: "JSON object"},
		{name: "missing should_rebalance", input: `{"target_protocol": "Venus", "delta_percentage": 1, "reason": "r"}`, wantErr: engine.ErrMissingField, wantMsg: "should_rebalance"},
		{name: "bad bool", input: `{"should_rebalance": "yes", "target_protocol": "Venus", "delta_percentage": 1, "reason": "r"}`, wantErr: engine.ErrInvalidField, wantMsg: "should_rebalance"},
		{name: "numeric bool", input: `{"should_rebalance": 1, "target_protocol": "Venus", "delta_percentage": 1, "reason": "r"}`, wantErr: engine.ErrInvalidField, wantMsg: "got number"},
		{name: "missing target", input: `{"should_rebalance": true, "delta_percentage": 1, "reason": "r"}`, wantErr: engine.ErrMissingField, wantMsg: "target_protocol"},
		{name: "target not string", input: `{"should_rebalance": true, "target_protocol": 7, "delta_percentage": 1, "reason": "r"}`, wantErr: engine.ErrInvalidField, wantMsg: "target_protocol"},
		{name: "missing delta", input: `{"should_rebalance": true, "target_protocol": "Venus", "reason": "r"}`, wantErr: engine.ErrMissingField, wantMsg: "delta_percentage"},
		{name: "delta not numeric", input: `{"should_rebalance": true, "target_protocol": "Venus", "delta_percentage": "lots", "reason": "r"}`, wantErr: engine.ErrInvalidField, wantMsg: "delta_percentage"},
		{name: "delta infinite", input: `{"should_rebalance": true, "target_protocol": "Venus", "delta_percentage": "Inf", "reason": "r"}`, wantErr: engine.ErrInvalidField, wantMsg: "finite"},
		{name: "delta bool", input: `{"should_rebalance": true, "target_protocol": "Venus", "delta_percentage": true, "reason": "r"}`, wantErr: engine.ErrInvalidField, wantMsg: "got boolean"},
		{name: "missing reason", input: `{"should_rebalance": true, "target_protocol": "Venus", "delta_percentage": 1}`, wantErr: engine.ErrMissingField, wantMsg: "reason"},
		{name: "reason null", input: `{"should_rebalance": true, "target_protocol": "Venus", "delta_percentage": 1, "reason": null}`, wantErr: engine.ErrInvalidField, wantMsg: "got null"},
		{name: "empty target when rebalancing", input: `{"should_rebalance": true, "target_protocol": "  ", "delta_percentage": 1, "reason": "r"}`, wantErr: engine.ErrEmptyTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := engine.ParseInvocation(call("recommend_rebalance", tt.input))
			c, ok := inv.(engine.InvalidCall)
			if !ok {
				t.Fatalf("got %T (%+v), want InvalidCall", inv, inv)
			}
			if c.ToolName() != "recommend_rebalance" {
				t.Errorf("ToolName = %q", c.ToolName())
			}
			if !errors.Is(c.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", c.Err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(c.Err.Error(), tt.wantMsg) {
				t.Errorf("Err = %q, want it to mention %q", c.Err, tt.wantMsg)
			}
		})
	}
}

func TestParseInvocation_Unknown(t *testing.T) {
	inv := engine.ParseInvocation(call("get_weather", `{}`))
	c, ok := inv.(engine.UnknownCall)
	if !ok {
		t.Fatalf("got %T, want UnknownCall", inv)
	}
	if c.ToolName() != "get_weather" || c.CallID() != "toolu_1" {
		t.Errorf("unexpected unknown call: %+v", c)
	}
}
