package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/becomeliminal/yieldmind/core"
	"github.com/becomeliminal/yieldmind/tools"
)

// Invocation is a parsed tool call. It is one of RiskAdjustedReturnCall,
// RecommendRebalanceCall, InvalidCall or UnknownCall.
type Invocation interface {
	CallID() string
	ToolName() string
	isInvocation()
}

// RiskAdjustedReturnCall requests the risk-adjusted return of sanitized inputs.
type RiskAdjustedReturnCall struct {
	ID      string
	Input   SanitizedInput
	Thought string
}

// RecommendRebalanceCall carries a structurally valid recommendation.
type RecommendRebalanceCall struct {
	ID       string
	Decision core.RebalanceDecision
	Thought  string
}

// InvalidCall is a known tool whose arguments failed validation.
type InvalidCall struct {
	ID   string
	Tool string
	Err  error
}

// UnknownCall names a tool that is not offered to the oracle.
type UnknownCall struct {
	ID   string
	Tool string
}

func (c RiskAdjustedReturnCall) CallID() string { return c.ID }
func (c RecommendRebalanceCall) CallID() string { return c.ID }
func (c InvalidCall) CallID() string            { return c.ID }
func (c UnknownCall) CallID() string            { return c.ID }

func (RiskAdjustedReturnCall) ToolName() string { return tools.CalculateRiskAdjustedReturn }
func (RecommendRebalanceCall) ToolName() string { return tools.RecommendRebalance }
func (c InvalidCall) ToolName() string          { return c.Tool }
func (c UnknownCall) ToolName() string          { return c.Tool }

func (RiskAdjustedReturnCall) isInvocation() {}
func (RecommendRebalanceCall) isInvocation() {}
func (InvalidCall) isInvocation()            {}
func (UnknownCall) isInvocation()            {}

// Validation errors reported back to the oracle.
var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field")
	ErrEmptyTarget  = errors.New("target_protocol must be non-empty when should_rebalance is true")
)

// ParseInvocation validates a raw tool call into its typed variant.
func ParseInvocation(call core.ToolCall) Invocation {
	switch call.Name {
	case tools.CalculateRiskAdjustedReturn:
		// Undecodable input still yields a result: the sanitizer zeroes missing values.
		args, _ := decodeArgs(call.Input)
		return RiskAdjustedReturnCall{
			ID:      call.ID,
			Input:   Sanitize(args["apy"], args["risk_score"]),
			Thought: thoughtOf(call.Input),
		}

	case tools.RecommendRebalance:
		args, err := decodeArgs(call.Input)
		if err != nil {
			return InvalidCall{ID: call.ID, Tool: call.Name, Err: err}
		}
		decision, err := decisionFromArgs(args)
		if err != nil {
			return InvalidCall{ID: call.ID, Tool: call.Name, Err: err}
		}
		return RecommendRebalanceCall{ID: call.ID, Decision: decision, Thought: thoughtOf(call.Input)}

	default:
		return UnknownCall{ID: call.ID, Tool: call.Name}
	}
}

// negotiationState is the loop-local state mutated by dispatch.
type negotiationState struct {
	best       *core.RebalanceDecision
	firstError string
	accepted   int
}

func (s *negotiationState) recordError(msg string) {
	if s.firstError == "" {
		s.firstError = msg
	}
}

// dispatch executes one invocation and produces the result paired with its call ID.
func (s *negotiationState) dispatch(inv Invocation) core.ToolResult {
	switch c := inv.(type) {
	case RiskAdjustedReturnCall:
		return successResult(c.ID, map[string]interface{}{
			"risk_adjusted_return": c.Input.RiskAdjustedReturn(),
			"apy":                  c.Input.APY,
			"risk_score":           c.Input.RiskScore,
			"sanitized":            c.Input.Sanitized(),
		})

	case RecommendRebalanceCall:
		decision := c.Decision
		s.best = &decision
		s.accepted++
		log.Printf("[DISPATCH] recommendation accepted: should_rebalance=%t target=%q delta=%.2f",
			decision.ShouldRebalance, decision.TargetProtocol, decision.DeltaPercentage)
		return successResult(c.ID, map[string]interface{}{"status": "accepted"})

	case InvalidCall:
		msg := fmt.Sprintf("invalid %s call: %v", c.Tool, c.Err)
		s.recordError(msg)
		return errorResult(c.ID, msg)

	case UnknownCall:
		msg := fmt.Sprintf("unknown tool: %s", c.Tool)
		s.recordError(msg)
		return errorResult(c.ID, msg)

	default:
		msg := fmt.Sprintf("unsupported invocation %T", inv)
		s.recordError(msg)
		return errorResult(inv.CallID(), msg)
	}
}

func successResult(id string, payload map[string]interface{}) core.ToolResult {
	content, err := json.Marshal(payload)
	if err != nil {
		return errorResult(id, fmt.Sprintf("encode result: %v", err))
	}
	return core.ToolResult{ToolUseID: id, Content: string(content)}
}

func errorResult(id, msg string) core.ToolResult {
	content, _ := json.Marshal(map[string]string{"error": msg})
	return core.ToolResult{ToolUseID: id, Content: string(content), IsError: true}
}

func decodeArgs(raw json.RawMessage) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return map[string]interface{}{}, fmt.Errorf("%w: input is not a JSON object: %v", ErrInvalidField, err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// thoughtOf extracts the optional reasoning every tool input may carry.
func thoughtOf(raw json.RawMessage) string {
	var base core.BaseInput
	if err := json.Unmarshal(raw, &base); err != nil {
		return ""
	}
	return strings.TrimSpace(base.Thought)
}

// decisionFromArgs reports the first missing or mistyped field in declaration order.
func decisionFromArgs(args map[string]interface{}) (core.RebalanceDecision, error) {
	var d core.RebalanceDecision

	raw, ok := args["should_rebalance"]
	if !ok {
		return d, fmt.Errorf("%w: should_rebalance", ErrMissingField)
	}
	switch v := raw.(type) {
	case bool:
		d.ShouldRebalance = v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			d.ShouldRebalance = true
		case "false":
			d.ShouldRebalance = false
		default:
			return d, fmt.Errorf("%w: should_rebalance must be a boolean, got %q", ErrInvalidField, v)
		}
	default:
		return d, fmt.Errorf("%w: should_rebalance must be a boolean, got %s", ErrInvalidField, jsonType(raw))
	}

	raw, ok = args["target_protocol"]
	if !ok {
		return d, fmt.Errorf("%w: target_protocol", ErrMissingField)
	}
	target, ok := raw.(string)
	if !ok {
		return d, fmt.Errorf("%w: target_protocol must be a string, got %s", ErrInvalidField, jsonType(raw))
	}
	d.TargetProtocol = strings.TrimSpace(target)

	raw, ok = args["delta_percentage"]
	if !ok {
		return d, fmt.Errorf("%w: delta_percentage", ErrMissingField)
	}
	var delta float64
	switch raw.(type) {
	case json.Number, string, float64:
		delta, ok = ToFloat(raw)
	default:
		ok = false
	}
	if !ok {
		return d, fmt.Errorf("%w: delta_percentage must be a number, got %s", ErrInvalidField, jsonType(raw))
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return d, fmt.Errorf("%w: delta_percentage must be finite", ErrInvalidField)
	}
	d.DeltaPercentage = delta

	raw, ok = args["reason"]
	if !ok {
		return d, fmt.Errorf("%w: reason", ErrMissingField)
	}
	reason, ok := raw.(string)
	if !ok {
		return d, fmt.Errorf("%w: reason must be a string, got %s", ErrInvalidField, jsonType(raw))
	}
	d.Reason = reason

	if d.ShouldRebalance && d.TargetProtocol == "" {
		return d, ErrEmptyTarget
	}
	return d, nil
}

func jsonType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
