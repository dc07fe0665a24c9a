package core

import (
	"encoding/json"
	"time"
)

// ProtocolSnapshot is one protocol's yield facts for a single cycle.
type ProtocolSnapshot struct {
	Name      string  `json:"name"`
	APY       float64 `json:"apy"`
	TVL       string  `json:"tvl"` // display only
	RiskScore int     `json:"risk_score"`
	IsActive  bool    `json:"is_active"`
}

// AllocationState describes where the vault's funds currently sit.
type AllocationState struct {
	Protocol   string  `json:"protocol"`
	Percentage float64 `json:"percentage"`
}

// RebalanceDecision is the single authoritative output of a negotiation.
// TargetProtocol and DeltaPercentage carry no meaning unless ShouldRebalance is true.
type RebalanceDecision struct {
	ShouldRebalance bool    `json:"should_rebalance"`
	TargetProtocol  string  `json:"target_protocol"`
	DeltaPercentage float64 `json:"delta_percentage"`
	Reason          string  `json:"reason"`
}

// NoRebalance returns the safe default decision with the given explanation.
func NoRebalance(reason string) RebalanceDecision {
	return RebalanceDecision{Reason: reason}
}

// RebalanceEvent records one executed rebalance.
type RebalanceEvent struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	FromProtocol string    `json:"from_protocol"`
	ToProtocol   string    `json:"to_protocol"`
	Amount       string    `json:"amount"`
	Reason       string    `json:"reason"`
	TxHash       string    `json:"tx_hash,omitempty"`
}

// ToolCall is one tool invocation emitted by the oracle.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult answers a ToolCall. ToolUseID must match the originating call.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// TokenUsage tracks oracle token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
