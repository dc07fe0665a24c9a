package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/becomeliminal/yieldmind/core"
	"github.com/becomeliminal/yieldmind/memory"
	"github.com/becomeliminal/yieldmind/tools"
	"github.com/google/uuid"
)

// Defaults applied by NewEngine.
const (
	DefaultMaxRounds = 6
	DefaultModel     = "claude-opus-4-20250514"
	DefaultMaxTokens = 2000
)

// StopReasonToolUse is the only stop reason that continues a negotiation.
const StopReasonToolUse = "tool_use"

// Oracle is the reasoning service consulted for a recommendation.
type Oracle interface {
	Send(ctx context.Context, req *OracleRequest) (*OracleResponse, error)
}

// OracleRequest is one round-trip request.
type OracleRequest struct {
	Model     string
	MaxTokens int64
	System    string
	Messages  []core.Message
	Tools     []tools.Definition
}

// OracleResponse is the oracle's answer to one request.
type OracleResponse struct {
	StopReason string
	Content    []core.ContentBlock
	Usage      core.TokenUsage
}

// Status tags the terminal state of a negotiation.
type Status string

const (
	StatusAccepted          Status = "accepted"
	StatusExhaustedRounds   Status = "exhausted_rounds"
	StatusOracleUnreachable Status = "oracle_unreachable"
	StatusNoToolActivity    Status = "no_tool_activity"
)

// Facts are the per-cycle inputs to a negotiation.
type Facts struct {
	CycleID    string
	VaultID    string
	Protocols  []core.ProtocolSnapshot
	Allocation core.AllocationState

	// Threshold is the minimum improvement in percent; DefaultThreshold when zero.
	Threshold float64
}

// Outcome is the result of a negotiation. Decision is always safe to act on.
type Outcome struct {
	Status     Status
	Decision   core.RebalanceDecision
	Diagnostic string

	// Rounds counts oracle requests sent.
	Rounds int

	// RoundsExhausted is set when the round budget forced termination,
	// including when an accepted decision survived it.
	RoundsExhausted bool

	StopReason     string
	FirstToolError string
	ToolCalls      int
	Tokens         core.TokenUsage
}

// Transcript is the append-only conversation of one negotiation.
type Transcript struct {
	messages []core.Message
}

// NewTranscript starts a transcript with the initial user prompt.
func NewTranscript(prompt string) *Transcript {
	return &Transcript{messages: []core.Message{{
		Role:    core.RoleUser,
		Content: []core.ContentBlock{core.NewTextBlock(prompt)},
	}}}
}

// Append adds a message at the end.
func (t *Transcript) Append(msg core.Message) {
	t.messages = append(t.messages, msg)
}

// Messages returns a copy of the conversation so far.
func (t *Transcript) Messages() []core.Message {
	out := make([]core.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Engine drives bounded tool-use negotiations against an Oracle.
type Engine struct {
	oracle    Oracle
	maxRounds int
	model     string
	maxTokens int64
	system    string
	audit     AuditLogger    // Optional: per-tool audit entries
	memory    memory.Manager // Optional: past decisions retrieval/recording
}

// Option configures the engine.
type Option func(*Engine)

// WithMaxRounds sets the round budget. Non-positive values keep the default.
func WithMaxRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRounds = n
		}
	}
}

// WithModel sets the oracle model name.
func WithModel(model string) Option {
	return func(e *Engine) {
		if model != "" {
			e.model = model
		}
	}
}

// WithMaxTokens sets the per-response token limit.
func WithMaxTokens(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		if prompt != "" {
			e.system = prompt
		}
	}
}

// WithAudit sets the audit logger implementation.
func WithAudit(a AuditLogger) Option {
	return func(e *Engine) {
		e.audit = a
	}
}

// WithMemory configures the engine with a memory manager.
func WithMemory(m memory.Manager) Option {
	return func(e *Engine) {
		e.memory = m
	}
}

// NewEngine creates an engine bound to an oracle.
func NewEngine(oracle Oracle, opts ...Option) *Engine {
	e := &Engine{
		oracle:    oracle,
		maxRounds: DefaultMaxRounds,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		system:    DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxRounds returns the configured round budget.
func (e *Engine) MaxRounds() int {
	return e.maxRounds
}

// Negotiate runs one negotiation to a terminal state. It never returns an error:
// every failure mode yields an Outcome with a safe default decision.
func (e *Engine) Negotiate(ctx context.Context, facts *Facts) *Outcome {
	if facts == nil {
		facts = &Facts{}
	}
	log.Printf("[ENGINE] Negotiation started: cycle=%s protocols=[%s] current=%s",
		facts.CycleID, protocolNames(facts.Protocols), facts.Allocation.Protocol)

	// === PHASE 0: RETRIEVE MEMORIES ===
	system := e.system
	if e.memory != nil {
		enrichment, err := e.memory.Retrieve(ctx, facts.VaultID, memoryQuery(facts))
		if err != nil {
			log.Printf("[MEMORY] Retrieval failed: %v", err)
		} else if enrichment != "" {
			system += "\n\n" + enrichment
		}
	}

	outcome := e.run(ctx, facts, system)

	log.Printf("[ENGINE] Negotiation finished: status=%s rounds=%d should_rebalance=%t target=%q reason=%q",
		outcome.Status, outcome.Rounds, outcome.Decision.ShouldRebalance,
		outcome.Decision.TargetProtocol, outcome.Decision.Reason)

	// === PHASE 5: RECORD DECISION ===
	if e.memory != nil {
		record := &memory.DecisionRecord{
			CycleID:        facts.CycleID,
			Outcome:        string(outcome.Status),
			FromProtocol:   facts.Allocation.Protocol,
			Decision:       outcome.Decision,
			Rounds:         outcome.Rounds,
			FirstToolError: outcome.FirstToolError,
		}
		if err := e.memory.RecordDecision(ctx, facts.VaultID, record); err != nil {
			log.Printf("[MEMORY] Failed to record decision: %v", err)
		}
	}

	return outcome
}

func (e *Engine) run(ctx context.Context, facts *Facts, system string) *Outcome {
	transcript := NewTranscript(BuildUserPrompt(facts))
	defs := tools.RebalanceToolDefinitions()
	state := &negotiationState{}
	outcome := &Outcome{}

	for round := 1; round <= e.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return unreachable(outcome, state, fmt.Errorf("cancelled before round %d: %w", round, err))
		}

		outcome.Rounds = round
		resp, err := e.oracle.Send(ctx, &OracleRequest{
			Model:     e.model,
			MaxTokens: e.maxTokens,
			System:    system,
			Messages:  transcript.Messages(),
			Tools:     defs,
		})
		if err != nil {
			return unreachable(outcome, state, err)
		}
		if resp == nil {
			return unreachable(outcome, state, fmt.Errorf("empty oracle response"))
		}

		outcome.Tokens.Add(resp.Usage)
		outcome.StopReason = resp.StopReason

		assistant := core.Message{Role: core.RoleAssistant, Content: resp.Content}
		transcript.Append(assistant)

		if resp.StopReason != StopReasonToolUse {
			return settle(outcome, state, false, e.maxRounds)
		}

		calls := assistant.ToolCalls()
		results := make([]core.ContentBlock, 0, len(calls))
		for _, call := range calls {
			result := e.dispatch(ctx, facts, round, state, call)
			results = append(results, core.NewToolResultBlock(result))
		}
		outcome.ToolCalls += len(calls)

		if len(results) > 0 {
			transcript.Append(core.Message{Role: core.RoleUser, Content: results})
		} else {
			// tool_use without any tool call; keep the conversation alternating.
			transcript.Append(core.Message{Role: core.RoleUser, Content: []core.ContentBlock{
				core.NewTextBlock("No tool call was received. Call recommend_rebalance with your decision."),
			}})
		}
	}

	return settle(outcome, state, true, e.maxRounds)
}

// dispatch parses, executes and audits one tool call.
func (e *Engine) dispatch(ctx context.Context, facts *Facts, round int, state *negotiationState, call core.ToolCall) core.ToolResult {
	startTime := time.Now()
	inv := ParseInvocation(call)
	result := state.dispatch(inv)

	if e.audit != nil {
		entry := &AuditEntry{
			ID:         uuid.New().String(),
			CycleID:    facts.CycleID,
			VaultID:    facts.VaultID,
			Round:      round,
			ToolName:   call.Name,
			ToolInput:  call.Input,
			ToolOutput: result.Content,
			Thought:    thoughtOfInvocation(inv),
			DurationMs: time.Since(startTime).Milliseconds(),
			Timestamp:  startTime.Unix(),
		}
		if result.IsError {
			errMsg := errorMessage(result.Content)
			entry.Error = &errMsg
			entry.ErrorType = categorizeError(errMsg)
			entry.Prevention = generatePrevention(call.Name, entry.ErrorType)
		}
		e.audit.Log(ctx, entry)
	}

	return result
}

func thoughtOfInvocation(inv Invocation) string {
	switch c := inv.(type) {
	case RiskAdjustedReturnCall:
		return c.Thought
	case RecommendRebalanceCall:
		return c.Thought
	default:
		return ""
	}
}

func errorMessage(content string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return content
}

func unreachable(outcome *Outcome, state *negotiationState, err error) *Outcome {
	log.Printf("[ENGINE] Oracle unreachable on round %d: %v", outcome.Rounds, err)
	outcome.Status = StatusOracleUnreachable
	outcome.FirstToolError = state.firstError
	outcome.Decision = core.NoRebalance(fmt.Sprintf("Oracle unreachable: %v", err))
	outcome.Diagnostic = outcome.Decision.Reason
	if state.best != nil {
		outcome.Diagnostic += "; earlier recommendation discarded"
	}
	return outcome
}

// settle picks the terminal status once the loop stops on its own or on budget.
func settle(outcome *Outcome, state *negotiationState, exhausted bool, maxRounds int) *Outcome {
	outcome.RoundsExhausted = exhausted
	outcome.FirstToolError = state.firstError

	if state.best != nil {
		outcome.Status = StatusAccepted
		outcome.Decision = *state.best
		outcome.Diagnostic = fmt.Sprintf("accepted after %d round(s)", outcome.Rounds)
		if state.accepted > 1 {
			outcome.Diagnostic += fmt.Sprintf(", %d recommendations (last kept)", state.accepted)
		}
		if exhausted {
			outcome.Diagnostic += fmt.Sprintf("; round budget of %d exhausted", maxRounds)
		}
		return outcome
	}

	var reason string
	if exhausted {
		outcome.Status = StatusExhaustedRounds
		reason = fmt.Sprintf("No rebalance: round budget of %d exhausted without a recommendation", maxRounds)
	} else {
		outcome.Status = StatusNoToolActivity
		reason = fmt.Sprintf("No rebalance: oracle stopped without a recommendation (stop_reason=%s)", outcome.StopReason)
	}
	reason += diagnosticSuffix(outcome.StopReason, state.firstError, exhausted)

	outcome.Decision = core.NoRebalance(reason)
	outcome.Diagnostic = reason
	return outcome
}

func diagnosticSuffix(stopReason, firstError string, exhausted bool) string {
	var parts []string
	if exhausted && stopReason != "" {
		parts = append(parts, "last stop_reason="+stopReason)
	}
	if firstError != "" {
		parts = append(parts, "first tool error: "+firstError)
	}
	if len(parts) == 0 {
		return ""
	}
	return "; " + strings.Join(parts, "; ")
}
