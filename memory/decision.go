package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DecisionMemory stores the outcome of one negotiation.
type DecisionMemory struct {
	id         string
	ownerID    string
	cycleID    string
	createdAt  time.Time
	embedding  []float32
	importance float64
	metadata   map[string]interface{}

	Outcome         string
	FromProtocol    string
	ShouldRebalance bool
	TargetProtocol  string
	DeltaPercentage float64
	Reason          string
	Rounds          int
}

// NewDecisionMemory creates a DecisionMemory from a negotiation record.
func NewDecisionMemory(ownerID string, record *DecisionRecord) *DecisionMemory {
	metadata := map[string]interface{}{
		"outcome":          record.Outcome,
		"should_rebalance": record.Decision.ShouldRebalance,
	}
	if record.FirstToolError != "" {
		metadata["first_tool_error"] = record.FirstToolError
	}

	return &DecisionMemory{
		id:              uuid.New().String(),
		ownerID:         ownerID,
		cycleID:         record.CycleID,
		createdAt:       time.Now(),
		importance:      assessDecisionImportance(record),
		metadata:        metadata,
		Outcome:         record.Outcome,
		FromProtocol:    record.FromProtocol,
		ShouldRebalance: record.Decision.ShouldRebalance,
		TargetProtocol:  record.Decision.TargetProtocol,
		DeltaPercentage: record.Decision.DeltaPercentage,
		Reason:          record.Decision.Reason,
		Rounds:          record.Rounds,
	}
}

// DecisionContent is the stored content of a DecisionMemory.
type DecisionContent struct {
	Outcome         string  `json:"outcome"`
	FromProtocol    string  `json:"from_protocol"`
	ShouldRebalance bool    `json:"should_rebalance"`
	TargetProtocol  string  `json:"target_protocol"`
	DeltaPercentage float64 `json:"delta_percentage"`
	Reason          string  `json:"reason"`
	Rounds          int     `json:"rounds"`
}

// NewDecisionMemoryFromStorage rebuilds a DecisionMemory from stored data.
// Used by Store implementations when deserializing.
func NewDecisionMemoryFromStorage(
	id string,
	ownerID string,
	cycleID string,
	createdAt time.Time,
	embedding []float32,
	content DecisionContent,
	metadata map[string]interface{},
) *DecisionMemory {
	return &DecisionMemory{
		id:              id,
		ownerID:         ownerID,
		cycleID:         cycleID,
		createdAt:       createdAt,
		embedding:       embedding,
		importance:      0.5,
		metadata:        metadata,
		Outcome:         content.Outcome,
		FromProtocol:    content.FromProtocol,
		ShouldRebalance: content.ShouldRebalance,
		TargetProtocol:  content.TargetProtocol,
		DeltaPercentage: content.DeltaPercentage,
		Reason:          content.Reason,
		Rounds:          content.Rounds,
	}
}

func (d *DecisionMemory) ID() string           { return d.id }
func (d *DecisionMemory) OwnerID() string      { return d.ownerID }
func (d *DecisionMemory) CycleID() string      { return d.cycleID }
func (d *DecisionMemory) Type() string         { return "decision" }
func (d *DecisionMemory) CreatedAt() time.Time { return d.createdAt }

func (d *DecisionMemory) Content() interface{} {
	return DecisionContent{
		Outcome:         d.Outcome,
		FromProtocol:    d.FromProtocol,
		ShouldRebalance: d.ShouldRebalance,
		TargetProtocol:  d.TargetProtocol,
		DeltaPercentage: d.DeltaPercentage,
		Reason:          d.Reason,
		Rounds:          d.Rounds,
	}
}

func (d *DecisionMemory) Metadata() map[string]interface{} { return d.metadata }
func (d *DecisionMemory) Embedding() []float32             { return d.embedding }
func (d *DecisionMemory) SetEmbedding(emb []float32)       { d.embedding = emb }

// Importance returns the importance score for this decision.
func (d *DecisionMemory) Importance() float64 { return d.importance }

// Format formats this decision for prompt injection.
func (d *DecisionMemory) Format(ctx FormatContext) string {
	var parts []string

	when := d.createdAt.UTC().Format(time.RFC3339)
	if d.ShouldRebalance {
		parts = append(parts, fmt.Sprintf("[%s] %s -> %s (+%.2f%%, %s)",
			when, d.FromProtocol, d.TargetProtocol, d.DeltaPercentage, d.Outcome))
	} else {
		parts = append(parts, fmt.Sprintf("[%s] stayed in %s (%s)", when, d.FromProtocol, d.Outcome))
	}

	if d.Reason != "" {
		parts = append(parts, fmt.Sprintf("  Reason: %q", truncate(d.Reason, ctx.MaxLength/2)))
	}

	if toolErr, ok := d.metadata["first_tool_error"]; ok {
		parts = append(parts, fmt.Sprintf("  Tool error: %v", toolErr))
	}

	return strings.Join(parts, "\n")
}

// FormatForEmbedding returns the text representation used for embedding.
func (d *DecisionMemory) FormatForEmbedding() string {
	return fmt.Sprintf("From: %s\nRebalance: %t\nTarget: %s\nReason: %s",
		d.FromProtocol, d.ShouldRebalance, d.TargetProtocol, d.Reason)
}

// assessDecisionImportance scores decision importance [0.0-1.0].
func assessDecisionImportance(record *DecisionRecord) float64 {
	importance := 0.5

	// Executed moves matter most
	if record.Decision.ShouldRebalance {
		importance += 0.3
	}

	if record.FirstToolError != "" {
		importance += 0.1
	}

	if len(record.Decision.Reason) > 50 {
		importance += 0.1
	}

	if importance > 1.0 {
		importance = 1.0
	}

	return importance
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
