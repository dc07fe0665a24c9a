package engine

import (
	"context"
	"encoding/json"
	"log"
	"strings"
)

// AuditEntry records one dispatched tool call.
type AuditEntry struct {
	ID         string
	CycleID    string
	VaultID    string
	Round      int
	ToolName   string
	ToolInput  json.RawMessage
	ToolOutput string
	Thought    string
	Error      *string
	ErrorType  string
	Prevention string
	DurationMs int64
	Timestamp  int64
}

// AuditLogger receives an entry for every tool call dispatched during a negotiation.
type AuditLogger interface {
	Log(ctx context.Context, entry *AuditEntry)
}

// LogAuditor writes audit entries to the standard logger.
type LogAuditor struct{}

func (LogAuditor) Log(_ context.Context, entry *AuditEntry) {
	if entry.Error != nil {
		log.Printf("[AUDIT] cycle=%s round=%d tool=%s error_type=%s error=%q prevention=%q",
			entry.CycleID, entry.Round, entry.ToolName, entry.ErrorType, *entry.Error, entry.Prevention)
		return
	}
	if entry.Thought != "" {
		log.Printf("[AUDIT] cycle=%s round=%d tool=%s thought=%q output=%s",
			entry.CycleID, entry.Round, entry.ToolName, entry.Thought, entry.ToolOutput)
		return
	}
	log.Printf("[AUDIT] cycle=%s round=%d tool=%s output=%s",
		entry.CycleID, entry.Round, entry.ToolName, entry.ToolOutput)
}

// MultiAudit fans entries out to several loggers.
type MultiAudit []AuditLogger

func (m MultiAudit) Log(ctx context.Context, entry *AuditEntry) {
	for _, a := range m {
		if a != nil {
			a.Log(ctx, entry)
		}
	}
}

// categorizeError maps tool error messages to error types.
func categorizeError(errMsg string) string {
	if errMsg == "" {
		return "unknown"
	}

	errLower := strings.ToLower(errMsg)

	switch {
	case strings.Contains(errLower, "unknown tool"):
		return "unknown_tool"
	case strings.Contains(errLower, "missing required field"):
		return "missing_field"
	case strings.Contains(errLower, "non-empty"):
		return "empty_target"
	case strings.Contains(errLower, "invalid"), strings.Contains(errLower, "malformed"):
		return "invalid_input"
	default:
		return "unknown"
	}
}

// generatePrevention suggests how the oracle can avoid this error on a later call.
func generatePrevention(action, errorType string) string {
	preventionMap := map[string]string{
		"recommend_rebalance:missing_field": "Provide should_rebalance, target_protocol, delta_percentage and reason on every call",
		"recommend_rebalance:empty_target":  "Name the destination protocol when should_rebalance is true",
		"recommend_rebalance:invalid_input": "Send should_rebalance as a boolean and delta_percentage as a finite number",
	}

	key := action + ":" + errorType
	if prevention, ok := preventionMap[key]; ok {
		return prevention
	}

	switch errorType {
	case "unknown_tool":
		return "Only call calculate_risk_adjusted_return or recommend_rebalance"
	case "missing_field", "invalid_input", "empty_target":
		return "Validate input parameters against the tool schema before calling"
	default:
		return "Review error message and adjust approach accordingly"
	}
}
