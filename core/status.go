package core

import "time"

// Phase is a cycle state machine position.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseFetchingData Phase = "fetching_data"
	PhaseNegotiating  Phase = "negotiating"
	PhaseExecuting    Phase = "executing"
	PhaseSkipping     Phase = "skipping"
	PhaseCompleted    Phase = "completed"
	PhaseErrored      Phase = "errored"
)

// Terminal reports whether no further transition follows within the cycle.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseErrored
}

// CycleStatus is an immutable snapshot of the controller's observable state.
// Each transition produces a new snapshot with a higher Version.
type CycleStatus struct {
	Version  uint64             `json:"version"`
	CycleID  string             `json:"cycle_id,omitempty"`
	Phase    Phase              `json:"phase"`
	Message  string             `json:"status"`
	LastRun  *time.Time         `json:"last_run,omitempty"`
	Decision *RebalanceDecision `json:"decision,omitempty"`
	TxHash   string             `json:"tx_hash,omitempty"`
}
