package core

// BaseInput provides common fields for all tool inputs.
// Tool inputs embed this struct so the oracle can attach its reasoning to a call.
type BaseInput struct {
	// Thought contains the oracle's reasoning about why it is calling this tool.
	// Optional for calculations; recorded in audit entries when present.
	Thought string `json:"thought,omitempty"`
}
