package memory

import (
	"context"
	"time"

	"github.com/becomeliminal/yieldmind/core"
)

// Memory is the interface for all stored memory types.
//
// Each memory type controls its own:
//   - Content structure (fields, data)
//   - Formatting for prompt injection (Format method)
//   - Metadata schema
type Memory interface {
	// Identity & Ownership
	ID() string
	OwnerID() string // Vault ID (empty = global memory)
	CycleID() string // Cycle that produced the memory
	Type() string    // Memory type identifier (e.g., "decision")

	// Content & Metadata
	Content() interface{}
	Metadata() map[string]interface{}

	// Temporal
	CreatedAt() time.Time

	// Operations
	Format(ctx FormatContext) string // Formats this memory for prompt injection
	Embedding() []float32            // Vector for similarity search
	SetEmbedding([]float32)          // Set embedding vector
}

// FormatContext provides context for memory formatting.
type FormatContext struct {
	VaultID   string
	Query     string
	MaxLength int // Max characters for this memory's output
}

// DecisionRecord is the negotiation result handed to the manager for storage.
type DecisionRecord struct {
	CycleID        string
	Outcome        string // terminal negotiation status
	FromProtocol   string
	Decision       core.RebalanceDecision
	Rounds         int
	FirstToolError string
}

// Manager orchestrates memory operations for the negotiation engine.
//
// The engine decides WHEN memory is used (before round 1, after termination).
// The manager decides HOW: which records are worth storing, which memories
// to retrieve and how to format them.
type Manager interface {
	// Retrieve returns past decisions relevant to query, formatted for the system prompt.
	// An empty string means nothing relevant was found.
	Retrieve(ctx context.Context, vaultID string, query string) (string, error)

	// RecordDecision stores a finished negotiation.
	RecordDecision(ctx context.Context, vaultID string, record *DecisionRecord) error
}

// Store is the vector storage backend interface.
type Store interface {
	// Store saves a memory with its embedding.
	// Memory must have embedding set before calling Store.
	Store(ctx context.Context, mem Memory) error

	// Query retrieves memories by vector similarity, highest first.
	Query(ctx context.Context, ownerID string, embedding []float32, limit int) ([]Memory, error)

	// Get retrieves a specific memory by ID and owner.
	Get(ctx context.Context, ownerID string, memoryID string) (Memory, error)

	// Delete removes a memory permanently.
	Delete(ctx context.Context, ownerID string, memoryID string) error

	// Count returns the number of memories held for an owner.
	Count(ownerID string) int

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// The engine never interacts with an Embedder directly.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
