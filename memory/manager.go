package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
)

// SimpleManager is the default Manager implementation.
//
// Features:
//   - Vector similarity search over past decisions
//   - Automatic embedding
//   - Newest-first formatting
//   - Outcome filtering
type SimpleManager struct {
	store    Store
	embedder Embedder
	config   *Config
}

// NewSimpleManager creates a new SimpleManager.
func NewSimpleManager(store Store, embedder Embedder, config *Config) *SimpleManager {
	if config == nil {
		config = DefaultConfig
	}
	return &SimpleManager{
		store:    store,
		embedder: embedder,
		config:   config,
	}
}

// Retrieve finds the past decisions closest to query and returns them formatted.
func (m *SimpleManager) Retrieve(ctx context.Context, vaultID string, query string) (string, error) {
	if !m.config.Enabled {
		return "", nil
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	limit := m.config.RetrieveLimit
	if limit <= 0 {
		limit = DefaultConfig.RetrieveLimit
	}

	memories, err := m.store.Query(ctx, vaultID, embedding, limit)
	if err != nil {
		return "", fmt.Errorf("query store: %w", err)
	}

	log.Printf("[MEMORY] Retrieved %d memories for vault %q", len(memories), vaultID)
	if len(memories) == 0 {
		return "", nil
	}

	return m.formatMemories(memories, vaultID, query), nil
}

// RecordDecision stores a finished negotiation when it is worth remembering.
func (m *SimpleManager) RecordDecision(ctx context.Context, vaultID string, record *DecisionRecord) error {
	if !m.config.Enabled || record == nil {
		return nil
	}

	if !m.storable(record) {
		log.Printf("[MEMORY] Decision not worth storing (outcome=%s)", record.Outcome)
		return nil
	}

	mem := NewDecisionMemory(vaultID, record)

	embedding, err := m.embedder.Embed(ctx, mem.FormatForEmbedding())
	if err != nil {
		return fmt.Errorf("embed decision: %w", err)
	}
	mem.SetEmbedding(embedding)

	if capacity := m.config.MaxMemoriesPerVault; capacity > 0 {
		if err := m.evictOldest(ctx, vaultID, embedding, capacity-1); err != nil {
			return fmt.Errorf("evict: %w", err)
		}
	}

	if err := m.store.Store(ctx, mem); err != nil {
		return fmt.Errorf("store decision: %w", err)
	}

	log.Printf("[MEMORY] Stored decision: cycle=%s outcome=%s rebalance=%t",
		record.CycleID, record.Outcome, record.Decision.ShouldRebalance)
	return nil
}

// evictOldest deletes the oldest memories of a vault until at most keep remain.
func (m *SimpleManager) evictOldest(ctx context.Context, vaultID string, embedding []float32, keep int) error {
	count := m.store.Count(vaultID)
	if count <= keep {
		return nil
	}

	// Query with the full count returns every memory of the vault.
	memories, err := m.store.Query(ctx, vaultID, embedding, count)
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].CreatedAt().Before(memories[j].CreatedAt())
	})

	for _, old := range memories[:max(len(memories)-keep, 0)] {
		if err := m.store.Delete(ctx, vaultID, old.ID()); err != nil {
			return fmt.Errorf("delete memory %s: %w", old.ID(), err)
		}
		log.Printf("[MEMORY] Vault %q at capacity, evicted cycle=%s", vaultID, old.CycleID())
	}
	return nil
}

// formatMemories formats retrieved memories newest first.
func (m *SimpleManager) formatMemories(memories []Memory, vaultID string, query string) string {
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].CreatedAt().After(memories[j].CreatedAt())
	})

	var parts []string
	parts = append(parts, "=== RECENT REBALANCE DECISIONS ===\n")

	maxLengthPerMemory := 2000 / len(memories)
	if maxLengthPerMemory < 100 {
		maxLengthPerMemory = 100
	}

	for i, mem := range memories {
		formatted := mem.Format(FormatContext{
			VaultID:   vaultID,
			Query:     query,
			MaxLength: maxLengthPerMemory,
		})
		parts = append(parts, fmt.Sprintf("%d. %s\n", i+1, formatted))
	}

	return strings.Join(parts, "\n")
}

// storable skips negotiations that carry no reasoning: the oracle was never reached.
func (m *SimpleManager) storable(record *DecisionRecord) bool {
	return record.Outcome != "" && record.Outcome != "oracle_unreachable"
}

// Config holds SimpleManager configuration.
type Config struct {
	// Enabled toggles the memory system on/off.
	Enabled bool

	// RetrieveLimit caps memories injected into one prompt.
	// Default: 5
	RetrieveLimit int

	// MaxMemoriesPerVault caps stored memories per vault; the oldest is
	// evicted to make room. Default: 1000.
	MaxMemoriesPerVault int
}

// DefaultConfig returns defaults for the in-memory store.
var DefaultConfig = &Config{
	Enabled:             false,
	RetrieveLimit:       5,
	MaxMemoriesPerVault: 1000,
}
