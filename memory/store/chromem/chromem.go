package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/yieldmind/memory"
)

// ErrNotFound is returned by Get when no memory matches.
var ErrNotFound = errors.New("memory not found")

// ChromemStore wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database.
type ChromemStore struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection // Per-vault collections
	mu          sync.RWMutex
}

// New creates a new chromem-based store.
func New() (*ChromemStore, error) {
	return &ChromemStore{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// getOrCreateCollection returns the collection for a vault.
func (s *ChromemStore) getOrCreateCollection(ownerID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[ownerID]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, exists := s.collections[ownerID]; exists {
		return col, nil
	}

	collectionName := fmt.Sprintf("vault_%s", ownerID)
	if ownerID == "" {
		collectionName = "global"
	}

	// Embeddings are always supplied by the caller, so no embedding func is set.
	col, err := s.db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	s.collections[ownerID] = col
	return col, nil
}

// Store saves a memory with its embedding.
func (s *ChromemStore) Store(ctx context.Context, mem memory.Memory) error {
	if len(mem.Embedding()) == 0 {
		return fmt.Errorf("memory %s has no embedding", mem.ID())
	}

	col, err := s.getOrCreateCollection(mem.OwnerID())
	if err != nil {
		return err
	}

	log.Printf("[CHROMEM] Storing memory: id=%s, owner=%s, type=%s",
		mem.ID(), mem.OwnerID(), mem.Type())

	stored, err := serializeMemory(mem)
	if err != nil {
		return fmt.Errorf("serialize memory: %w", err)
	}

	doc := chromem.Document{
		ID:        mem.ID(),
		Content:   stored.ContentJSON,
		Embedding: mem.Embedding(),
		Metadata:  stored.Metadata,
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	return nil
}

// Query retrieves memories by vector similarity.
func (s *ChromemStore) Query(ctx context.Context, ownerID string, embedding []float32, limit int) ([]memory.Memory, error) {
	col, err := s.getOrCreateCollection(ownerID)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size
	if n := col.Count(); limit > n {
		limit = n
	}
	if limit <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, limit, map[string]string{"owner_id": ownerID}, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	var memories []memory.Memory
	for i, result := range results {
		mem, err := deserializeMemory(result.ID, result.Content, result.Metadata, result.Embedding)
		if err != nil {
			log.Printf("[CHROMEM] Skipping result #%d: %v", i+1, err)
			continue
		}
		memories = append(memories, mem)
	}

	return memories, nil
}

// Get retrieves a specific memory by ID and owner.
func (s *ChromemStore) Get(ctx context.Context, ownerID string, memoryID string) (memory.Memory, error) {
	col, err := s.getOrCreateCollection(ownerID)
	if err != nil {
		return nil, err
	}

	doc, err := col.GetByID(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, memoryID)
	}

	return deserializeMemory(doc.ID, doc.Content, doc.Metadata, doc.Embedding)
}

// Delete removes a memory.
func (s *ChromemStore) Delete(ctx context.Context, ownerID string, memoryID string) error {
	col, err := s.getOrCreateCollection(ownerID)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, memoryID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Count returns the number of memories stored for an owner.
func (s *ChromemStore) Count(ownerID string) int {
	s.mu.RLock()
	col, ok := s.collections[ownerID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return col.Count()
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	// chromem-go keeps everything in memory, nothing to close
	return nil
}

// StoredMemory represents a serialized memory for storage.
type StoredMemory struct {
	Type        string
	ContentJSON string
	Metadata    map[string]string
}

var reservedKeys = map[string]bool{
	"type":       true,
	"owner_id":   true,
	"cycle_id":   true,
	"created_at": true,
}

// serializeMemory converts a Memory to storage format.
func serializeMemory(mem memory.Memory) (*StoredMemory, error) {
	contentBytes, err := json.Marshal(mem.Content())
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	metadata := map[string]string{
		"type":       mem.Type(),
		"owner_id":   mem.OwnerID(),
		"cycle_id":   mem.CycleID(),
		"created_at": mem.CreatedAt().Format(time.RFC3339Nano),
	}

	for k, v := range mem.Metadata() {
		if reservedKeys[k] {
			continue
		}
		if str, ok := v.(string); ok {
			metadata[k] = str
		} else if bytes, err := json.Marshal(v); err == nil {
			metadata[k] = string(bytes)
		}
	}

	return &StoredMemory{
		Type:        mem.Type(),
		ContentJSON: string(contentBytes),
		Metadata:    metadata,
	}, nil
}

// deserializeMemory converts stored format back to a Memory.
func deserializeMemory(id, content string, meta map[string]string, embedding []float32) (memory.Memory, error) {
	switch memType := meta["type"]; memType {
	case "decision":
		return deserializeDecisionMemory(id, content, meta, embedding)
	default:
		return nil, fmt.Errorf("unknown memory type: %s", memType)
	}
}

func deserializeDecisionMemory(id, content string, meta map[string]string, embedding []float32) (*memory.DecisionMemory, error) {
	var decoded memory.DecisionContent
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, meta["created_at"])

	metadata := make(map[string]interface{})
	for k, v := range meta {
		if !reservedKeys[k] {
			metadata[k] = v
		}
	}

	return memory.NewDecisionMemoryFromStorage(
		id,
		meta["owner_id"],
		meta["cycle_id"],
		createdAt,
		embedding,
		decoded,
		metadata,
	), nil
}
