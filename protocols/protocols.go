// Package protocols supplies per-cycle yield facts for the supported BNB Chain protocols.
package protocols

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/yieldmind/core"
)

// Definition describes one supported protocol and its fallback facts.
type Definition struct {
	Name      string
	BaseAPY   float64 // fallback when the source fails
	Variance  float64 // simulated APY spread around BaseAPY
	TVL       string  // display only
	RiskScore int

	// LlamaProject is the DefiLlama project slug; pools are matched on chain BSC.
	LlamaProject string
}

// DefaultDefinitions returns the three protocols the vault can allocate to.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: "PancakeSwap V3", BaseAPY: 12.5, Variance: 2, TVL: "$2.1B", RiskScore: 3, LlamaProject: "pancakeswap-amm-v3"},
		{Name: "Venus", BaseAPY: 15.2, Variance: 2, TVL: "$1.8B", RiskScore: 4, LlamaProject: "venus-core-pool"},
		{Name: "Lista DAO", BaseAPY: 18.7, Variance: 3, TVL: "$850M", RiskScore: 5, LlamaProject: "lista-lending"},
	}
}

// APYSource fetches the current APY for one protocol.
type APYSource interface {
	FetchAPY(ctx context.Context, def Definition) (float64, error)
}

const latestKey = "latest"

// Manager fetches snapshots for every defined protocol and caches the latest set.
type Manager struct {
	defs     []Definition
	source   APYSource
	cache    *ristretto.Cache
	cacheTTL time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefinitions replaces DefaultDefinitions.
func WithDefinitions(defs []Definition) Option {
	return func(m *Manager) {
		m.defs = defs
	}
}

// WithCacheTTL sets how long the latest snapshot set is served from cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.cacheTTL = ttl
		}
	}
}

// NewManager creates a Manager reading APYs from source.
func NewManager(source APYSource, opts ...Option) (*Manager, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}

	m := &Manager{
		defs:     DefaultDefinitions(),
		source:   source,
		cache:    cache,
		cacheTTL: time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Definitions returns the configured protocol definitions.
func (m *Manager) Definitions() []Definition {
	out := make([]Definition, len(m.defs))
	copy(out, m.defs)
	return out
}

// FetchAll returns a fresh snapshot per protocol. A failing protocol falls
// back to its base APY, so the call as a whole never fails.
func (m *Manager) FetchAll(ctx context.Context) ([]core.ProtocolSnapshot, error) {
	snapshots := make([]core.ProtocolSnapshot, 0, len(m.defs))
	for _, def := range m.defs {
		apy, err := m.source.FetchAPY(ctx, def)
		if err != nil || math.IsNaN(apy) || math.IsInf(apy, 0) || apy < 0 {
			log.Printf("[PROTOCOLS] %s: using fallback APY %.2f (err=%v apy=%v)", def.Name, def.BaseAPY, err, apy)
			apy = def.BaseAPY
		}
		snapshots = append(snapshots, core.ProtocolSnapshot{
			Name:      def.Name,
			APY:       round2(apy),
			TVL:       def.TVL,
			RiskScore: def.RiskScore,
		})
	}

	m.cache.SetWithTTL(latestKey, cloneSnapshots(snapshots), int64(len(snapshots)), m.cacheTTL)
	m.cache.Wait()
	return snapshots, nil
}

// Latest returns the most recently fetched snapshot set, fetching when the cache is cold.
func (m *Manager) Latest(ctx context.Context) ([]core.ProtocolSnapshot, error) {
	if v, ok := m.cache.Get(latestKey); ok {
		if snapshots, ok := v.([]core.ProtocolSnapshot); ok {
			return cloneSnapshots(snapshots), nil
		}
	}
	return m.FetchAll(ctx)
}

// Close releases the cache, and the source's resources when it has any.
func (m *Manager) Close() {
	m.cache.Close()
	if c, ok := m.source.(interface{ Close() }); ok {
		c.Close()
	}
}

// MarkActive returns a copy of snapshots with IsActive set on the named protocol.
func MarkActive(snapshots []core.ProtocolSnapshot, active string) []core.ProtocolSnapshot {
	out := cloneSnapshots(snapshots)
	for i := range out {
		out[i].IsActive = out[i].Name == active
	}
	return out
}

func cloneSnapshots(in []core.ProtocolSnapshot) []core.ProtocolSnapshot {
	out := make([]core.ProtocolSnapshot, len(in))
	copy(out, in)
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
