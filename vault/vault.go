// Package vault tracks the vault's allocation and records rebalances.
//
// Settlement is simulated: ExecuteRebalance updates in-memory state and
// returns a derived transaction hash. Balances are read from chain when a
// vault address is configured.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/becomeliminal/yieldmind/core"
)

// DefaultProtocol is where funds sit before the first rebalance.
const DefaultProtocol = "PancakeSwap V3"

// Errors returned by ExecuteRebalance.
var (
	ErrEmptyTarget     = errors.New("target protocol is empty")
	ErrUnknownProtocol = errors.New("unknown protocol")
)

// weiExponent scales wei to BNB.
const weiExponent = -18

// Manager is the allocation and execution collaborator.
type Manager struct {
	mu      sync.RWMutex
	current string
	history []core.RebalanceEvent

	allowed          map[string]bool
	rpc              *RPCClient
	address          string
	simulatedBalance decimal.Decimal
	now              func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithInitialProtocol sets the starting allocation.
func WithInitialProtocol(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.current = name
		}
	}
}

// WithAllowedProtocols restricts rebalance targets to the given names.
func WithAllowedProtocols(names ...string) Option {
	return func(m *Manager) {
		m.allowed = make(map[string]bool, len(names))
		for _, n := range names {
			m.allowed[n] = true
		}
	}
}

// WithChain reads the balance of address through rpc.
func WithChain(rpc *RPCClient, address string) Option {
	return func(m *Manager) {
		m.rpc = rpc
		m.address = address
	}
}

// WithSimulatedBalance sets the balance reported without a chain connection.
func WithSimulatedBalance(balance decimal.Decimal) Option {
	return func(m *Manager) {
		m.simulatedBalance = balance
	}
}

// NewManager creates a vault manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		current:          DefaultProtocol,
		simulatedBalance: decimal.RequireFromString("10.5"),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetCurrentAllocation reports where funds sit. The whole vault is in one protocol.
func (m *Manager) GetCurrentAllocation(ctx context.Context) (core.AllocationState, error) {
	return core.AllocationState{Protocol: m.CurrentProtocol(), Percentage: 100}, nil
}

// CurrentProtocol returns the protocol currently holding the funds.
func (m *Manager) CurrentProtocol() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ExecuteRebalance moves all funds to target and returns the transaction hash.
func (m *Manager) ExecuteRebalance(ctx context.Context, target, reason string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrEmptyTarget
	}
	if m.allowed != nil && !m.allowed[target] {
		return "", fmt.Errorf("%w: %s", ErrUnknownProtocol, target)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("execute rebalance: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	sum := sha256.Sum256([]byte(id))
	event := core.RebalanceEvent{
		ID:           id,
		Timestamp:    m.now(),
		FromProtocol: m.current,
		ToProtocol:   target,
		Amount:       "All funds",
		Reason:       reason,
		TxHash:       "0x" + hex.EncodeToString(sum[:]),
	}

	log.Printf("[VAULT] Rebalance %s -> %s tx=%s", event.FromProtocol, event.ToProtocol, event.TxHash)

	m.current = target
	m.history = append(m.history, event)
	return event.TxHash, nil
}

// History returns executed rebalances, oldest first.
func (m *Manager) History() []core.RebalanceEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RebalanceEvent, len(m.history))
	copy(out, m.history)
	return out
}

// GetBalance returns the vault balance in BNB.
func (m *Manager) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	if m.rpc == nil || m.address == "" {
		return m.simulatedBalance, nil
	}
	wei, err := m.rpc.GetBalance(ctx, m.address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return decimal.NewFromBigInt(wei, weiExponent), nil
}
