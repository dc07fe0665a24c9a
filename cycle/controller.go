// Package cycle runs one fetch, negotiate, execute and report sequence at a time
// and owns the status snapshot that observers poll.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/becomeliminal/yieldmind/core"
	"github.com/becomeliminal/yieldmind/engine"
)

// Status messages published at each phase.
const (
	MsgIdle          = "Initializing..."
	MsgNotConfigured = "Not configured: ANTHROPIC_API_KEY missing"
	MsgFetching      = "Fetching protocol data..."
	MsgNegotiating   = "Analyzing with Claude..."
	MsgExecuting     = "Executing rebalance..."
	MsgOptimal       = "Optimal - No rebalance needed"
	msgRebalanced    = "Rebalanced: "
	msgError         = "Error: "
)

// Cycle results used as metric labels.
const (
	ResultRebalanced    = "rebalanced"
	ResultSkipped       = "skipped"
	ResultNotConfigured = "not_configured"
	ResultError         = "error"
)

// ErrNoOutcome is reported when a negotiator returns nothing.
var ErrNoOutcome = errors.New("negotiator returned no outcome")

// ProtocolSource supplies protocol snapshots for a cycle.
type ProtocolSource interface {
	FetchAll(ctx context.Context) ([]core.ProtocolSnapshot, error)
}

// Vault reports the current allocation and moves funds.
type Vault interface {
	GetCurrentAllocation(ctx context.Context) (core.AllocationState, error)
	ExecuteRebalance(ctx context.Context, target, reason string) (string, error)
}

// Negotiator produces a decision from the cycle's facts. *engine.Engine implements it.
type Negotiator interface {
	Negotiate(ctx context.Context, facts *engine.Facts) *engine.Outcome
}

// StatusSink receives every published snapshot, in version order.
// Publish is called with the controller's write lock held and must not block.
type StatusSink interface {
	Publish(status core.CycleStatus)
}

// StatusSinkFunc adapts a function to StatusSink.
type StatusSinkFunc func(core.CycleStatus)

func (f StatusSinkFunc) Publish(s core.CycleStatus) { f(s) }

// Observer records cycle metrics. *metrics.Metrics implements it.
type Observer interface {
	ObserveCycle(result string, elapsed time.Duration)
	ObserveOutcome(outcome *engine.Outcome)
	ObserveRebalance(target string)
}

// Controller drives rebalance cycles. Cycles never overlap: concurrent callers
// of Run share the result of the cycle already in flight.
type Controller struct {
	protocols  ProtocolSource
	vault      Vault
	negotiator Negotiator

	vaultID   string
	threshold float64
	timeout   time.Duration
	observer  Observer
	now       func() time.Time

	group  singleflight.Group
	mu     sync.Mutex // serializes writers of status
	status atomic.Pointer[core.CycleStatus]
	sinks  []StatusSink
}

// Option configures a Controller.
type Option func(*Controller)

// WithVaultID scopes negotiation memory to a vault.
func WithVaultID(id string) Option {
	return func(c *Controller) {
		c.vaultID = id
	}
}

// WithThreshold sets the minimum improvement, in percent, passed to the negotiator.
func WithThreshold(pct float64) Option {
	return func(c *Controller) {
		if pct > 0 {
			c.threshold = pct
		}
	}
}

// WithTimeout bounds a single cycle. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithObserver records cycle metrics.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithStatusSink adds a snapshot observer.
func WithStatusSink(s StatusSink) Option {
	return func(c *Controller) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController creates a controller. A nil negotiator means the oracle is not
// configured; cycles then complete immediately without fetching or executing.
func NewController(protocols ProtocolSource, vault Vault, negotiator Negotiator, opts ...Option) *Controller {
	c := &Controller{
		protocols:  protocols,
		vault:      vault,
		negotiator: negotiator,
		vaultID:    "default",
		threshold:  engine.DefaultThreshold,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status.Store(&core.CycleStatus{Phase: core.PhaseIdle, Message: MsgIdle})
	return c
}

// Configured reports whether an oracle is available.
func (c *Controller) Configured() bool {
	return c.negotiator != nil
}

// Status returns the latest snapshot.
func (c *Controller) Status() core.CycleStatus {
	return *c.status.Load()
}

// Run executes one cycle and returns its final snapshot. If a cycle is already
// running, Run waits for it and returns that cycle's snapshot instead of starting
// another. Run never panics and never returns an error: failures are reported
// through the snapshot's Errored phase.
func (c *Controller) Run(ctx context.Context) core.CycleStatus {
	v, _, shared := c.group.Do("cycle", func() (interface{}, error) {
		return c.runCycle(ctx), nil
	})
	if shared {
		log.Printf("[CYCLE] Joined in-flight cycle")
	}
	return v.(core.CycleStatus)
}

func (c *Controller) runCycle(ctx context.Context) (final core.CycleStatus) {
	start := c.now()
	cycleID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			final = c.fail(cycleID, start, fmt.Errorf("panic: %v", r))
		}
	}()

	log.Printf("[CYCLE] Cycle %s started", cycleID)

	if c.negotiator == nil {
		log.Printf("[CYCLE] Oracle not configured; skipping cycle %s", cycleID)
		return c.complete(cycleID, start, ResultNotConfigured, MsgNotConfigured, nil, "")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// === PHASE 1: FETCH DATA ===
	c.publish(cycleID, core.PhaseFetchingData, MsgFetching, nil, "", false)

	snapshots, err := c.protocols.FetchAll(ctx)
	if err != nil {
		return c.fail(cycleID, start, fmt.Errorf("fetch protocols: %w", err))
	}
	allocation, err := c.vault.GetCurrentAllocation(ctx)
	if err != nil {
		return c.fail(cycleID, start, fmt.Errorf("get allocation: %w", err))
	}

	// === PHASE 2: NEGOTIATE ===
	c.publish(cycleID, core.PhaseNegotiating, MsgNegotiating, nil, "", false)

	outcome := c.negotiator.Negotiate(ctx, &engine.Facts{
		CycleID:    cycleID,
		VaultID:    c.vaultID,
		Protocols:  snapshots,
		Allocation: allocation,
		Threshold:  c.threshold,
	})
	if outcome == nil {
		return c.fail(cycleID, start, ErrNoOutcome)
	}
	if c.observer != nil {
		c.observer.ObserveOutcome(outcome)
	}
	decision := outcome.Decision

	if !decision.ShouldRebalance {
		// === PHASE 3: SKIP ===
		c.publish(cycleID, core.PhaseSkipping, MsgOptimal, &decision, "", false)
		return c.complete(cycleID, start, ResultSkipped, MsgOptimal, &decision, "")
	}

	// === PHASE 3: EXECUTE ===
	c.publish(cycleID, core.PhaseExecuting, MsgExecuting, &decision, "", false)

	txHash, err := c.vault.ExecuteRebalance(ctx, decision.TargetProtocol, decision.Reason)
	if err != nil {
		return c.fail(cycleID, start, fmt.Errorf("execute rebalance: %w", err))
	}
	if c.observer != nil {
		c.observer.ObserveRebalance(decision.TargetProtocol)
	}
	log.Printf("[CYCLE] Rebalanced %s -> %s tx=%s", allocation.Protocol, decision.TargetProtocol, txHash)

	return c.complete(cycleID, start, ResultRebalanced, msgRebalanced+decision.Reason, &decision, txHash)
}

func (c *Controller) complete(cycleID string, start time.Time, result, msg string, decision *core.RebalanceDecision, txHash string) core.CycleStatus {
	status := c.publish(cycleID, core.PhaseCompleted, msg, decision, txHash, true)
	if c.observer != nil {
		c.observer.ObserveCycle(result, c.now().Sub(start))
	}
	log.Printf("[CYCLE] Cycle %s completed: %s", cycleID, msg)
	return status
}

// fail moves the cycle to Errored. last_run keeps its previous value.
func (c *Controller) fail(cycleID string, start time.Time, err error) core.CycleStatus {
	status := c.publish(cycleID, core.PhaseErrored, msgError+err.Error(), nil, "", false)
	if c.observer != nil {
		c.observer.ObserveCycle(ResultError, c.now().Sub(start))
	}
	log.Printf("[CYCLE] Cycle %s failed: %v", cycleID, err)
	return status
}

// publish stores a new snapshot derived from the previous one and notifies sinks.
func (c *Controller) publish(cycleID string, phase core.Phase, msg string, decision *core.RebalanceDecision, txHash string, stamp bool) core.CycleStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.status.Load()
	next := &core.CycleStatus{
		Version:  prev.Version + 1,
		CycleID:  cycleID,
		Phase:    phase,
		Message:  msg,
		LastRun:  prev.LastRun,
		Decision: decision,
		TxHash:   txHash,
	}
	if stamp {
		ts := c.now()
		next.LastRun = &ts
	}
	c.status.Store(next)

	for _, s := range c.sinks {
		s.Publish(*next)
	}
	return *next
}
