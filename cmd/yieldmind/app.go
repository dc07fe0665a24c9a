package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/becomeliminal/yieldmind/config"
	"github.com/becomeliminal/yieldmind/cycle"
	"github.com/becomeliminal/yieldmind/engine"
	"github.com/becomeliminal/yieldmind/memory"
	"github.com/becomeliminal/yieldmind/memory/embedder/hash"
	"github.com/becomeliminal/yieldmind/memory/store/chromem"
	"github.com/becomeliminal/yieldmind/metrics"
	"github.com/becomeliminal/yieldmind/protocols"
	"github.com/becomeliminal/yieldmind/server"
	"github.com/becomeliminal/yieldmind/vault"
)

const chainCheckTimeout = 10 * time.Second

// app holds the wired collaborators for one process.
type app struct {
	cfg        *config.Config
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	protocols  *protocols.Manager
	vault      *vault.Manager
	rpc        *vault.RPCClient
	store      memory.Store
	controller *cycle.Controller
	hub        *server.Hub
	health     *server.HealthServer
}

// newApp wires every component from cfg. Extra status sinks are attached to the controller.
func newApp(cfg *config.Config, sinks ...cycle.StatusSink) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	// === PROTOCOL DATA ===
	source, err := newAPYSource(cfg)
	if err != nil {
		return nil, err
	}
	a.protocols, err = protocols.NewManager(source)
	if err != nil {
		return nil, fmt.Errorf("create protocol manager: %w", err)
	}

	// === VAULT ===
	names := make([]string, 0, len(a.protocols.Definitions()))
	for _, def := range a.protocols.Definitions() {
		names = append(names, def.Name)
	}
	vaultOpts := []vault.Option{vault.WithAllowedProtocols(names...)}
	if cfg.ChainConfigured() {
		a.rpc = vault.NewRPCClient(cfg.BSCRPCURLs...)
		vaultOpts = append(vaultOpts, vault.WithChain(a.rpc, cfg.VaultContractAddress))
		log.Printf("[APP] Reading vault balance from %s", cfg.BSCRPCURLs[0])
	}
	a.vault = vault.NewManager(vaultOpts...)

	// === NEGOTIATION ===
	var negotiator cycle.Negotiator
	if err := cfg.RequireOracle(); err != nil {
		log.Printf("[APP] %v; cycles will report not configured", err)
	} else {
		eng, err := a.newEngine()
		if err != nil {
			a.Close()
			return nil, err
		}
		negotiator = eng
	}

	// === CONTROLLER ===
	a.hub = server.NewHub()
	a.health = server.NewHealthServer()
	opts := []cycle.Option{
		cycle.WithVaultID(cfg.VaultID),
		cycle.WithThreshold(cfg.RebalanceThreshold),
		cycle.WithTimeout(cfg.CycleTimeout),
		cycle.WithObserver(a.metrics),
		cycle.WithStatusSink(a.hub),
		cycle.WithStatusSink(a.health),
	}
	for _, s := range sinks {
		opts = append(opts, cycle.WithStatusSink(s))
	}
	a.controller = cycle.NewController(a.protocols, a.vault, negotiator, opts...)

	return a, nil
}

func newAPYSource(cfg *config.Config) (protocols.APYSource, error) {
	switch cfg.APYSource {
	case "defillama":
		src, err := protocols.NewDefiLlamaSource(cfg.DefiLlamaURL, 0)
		if err != nil {
			return nil, fmt.Errorf("create defillama source: %w", err)
		}
		return src, nil
	default:
		return protocols.NewSimulatedSource(0), nil
	}
}

func (a *app) newEngine() (*engine.Engine, error) {
	oracle := engine.NewAnthropicOracle(a.cfg.AnthropicAPIKey, a.cfg.AnthropicBaseURL)
	opts := []engine.Option{
		engine.WithModel(a.cfg.Model),
		engine.WithMaxRounds(a.cfg.MaxRounds),
		engine.WithMaxTokens(a.cfg.MaxTokens),
		engine.WithAudit(engine.MultiAudit{engine.LogAuditor{}, a.metrics}),
	}

	if a.cfg.MemoryEnabled {
		store, err := chromem.New()
		if err != nil {
			return nil, fmt.Errorf("create memory store: %w", err)
		}
		a.store = store
		mgr := memory.NewSimpleManager(store, hash.New(0), &memory.Config{
			Enabled:             true,
			RetrieveLimit:       memory.DefaultConfig.RetrieveLimit,
			MaxMemoriesPerVault: memory.DefaultConfig.MaxMemoriesPerVault,
		})
		opts = append(opts, engine.WithMemory(mgr))
		log.Printf("[APP] Decision memory enabled")
	}

	return engine.NewEngine(oracle, opts...), nil
}

func (a *app) httpServer() (*server.Server, error) {
	return server.New(server.Config{
		Runner:               a.controller,
		Protocols:            a.protocols,
		Vault:                a.vault,
		Hub:                  a.hub,
		Gatherer:             a.registry,
		Model:                a.cfg.Model,
		CycleInterval:        a.cfg.CycleInterval,
		TriggerRatePerMinute: a.cfg.TriggerRatePerMinute,
	})
}

// checkChain reports the latest block when vault reads go to chain.
func (a *app) checkChain(ctx context.Context) (uint64, error) {
	if a.rpc == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, chainCheckTimeout)
	defer cancel()

	block, err := a.rpc.BlockNumber(ctx)
	if err != nil {
		log.Printf("[APP] Chain unreachable, balance reads will fail: %v", err)
		return 0, err
	}
	log.Printf("[APP] Chain reachable at block %d", block)
	return block, nil
}

// Close releases caches and the memory store.
func (a *app) Close() {
	if a.protocols != nil {
		a.protocols.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("[APP] Memory store close: %v", err)
		}
	}
}
