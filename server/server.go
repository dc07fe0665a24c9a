// Package server exposes the agent over HTTP, a websocket status feed and gRPC health.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/becomeliminal/yieldmind/core"
)

// ServiceName is reported by the root route.
const ServiceName = "YieldMind AI Backend"

// CycleRunner runs and reports rebalance cycles. *cycle.Controller implements it.
type CycleRunner interface {
	Run(ctx context.Context) core.CycleStatus
	Status() core.CycleStatus
	Configured() bool
}

// ProtocolLister returns the latest protocol snapshots. *protocols.Manager implements it.
type ProtocolLister interface {
	Latest(ctx context.Context) ([]core.ProtocolSnapshot, error)
}

// VaultReader exposes vault state for the API. *vault.Manager implements it.
type VaultReader interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	CurrentProtocol() string
	History() []core.RebalanceEvent
}

// Config wires the server's collaborators.
type Config struct {
	Runner    CycleRunner
	Protocols ProtocolLister
	Vault     VaultReader

	// Hub receives status snapshots for /ws. Optional.
	Hub *Hub

	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer

	Model         string
	CycleInterval time.Duration

	// TriggerRatePerMinute limits POST /api/trigger-cycle. Zero disables the limit.
	TriggerRatePerMinute float64
}

// Server is the HTTP surface.
type Server struct {
	cfg     Config
	router  *gin.Engine
	limiter *rate.Limiter
	http    *http.Server
}

// New builds the router. Runner, Protocols and Vault are required.
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, errors.New("cycle runner is required")
	}
	if cfg.Protocols == nil {
		return nil, errors.New("protocol lister is required")
	}
	if cfg.Vault == nil {
		return nil, errors.New("vault reader is required")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{cfg: cfg}
	if cfg.TriggerRatePerMinute > 0 {
		burst := int(cfg.TriggerRatePerMinute)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.TriggerRatePerMinute/60), burst)
	}
	s.router = s.routes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP on addr until Shutdown is called. Run after Shutdown
// returns nil without serving.
func (s *Server) Run(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Shutdown is called.
func (s *Server) Serve(lis net.Listener) error {
	log.Printf("[SERVER] Listening on %s", lis.Addr())
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.Hub != nil {
		s.cfg.Hub.Close()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(), cors())

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metricsHandler(s.cfg.Gatherer)))
	if s.cfg.Hub != nil {
		r.GET("/ws", s.cfg.Hub.ServeWS)
	}

	api := r.Group("/api")
	api.GET("/protocols", s.handleProtocols)
	api.GET("/vault/status", s.handleVaultStatus)
	api.GET("/rebalances", s.handleRebalances)
	api.GET("/status", s.handleStatus)
	api.POST("/trigger-cycle", s.handleTriggerCycle)

	return r
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[HTTP] %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// cors allows any origin.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
