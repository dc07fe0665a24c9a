package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/becomeliminal/yieldmind/core"
	"github.com/becomeliminal/yieldmind/protocols"
)

type protocolsResponse struct {
	Protocols []core.ProtocolSnapshot `json:"protocols"`
	AIStatus  string                  `json:"ai_status"`
}

type vaultStatusResponse struct {
	Balance         string `json:"balance"`
	CurrentProtocol string `json:"current_protocol"`
}

type rebalancesResponse struct {
	Rebalances []core.RebalanceEvent `json:"rebalances"`
}

type triggerCycleResponse struct {
	Status   string     `json:"status"`
	Message  string     `json:"message"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	AIStatus string     `json:"ai_status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":           ServiceName,
		"status":         "active",
		"ai_model":       s.cfg.Model,
		"ai_configured":  s.cfg.Runner.Configured(),
		"cycle_interval": s.cfg.CycleInterval.String(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleProtocols(c *gin.Context) {
	snapshots, err := s.cfg.Protocols.Latest(c.Request.Context())
	if err != nil {
		log.Printf("[SERVER] Protocol fetch failed: %v", err)
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, protocolsResponse{
		Protocols: protocols.MarkActive(snapshots, s.cfg.Vault.CurrentProtocol()),
		AIStatus:  s.cfg.Runner.Status().Message,
	})
}

func (s *Server) handleVaultStatus(c *gin.Context) {
	balance, err := s.cfg.Vault.GetBalance(c.Request.Context())
	if err != nil {
		log.Printf("[SERVER] Balance read failed: %v", err)
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, vaultStatusResponse{
		Balance:         balance.String(),
		CurrentProtocol: s.cfg.Vault.CurrentProtocol(),
	})
}

func (s *Server) handleRebalances(c *gin.Context) {
	history := s.cfg.Vault.History()
	if history == nil {
		history = []core.RebalanceEvent{}
	}
	c.JSON(http.StatusOK, rebalancesResponse{Rebalances: history})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Runner.Status())
}

// handleTriggerCycle runs a cycle synchronously, detached from request cancellation.
func (s *Server) handleTriggerCycle(c *gin.Context) {
	if s.limiter != nil && !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, triggerCycleResponse{
			Status:   "error",
			Message:  "rate limit exceeded",
			AIStatus: s.cfg.Runner.Status().Message,
		})
		return
	}

	status := s.cfg.Runner.Run(context.WithoutCancel(c.Request.Context()))

	resp := triggerCycleResponse{
		Status:   "success",
		Message:  "AI cycle triggered",
		LastRun:  status.LastRun,
		AIStatus: status.Message,
	}
	if status.Phase == core.PhaseErrored {
		resp.Status = "error"
		resp.Message = "AI cycle failed"
	}
	c.JSON(http.StatusOK, resp)
}
