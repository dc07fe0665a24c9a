package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/yieldmind/core"
	"github.com/becomeliminal/yieldmind/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockRunner struct {
	status     core.CycleStatus
	result     core.CycleStatus
	configured bool
	runs       atomic.Int32
	ctxErr     error
}

func (m *mockRunner) Run(ctx context.Context) core.CycleStatus {
	m.runs.Add(1)
	m.ctxErr = ctx.Err()
	return m.result
}

func (m *mockRunner) Status() core.CycleStatus { return m.status }
func (m *mockRunner) Configured() bool         { return m.configured }

type mockProtocols struct {
	snapshots []core.ProtocolSnapshot
	err       error
}

func (m *mockProtocols) Latest(context.Context) ([]core.ProtocolSnapshot, error) {
	return m.snapshots, m.err
}

type mockVault struct {
	balance decimal.Decimal
	err     error
	current string
	history []core.RebalanceEvent
}

func (m *mockVault) GetBalance(context.Context) (decimal.Decimal, error) { return m.balance, m.err }
func (m *mockVault) CurrentProtocol() string                             { return m.current }
func (m *mockVault) History() []core.RebalanceEvent                      { return m.history }

func newTestServer(t *testing.T, mutate func(*server.Config)) (*server.Server, *mockRunner, *mockVault) {
	t.Helper()
	runner := &mockRunner{
		status:     core.CycleStatus{Version: 4, Phase: core.PhaseCompleted, Message: "Optimal - No rebalance needed"},
		configured: true,
	}
	vault := &mockVault{balance: decimal.RequireFromString("10.5"), current: "Venus"}
	cfg := server.Config{
		Runner: runner,
		Protocols: &mockProtocols{snapshots: []core.ProtocolSnapshot{
			{Name: "PancakeSwap V3", APY: 12.5, TVL: "$2.1B", RiskScore: 3},
			{Name: "Venus", APY: 15.2, TVL: "$1.8B", RiskScore: 4},
		}},
		Vault:         vault,
		Gatherer:      prometheus.NewRegistry(),
		Model:         "claude-opus-4-20250514",
		CycleInterval: 5 * time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := server.New(cfg)
	require.NoError(t, err)
	return srv, runner, vault
}

func do(t *testing.T, srv *server.Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := server.New(server.Config{})
	assert.Error(t, err)
}

func TestRootAndHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	w := do(t, srv, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, server.ServiceName, body["name"])
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "5m0s", body["cycle_interval"])
	assert.Equal(t, true, body["ai_configured"])

	w = do(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestProtocols_MarksActive(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/protocols")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Protocols []core.ProtocolSnapshot `json:"protocols"`
		AIStatus  string                  `json:"ai_status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Protocols, 2)
	assert.False(t, body.Protocols[0].IsActive)
	assert.True(t, body.Protocols[1].IsActive)
	assert.Equal(t, "Optimal - No rebalance needed", body.AIStatus)
}

func TestProtocols_Error(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *server.Config) {
		c.Protocols = &mockProtocols{err: errors.New("upstream down")}
	})

	w := do(t, srv, http.MethodGet, "/api/protocols")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "upstream down")
}

func TestVaultStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/vault/status")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "10.5", body["balance"])
	assert.Equal(t, "Venus", body["current_protocol"])
}

func TestRebalances_EmptyIsArray(t *testing.T) {
	srv, _, vault := newTestServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/rebalances")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rebalances":[]}`, w.Body.String())

	vault.history = []core.RebalanceEvent{{ID: "e1", FromProtocol: "PancakeSwap V3", ToProtocol: "Venus", Amount: "All funds", Reason: "r", TxHash: "0x1"}}
	w = do(t, srv, http.MethodGet, "/api/rebalances")
	assert.Contains(t, w.Body.String(), `"to_protocol":"Venus"`)
}

func TestStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(4), body["version"])
	assert.Equal(t, "completed", body["phase"])
	assert.Equal(t, "Optimal - No rebalance needed", body["status"])
}

func TestTriggerCycle(t *testing.T) {
	srv, runner, _ := newTestServer(t, nil)
	ran := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runner.result = core.CycleStatus{Phase: core.PhaseCompleted, Message: "Rebalanced: better yield", LastRun: &ran}

	w := do(t, srv, http.MethodPost, "/api/trigger-cycle")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "AI cycle triggered", body["message"])
	assert.Equal(t, "Rebalanced: better yield", body["ai_status"])
	assert.Equal(t, ran.Format(time.RFC3339), body["last_run"])
	assert.Equal(t, int32(1), runner.runs.Load())
	assert.NoError(t, runner.ctxErr)
}

func TestTriggerCycle_ErroredCycle(t *testing.T) {
	srv, runner, _ := newTestServer(t, nil)
	runner.result = core.CycleStatus{Phase: core.PhaseErrored, Message: "Error: boom"}

	w := do(t, srv, http.MethodPost, "/api/trigger-cycle")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Error: boom", body["ai_status"])
	assert.NotContains(t, body, "last_run")
}

func TestTriggerCycle_RateLimited(t *testing.T) {
	srv, runner, _ := newTestServer(t, func(c *server.Config) {
		c.TriggerRatePerMinute = 1
	})

	first := do(t, srv, http.MethodPost, "/api/trigger-cycle")
	second := do(t, srv, http.MethodPost, "/api/trigger-cycle")

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, int32(1), runner.runs.Load())
}

func TestCORS(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	w := do(t, srv, http.MethodOptions, "/api/trigger-cycle")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(t, srv, http.MethodGet, "/health")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "yieldmind_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv, _, _ := newTestServer(t, func(c *server.Config) { c.Gatherer = reg })

	w := do(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "yieldmind_test_total 1"))
}

func TestShutdownBeforeRun(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Run("127.0.0.1:0") }()
	require.NoError(t, srv.Shutdown(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept serving after Shutdown")
	}
}

func TestServeStopsOnShutdown(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(lis) }()

	url := "http://" + lis.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve kept running after Shutdown")
	}
}
