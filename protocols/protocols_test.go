package protocols_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/becomeliminal/yieldmind/core"
	"github.com/becomeliminal/yieldmind/protocols"
)

// stubSource returns fixed APYs and fails for names in failing.
type stubSource struct {
	apys    map[string]float64
	failing map[string]bool
	calls   atomic.Int32
}

func (s *stubSource) FetchAPY(_ context.Context, def protocols.Definition) (float64, error) {
	s.calls.Add(1)
	if s.failing[def.Name] {
		return 0, errors.New("upstream down")
	}
	return s.apys[def.Name], nil
}

func TestManager_FetchAll_FallbackPerProtocol(t *testing.T) {
	source := &stubSource{
		apys:    map[string]float64{"PancakeSwap V3": 13.456, "Lista DAO": -1},
		failing: map[string]bool{"Venus": true},
	}
	m, err := protocols.NewManager(source)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	got, err := m.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	want := []core.ProtocolSnapshot{
		{Name: "PancakeSwap V3", APY: 13.46, TVL: "$2.1B", RiskScore: 3},
		{Name: "Venus", APY: 15.2, TVL: "$1.8B", RiskScore: 4},
		{Name: "Lista DAO", APY: 18.7, TVL: "$850M", RiskScore: 5},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d snapshots, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestManager_LatestServesCachedSnapshot(t *testing.T) {
	source := &stubSource{apys: map[string]float64{"PancakeSwap V3": 12, "Venus": 15, "Lista DAO": 18}}
	m, err := protocols.NewManager(source)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	ctx := context.Background()
	if _, err := m.Latest(ctx); err != nil {
		t.Fatalf("Latest (cold): %v", err)
	}
	if source.calls.Load() != 3 {
		t.Fatalf("cold Latest should fetch every protocol, calls=%d", source.calls.Load())
	}

	latest, err := m.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest (warm): %v", err)
	}
	if source.calls.Load() != 3 {
		t.Errorf("warm Latest should not fetch, calls=%d", source.calls.Load())
	}
	if len(latest) != 3 || latest[1].APY != 15 {
		t.Errorf("latest = %+v", latest)
	}
}

func TestMarkActive(t *testing.T) {
	in := []core.ProtocolSnapshot{{Name: "PancakeSwap V3"}, {Name: "Venus"}}
	out := protocols.MarkActive(in, "Venus")

	if out[0].IsActive || !out[1].IsActive {
		t.Errorf("MarkActive = %+v", out)
	}
	if in[1].IsActive {
		t.Error("MarkActive mutated its input")
	}
}

func TestSimulatedSource_WithinVariance(t *testing.T) {
	source := protocols.NewSimulatedSource(42)
	for _, def := range protocols.DefaultDefinitions() {
		for i := 0; i < 50; i++ {
			apy, err := source.FetchAPY(context.Background(), def)
			if err != nil {
				t.Fatalf("FetchAPY: %v", err)
			}
			if apy < def.BaseAPY-def.Variance-0.01 || apy > def.BaseAPY+def.Variance+0.01 {
				t.Errorf("%s apy %v outside %v±%v", def.Name, apy, def.BaseAPY, def.Variance)
			}
		}
	}
}

func TestSimulatedSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := protocols.NewSimulatedSource(1).FetchAPY(ctx, protocols.DefaultDefinitions()[0]); err == nil {
		t.Error("expected context error")
	}
}

const poolsJSON = `{"status":"success","data":[
  {"pool":"a","chain":"BSC","project":"venus-core-pool","symbol":"USDT","tvlUsd":1000,"apy":4.1},
  {"pool":"b","chain":"BSC","project":"venus-core-pool","symbol":"BNB","tvlUsd":5000,"apy":6.3},
  {"pool":"c","chain":"Ethereum","project":"venus-core-pool","symbol":"ETH","tvlUsd":99999,"apy":1.0},
  {"pool":"d","chain":"BSC","project":"pancakeswap-amm-v3","symbol":"CAKE-BNB","tvlUsd":700,"apy":22.5}
]}`

func TestDefiLlamaSource_PicksDeepestBSCPool(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/pools" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(poolsJSON))
	}))
	defer server.Close()

	source, err := protocols.NewDefiLlamaSource(server.URL, 0)
	if err != nil {
		t.Fatalf("NewDefiLlamaSource: %v", err)
	}
	defer source.Close()
	defs := protocols.DefaultDefinitions()
	ctx := context.Background()

	venus, err := source.FetchAPY(ctx, defs[1])
	if err != nil {
		t.Fatalf("FetchAPY(Venus): %v", err)
	}
	if venus != 6.3 {
		t.Errorf("Venus APY = %v, want 6.3", venus)
	}

	cake, err := source.FetchAPY(ctx, defs[0])
	if err != nil {
		t.Fatalf("FetchAPY(PancakeSwap): %v", err)
	}
	if cake != 22.5 {
		t.Errorf("PancakeSwap APY = %v, want 22.5", cake)
	}

	if _, err := source.FetchAPY(ctx, defs[2]); !errors.Is(err, protocols.ErrPoolNotFound) {
		t.Errorf("Lista DAO error = %v, want ErrPoolNotFound", err)
	}

	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1 (pool list cached)", hits.Load())
	}
}

func TestDefiLlamaSource_FallbackThroughManager(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source, err := protocols.NewDefiLlamaSource(server.URL, 0)
	if err != nil {
		t.Fatalf("NewDefiLlamaSource: %v", err)
	}
	m, err := protocols.NewManager(source)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	got, err := m.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	for i, def := range protocols.DefaultDefinitions() {
		if got[i].APY != def.BaseAPY {
			t.Errorf("%s APY = %v, want fallback %v", def.Name, got[i].APY, def.BaseAPY)
		}
	}
}
