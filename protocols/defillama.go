package protocols

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/go-resty/resty/v2"
)

const defiLlamaYieldsURL = "https://yields.llama.fi"

// ErrPoolNotFound is returned when DefiLlama lists no pool for a protocol.
var ErrPoolNotFound = errors.New("pool not found")

// DefiLlamaSource reads APYs from the DefiLlama Yields API.
// The pool list is cached, so one cycle costs a single HTTP request.
type DefiLlamaSource struct {
	client *resty.Client
	cache  *ristretto.Cache
	ttl    time.Duration
	chain  string
}

// NewDefiLlamaSource creates a source. baseURL may be empty to use the public API.
func NewDefiLlamaSource(baseURL string, ttl time.Duration) (*DefiLlamaSource, error) {
	if baseURL == "" {
		baseURL = defiLlamaYieldsURL
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100,
		MaxCost:     1 << 26,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create pool cache: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(15 * time.Second)

	return &DefiLlamaSource{client: client, cache: cache, ttl: ttl, chain: "BSC"}, nil
}

type defiLlamaResponse struct {
	Status string          `json:"status"`
	Data   []defiLlamaPool `json:"data"`
}

type defiLlamaPool struct {
	Pool    string  `json:"pool"`
	Chain   string  `json:"chain"`
	Project string  `json:"project"`
	Symbol  string  `json:"symbol"`
	TVLUsd  float64 `json:"tvlUsd"`
	APY     float64 `json:"apy"`
}

func (s *DefiLlamaSource) FetchAPY(ctx context.Context, def Definition) (float64, error) {
	pools, err := s.pools(ctx)
	if err != nil {
		return 0, err
	}

	// The deepest pool stands in for the protocol.
	var best *defiLlamaPool
	for i := range pools {
		p := &pools[i]
		if p.Project != def.LlamaProject || !strings.EqualFold(p.Chain, s.chain) {
			continue
		}
		if best == nil || p.TVLUsd > best.TVLUsd {
			best = p
		}
	}
	if best == nil {
		return 0, fmt.Errorf("%w: %s/%s", ErrPoolNotFound, def.LlamaProject, s.chain)
	}
	return best.APY, nil
}

func (s *DefiLlamaSource) pools(ctx context.Context) ([]defiLlamaPool, error) {
	if v, ok := s.cache.Get("pools"); ok {
		if pools, ok := v.([]defiLlamaPool); ok {
			return pools, nil
		}
	}

	var result defiLlamaResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/pools")
	if err != nil {
		return nil, fmt.Errorf("fetch yields: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch yields: status %d", resp.StatusCode())
	}

	s.cache.SetWithTTL("pools", result.Data, int64(len(result.Data)), s.ttl)
	s.cache.Wait()
	return result.Data, nil
}

// Close releases the pool cache.
func (s *DefiLlamaSource) Close() {
	s.cache.Close()
}
