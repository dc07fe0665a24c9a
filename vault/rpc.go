package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrAllEndpointsFailed wraps the last error when no RPC endpoint answered.
var ErrAllEndpointsFailed = errors.New("all RPC endpoints failed")

// RPCClient is a minimal JSON-RPC client for BNB Chain reads.
type RPCClient struct {
	urls      []string
	client    *resty.Client
	requestID atomic.Int64
}

// NewRPCClient creates a new RPC client with the given endpoint URLs.
// The first URL is primary; others are fallbacks.
func NewRPCClient(urls ...string) *RPCClient {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	return &RPCClient{urls: urls, client: client}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GetBalance returns the native balance of address in wei (eth_getBalance at latest).
func (c *RPCClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	result, err := c.call(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return nil, err
	}
	return parseQuantity(result)
}

// BlockNumber returns the latest block number.
func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	n, err := parseQuantity(result)
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

func (c *RPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.requestID.Add(1),
	}

	lastErr := errors.New("no endpoints configured")
	for _, url := range c.urls {
		result, err := c.doRequest(ctx, url, req)
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrAllEndpointsFailed, lastErr)
}

func (c *RPCClient) doRequest(ctx context.Context, url string, req rpcRequest) (json.RawMessage, error) {
	var rpcResp rpcResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&rpcResp).
		ForceContentType("application/json").
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("http status %d", resp.StatusCode())
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// parseQuantity decodes a hex quantity like "0x1bc16d674ec80000".
func parseQuantity(raw json.RawMessage) (*big.Int, error) {
	var hexResult string
	if err := json.Unmarshal(raw, &hexResult); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}

	digits := strings.TrimPrefix(strings.TrimPrefix(hexResult, "0x"), "0X")
	if digits == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", hexResult)
	}
	return n, nil
}
