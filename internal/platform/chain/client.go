// Package chain reads token balances from an EVM JSON-RPC endpoint.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"grip/internal/platform/config"
)

// balanceOf(address) selector.
const balanceOfSelector = "70a08231"

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type Client struct {
	url          string
	defaultToken string
	http         *http.Client
	nextID       atomic.Uint64
}

func NewClient(cfg config.ChainConfig) *Client {
	return &Client{
		url:          cfg.RPCURL,
		defaultToken: cfg.DefaultToken,
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if c.url == "" {
		return fmt.Errorf("chain rpc url is not configured")
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	return json.Unmarshal(rr.Result, out)
}

// Balance returns the balance of owner in base units. An empty token uses the configured
// default token; "native" queries the chain's native currency.
func (c *Client) Balance(ctx context.Context, owner, token string) (*big.Int, error) {
	if token == "" {
		token = c.defaultToken
	}
	if !isAddress(owner) {
		return nil, fmt.Errorf("invalid address %q", owner)
	}

	var hexResult string
	if token == "" || strings.EqualFold(token, "native") {
		if err := c.call(ctx, "eth_getBalance", []interface{}{owner, "latest"}, &hexResult); err != nil {
			return nil, err
		}
		return parseQuantity(hexResult)
	}
	if !isAddress(token) {
		return nil, fmt.Errorf("invalid token address %q", token)
	}

	call := map[string]string{
		"to":   token,
		"data": "0x" + balanceOfSelector + strings.Repeat("0", 24) + strings.ToLower(owner[2:]),
	}
	if err := c.call(ctx, "eth_call", []interface{}{call, "latest"}, &hexResult); err != nil {
		return nil, err
	}
	return parseQuantity(hexResult)
}

func parseQuantity(s string) (*big.Int, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return n, nil
}

func isAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
