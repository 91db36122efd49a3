package ledgerrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

const defaultCallTimeout = 10 * time.Second

// Client talks JSON-RPC 2.0 to the ledger node over HTTP.
type Client struct {
	url    string
	http   *http.Client
	nextID atomic.Int64
}

// NewClient constructs a ledger RPC client for the given endpoint.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{url: url, http: &http.Client{Timeout: timeout}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Balance queries the node for the balance of address, in minor units.
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	var result string
	if err := c.call(ctx, "ledger_getBalance", []any{address}, &result); err != nil {
		return 0, err
	}
	balance, err := strconv.ParseInt(result, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", result, ErrLedgerUnavailable)
	}
	return balance, nil
}

// SubmitTransaction hands a signed transaction to the node and returns the
// transaction hash the node assigned on acceptance.
func (c *Client) SubmitTransaction(ctx context.Context, signedTx []byte) (string, error) {
	var hash string
	encoded := base64.StdEncoding.EncodeToString(signedTx)
	if err := c.call(ctx, "ledger_sendRawTransaction", []any{encoded}, &hash); err != nil {
		return "", err
	}
	if hash == "" {
		return "", fmt.Errorf("node returned empty transaction hash: %w", ErrBroadcastRejected)
	}
	return hash, nil
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", method, err, ErrLedgerUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %w", method, resp.StatusCode, ErrLedgerUnavailable)
	}

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode %s response: %v: %w", method, err, ErrLedgerUnavailable)
	}
	if parsed.Error != nil {
		if method == "ledger_sendRawTransaction" {
			return fmt.Errorf("%s: %s: %w", method, parsed.Error.Message, ErrBroadcastRejected)
		}
		return fmt.Errorf("%s: %s: %w", method, parsed.Error.Message, ErrLedgerUnavailable)
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %v: %w", method, err, ErrLedgerUnavailable)
	}
	return nil
}
