// Package transport provides a signed JSON-RPC client for the payment
// gateway. Every request carries the caller's authentication headers, and
// 402 payment challenges are settled transparently through the x402 round
// tripper before the caller sees a response.
package transport

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/auth"
	"github.com/BlockchainCap/bcap-x402-payment-middleware/x402"
)

const requestTimeout = 30 * time.Second

// Client is a JSON-RPC client that authenticates against a payment gateway.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	url        string
	signer     *x402.Signer
	nextID     atomic.Uint64
}

// New builds a client for the gateway at url, signing requests and payments
// with the given hex-encoded private key.
func New(url, privateKeyHex string) (*Client, error) {
	signer, err := x402.NewSignerFromPrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewWithSigner(url, signer), nil
}

// NewWithSigner builds a client around an existing signer.
func NewWithSigner(url string, signer *x402.Signer) *Client {
	base := &http.Client{Timeout: requestTimeout}
	return &Client{
		httpClient: x402.WrapClientWithPayment(base, signer),
		url:        url,
		signer:     signer,
	}
}

// Address returns the account the client authenticates as.
func (c *Client) Address() string {
	return strings.ToLower(c.signer.Address().Hex())
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint64 `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// RPCError is a JSON-RPC error object returned by the upstream node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPError is a non-2xx gateway response that the payment round tripper
// could not resolve, such as a rejected signature.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

// Call invokes a JSON-RPC method on the gateway and unmarshals the result
// into result, which may be nil when the caller does not need it.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	respBody, err := c.post(ctx, body)
	if err != nil {
		return err
	}

	var envelope rpcResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result == nil {
		return nil
	}
	if len(envelope.Result) == 0 {
		return fmt.Errorf("response has no result")
	}
	return json.Unmarshal(envelope.Result, result)
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	// The address is signed exactly as it travels in the header, so the
	// gateway recomputes the digest over identical bytes.
	address := c.Address()
	timestamp := uint64(time.Now().Unix())

	signature, err := c.signer.SignDigest(auth.Digest(address, timestamp, body))
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderAddress, address)
	req.Header.Set(auth.HeaderSignature, "0x"+hex.EncodeToString(signature))
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatUint(timestamp, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
