package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"

	// facilitatorTimeout is the hard ceiling on one facilitator round trip.
	facilitatorTimeout = 60 * time.Second
)

// FacilitatorClient verifies and settles payment payloads against an
// external x402 facilitator service.
type FacilitatorClient struct {
	URL        string
	HTTPClient *http.Client
}

// NewFacilitatorClient creates a facilitator client for the given base URL.
func NewFacilitatorClient(url string) *FacilitatorClient {
	return &FacilitatorClient{
		URL:        url,
		HTTPClient: &http.Client{Timeout: facilitatorTimeout},
	}
}

// Verify sends a payment verification request to the facilitator.
func (c *FacilitatorClient) Verify(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*VerifyResponse, error) {
	var verifyResp VerifyResponse
	if err := c.post(ctx, "verify", payload, requirements, &verifyResp); err != nil {
		return nil, err
	}
	return &verifyResp, nil
}

// Settle sends a payment settlement request to the facilitator.
func (c *FacilitatorClient) Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error) {
	var settleResp SettleResponse
	if err := c.post(ctx, "settle", payload, requirements, &settleResp); err != nil {
		return nil, err
	}
	return &settleResp, nil
}

func (c *FacilitatorClient) post(ctx context.Context, endpoint string, payload *PaymentPayload, requirements *PaymentRequirements, out interface{}) error {
	reqBody := map[string]any{
		"x402Version":         Version,
		"paymentPayload":      payload,
		"paymentRequirements": requirements,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", c.URL, endpoint), bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to %s payment: %s", endpoint, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	return nil
}
