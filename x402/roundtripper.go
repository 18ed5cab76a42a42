package x402

import (
	"fmt"
	"io"
	"net/http"
)

// PaymentRoundTripper implements http.RoundTripper with transparent x402
// payment handling: when the wrapped transport returns 402 Payment Required,
// it creates an exact-scheme payment for the advertised requirements, sets
// the X-Payment header, and retries the request once.
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	Signer    *Signer
}

// WrapClientWithPayment wraps an HTTP client's transport with x402 payment
// handling for the given signer.
func WrapClientWithPayment(client *http.Client, signer *Signer) *http.Client {
	if client == nil {
		client = &http.Client{}
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	client.Transport = &PaymentRoundTripper{
		Transport: transport,
		Signer:    signer,
	}

	return client
}

// RoundTrip implements http.RoundTripper.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	// Retrying a request with a consumed body needs GetBody.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	var body []byte
	if resp.Body != nil {
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read 402 response body: %w", err)
		}
	}

	required, err := ToPaymentRequired(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}
	if required.X402Version != Version {
		return nil, fmt.Errorf("unsupported x402 version: %d", required.X402Version)
	}

	selected, err := selectPaymentRequirements(required.Accepts)
	if err != nil {
		return nil, fmt.Errorf("cannot fulfill payment requirements: %w", err)
	}

	payload, err := NewExactPayment(t.Signer, selected)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	header, err := EncodePaymentHeader(payload)
	if err != nil {
		return nil, err
	}

	paymentReq := req.Clone(req.Context())
	if req.GetBody != nil {
		paymentReq.Body, err = req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
	}
	paymentReq.Header.Set(PaymentHeader, header)

	// One retry only. A second 402 is surfaced to the caller untouched.
	return t.Transport.RoundTrip(paymentReq)
}

// selectPaymentRequirements picks the first exact-scheme entry on a network
// this package can sign for.
func selectPaymentRequirements(accepts []PaymentRequirements) (PaymentRequirements, error) {
	for _, requirements := range accepts {
		if requirements.Scheme != SchemeExact {
			continue
		}
		if _, ok := Networks[requirements.Network]; ok {
			return requirements, nil
		}
	}
	return PaymentRequirements{}, fmt.Errorf("no supported scheme/network in %d accepted requirements", len(accepts))
}
