package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// PaymentHeader carries a base64-encoded PaymentPayload on requests.
const PaymentHeader = "X-Payment"

// PaymentResponseHeader carries a base64-encoded SettleResponse on responses.
const PaymentResponseHeader = "X-Payment-Response"

// EncodePaymentHeader encodes a payment payload for the X-Payment header.
func EncodePaymentHeader(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader decodes an X-Payment header value into a payment
// payload. The raw decoded JSON is returned alongside the parsed form so
// callers can run schema validation on the exact bytes received.
func DecodePaymentHeader(header string) (PaymentPayload, []byte, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return PaymentPayload{}, nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return PaymentPayload{}, nil, fmt.Errorf("invalid payment payload JSON: %w", err)
	}

	return payload, data, nil
}

// EncodePaymentResponseHeader encodes a settlement response for the
// X-Payment-Response header.
func EncodePaymentResponseHeader(response SettleResponse) (string, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentResponseHeader decodes an X-Payment-Response header value.
func DecodePaymentResponseHeader(header string) (SettleResponse, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return SettleResponse{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var response SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return SettleResponse{}, fmt.Errorf("invalid settle response JSON: %w", err)
	}

	return response, nil
}
