// Package x402 implements the client and wire-format side of the x402
// payment protocol (version 1) as used by the prepaid RPC gateway: the
// payment requirements document carried by 402 responses, the payment
// payload carried by the X-Payment header, the facilitator REST client,
// and an http.RoundTripper that settles 402 responses transparently.
package x402

import (
	"encoding/json"
	"math/big"
)

// Version is the x402 protocol version spoken by this package.
const Version = 1

// SchemeExact is the exact-amount payment scheme (EIP-3009 on EVM networks).
const SchemeExact = "exact"

// PaymentRequirements describes one way a resource server accepts payment.
type PaymentRequirements struct {
	Scheme            string           `json:"scheme"`
	Network           string           `json:"network"`
	MaxAmountRequired string           `json:"maxAmountRequired"`
	Resource          string           `json:"resource"`
	Description       string           `json:"description,omitempty"`
	MimeType          string           `json:"mimeType,omitempty"`
	PayTo             string           `json:"payTo"`
	MaxTimeoutSeconds int              `json:"maxTimeoutSeconds"`
	Asset             string           `json:"asset"`
	OutputSchema      *json.RawMessage `json:"outputSchema,omitempty"`
	Extra             *json.RawMessage `json:"extra,omitempty"`
}

// PaymentPayload is the envelope a client submits in the X-Payment header.
// Payload is scheme-specific; for the exact scheme it carries an EIP-3009
// authorization and its EIP-712 signature.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Payload     map[string]interface{} `json:"payload"`
}

// PaymentRequired is the JSON body of a 402 response.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// VerifyResponse is returned by the facilitator's /verify endpoint.
type VerifyResponse struct {
	IsValid       bool    `json:"isValid"`
	InvalidReason *string `json:"invalidReason,omitempty"`
	Payer         *string `json:"payer,omitempty"`
}

// SettleResponse is returned by the facilitator's /settle endpoint.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason *string `json:"errorReason,omitempty"`
	Transaction string  `json:"transaction"`
	Network     string  `json:"network"`
	Payer       *string `json:"payer,omitempty"`
}

// NetworkConfig holds the chain parameters needed to sign exact-scheme
// payments on one EVM network.
type NetworkConfig struct {
	ChainID     *big.Int
	USDCAddress string
}

// Networks maps the supported network identifiers to their chain parameters.
var Networks = map[string]NetworkConfig{
	"base": {
		ChainID:     big.NewInt(8453),
		USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	},
	"base-sepolia": {
		ChainID:     big.NewInt(84532),
		USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	},
}

// ToPaymentRequired unmarshals a 402 response body.
func ToPaymentRequired(data []byte) (*PaymentRequired, error) {
	var required PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, err
	}
	return &required, nil
}
