package x402

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// transferWithAuthorizationTypes are the EIP-712 type definitions for
// EIP-3009 transferWithAuthorization.
var transferWithAuthorizationTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// CreateNonce generates a random 32-byte EIP-3009 nonce as 0x-prefixed hex.
func CreateNonce() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hexutil.Encode(nonce), nil
}

// NewExactPayment creates and signs an exact-scheme payment payload
// satisfying the given requirements. The authorization window opens ten
// minutes in the past to absorb clock skew and closes after the
// requirements' timeout.
func NewExactPayment(signer *Signer, requirements PaymentRequirements) (PaymentPayload, error) {
	network, ok := Networks[requirements.Network]
	if !ok {
		return PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	value, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.MaxAmountRequired)
	}

	nonce, err := CreateNonce()
	if err != nil {
		return PaymentPayload{}, err
	}

	now := time.Now().Unix()
	validAfter := big.NewInt(now - 600)
	timeout := int64(600)
	if requirements.MaxTimeoutSeconds > 0 {
		timeout = int64(requirements.MaxTimeoutSeconds)
	}
	validBefore := big.NewInt(now + timeout)

	// The settlement asset's EIP-712 domain parameters ride along in the
	// requirements' extra field.
	tokenName, tokenVersion := "USDC", "2"
	if requirements.Extra != nil {
		var extra struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		}
		if err := json.Unmarshal(*requirements.Extra, &extra); err == nil {
			if extra.Name != "" {
				tokenName = extra.Name
			}
			if extra.Version != "" {
				tokenVersion = extra.Version
			}
		}
	}

	from := signer.Address().Hex()
	to := common.HexToAddress(requirements.PayTo).Hex()
	nonceBytes, err := hexutil.Decode(nonce)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("invalid nonce: %w", err)
	}

	typedData := apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainId:           (*math.HexOrDecimal256)(network.ChainID),
			VerifyingContract: requirements.Asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        from,
			"to":          to,
			"value":       value,
			"validAfter":  validAfter,
			"validBefore": validBefore,
			"nonce":       nonceBytes,
		},
	}

	signature, err := signer.SignTypedData(typedData)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	return PaymentPayload{
		X402Version: Version,
		Scheme:      SchemeExact,
		Network:     requirements.Network,
		Payload: map[string]interface{}{
			"signature": hexutil.Encode(signature),
			"authorization": map[string]interface{}{
				"from":        from,
				"to":          to,
				"value":       value.String(),
				"validAfter":  validAfter.String(),
				"validBefore": validBefore.String(),
				"nonce":       nonce,
			},
		},
	}, nil
}
