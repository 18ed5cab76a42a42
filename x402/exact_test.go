package x402

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Well-known test key, never funded.
const testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testRequirements() PaymentRequirements {
	extra := json.RawMessage(`{"name":"USDC","version":"2"}`)
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "1000000",
		Resource:          "http://localhost:3000/relay",
		Description:       "Top up your RPC access balance with $1 USDC",
		MimeType:          "application/json",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 300,
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Extra:             &extra,
	}
}

func TestCreateNonce(t *testing.T) {
	nonce, err := CreateNonce()
	if err != nil {
		t.Fatalf("Failed to create nonce: %v", err)
	}
	if !strings.HasPrefix(nonce, "0x") {
		t.Errorf("Nonce should have 0x prefix, got %s", nonce)
	}
	if len(nonce) != 66 {
		t.Errorf("Nonce should be 32 bytes (66 hex chars), got %d", len(nonce))
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		nonce, err := CreateNonce()
		if err != nil {
			t.Fatalf("Failed to create nonce: %v", err)
		}
		if seen[nonce] {
			t.Error("Duplicate nonce generated")
		}
		seen[nonce] = true
	}
}

func TestNewExactPayment(t *testing.T) {
	signer, err := NewSignerFromPrivateKey(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	payload, err := NewExactPayment(signer, testRequirements())
	if err != nil {
		t.Fatalf("Failed to create payment: %v", err)
	}

	if payload.X402Version != 1 {
		t.Errorf("Expected x402 version 1, got %d", payload.X402Version)
	}
	if payload.Scheme != SchemeExact {
		t.Errorf("Expected exact scheme, got %s", payload.Scheme)
	}
	if payload.Network != "base-sepolia" {
		t.Errorf("Expected base-sepolia network, got %s", payload.Network)
	}

	auth, ok := payload.Payload["authorization"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected authorization in payload")
	}
	if auth["from"] != signer.Address().Hex() {
		t.Errorf("Expected from %s, got %v", signer.Address().Hex(), auth["from"])
	}
	if auth["value"] != "1000000" {
		t.Errorf("Expected value 1000000, got %v", auth["value"])
	}

	sigHex, ok := payload.Payload["signature"].(string)
	if !ok {
		t.Fatal("Expected signature in payload")
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		t.Fatalf("Signature is not valid hex: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("Expected 65-byte signature, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("Expected v of 27 or 28, got %d", sig[64])
	}
}

func TestNewExactPaymentUnsupportedNetwork(t *testing.T) {
	signer, err := NewSignerFromPrivateKey(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	requirements := testRequirements()
	requirements.Network = "solana"

	if _, err := NewExactPayment(signer, requirements); err == nil {
		t.Fatal("Expected error for unsupported network")
	}
}

func TestSignDigestRecovers(t *testing.T) {
	signer, err := NewSignerFromPrivateKey(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	digest := crypto.Keccak256([]byte("payload under test"))
	sig, err := signer.SignDigest(digest)
	if err != nil {
		t.Fatalf("Failed to sign digest: %v", err)
	}

	// Normalize v back to a recovery id and recover the signer.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}
	pubKey, err := crypto.SigToPub(digest, recSig)
	if err != nil {
		t.Fatalf("Failed to recover public key: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pubKey); got != signer.Address() {
		t.Errorf("Recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}
}
