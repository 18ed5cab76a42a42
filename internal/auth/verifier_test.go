package auth

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlockchainCap/bcap-x402-payment-middleware/x402"
)

// Well-known test key, never funded.
const testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testBody = `{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":1}`

func signRequest(t *testing.T, signer *x402.Signer, address string, timestamp uint64, body []byte) string {
	t.Helper()

	sig, err := signer.SignDigest(Digest(address, timestamp, body))
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(sig)
}

func TestVerifyRequestAcceptsSignedRequest(t *testing.T) {
	signer, err := x402.NewSignerFromPrivateKey(testPrivateKey)
	require.NoError(t, err)

	address := strings.ToLower(signer.Address().Hex())
	timestamp := uint64(time.Now().Unix())
	body := []byte(testBody)

	signature := signRequest(t, signer, address, timestamp, body)
	assert.NoError(t, VerifyRequest(address, signature, timestamp, body))
}

func TestVerifyRequestAcceptsChecksummedAddress(t *testing.T) {
	signer, err := x402.NewSignerFromPrivateKey(testPrivateKey)
	require.NoError(t, err)

	address := signer.Address().Hex()
	timestamp := uint64(time.Now().Unix())
	body := []byte(testBody)

	signature := signRequest(t, signer, address, timestamp, body)
	assert.NoError(t, VerifyRequest(address, signature, timestamp, body))
}

func TestVerifyRequestAcceptsRawRecoveryID(t *testing.T) {
	signer, err := x402.NewSignerFromPrivateKey(testPrivateKey)
	require.NoError(t, err)

	address := strings.ToLower(signer.Address().Hex())
	timestamp := uint64(time.Now().Unix())
	body := []byte(testBody)

	sig, err := signer.SignDigest(Digest(address, timestamp, body))
	require.NoError(t, err)
	sig[64] -= 27

	assert.NoError(t, VerifyRequest(address, "0x"+hex.EncodeToString(sig), timestamp, body))
}

func TestVerifyRequestRejectsDrift(t *testing.T) {
	signer, err := x402.NewSignerFromPrivateKey(testPrivateKey)
	require.NoError(t, err)

	address := strings.ToLower(signer.Address().Hex())
	body := []byte(testBody)

	for _, age := range []uint64{61, 120} {
		timestamp := uint64(time.Now().Unix()) - age
		signature := signRequest(t, signer, address, timestamp, body)
		err = VerifyRequest(address, signature, timestamp, body)
		require.Error(t, err, "age %d", age)
		assert.Contains(t, err.Error(), "Timestamp outside window", "age %d", age)
	}
}

func TestVerifyRequestAcceptsDriftInsideWindow(t *testing.T) {
	signer, err := x402.NewSignerFromPrivateKey(testPrivateKey)
	require.NoError(t, err)

	address := strings.ToLower(signer.Address().Hex())
	body := []byte(testBody)

	for _, offset := range []int64{-59, 59} {
		timestamp := uint64(time.Now().Unix() + offset)
		signature := signRequest(t, signer, address, timestamp, body)
		assert.NoError(t, VerifyRequest(address, signature, timestamp, body), "offset %d", offset)
	}
}

func TestVerifyRequestRejectsTamperedBody(t *testing.T) {
	signer, err := x402.NewSignerFromPrivateKey(testPrivateKey)
	require.NoError(t, err)

	address := strings.ToLower(signer.Address().Hex())
	timestamp := uint64(time.Now().Unix())

	signature := signRequest(t, signer, address, timestamp, []byte(testBody))
	err = VerifyRequest(address, signature, timestamp, []byte(`{"jsonrpc":"2.0","method":"eth_sendRawTransaction","params":["0x00"],"id":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address mismatch")
}

func TestVerifyRequestRejectsWrongSigner(t *testing.T) {
	signer, err := x402.NewSignerFromPrivateKey(testPrivateKey)
	require.NoError(t, err)
	other, err := x402.NewSignerFromPrivateKey("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	require.NoError(t, err)

	claimed := strings.ToLower(signer.Address().Hex())
	timestamp := uint64(time.Now().Unix())
	body := []byte(testBody)

	signature := signRequest(t, other, claimed, timestamp, body)
	err = VerifyRequest(claimed, signature, timestamp, body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address mismatch")
}

func TestVerifyRequestRejectsGarbageSignature(t *testing.T) {
	timestamp := uint64(time.Now().Unix())

	for _, signature := range []string{"0xzz", "0x1234", "not-hex-at-all"} {
		err := VerifyRequest("0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", signature, timestamp, []byte(testBody))
		require.Error(t, err, "signature %q", signature)
		assert.Contains(t, err.Error(), "Invalid signature format", "signature %q", signature)
	}
}

func TestVerifyRequestRejectsMalformedAddress(t *testing.T) {
	signer, err := x402.NewSignerFromPrivateKey(testPrivateKey)
	require.NoError(t, err)

	address := "not-an-address"
	timestamp := uint64(time.Now().Unix())
	body := []byte(testBody)

	signature := signRequest(t, signer, address, timestamp, body)
	err = VerifyRequest(address, signature, timestamp, body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid address format")
}
