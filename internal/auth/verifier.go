package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Request header names carrying the authentication triple.
const (
	HeaderAddress   = "X-Auth-Address"
	HeaderSignature = "X-Auth-Signature"
	HeaderTimestamp = "X-Auth-Timestamp"
)

// TimestampWindow is the maximum drift, in either direction, between the
// request timestamp and the gateway clock.
const TimestampWindow = 60 * time.Second

const signatureLength = 65

// Digest returns the hash a caller signs for one request: the keccak256 of
// the address string, the decimal timestamp, and the hex keccak256 of the
// body, concatenated. The address goes in exactly as it appears in the
// header, so signer and verifier must agree on its casing.
func Digest(address string, timestamp uint64, body []byte) []byte {
	bodyHash := crypto.Keccak256(body)
	message := address + strconv.FormatUint(timestamp, 10) + hex.EncodeToString(bodyHash)
	return crypto.Keccak256([]byte(message))
}

// VerifyRequest checks the authentication triple against the request body.
// The returned error text is sent back to the caller verbatim, prefixed
// with "Authentication failed: ".
func VerifyRequest(address, signature string, timestamp uint64, body []byte) error {
	now := uint64(time.Now().Unix())
	drift := absDiff(now, timestamp)
	if drift > uint64(TimestampWindow/time.Second) {
		return fmt.Errorf("Timestamp outside window: %d seconds drift", drift)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return fmt.Errorf("Invalid signature format: %v", err)
	}
	if len(sig) != signatureLength {
		return fmt.Errorf("Invalid signature format: expected %d bytes, got %d", signatureLength, len(sig))
	}
	// Accept both raw recovery IDs and the 27/28 convention.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	publicKey, err := crypto.SigToPub(Digest(address, timestamp, body), sig)
	if err != nil {
		return fmt.Errorf("Failed to recover address: %v", err)
	}
	recovered := crypto.PubkeyToAddress(*publicKey)

	if !common.IsHexAddress(address) {
		return fmt.Errorf("Invalid address format: %s", address)
	}
	claimed := common.HexToAddress(address)

	if recovered != claimed {
		return errors.New("Signature verification failed: address mismatch")
	}

	return nil
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
