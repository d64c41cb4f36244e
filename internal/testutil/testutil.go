package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// NewTestLogger creates a test logger that doesn't output to console
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zap.NewNop()
}

// TestPubkey returns a deterministic public key for the given seed.
func TestPubkey(seed byte) solana.PublicKey {
	var b [32]byte
	for i := range b {
		b[i] = seed
	}
	return solana.PublicKeyFromBytes(b[:])
}

// TestSignature returns a deterministic base58 signature string for the
// given sequence number. Distinct numbers produce distinct signatures.
func TestSignature(n int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("signature-%d", n)))
	var sig solana.Signature
	copy(sig[:], sum[:])
	copy(sig[32:], sum[:])
	return sig.String()
}

// EventDiscriminator computes the 8-byte discriminator for a chain
// event name.
func EventDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("event:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// EventLogLine builds the program log line carrying the given event as
// the runtime emits it.
func EventLogLine(name string, payload []byte) string {
	d := EventDiscriminator(name)
	data := append(d[:], payload...)
	return "Program data: " + base64.StdEncoding.EncodeToString(data)
}

// RegisteredPayload builds an InputHandleRegistered payload.
func RegisteredPayload(caller solana.PublicKey, handle, clientTag [32]byte) []byte {
	out := make([]byte, 0, 96)
	out = append(out, caller[:]...)
	out = append(out, handle[:]...)
	out = append(out, clientTag[:]...)
	return out
}

// UnaryPayload builds a Fhe16UnaryOpRequested payload.
func UnaryPayload(caller solana.PublicKey, op byte, input, result [32]byte) []byte {
	out := make([]byte, 0, 97)
	out = append(out, caller[:]...)
	out = append(out, op)
	out = append(out, input[:]...)
	out = append(out, result[:]...)
	return out
}

// BinaryPayload builds a Fhe16BinaryOpRequested payload.
func BinaryPayload(caller solana.PublicKey, op byte, lhs, rhs, result [32]byte) []byte {
	out := make([]byte, 0, 129)
	out = append(out, caller[:]...)
	out = append(out, op)
	out = append(out, lhs[:]...)
	out = append(out, rhs[:]...)
	out = append(out, result[:]...)
	return out
}

// TernaryPayload builds a Fhe16TernaryOpRequested payload.
func TernaryPayload(caller solana.PublicKey, op byte, a, b, c, result [32]byte) []byte {
	out := make([]byte, 0, 161)
	out = append(out, caller[:]...)
	out = append(out, op)
	out = append(out, a[:]...)
	out = append(out, b[:]...)
	out = append(out, c[:]...)
	out = append(out, result[:]...)
	return out
}

// Handle32 returns a deterministic 32-byte handle for the given seed.
func Handle32(seed byte) [32]byte {
	var h [32]byte
	for i := range h {
		h[i] = seed
	}
	return h
}

// AssertNoError is a helper to assert that there is no error
func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%s: %v", msgAndArgs[0], err)
		} else {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
}
