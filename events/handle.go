package events

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

// Domain separation tags for predicted result handles. Each arity hashes
// under its own tag so colliding operand sets across arities cannot produce
// the same handle.
const (
	domainTagUnary   = "FHE16_UNARY_V1"
	domainTagBinary  = "FHE16_BINARY_V1"
	domainTagTernary = "FHE16_TERNARY_V1"
)

func deriveHandle(tag string, program solana.PublicKey, op byte, operands ...Handle) Handle {
	h := sha256.New()
	h.Write([]byte(tag))
	h.Write(program[:])
	h.Write([]byte{op})
	for _, operand := range operands {
		h.Write(operand[:])
	}

	var out Handle
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveUnaryHandle predicts the result handle of a unary operation before
// the chain confirms it. Matches the on-chain derivation byte for byte.
func DeriveUnaryHandle(program solana.PublicKey, op UnaryOp, input Handle) Handle {
	return deriveHandle(domainTagUnary, program, byte(op), input)
}

// DeriveBinaryHandle predicts the result handle of a binary operation.
func DeriveBinaryHandle(program solana.PublicKey, op BinaryOp, lhs, rhs Handle) Handle {
	return deriveHandle(domainTagBinary, program, byte(op), lhs, rhs)
}

// DeriveTernaryHandle predicts the result handle of a ternary operation.
func DeriveTernaryHandle(program solana.PublicKey, op TernaryOp, a, b, c Handle) Handle {
	return deriveHandle(domainTagTernary, program, byte(op), a, b, c)
}
