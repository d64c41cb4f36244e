package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// HandleSize is the exact byte length of every ciphertext handle.
const HandleSize = 32

// Handle identifies one ciphertext. Always exactly 32 bytes; events carrying
// a handle of any other length are never constructed.
type Handle [HandleSize]byte

// HandleFromBytes converts a byte slice into a Handle, rejecting any length
// other than exactly 32 bytes.
func HandleFromBytes(b []byte) (Handle, error) {
	var h Handle
	if len(b) != HandleSize {
		return h, fmt.Errorf("handle must be %d bytes, got %d", HandleSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// String returns the hex encoding of the handle.
func (h Handle) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalJSON encodes the handle as a hex string.
func (h Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into the handle.
func (h *Handle) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid handle hex: %w", err)
	}
	decoded, err := HandleFromBytes(b)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// Kind discriminates the closed set of indexed event variants.
type Kind string

const (
	// KindInputHandleRegistered marks a new ciphertext input registration
	KindInputHandleRegistered Kind = "InputHandleRegistered"

	// KindUnaryOpRequested marks a one-operand FHE operation request
	KindUnaryOpRequested Kind = "UnaryOpRequested"

	// KindBinaryOpRequested marks a two-operand FHE operation request
	KindBinaryOpRequested Kind = "BinaryOpRequested"

	// KindTernaryOpRequested marks a three-operand FHE operation request
	KindTernaryOpRequested Kind = "TernaryOpRequested"
)

// On-chain Anchor event names, used to derive log discriminators.
const (
	chainNameInputHandleRegistered = "InputHandleRegistered"
	chainNameUnaryOpRequested      = "Fhe16UnaryOpRequested"
	chainNameBinaryOpRequested     = "Fhe16BinaryOpRequested"
	chainNameTernaryOpRequested    = "Fhe16TernaryOpRequested"
)

// EventDiscriminator returns the 8-byte Anchor discriminator for an event
// name: sha256("event:" + name)[:8].
func EventDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("event:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Meta carries the fields common to every indexed event. Immutable once the
// event is constructed.
type Meta struct {
	TxSignature solana.Signature `json:"signature"`
	TxSlot      uint64           `json:"slot"`
	TxBlockTime *int64           `json:"blockTime"`
	EventCaller solana.PublicKey `json:"caller"`
}

// Signature returns the transaction signature the event came from.
func (m Meta) Signature() solana.Signature { return m.TxSignature }

// Slot returns the slot the event's transaction was confirmed in.
func (m Meta) Slot() uint64 { return m.TxSlot }

// BlockTime returns the transaction's block time, or nil when unknown.
func (m Meta) BlockTime() *int64 { return m.TxBlockTime }

// Caller returns the principal that submitted the transaction.
func (m Meta) Caller() solana.PublicKey { return m.EventCaller }

// Event is the closed interface over the indexed event variants.
type Event interface {
	Kind() Kind
	Signature() solana.Signature
	Slot() uint64
	BlockTime() *int64
	Caller() solana.PublicKey
}

// InputHandleRegistered records a new ciphertext input registration.
type InputHandleRegistered struct {
	Meta
	Handle    Handle `json:"handle"`
	ClientTag Handle `json:"clientTag"`
}

// Kind implements Event.
func (e *InputHandleRegistered) Kind() Kind { return KindInputHandleRegistered }

// UnaryOpRequested records a one-operand FHE operation request.
type UnaryOpRequested struct {
	Meta
	Op           UnaryOp `json:"op"`
	InputHandle  Handle  `json:"inputHandle"`
	ResultHandle Handle  `json:"resultHandle"`
}

// Kind implements Event.
func (e *UnaryOpRequested) Kind() Kind { return KindUnaryOpRequested }

// BinaryOpRequested records a two-operand FHE operation request.
type BinaryOpRequested struct {
	Meta
	Op           BinaryOp `json:"op"`
	LhsHandle    Handle   `json:"lhsHandle"`
	RhsHandle    Handle   `json:"rhsHandle"`
	ResultHandle Handle   `json:"resultHandle"`
}

// Kind implements Event.
func (e *BinaryOpRequested) Kind() Kind { return KindBinaryOpRequested }

// TernaryOpRequested records a three-operand FHE operation request.
type TernaryOpRequested struct {
	Meta
	Op           TernaryOp `json:"op"`
	AHandle      Handle    `json:"aHandle"`
	BHandle      Handle    `json:"bHandle"`
	CHandle      Handle    `json:"cHandle"`
	ResultHandle Handle    `json:"resultHandle"`
}

// Kind implements Event.
func (e *TernaryOpRequested) Kind() Kind { return KindTernaryOpRequested }
