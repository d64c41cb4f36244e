package events

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/chain"
)

// ErrMalformedEvent marks a raw record that cannot become a typed event.
// Malformed events are dropped, never constructed.
var ErrMalformedEvent = errors.New("malformed event")

// Fixed Borsh payload sizes, excluding the 8-byte discriminator.
const (
	sizeInputHandleRegistered = 32 + 32 + 32     // caller, handle, client_tag
	sizeUnaryOpRequested      = 32 + 1 + 32*2    // caller, op, input, result
	sizeBinaryOpRequested     = 32 + 1 + 32*3    // caller, op, lhs, rhs, result
	sizeTernaryOpRequested    = 32 + 1 + 32*4    // caller, op, a, b, c, result
)

// Normalizer converts raw log-derived records into the closed typed event
// set. It is a pure defensive mapping: a record that fails validation is
// rejected without affecting its siblings.
type Normalizer struct {
	logger *zap.Logger

	discInputHandleRegistered [8]byte
	discUnaryOpRequested      [8]byte
	discBinaryOpRequested     [8]byte
	discTernaryOpRequested    [8]byte
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		logger:                    logger,
		discInputHandleRegistered: EventDiscriminator(chainNameInputHandleRegistered),
		discUnaryOpRequested:      EventDiscriminator(chainNameUnaryOpRequested),
		discBinaryOpRequested:     EventDiscriminator(chainNameBinaryOpRequested),
		discTernaryOpRequested:    EventDiscriminator(chainNameTernaryOpRequested),
	}
}

// Normalize converts one raw record into a typed event, or reports why it
// cannot. The returned error always wraps ErrMalformedEvent.
func (n *Normalizer) Normalize(meta Meta, raw chain.RawEvent) (Event, error) {
	switch raw.Discriminator {
	case n.discInputHandleRegistered:
		return n.normalizeInputHandleRegistered(meta, raw.Payload)
	case n.discUnaryOpRequested:
		return n.normalizeUnaryOpRequested(meta, raw.Payload)
	case n.discBinaryOpRequested:
		return n.normalizeBinaryOpRequested(meta, raw.Payload)
	case n.discTernaryOpRequested:
		return n.normalizeTernaryOpRequested(meta, raw.Payload)
	default:
		return nil, fmt.Errorf("%w: unknown discriminator %x", ErrMalformedEvent, raw.Discriminator)
	}
}

// NormalizeTransaction converts every raw event of one transaction. Records
// failing validation are dropped with a warning; the rest of the transaction
// still normalizes.
func (n *Normalizer) NormalizeTransaction(tx *chain.TransactionEvents) []Event {
	if tx == nil || len(tx.Events) == 0 {
		return nil
	}

	normalized := make([]Event, 0, len(tx.Events))
	for _, raw := range tx.Events {
		caller, err := callerFromPayload(raw.Payload)
		if err != nil {
			n.logger.Warn("dropping malformed event",
				zap.String("signature", tx.Signature.String()),
				zap.Uint64("slot", tx.Slot),
				zap.Error(err))
			continue
		}

		meta := Meta{
			TxSignature: tx.Signature,
			TxSlot:      tx.Slot,
			TxBlockTime: tx.BlockTime,
			EventCaller: caller,
		}

		event, err := n.Normalize(meta, raw)
		if err != nil {
			n.logger.Warn("dropping malformed event",
				zap.String("signature", tx.Signature.String()),
				zap.Uint64("slot", tx.Slot),
				zap.Error(err))
			continue
		}
		normalized = append(normalized, event)
	}

	return normalized
}

// callerFromPayload reads the leading caller pubkey shared by every variant.
func callerFromPayload(payload []byte) (solana.PublicKey, error) {
	if len(payload) < solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("%w: payload too short for caller", ErrMalformedEvent)
	}
	return solana.PublicKeyFromBytes(payload[:solana.PublicKeyLength]), nil
}

func (n *Normalizer) normalizeInputHandleRegistered(meta Meta, payload []byte) (Event, error) {
	if len(payload) != sizeInputHandleRegistered {
		return nil, fmt.Errorf("%w: InputHandleRegistered payload is %d bytes, want %d",
			ErrMalformedEvent, len(payload), sizeInputHandleRegistered)
	}

	handle, err := HandleFromBytes(payload[32:64])
	if err != nil {
		return nil, fmt.Errorf("%w: handle: %v", ErrMalformedEvent, err)
	}
	clientTag, err := HandleFromBytes(payload[64:96])
	if err != nil {
		return nil, fmt.Errorf("%w: client tag: %v", ErrMalformedEvent, err)
	}

	return &InputHandleRegistered{Meta: meta, Handle: handle, ClientTag: clientTag}, nil
}

func (n *Normalizer) normalizeUnaryOpRequested(meta Meta, payload []byte) (Event, error) {
	if len(payload) != sizeUnaryOpRequested {
		return nil, fmt.Errorf("%w: UnaryOpRequested payload is %d bytes, want %d",
			ErrMalformedEvent, len(payload), sizeUnaryOpRequested)
	}

	op := UnaryOp(payload[32])
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown unary op %d", ErrMalformedEvent, payload[32])
	}

	input, err := HandleFromBytes(payload[33:65])
	if err != nil {
		return nil, fmt.Errorf("%w: input handle: %v", ErrMalformedEvent, err)
	}
	result, err := HandleFromBytes(payload[65:97])
	if err != nil {
		return nil, fmt.Errorf("%w: result handle: %v", ErrMalformedEvent, err)
	}

	return &UnaryOpRequested{Meta: meta, Op: op, InputHandle: input, ResultHandle: result}, nil
}

func (n *Normalizer) normalizeBinaryOpRequested(meta Meta, payload []byte) (Event, error) {
	if len(payload) != sizeBinaryOpRequested {
		return nil, fmt.Errorf("%w: BinaryOpRequested payload is %d bytes, want %d",
			ErrMalformedEvent, len(payload), sizeBinaryOpRequested)
	}

	op := BinaryOp(payload[32])
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown binary op %d", ErrMalformedEvent, payload[32])
	}

	lhs, err := HandleFromBytes(payload[33:65])
	if err != nil {
		return nil, fmt.Errorf("%w: lhs handle: %v", ErrMalformedEvent, err)
	}
	rhs, err := HandleFromBytes(payload[65:97])
	if err != nil {
		return nil, fmt.Errorf("%w: rhs handle: %v", ErrMalformedEvent, err)
	}
	result, err := HandleFromBytes(payload[97:129])
	if err != nil {
		return nil, fmt.Errorf("%w: result handle: %v", ErrMalformedEvent, err)
	}

	return &BinaryOpRequested{Meta: meta, Op: op, LhsHandle: lhs, RhsHandle: rhs, ResultHandle: result}, nil
}

func (n *Normalizer) normalizeTernaryOpRequested(meta Meta, payload []byte) (Event, error) {
	if len(payload) != sizeTernaryOpRequested {
		return nil, fmt.Errorf("%w: TernaryOpRequested payload is %d bytes, want %d",
			ErrMalformedEvent, len(payload), sizeTernaryOpRequested)
	}

	op := TernaryOp(payload[32])
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown ternary op %d", ErrMalformedEvent, payload[32])
	}

	a, err := HandleFromBytes(payload[33:65])
	if err != nil {
		return nil, fmt.Errorf("%w: a handle: %v", ErrMalformedEvent, err)
	}
	b, err := HandleFromBytes(payload[65:97])
	if err != nil {
		return nil, fmt.Errorf("%w: b handle: %v", ErrMalformedEvent, err)
	}
	c, err := HandleFromBytes(payload[97:129])
	if err != nil {
		return nil, fmt.Errorf("%w: c handle: %v", ErrMalformedEvent, err)
	}
	result, err := HandleFromBytes(payload[129:161])
	if err != nil {
		return nil, fmt.Errorf("%w: result handle: %v", ErrMalformedEvent, err)
	}

	return &TernaryOpRequested{Meta: meta, Op: op, AHandle: a, BHandle: b, CHandle: c, ResultHandle: result}, nil
}
