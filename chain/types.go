package chain

import (
	"github.com/gagliardetto/solana-go"
)

// SignatureRef identifies one confirmed transaction for ordering and
// checkpointing. Never mutated after discovery.
type SignatureRef struct {
	// Signature is the transaction's ledger identifier
	Signature solana.Signature

	// Slot is the slot the transaction was confirmed in
	Slot uint64

	// BlockTime is the estimated production time in epoch seconds; may be nil
	// on nodes that do not serve block times
	BlockTime *int64
}

// BlockTimeOrZero returns the block time, or 0 when the node omitted it.
func (r SignatureRef) BlockTimeOrZero() int64 {
	if r.BlockTime == nil {
		return 0
	}
	return *r.BlockTime
}

// RawEvent is the canonical wire record extracted from one Anchor
// "Program data:" log line. The discriminator plus fixed-layout payload is
// the only schema the normalizer accepts; there is no field-name probing
// downstream of this type.
type RawEvent struct {
	// Discriminator is the 8-byte Anchor event tag: sha256("event:" + Name)[:8]
	Discriminator [8]byte

	// Payload is the Borsh-encoded event body following the discriminator
	Payload []byte
}

// TransactionEvents carries every raw event found in one transaction's logs,
// together with the ordering metadata of that transaction.
type TransactionEvents struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime *int64
	Events    []RawEvent
}
