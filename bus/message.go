package bus

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/waLLLnut/lattica-server-sub000/events"
)

// Channel names a delivery scope on the bus. Every message goes to the
// global channel; messages carrying a target owner are additionally
// delivered to that owner's user channel.
type Channel string

// GlobalChannel receives every published message.
const GlobalChannel Channel = "global"

// UserChannel returns the per-principal channel for an owner public key.
func UserChannel(owner string) Channel {
	return Channel("user:" + owner)
}

// MessageType discriminates the published message payloads.
type MessageType string

const (
	// TypeCiphertextRegistered announces an optimistic registration made by
	// an external publisher before chain confirmation.
	TypeCiphertextRegistered MessageType = "ciphertext.registered"

	// TypeCiphertextConfirmed announces a chain-confirmed input handle.
	TypeCiphertextConfirmed MessageType = "ciphertext.confirmed"

	// TypeOperationCompleted announces a chain-confirmed FHE operation.
	TypeOperationCompleted MessageType = "operation.completed"

	// TypeOperationFailed announces a failed operation submission.
	TypeOperationFailed MessageType = "operation.failed"

	// TypeIndexerStatus carries indexer lifecycle transitions.
	TypeIndexerStatus MessageType = "indexer.status"

	// TypeIndexerError carries non-fatal indexer errors.
	TypeIndexerError MessageType = "indexer.error"
)

// Message is the unit of delivery on the bus. EventID is lexicographically
// sortable so that sorted order approximates chain order; durable history
// relies on this for range scans.
type Message struct {
	EventID     string          `json:"eventId"`
	EventType   MessageType     `json:"eventType"`
	PublishedAt int64           `json:"publishedAt"`
	TargetOwner string          `json:"targetOwner,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Channels returns the delivery scopes for this message.
func (m Message) Channels() []Channel {
	if m.TargetOwner == "" {
		return []Channel{GlobalChannel}
	}
	return []Channel{GlobalChannel, UserChannel(m.TargetOwner)}
}

// Durable reports whether the message belongs in the durable history store.
// Only chain-derived messages do; transient status ids start with 't'.
func (m Message) Durable() bool {
	return len(m.EventID) > 0 && m.EventID[0] == 's'
}

// ChainEventID builds the id for a chain-derived message. The zero-padded
// slot leads so lexicographic order tracks slot order; the signature prefix
// disambiguates within a slot and the publish timestamp breaks remaining
// ties.
func ChainEventID(slot uint64, sig solana.Signature, publishedAt time.Time) string {
	return fmt.Sprintf("s%020d-%s-%013d", slot, sig.String()[:8], publishedAt.UnixMilli())
}

// StatusEventID builds the id for a transient status message.
func StatusEventID(publishedAt time.Time) string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("t%013d-%s", publishedAt.UnixMilli(), hex.EncodeToString(suffix[:]))
}

// CiphertextPayload is the payload of ciphertext.registered and
// ciphertext.confirmed messages.
type CiphertextPayload struct {
	Handle    events.Handle `json:"handle"`
	ClientTag events.Handle `json:"clientTag"`
	Caller    string        `json:"caller"`
	Slot      uint64        `json:"slot,omitempty"`
	Signature string        `json:"signature,omitempty"`
	BlockTime *int64        `json:"blockTime,omitempty"`
}

// OperationPayload is the payload of operation.completed and
// operation.failed messages.
type OperationPayload struct {
	Kind         events.Kind     `json:"kind"`
	Op           string          `json:"op"`
	Operands     []events.Handle `json:"operands"`
	ResultHandle events.Handle   `json:"resultHandle"`
	Caller       string          `json:"caller"`
	Slot         uint64          `json:"slot,omitempty"`
	Signature    string          `json:"signature,omitempty"`
	BlockTime    *int64          `json:"blockTime,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// StatusPayload is the payload of indexer.status and indexer.error messages.
type StatusPayload struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
	Slot   uint64 `json:"slot,omitempty"`
}

// FromEvent converts a normalized chain event into its bus message. The
// caller becomes the target owner so user channels see their own activity.
func FromEvent(ev events.Event, publishedAt time.Time) (Message, error) {
	var (
		msgType MessageType
		payload any
	)

	switch e := ev.(type) {
	case *events.InputHandleRegistered:
		msgType = TypeCiphertextConfirmed
		payload = CiphertextPayload{
			Handle:    e.Handle,
			ClientTag: e.ClientTag,
			Caller:    e.Caller().String(),
			Slot:      e.Slot(),
			Signature: e.Signature().String(),
			BlockTime: e.BlockTime(),
		}
	case *events.UnaryOpRequested:
		msgType = TypeOperationCompleted
		payload = OperationPayload{
			Kind:         e.Kind(),
			Op:           e.Op.String(),
			Operands:     []events.Handle{e.InputHandle},
			ResultHandle: e.ResultHandle,
			Caller:       e.Caller().String(),
			Slot:         e.Slot(),
			Signature:    e.Signature().String(),
			BlockTime:    e.BlockTime(),
		}
	case *events.BinaryOpRequested:
		msgType = TypeOperationCompleted
		payload = OperationPayload{
			Kind:         e.Kind(),
			Op:           e.Op.String(),
			Operands:     []events.Handle{e.LhsHandle, e.RhsHandle},
			ResultHandle: e.ResultHandle,
			Caller:       e.Caller().String(),
			Slot:         e.Slot(),
			Signature:    e.Signature().String(),
			BlockTime:    e.BlockTime(),
		}
	case *events.TernaryOpRequested:
		msgType = TypeOperationCompleted
		payload = OperationPayload{
			Kind:         e.Kind(),
			Op:           e.Op.String(),
			Operands:     []events.Handle{e.AHandle, e.BHandle, e.CHandle},
			ResultHandle: e.ResultHandle,
			Caller:       e.Caller().String(),
			Slot:         e.Slot(),
			Signature:    e.Signature().String(),
			BlockTime:    e.BlockTime(),
		}
	default:
		return Message{}, fmt.Errorf("unsupported event kind %q", ev.Kind())
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return Message{
		EventID:     ChainEventID(ev.Slot(), ev.Signature(), publishedAt),
		EventType:   msgType,
		PublishedAt: publishedAt.UnixMilli(),
		TargetOwner: ev.Caller().String(),
		Payload:     data,
	}, nil
}

// StatusMessage builds a transient global message.
func StatusMessage(msgType MessageType, payload StatusPayload, publishedAt time.Time) Message {
	data, _ := json.Marshal(payload)
	return Message{
		EventID:     StatusEventID(publishedAt),
		EventType:   msgType,
		PublishedAt: publishedAt.UnixMilli(),
		Payload:     data,
	}
}
