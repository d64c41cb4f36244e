package bus

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waLLLnut/lattica-server-sub000/events"
)

func testSig(seed byte) solana.Signature {
	var sig solana.Signature
	for i := range sig {
		sig[i] = seed
	}
	return sig
}

func testHandle(seed byte) events.Handle {
	var h events.Handle
	for i := range h {
		h[i] = seed
	}
	return h
}

func testCaller(seed byte) solana.PublicKey {
	var b [32]byte
	for i := range b {
		b[i] = seed
	}
	return solana.PublicKeyFromBytes(b[:])
}

func TestChainEventID_SortsBySlot(t *testing.T) {
	now := time.Now()

	ids := []string{
		ChainEventID(300, testSig(3), now),
		ChainEventID(5, testSig(1), now),
		ChainEventID(100, testSig(2), now),
	}
	sort.Strings(ids)

	assert.Contains(t, ids[0], "s00000000000000000005")
	assert.Contains(t, ids[1], "s00000000000000000100")
	assert.Contains(t, ids[2], "s00000000000000000300")
}

func TestChainEventID_TimestampBreaksTies(t *testing.T) {
	base := time.UnixMilli(1700000000000)

	first := ChainEventID(7, testSig(1), base)
	second := ChainEventID(7, testSig(1), base.Add(time.Millisecond))
	assert.Less(t, first, second)
}

func TestEventIDs_Durability(t *testing.T) {
	chainMsg := Message{EventID: ChainEventID(1, testSig(1), time.Now())}
	assert.True(t, chainMsg.Durable())

	statusMsg := Message{EventID: StatusEventID(time.Now())}
	assert.False(t, statusMsg.Durable())

	assert.False(t, Message{}.Durable())
}

func TestMessage_Channels(t *testing.T) {
	global := Message{EventID: "t1"}
	assert.Equal(t, []Channel{GlobalChannel}, global.Channels())

	owned := Message{EventID: "s1", TargetOwner: "alice"}
	assert.Equal(t, []Channel{GlobalChannel, UserChannel("alice")}, owned.Channels())
}

func TestFromEvent_InputHandleRegistered(t *testing.T) {
	bt := int64(1700000000)
	caller := testCaller(0x10)
	ev := &events.InputHandleRegistered{
		Meta: events.Meta{
			TxSignature: testSig(0x20),
			TxSlot:      42,
			TxBlockTime: &bt,
			EventCaller: caller,
		},
		Handle:    testHandle(1),
		ClientTag: testHandle(2),
	}

	msg, err := FromEvent(ev, time.Now())
	require.NoError(t, err)

	assert.Equal(t, TypeCiphertextConfirmed, msg.EventType)
	assert.Equal(t, caller.String(), msg.TargetOwner)
	assert.True(t, msg.Durable())

	var payload CiphertextPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, testHandle(1), payload.Handle)
	assert.Equal(t, testHandle(2), payload.ClientTag)
	assert.Equal(t, uint64(42), payload.Slot)
}

func TestFromEvent_BinaryOpRequested(t *testing.T) {
	ev := &events.BinaryOpRequested{
		Meta: events.Meta{
			TxSignature: testSig(0x21),
			TxSlot:      43,
			EventCaller: testCaller(0x11),
		},
		Op:           events.BinaryXor,
		LhsHandle:    testHandle(1),
		RhsHandle:    testHandle(2),
		ResultHandle: testHandle(3),
	}

	msg, err := FromEvent(ev, time.Now())
	require.NoError(t, err)
	assert.Equal(t, TypeOperationCompleted, msg.EventType)

	var payload OperationPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "XOR", payload.Op)
	assert.Equal(t, []events.Handle{testHandle(1), testHandle(2)}, payload.Operands)
	assert.Equal(t, testHandle(3), payload.ResultHandle)
}

func TestFromEvent_TernaryOpRequested(t *testing.T) {
	ev := &events.TernaryOpRequested{
		Meta: events.Meta{
			TxSignature: testSig(0x22),
			TxSlot:      44,
			EventCaller: testCaller(0x12),
		},
		Op:           events.TernarySelect,
		AHandle:      testHandle(1),
		BHandle:      testHandle(2),
		CHandle:      testHandle(3),
		ResultHandle: testHandle(4),
	}

	msg, err := FromEvent(ev, time.Now())
	require.NoError(t, err)

	var payload OperationPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Len(t, payload.Operands, 3)
	assert.Equal(t, "SELECT", payload.Op)
}

func TestStatusMessage(t *testing.T) {
	msg := StatusMessage(TypeIndexerStatus, StatusPayload{State: "running", Slot: 9}, time.Now())

	assert.Equal(t, TypeIndexerStatus, msg.EventType)
	assert.Empty(t, msg.TargetOwner)
	assert.False(t, msg.Durable())
	assert.Equal(t, []Channel{GlobalChannel}, msg.Channels())
}
