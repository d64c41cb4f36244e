package indexer

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/chain"
	"github.com/waLLLnut/lattica-server-sub000/events"
	"github.com/waLLLnut/lattica-server-sub000/internal/testutil"
	"github.com/waLLLnut/lattica-server-sub000/state"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

func TestPublisher_Handle(t *testing.T) {
	b := bus.NewLocalBus(16)
	go b.Run()
	defer b.Stop()

	store := storage.NewMemoryStore()
	states := state.NewStore(time.Minute, zap.NewNop())
	pub := NewPublisher(b, store, states, zap.NewNop())

	sub := b.Subscribe("s", []bus.Channel{bus.GlobalChannel}, 16)

	caller := testutil.TestPubkey(0x01)
	handle := handleFromSeed(0xaa)
	ev := &events.InputHandleRegistered{
		Meta: events.Meta{
			TxSignature: solana.MustSignatureFromBase58(testutil.TestSignature(1)),
			TxSlot:      42,
			EventCaller: caller,
		},
		Handle:    handle,
		ClientTag: handleFromSeed(0xbb),
	}

	require.NoError(t, pub.Handle(context.Background(), ev))

	// History row written before the live publish
	assert.Equal(t, 1, store.EventCount())

	select {
	case msg := <-sub.Ch:
		assert.Equal(t, bus.TypeCiphertextConfirmed, msg.EventType)
		assert.Equal(t, caller.String(), msg.TargetOwner)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for published message")
	}

	// The chain event settled the state machine
	entry, ok := states.Get(handle)
	require.True(t, ok)
	assert.Equal(t, state.StatusConfirmed, entry.Status)
	assert.Equal(t, uint64(42), entry.Slot)
}

func handleFromSeed(seed byte) events.Handle {
	b := testutil.Handle32(seed)
	h, _ := events.HandleFromBytes(b[:])
	return h
}

// End to end through the polling pipeline: chain logs in, ordered bus
// messages out, history filled, state settled.
func TestPipeline_EndToEnd(t *testing.T) {
	client := newFakeClient()
	store := storage.NewMemoryStore()
	states := state.NewStore(time.Minute, zap.NewNop())

	b := bus.NewLocalBus(64)
	go b.Run()
	defer b.Stop()

	alice := testutil.TestPubkey(0x01)
	aliceSub := b.Subscribe("alice", []bus.Channel{bus.UserChannel(alice.String())}, 64)

	// Slot 100: input registration; slot 105: binary op consuming it
	inputHandle := testutil.Handle32(0x10)
	resultHandle := testutil.Handle32(0x20)

	sig1 := solana.MustSignatureFromBase58(testutil.TestSignature(1))
	bt1 := int64(1700000100)
	client.txs[sig1] = &chain.TransactionEvents{
		Signature: sig1,
		Slot:      100,
		BlockTime: &bt1,
		Events: chain.ExtractRawEvents([]string{
			testutil.EventLogLine("InputHandleRegistered",
				testutil.RegisteredPayload(alice, inputHandle, testutil.Handle32(0xcc))),
		}),
	}

	sig2 := solana.MustSignatureFromBase58(testutil.TestSignature(2))
	bt2 := int64(1700000105)
	client.txs[sig2] = &chain.TransactionEvents{
		Signature: sig2,
		Slot:      105,
		BlockTime: &bt2,
		Events: chain.ExtractRawEvents([]string{
			testutil.EventLogLine("Fhe16BinaryOpRequested",
				testutil.BinaryPayload(alice, byte(events.BinaryAdd), inputHandle, testutil.Handle32(0x11), resultHandle)),
		}),
	}

	// Descending history, newest first
	client.history = []chain.SignatureRef{
		{Signature: sig2, Slot: 105, BlockTime: &bt2},
		{Signature: sig1, Slot: 100, BlockTime: &bt1},
	}
	client.slot = 105

	idx := newTestIndexer(t, client, store)
	idx.RegisterHandler(NewPublisher(b, store, states, zap.NewNop()).Handle)

	idx.runCycle(context.Background())

	// Alice's channel sees her registration before her operation
	first := receiveMsg(t, aliceSub.Ch)
	assert.Equal(t, bus.TypeCiphertextConfirmed, first.EventType)

	second := receiveMsg(t, aliceSub.Ch)
	assert.Equal(t, bus.TypeOperationCompleted, second.EventType)
	assert.Less(t, first.EventID, second.EventID)

	// Both events are replayable
	messages, err := store.QueryGap(context.Background(), storage.GapQuery{TargetOwner: alice.String(), Limit: 10})
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	// Checkpoint sits at the last processed transaction
	cp, err := store.GetCheckpoint(context.Background(), testProgram())
	require.NoError(t, err)
	assert.Equal(t, storage.Checkpoint{Slot: 105, Signature: sig2}, cp)

	// Both handles confirmed in the state machine
	for _, h := range [][32]byte{inputHandle, resultHandle} {
		entry, ok := states.Get(h)
		require.True(t, ok)
		assert.Equal(t, state.StatusConfirmed, entry.Status)
	}
}

func receiveMsg(t *testing.T, ch chan bus.Message) bus.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return bus.Message{}
	}
}

// Guard against the discriminator derivation drifting from the on-chain
// emitter.
func TestEventLogLine_MatchesNormalizerDiscriminators(t *testing.T) {
	line := testutil.EventLogLine("InputHandleRegistered", make([]byte, 96))
	raw := chain.ExtractRawEvents([]string{line})
	require.Len(t, raw, 1)

	want := events.EventDiscriminator("InputHandleRegistered")
	assert.Equal(t, want, raw[0].Discriminator)

	// Sanity check the payload survived the base64 round trip
	decoded, err := base64.StdEncoding.DecodeString(line[len("Program data: "):])
	require.NoError(t, err)
	assert.Len(t, decoded, 104)
}
