package events

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/chain"
)

func testMeta() Meta {
	bt := int64(1700000000)
	var sig solana.Signature
	sig[0] = 0xab
	return Meta{
		TxSignature: sig,
		TxSlot:      12345,
		TxBlockTime: &bt,
		EventCaller: testKey(0x11),
	}
}

func testKey(seed byte) solana.PublicKey {
	var b [32]byte
	for i := range b {
		b[i] = seed
	}
	return solana.PublicKeyFromBytes(b[:])
}

func testHandle(seed byte) Handle {
	var h Handle
	for i := range h {
		h[i] = seed
	}
	return h
}

func registeredPayload(caller solana.PublicKey, handle, clientTag Handle) []byte {
	out := append([]byte{}, caller[:]...)
	out = append(out, handle[:]...)
	return append(out, clientTag[:]...)
}

func unaryPayload(caller solana.PublicKey, op byte, input, result Handle) []byte {
	out := append([]byte{}, caller[:]...)
	out = append(out, op)
	out = append(out, input[:]...)
	return append(out, result[:]...)
}

func binaryPayload(caller solana.PublicKey, op byte, lhs, rhs, result Handle) []byte {
	out := append([]byte{}, caller[:]...)
	out = append(out, op)
	out = append(out, lhs[:]...)
	out = append(out, rhs[:]...)
	return append(out, result[:]...)
}

func ternaryPayload(caller solana.PublicKey, op byte, a, b, c, result Handle) []byte {
	out := append([]byte{}, caller[:]...)
	out = append(out, op)
	out = append(out, a[:]...)
	out = append(out, b[:]...)
	out = append(out, c[:]...)
	return append(out, result[:]...)
}

func TestNormalize_InputHandleRegistered(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	meta := testMeta()
	caller := meta.Caller()
	handle := testHandle(0xaa)
	tag := testHandle(0xbb)

	ev, err := n.Normalize(meta, chain.RawEvent{
		Discriminator: EventDiscriminator("InputHandleRegistered"),
		Payload:       registeredPayload(caller, handle, tag),
	})
	require.NoError(t, err)

	reg, ok := ev.(*InputHandleRegistered)
	require.True(t, ok)
	assert.Equal(t, KindInputHandleRegistered, reg.Kind())
	assert.Equal(t, handle, reg.Handle)
	assert.Equal(t, tag, reg.ClientTag)
	assert.Equal(t, uint64(12345), reg.Slot())
	assert.Equal(t, caller, reg.Caller())
}

func TestNormalize_UnaryOpRequested(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	meta := testMeta()

	ev, err := n.Normalize(meta, chain.RawEvent{
		Discriminator: EventDiscriminator("Fhe16UnaryOpRequested"),
		Payload:       unaryPayload(meta.Caller(), byte(UnaryNeg), testHandle(1), testHandle(2)),
	})
	require.NoError(t, err)

	op, ok := ev.(*UnaryOpRequested)
	require.True(t, ok)
	assert.Equal(t, UnaryNeg, op.Op)
	assert.Equal(t, testHandle(1), op.InputHandle)
	assert.Equal(t, testHandle(2), op.ResultHandle)
}

func TestNormalize_BinaryOpRequested(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	meta := testMeta()

	ev, err := n.Normalize(meta, chain.RawEvent{
		Discriminator: EventDiscriminator("Fhe16BinaryOpRequested"),
		Payload:       binaryPayload(meta.Caller(), byte(BinaryAdd), testHandle(1), testHandle(2), testHandle(3)),
	})
	require.NoError(t, err)

	op, ok := ev.(*BinaryOpRequested)
	require.True(t, ok)
	assert.Equal(t, BinaryAdd, op.Op)
	assert.Equal(t, testHandle(1), op.LhsHandle)
	assert.Equal(t, testHandle(2), op.RhsHandle)
	assert.Equal(t, testHandle(3), op.ResultHandle)
}

func TestNormalize_TernaryOpRequested(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	meta := testMeta()

	ev, err := n.Normalize(meta, chain.RawEvent{
		Discriminator: EventDiscriminator("Fhe16TernaryOpRequested"),
		Payload:       ternaryPayload(meta.Caller(), byte(TernarySelect), testHandle(1), testHandle(2), testHandle(3), testHandle(4)),
	})
	require.NoError(t, err)

	op, ok := ev.(*TernaryOpRequested)
	require.True(t, ok)
	assert.Equal(t, TernarySelect, op.Op)
	assert.Equal(t, testHandle(4), op.ResultHandle)
}

func TestNormalize_RejectsWrongSize(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	meta := testMeta()

	tests := []struct {
		name string
		disc [8]byte
		size int
	}{
		{"registered short", EventDiscriminator("InputHandleRegistered"), 95},
		{"registered long", EventDiscriminator("InputHandleRegistered"), 97},
		{"unary short", EventDiscriminator("Fhe16UnaryOpRequested"), 96},
		{"binary short", EventDiscriminator("Fhe16BinaryOpRequested"), 128},
		{"ternary long", EventDiscriminator("Fhe16TernaryOpRequested"), 162},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(meta, chain.RawEvent{
				Discriminator: tt.disc,
				Payload:       make([]byte, tt.size),
			})
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestNormalize_RejectsUnknownDiscriminator(t *testing.T) {
	n := NewNormalizer(zap.NewNop())

	_, err := n.Normalize(testMeta(), chain.RawEvent{
		Discriminator: EventDiscriminator("SomeOtherEvent"),
		Payload:       make([]byte, 96),
	})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestNormalize_RejectsUnknownOpCode(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	meta := testMeta()

	_, err := n.Normalize(meta, chain.RawEvent{
		Discriminator: EventDiscriminator("Fhe16UnaryOpRequested"),
		Payload:       unaryPayload(meta.Caller(), 200, testHandle(1), testHandle(2)),
	})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = n.Normalize(meta, chain.RawEvent{
		Discriminator: EventDiscriminator("Fhe16BinaryOpRequested"),
		Payload:       binaryPayload(meta.Caller(), byte(binaryOpCount), testHandle(1), testHandle(2), testHandle(3)),
	})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestNormalizeTransaction_DropsMalformedKeepsRest(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	caller := testKey(0x22)

	tx := &chain.TransactionEvents{
		Signature: solana.Signature{0x01},
		Slot:      77,
		Events: []chain.RawEvent{
			{
				Discriminator: EventDiscriminator("InputHandleRegistered"),
				Payload:       registeredPayload(caller, testHandle(1), testHandle(2)),
			},
			{
				// Wrong payload size; must not poison the siblings
				Discriminator: EventDiscriminator("Fhe16BinaryOpRequested"),
				Payload:       make([]byte, 10),
			},
			{
				Discriminator: EventDiscriminator("Fhe16UnaryOpRequested"),
				Payload:       unaryPayload(caller, byte(UnaryNot), testHandle(3), testHandle(4)),
			},
		},
	}

	normalized := n.NormalizeTransaction(tx)
	require.Len(t, normalized, 2)
	assert.Equal(t, KindInputHandleRegistered, normalized[0].Kind())
	assert.Equal(t, KindUnaryOpRequested, normalized[1].Kind())
}

func TestNormalizeTransaction_Empty(t *testing.T) {
	n := NewNormalizer(zap.NewNop())
	assert.Nil(t, n.NormalizeTransaction(nil))
	assert.Nil(t, n.NormalizeTransaction(&chain.TransactionEvents{}))
}
