package storage

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/bus"
)

func newTestPebble(t *testing.T) Store {
	t.Helper()
	cfg := &Config{Path: t.TempDir()}
	cfg.SetDefaults()

	store, err := NewPebbleStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Both backends must satisfy the same contract.
func eachStore(t *testing.T, test func(t *testing.T, store Store)) {
	t.Run("pebble", func(t *testing.T) { test(t, newTestPebble(t)) })
	t.Run("memory", func(t *testing.T) { test(t, NewMemoryStore()) })
}

func testProgram() solana.PublicKey {
	var b [32]byte
	b[0] = 0x77
	return solana.PublicKeyFromBytes(b[:])
}

func sigN(n byte) solana.Signature {
	var sig solana.Signature
	for i := range sig {
		sig[i] = n
	}
	return sig
}

func durableMsg(slot uint64, owner string, publishedAt time.Time) bus.Message {
	return bus.Message{
		EventID:     bus.ChainEventID(slot, sigN(byte(slot)), publishedAt),
		EventType:   bus.TypeCiphertextConfirmed,
		PublishedAt: publishedAt.UnixMilli(),
		TargetOwner: owner,
		Payload:     []byte(`{"handle":"00"}`),
	}
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		program := testProgram()

		_, err := store.GetCheckpoint(ctx, program)
		assert.ErrorIs(t, err, ErrNotFound)

		want := Checkpoint{Slot: 1000, Signature: sigN(1)}
		require.NoError(t, store.UpsertCheckpoint(ctx, program, want))

		got, err := store.GetCheckpoint(ctx, program)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestCheckpoint_MonotonicGuard(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		program := testProgram()

		require.NoError(t, store.UpsertCheckpoint(ctx, program, Checkpoint{Slot: 500, Signature: sigN(1)}))

		// Lower slot is rejected
		err := store.UpsertCheckpoint(ctx, program, Checkpoint{Slot: 499, Signature: sigN(2)})
		assert.ErrorIs(t, err, ErrCheckpointRegression)

		// Equal slot is allowed; several transactions can share a slot
		require.NoError(t, store.UpsertCheckpoint(ctx, program, Checkpoint{Slot: 500, Signature: sigN(3)}))

		got, err := store.GetCheckpoint(ctx, program)
		require.NoError(t, err)
		assert.Equal(t, sigN(3), got.Signature)

		// Higher slot advances
		require.NoError(t, store.UpsertCheckpoint(ctx, program, Checkpoint{Slot: 501, Signature: sigN(4)}))
	})
}

func TestCheckpoint_PerProgramIsolation(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		var other solana.PublicKey
		other[0] = 0x88

		require.NoError(t, store.UpsertCheckpoint(ctx, testProgram(), Checkpoint{Slot: 100, Signature: sigN(1)}))

		_, err := store.GetCheckpoint(ctx, other)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestHistory_AppendAndQueryAscending(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now()

		// Append out of order; query must come back ascending
		for _, slot := range []uint64{30, 10, 20} {
			require.NoError(t, store.Append(ctx, durableMsg(slot, "alice", now)))
		}

		messages, err := store.QueryGap(ctx, GapQuery{Limit: 10})
		require.NoError(t, err)
		require.Len(t, messages, 3)

		for i := 1; i < len(messages); i++ {
			assert.Less(t, messages[i-1].EventID, messages[i].EventID)
		}
	})
}

func TestHistory_TransientMessagesIgnored(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		status := bus.StatusMessage(bus.TypeIndexerStatus, bus.StatusPayload{State: "running"}, time.Now())
		require.NoError(t, store.Append(ctx, status))

		messages, err := store.QueryGap(ctx, GapQuery{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestHistory_QueryAfterEventID(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now()

		var marker string
		for slot := uint64(1); slot <= 5; slot++ {
			msg := durableMsg(slot, "alice", now)
			if slot == 3 {
				marker = msg.EventID
			}
			require.NoError(t, store.Append(ctx, msg))
		}

		// AfterEventID is exclusive
		messages, err := store.QueryGap(ctx, GapQuery{AfterEventID: marker, Limit: 10})
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Greater(t, messages[0].EventID, marker)
	})
}

func TestHistory_QuerySinceSlot(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now()

		for slot := uint64(1); slot <= 5; slot++ {
			require.NoError(t, store.Append(ctx, durableMsg(slot, "alice", now)))
		}

		// SinceSlot is inclusive
		messages, err := store.QueryGap(ctx, GapQuery{SinceSlot: 3, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, messages, 3)
	})
}

func TestHistory_QueryOwnerFilter(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now()

		require.NoError(t, store.Append(ctx, durableMsg(1, "alice", now)))
		require.NoError(t, store.Append(ctx, durableMsg(2, "bob", now)))
		require.NoError(t, store.Append(ctx, durableMsg(3, "alice", now)))

		messages, err := store.QueryGap(ctx, GapQuery{TargetOwner: "alice", Limit: 10})
		require.NoError(t, err)
		require.Len(t, messages, 2)
		for _, msg := range messages {
			assert.Equal(t, "alice", msg.TargetOwner)
		}
	})
}

func TestHistory_QueryLimit(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now()

		for slot := uint64(1); slot <= 10; slot++ {
			require.NoError(t, store.Append(ctx, durableMsg(slot, "alice", now)))
		}

		messages, err := store.QueryGap(ctx, GapQuery{Limit: 4})
		require.NoError(t, err)
		assert.Len(t, messages, 4)
	})
}

func TestHistory_LatestEventID(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now()

		// Empty history yields no marker
		latest, err := store.LatestEventID(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, latest)

		aliceNewest := durableMsg(30, "alice", now)
		bobNewest := durableMsg(40, "bob", now)
		require.NoError(t, store.Append(ctx, durableMsg(10, "alice", now)))
		require.NoError(t, store.Append(ctx, bobNewest))
		require.NoError(t, store.Append(ctx, aliceNewest))

		latest, err = store.LatestEventID(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, bobNewest.EventID, latest)

		// Owner scoping ignores other principals' newer rows
		latest, err = store.LatestEventID(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, aliceNewest.EventID, latest)

		latest, err = store.LatestEventID(ctx, "carol")
		require.NoError(t, err)
		assert.Empty(t, latest)
	})
}

func TestHistory_Cleanup(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		old := time.Now().Add(-48 * time.Hour)
		fresh := time.Now()

		require.NoError(t, store.Append(ctx, durableMsg(1, "alice", old)))
		require.NoError(t, store.Append(ctx, durableMsg(2, "bob", old)))
		require.NoError(t, store.Append(ctx, durableMsg(3, "alice", fresh)))

		removed, err := store.Cleanup(ctx, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		messages, err := store.QueryGap(ctx, GapQuery{Limit: 10})
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "alice", messages[0].TargetOwner)

		// Owner-scoped queries must not resurrect cleaned rows
		messages, err = store.QueryGap(ctx, GapQuery{TargetOwner: "bob", Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestPebble_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := &Config{Path: dir}
	cfg.SetDefaults()

	store, err := NewPebbleStore(cfg, zap.NewNop())
	require.NoError(t, err)

	program := testProgram()
	require.NoError(t, store.UpsertCheckpoint(ctx, program, Checkpoint{Slot: 42, Signature: sigN(9)}))
	require.NoError(t, store.Append(ctx, durableMsg(42, "alice", time.Now())))
	require.NoError(t, store.Close())

	reopened, err := NewPebbleStore(cfg, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	cp, err := reopened.GetCheckpoint(ctx, program)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cp.Slot)

	messages, err := reopened.QueryGap(ctx, GapQuery{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestStore_ClosedErrors(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err := store.GetCheckpoint(ctx, testProgram())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Append(ctx, durableMsg(1, "", time.Now())), ErrClosed)
	_, err = store.QueryGap(ctx, GapQuery{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.LatestEventID(ctx, "")
	assert.ErrorIs(t, err, ErrClosed)
}
