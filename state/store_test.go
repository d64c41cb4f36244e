package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/events"
)

func handleN(seed byte) events.Handle {
	var h events.Handle
	for i := range h {
		h[i] = seed
	}
	return h
}

func TestStore_Lifecycle(t *testing.T) {
	s := NewStore(time.Minute, zap.NewNop())
	h := handleN(1)

	require.NoError(t, s.Track(h, "alice"))

	entry, ok := s.Get(h)
	require.True(t, ok)
	assert.Equal(t, StatusOptimistic, entry.Status)
	assert.Equal(t, "alice", entry.Owner)

	require.NoError(t, s.MarkSubmitting(h))
	entry, _ = s.Get(h)
	assert.Equal(t, StatusSubmitting, entry.Status)

	s.Confirm(h, "alice", 99, "sig")
	entry, _ = s.Get(h)
	assert.Equal(t, StatusConfirmed, entry.Status)
	assert.Equal(t, uint64(99), entry.Slot)
	assert.Equal(t, "sig", entry.Signature)
}

func TestStore_TrackRejectsLiveDuplicate(t *testing.T) {
	s := NewStore(time.Minute, zap.NewNop())
	h := handleN(1)

	require.NoError(t, s.Track(h, "alice"))
	assert.ErrorIs(t, s.Track(h, "alice"), ErrInvalidTransition)

	// A failed entry can be re-tracked
	require.NoError(t, s.Fail(h, "boom"))
	require.NoError(t, s.Track(h, "alice"))

	entry, _ := s.Get(h)
	assert.Equal(t, StatusOptimistic, entry.Status)
	assert.Empty(t, entry.Signature)
}

func TestStore_MarkSubmittingRequiresOptimistic(t *testing.T) {
	s := NewStore(time.Minute, zap.NewNop())
	h := handleN(1)

	assert.ErrorIs(t, s.MarkSubmitting(h), ErrNotTracked)

	require.NoError(t, s.Track(h, "alice"))
	require.NoError(t, s.MarkSubmitting(h))
	assert.ErrorIs(t, s.MarkSubmitting(h), ErrInvalidTransition)
}

func TestStore_ConfirmUntrackedHandle(t *testing.T) {
	// Events observed on chain without a local prediction are recorded
	// directly as confirmed.
	s := NewStore(time.Minute, zap.NewNop())
	h := handleN(2)

	s.Confirm(h, "bob", 123, "sig")

	entry, ok := s.Get(h)
	require.True(t, ok)
	assert.Equal(t, StatusConfirmed, entry.Status)
	assert.Equal(t, "bob", entry.Owner)
}

func TestStore_FailRules(t *testing.T) {
	s := NewStore(time.Minute, zap.NewNop())
	h := handleN(1)

	assert.ErrorIs(t, s.Fail(h, "x"), ErrNotTracked)

	require.NoError(t, s.Track(h, "alice"))
	s.Confirm(h, "alice", 1, "sig")
	assert.ErrorIs(t, s.Fail(h, "x"), ErrInvalidTransition)
}

func TestStore_ReapOnlyStaleOptimistic(t *testing.T) {
	s := NewStore(time.Minute, zap.NewNop())

	current := time.Now()
	s.now = func() time.Time { return current }

	stale := handleN(1)
	confirmed := handleN(2)
	fresh := handleN(3)

	require.NoError(t, s.Track(stale, "alice"))
	require.NoError(t, s.Track(confirmed, "alice"))
	s.Confirm(confirmed, "alice", 1, "sig")

	// Move past the TTL, then add a fresh optimistic entry
	current = current.Add(2 * time.Minute)
	require.NoError(t, s.Track(fresh, "bob"))

	assert.Equal(t, 1, s.Reap())

	_, ok := s.Get(stale)
	assert.False(t, ok)
	_, ok = s.Get(confirmed)
	assert.True(t, ok)
	_, ok = s.Get(fresh)
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())
}
