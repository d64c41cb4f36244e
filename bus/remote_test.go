package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteRecorder stands in for the broker write, capturing the order the
// writer goroutine hands messages over.
type remoteRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *remoteRecorder) record(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, msg.EventID)
}

func (r *remoteRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func publishAscending(t *testing.T, b Bus, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for slot := uint64(1); slot <= uint64(n); slot++ {
		msg := chainMsg(slot, "alice")
		ids = append(ids, msg.EventID)
		require.True(t, b.Publish(msg))
	}
	return ids
}

func TestRedisBus_RemoteHopPreservesPublishOrder(t *testing.T) {
	b, err := NewRedisBus(RedisBusConfig{Addresses: []string{"127.0.0.1:1"}}, "node-a", 256, nil)
	require.NoError(t, err)
	go b.Run()
	defer b.Stop()

	rec := &remoteRecorder{}
	b.sendRemote = rec.record
	b.connected.Store(true)
	b.wg.Add(1)
	go b.remoteLoop()

	const n = 200
	want := publishAscending(t, b, n)

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == n
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, want, rec.snapshot())
}

func TestKafkaBus_RemoteHopPreservesPublishOrder(t *testing.T) {
	b, err := NewKafkaBus(KafkaBusConfig{
		Brokers: []string{"127.0.0.1:1"},
		Topic:   "lattica-events",
		GroupID: "test",
	}, "node-a", 256, nil)
	require.NoError(t, err)
	go b.Run()
	defer b.Stop()

	rec := &remoteRecorder{}
	b.sendRemote = rec.record
	b.connected.Store(true)
	b.wg.Add(1)
	go b.remoteLoop()

	const n = 200
	want := publishAscending(t, b, n)

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == n
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, want, rec.snapshot())
}

func TestRedisBus_RemoteQueueFullDropsNotBlocks(t *testing.T) {
	b, err := NewRedisBus(RedisBusConfig{Addresses: []string{"127.0.0.1:1"}}, "node-a", 4, nil)
	require.NoError(t, err)
	go b.Run()
	defer b.Stop()

	// Connected but nothing draining remoteCh: publishes past the queue
	// capacity are dropped and counted, never blocked on
	b.connected.Store(true)

	for slot := uint64(1); slot <= 64; slot++ {
		b.Publish(chainMsg(slot, "alice"))
	}

	_, _, publishErrors := b.RemoteStats()
	assert.Greater(t, publishErrors, uint64(0))
}
