package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

type relayFixture struct {
	bus    *bus.LocalBus
	store  *storage.MemoryStore
	relay  *Server
	server *httptest.Server
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()

	b := bus.NewLocalBus(64)
	go b.Run()
	t.Cleanup(b.Stop)

	store := storage.NewMemoryStore()
	relay := NewServer(b, store, 0, zap.NewNop())
	t.Cleanup(relay.Stop)

	server := httptest.NewServer(relay)
	t.Cleanup(server.Close)

	return &relayFixture{bus: b, store: store, relay: relay, server: server}
}

// dial opens a client connection and consumes the connected frame.
func (f *relayFixture) dial(t *testing.T) *gws.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	connected := readResponse(t, conn)
	require.Equal(t, "connected", connected.Type)
	return conn
}

func readResponse(t *testing.T, conn *gws.Conn) Response {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

// readEvent skips non-event frames and decodes the next event payload.
func readEvent(t *testing.T, conn *gws.Conn) bus.Message {
	t.Helper()
	for {
		resp := readResponse(t, conn)
		if resp.Type != "event" {
			continue
		}
		var msg bus.Message
		require.NoError(t, json.Unmarshal(resp.Payload, &msg))
		return msg
	}
}

func subscribe(t *testing.T, conn *gws.Conn, req Request) {
	t.Helper()
	req.Action = actionSubscribe
	require.NoError(t, conn.WriteJSON(req))
	resp := readResponse(t, conn)
	require.Equal(t, "subscribed", resp.Type)
}

func durable(slot uint64, owner string) bus.Message {
	var sig [64]byte
	sig[0] = byte(slot)
	return bus.Message{
		EventID:     bus.ChainEventID(slot, sig, time.Now()),
		EventType:   bus.TypeCiphertextConfirmed,
		PublishedAt: time.Now().UnixMilli(),
		TargetOwner: owner,
		Payload:     []byte(`{}`),
	}
}

func TestRelay_SubscribeValidation(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)

	// User channel requires a principal
	require.NoError(t, conn.WriteJSON(Request{Action: actionSubscribe, Channel: "user"}))
	resp := readResponse(t, conn)
	assert.Equal(t, "error", resp.Type)
	assert.Contains(t, resp.Error, "principal")

	// Unknown channel names are rejected
	require.NoError(t, conn.WriteJSON(Request{Action: actionSubscribe, Channel: "firehose"}))
	resp = readResponse(t, conn)
	assert.Equal(t, "error", resp.Type)

	// Unknown actions are rejected
	require.NoError(t, conn.WriteJSON(Request{Action: "eject"}))
	resp = readResponse(t, conn)
	assert.Equal(t, "error", resp.Type)
}

func TestRelay_Ping(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(Request{Action: actionPing}))
	assert.Equal(t, "pong", readResponse(t, conn).Type)
}

func TestRelay_UserChannelScoping(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)

	subscribe(t, conn, Request{Channel: "user", Principal: "alice"})
	require.Eventually(t, func() bool { return f.bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	forBob := durable(1, "bob")
	forAlice := durable(2, "alice")
	require.True(t, f.bus.Publish(forBob))
	require.True(t, f.bus.Publish(forAlice))

	// Bob's message never reaches Alice's relay
	got := readEvent(t, conn)
	assert.Equal(t, forAlice.EventID, got.EventID)
	assert.Equal(t, "alice", got.TargetOwner)
}

func TestRelay_GapFillThenLive(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	stored := make([]bus.Message, 0, 3)
	for slot := uint64(1); slot <= 3; slot++ {
		msg := durable(slot, "alice")
		stored = append(stored, msg)
		require.NoError(t, f.store.Append(ctx, msg))
	}

	conn := f.dial(t)
	subscribe(t, conn, Request{Channel: "global", SinceSlot: 1})

	for i := 0; i < 3; i++ {
		assert.Equal(t, stored[i].EventID, readEvent(t, conn).EventID)
	}

	require.Eventually(t, func() bool { return f.bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	live := durable(4, "bob")
	require.True(t, f.bus.Publish(live))
	assert.Equal(t, live.EventID, readEvent(t, conn).EventID)
}

func TestRelay_NoDuplicateAcrossReplayAndLive(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	overlap := durable(2, "alice")
	require.NoError(t, f.store.Append(ctx, durable(1, "alice")))
	require.NoError(t, f.store.Append(ctx, overlap))

	conn := f.dial(t)
	subscribe(t, conn, Request{Channel: "global", SinceSlot: 1})

	readEvent(t, conn) // slot 1
	assert.Equal(t, overlap.EventID, readEvent(t, conn).EventID)

	// The same message arriving live must be swallowed by the watermark
	require.Eventually(t, func() bool { return f.bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, f.bus.Publish(overlap))

	follow := durable(3, "alice")
	require.True(t, f.bus.Publish(follow))

	assert.Equal(t, follow.EventID, readEvent(t, conn).EventID)
}

func TestRelay_ResumeFromLastEventID(t *testing.T) {
	f := newRelayFixture(t)
	ctx := context.Background()

	var marker string
	for slot := uint64(1); slot <= 4; slot++ {
		msg := durable(slot, "alice")
		if slot == 2 {
			marker = msg.EventID
		}
		require.NoError(t, f.store.Append(ctx, msg))
	}

	conn := f.dial(t)
	subscribe(t, conn, Request{Channel: "global", LastEventID: marker})

	// Only rows strictly after the marker are replayed
	first := readEvent(t, conn)
	assert.Greater(t, first.EventID, marker)
	second := readEvent(t, conn)
	assert.Greater(t, second.EventID, first.EventID)
}

// serverSideConn upgrades one connection and hands the server half to the
// test, so a Client can be driven directly.
func serverSideConn(t *testing.T) *gws.Conn {
	t.Helper()

	conns := make(chan *gws.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = clientConn.Close() })

	select {
	case conn := <-conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server connection")
		return nil
	}
}

func TestClient_RelayDrainsAfterCloseWithoutPanic(t *testing.T) {
	b := bus.NewLocalBus(64)
	go b.Run()
	defer b.Stop()

	srv := NewServer(b, storage.NewMemoryStore(), 0, zap.NewNop())
	c := newClient(srv, serverSideConn(t))

	subID := bus.SubscriptionID("relay-close-race")
	sub := b.Subscribe(subID, []bus.Channel{bus.GlobalChannel}, 8)
	require.NotNil(t, sub)

	c.mu.Lock()
	c.subID = subID
	c.subscribed = true
	c.channel = bus.GlobalChannel
	c.mu.Unlock()

	// A message sits buffered in the subscription when the client goes away
	require.True(t, b.Publish(durable(1, "alice")))
	require.Eventually(t, func() bool { return len(sub.Ch) == 1 }, time.Second, 5*time.Millisecond)

	// Disconnect path: unsubscribes and signals teardown
	c.close()

	// The relay must drain the leftover message and exit cleanly; close
	// already unsubscribed, so the subscription channel is closed too
	assert.NotPanics(t, func() { c.relay(sub, 0) })
}
