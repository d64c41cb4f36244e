package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Client is one websocket relay connection. It mirrors the event stream
// contract: subscribe with an optional resume marker, receive a gap-fill
// replay, then live messages.
type Client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	// done signals teardown to every goroutine that can touch send. The
	// send channel itself is never closed: the relay keeps draining bus
	// messages after a disconnect, and a send into a closed channel would
	// panic outside any handler.
	done   chan struct{}
	logger *zap.Logger

	mu          sync.Mutex
	subID       bus.SubscriptionID
	subscribed  bool
	principal   string
	channel     bus.Channel
	lastEmitted string

	closeOnce sync.Once
}

func newClient(server *Server, conn *websocket.Conn) *Client {
	return &Client{
		server: server,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: server.logger.With(zap.String("remote_addr", conn.RemoteAddr().String())),
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.teardownSubscription()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) teardownSubscription() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		c.server.bus.Unsubscribe(c.subID)
		c.subscribed = false
	}
}

// readPump consumes control messages until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.server.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("invalid request")
			continue
		}
		c.handleRequest(req)
	}
}

// writePump forwards queued frames and pings on a timer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleRequest(req Request) {
	switch req.Action {
	case actionSubscribe:
		c.handleSubscribe(req)
	case actionUnsubscribe:
		c.teardownSubscription()
		c.sendResponse(Response{Type: responseSubscribed, Payload: json.RawMessage(`{"subscribed":false}`)})
	case actionPing:
		c.sendResponse(Response{Type: responsePong})
	default:
		c.sendError("unknown action")
	}
}

func (c *Client) handleSubscribe(req Request) {
	var channel bus.Channel
	switch req.Channel {
	case "global", "":
		channel = bus.GlobalChannel
	case "user":
		if req.Principal == "" {
			c.sendError("principal is required for the user channel")
			return
		}
		channel = bus.UserChannel(req.Principal)
	default:
		c.sendError("channel must be global or user")
		return
	}

	c.teardownSubscription()

	subID := bus.SubscriptionID(uuid.NewString())
	sub := c.server.bus.Subscribe(subID, []bus.Channel{channel}, sendBufferSize)
	if sub == nil {
		c.sendError("bus unavailable")
		return
	}

	c.mu.Lock()
	c.subID = subID
	c.subscribed = true
	c.principal = req.Principal
	c.channel = channel
	c.lastEmitted = req.LastEventID
	c.mu.Unlock()

	c.sendResponse(Response{Type: responseSubscribed, Payload: json.RawMessage(`{"subscribed":true}`)})

	go c.relay(sub, req.SinceSlot)
}

// relay replays the gap then forwards live messages. Runs until the bus
// subscription closes or the client's send buffer fills.
func (c *Client) relay(sub *bus.Subscription, sinceSlot uint64) {
	c.gapFill(sinceSlot)

	for msg := range sub.Ch {
		if !c.forward(msg) {
			return
		}
	}
}

func (c *Client) gapFill(sinceSlot uint64) {
	c.mu.Lock()
	lastEmitted := c.lastEmitted
	c.mu.Unlock()

	if lastEmitted == "" && sinceSlot == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	messages, err := c.server.history.QueryGap(ctx, storage.GapQuery{
		AfterEventID: lastEmitted,
		SinceSlot:    sinceSlot,
		TargetOwner:  c.ownerFilter(),
		Limit:        c.server.gapQueryLimit,
	})
	if err != nil {
		c.logger.Error("websocket gap fill failed", zap.Error(err))
		return
	}

	for _, msg := range messages {
		if !c.forward(msg) {
			return
		}
	}
}

// forward applies scoping and the duplicate watermark, then queues the
// frame. Returns false when the client cannot keep up.
func (c *Client) forward(msg bus.Message) bool {
	c.mu.Lock()
	if owner := c.ownerFilterLocked(); owner != "" && msg.TargetOwner != "" && msg.TargetOwner != owner {
		c.mu.Unlock()
		return true
	}
	if msg.Durable() {
		if c.lastEmitted != "" && msg.EventID <= c.lastEmitted {
			c.mu.Unlock()
			return true
		}
		c.lastEmitted = msg.EventID
	}
	c.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return true
	}
	data, err := json.Marshal(Response{Type: responseEvent, Payload: payload})
	if err != nil {
		return true
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("websocket client buffer full, dropping connection")
		c.server.hub.unregister(c)
		c.close()
		return false
	}
}

func (c *Client) ownerFilter() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownerFilterLocked()
}

func (c *Client) ownerFilterLocked() string {
	if c.channel == bus.GlobalChannel {
		return ""
	}
	return c.principal
}

func (c *Client) sendResponse(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(msg string) {
	c.sendResponse(Response{Type: responseError, Error: msg})
}
