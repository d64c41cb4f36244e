package websocket

import "encoding/json"

// Inbound message types.
const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPing        = "ping"
)

// Request is a client-to-server control message.
type Request struct {
	Action      string `json:"action"`
	Channel     string `json:"channel"`
	Principal   string `json:"principal,omitempty"`
	LastEventID string `json:"lastEventId,omitempty"`
	SinceSlot   uint64 `json:"sinceSlot,omitempty"`
}

// Response is a server-to-client frame.
type Response struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Response types.
const (
	responseConnected  = "connected"
	responseSubscribed = "subscribed"
	responseEvent      = "event"
	responseError      = "error"
	responsePong       = "pong"
)
