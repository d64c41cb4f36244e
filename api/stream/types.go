package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
)

// Config tunes the streaming gateway.
type Config struct {
	// KeepAliveInterval spaces the idle comment frames.
	KeepAliveInterval time.Duration

	// FallbackPollInterval spaces history polls when the bus is unreachable.
	FallbackPollInterval time.Duration

	// GapQueryLimit caps one gap-fill query.
	GapQueryLimit int

	// SubscriberBufferSize is the per-connection bus buffer.
	SubscriberBufferSize int
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = constants.DefaultKeepAliveInterval
	}
	if c.FallbackPollInterval <= 0 {
		c.FallbackPollInterval = constants.DefaultFallbackPollInterval
	}
	if c.GapQueryLimit <= 0 {
		c.GapQueryLimit = constants.DefaultGapQueryLimit
	}
	if c.SubscriberBufferSize <= 0 {
		c.SubscriberBufferSize = constants.DefaultSubscriberBufferSize
	}
}

// frameWriter emits server-sent event frames. Not safe for concurrent use;
// each session owns exactly one.
type frameWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newFrameWriter(w io.Writer, flusher http.Flusher) *frameWriter {
	return &frameWriter{w: w, flusher: flusher}
}

// writeMessage emits one data frame: `id: <eventId>\ndata: <json>\n\n`.
func (fw *frameWriter) writeMessage(msg bus.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := fmt.Fprintf(fw.w, "id: %s\ndata: %s\n\n", msg.EventID, data); err != nil {
		return err
	}
	fw.flusher.Flush()
	return nil
}

// writeConnected emits the distinguished liveness frame sent on open.
func (fw *frameWriter) writeConnected(sessionID string) error {
	if _, err := fmt.Fprintf(fw.w, "event: connected\ndata: {\"sessionId\":%q}\n\n", sessionID); err != nil {
		return err
	}
	fw.flusher.Flush()
	return nil
}

// writeKeepAlive emits a comment-only frame intermediaries won't buffer
// away.
func (fw *frameWriter) writeKeepAlive() error {
	if _, err := io.WriteString(fw.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	fw.flusher.Flush()
	return nil
}
