package stream

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

// Handler serves the event stream endpoint. Query parameters:
//
//	channel     "global" (default) or "user"
//	principal   owner public key, required for the user channel
//	lastEventId resume marker, exclusive; Last-Event-ID header also accepted
//	sinceSlot   inclusive slot lower bound, used when no lastEventId
type Handler struct {
	bus     bus.Bus
	history storage.HistoryStore
	config  Config
	logger  *zap.Logger
}

// NewHandler creates the stream handler.
func NewHandler(publishBus bus.Bus, history storage.HistoryStore, cfg Config, logger *zap.Logger) *Handler {
	cfg.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		bus:     publishBus,
		history: history,
		config:  cfg,
		logger:  logger.With(zap.String("component", "stream")),
	}
}

// ServeHTTP upgrades the request into a long-lived event stream session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	channelName := query.Get("channel")
	if channelName == "" {
		channelName = "global"
	}

	principal := query.Get("principal")

	var channel bus.Channel
	switch channelName {
	case "global":
		channel = bus.GlobalChannel
	case "user":
		if principal == "" {
			http.Error(w, "principal is required for the user channel", http.StatusBadRequest)
			return
		}
		channel = bus.UserChannel(principal)
	default:
		http.Error(w, "channel must be global or user", http.StatusBadRequest)
		return
	}

	// A reconnecting EventSource resends its marker in the Last-Event-ID
	// header; the query parameter wins when both are present
	lastEventID := query.Get("lastEventId")
	if lastEventID == "" {
		lastEventID = r.Header.Get("Last-Event-ID")
	}

	var sinceSlot uint64
	if raw := query.Get("sinceSlot"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "sinceSlot must be a non-negative integer", http.StatusBadRequest)
			return
		}
		sinceSlot = parsed
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := newSession(h, channel, principal, lastEventID, sinceSlot, newFrameWriter(w, flusher))
	s.run(r.Context())
}
