package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced at the edge
		return true
	},
}

// Server relays bus channels over websocket for clients that cannot
// consume the event stream endpoint.
type Server struct {
	hub           *Hub
	bus           bus.Bus
	history       storage.HistoryStore
	gapQueryLimit int
	logger        *zap.Logger
}

// NewServer creates the websocket relay.
func NewServer(publishBus bus.Bus, history storage.HistoryStore, gapQueryLimit int, logger *zap.Logger) *Server {
	if gapQueryLimit <= 0 {
		gapQueryLimit = constants.DefaultGapQueryLimit
	}
	logger = logger.With(zap.String("component", "websocket"))

	return &Server{
		hub:           NewHub(logger),
		bus:           publishBus,
		history:       history,
		gapQueryLimit: gapQueryLimit,
		logger:        logger,
	}
}

// ServeHTTP upgrades the request and starts the client pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(s, conn)
	s.hub.register(client)

	go client.writePump()
	go client.readPump()

	client.sendResponse(Response{Type: responseConnected, Payload: json.RawMessage(`{}`)})
}

// Hub returns the client registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop closes every client connection.
func (s *Server) Stop() {
	s.hub.Stop()
}
