package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimiddleware "github.com/waLLLnut/lattica-server-sub000/api/middleware"
	"github.com/waLLLnut/lattica-server-sub000/api/stream"
	"github.com/waLLLnut/lattica-server-sub000/api/websocket"
	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

// Server exposes the streaming gateway over HTTP: the event stream
// endpoint, the websocket relay, and the operational endpoints.
type Server struct {
	config   *Config
	logger   *zap.Logger
	bus      bus.Bus
	history  storage.HistoryStore
	router   *chi.Mux
	server   *http.Server
	wsServer *websocket.Server
}

// NewServer creates the API server.
func NewServer(config *Config, streamConfig stream.Config, publishBus bus.Bus, history storage.HistoryStore, logger *zap.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		config:  config,
		logger:  logger.With(zap.String("component", "api")),
		bus:     publishBus,
		history: history,
		router:  chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes(streamConfig)

	// WriteTimeout stays zero: the stream endpoint holds connections
	// open indefinitely and a server-wide write deadline would cut them.
	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(apimiddleware.Recovery(s.logger))

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.Logger(s.logger))

	if s.config.EnableRateLimit {
		s.router.Use(apimiddleware.RateLimit(
			s.config.RateLimitPerSecond,
			s.config.RateLimitBurst,
			s.logger,
		))
		s.logger.Info("rate limiting enabled",
			zap.Float64("rate_per_second", s.config.RateLimitPerSecond),
			zap.Int("burst", s.config.RateLimitBurst),
		)
	}

	// CORS headers go on ALL responses, including the stream endpoint
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, allowedOrigin := range s.config.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, Last-Event-ID, Upgrade, Connection")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Max-Age", "300")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(streamConfig stream.Config) {
	// Event stream endpoint
	streamHandler := stream.NewHandler(s.bus, s.history, streamConfig, s.logger)
	s.router.Get(s.config.StreamPath, streamHandler.ServeHTTP)
	s.logger.Info("event stream enabled", zap.String("path", s.config.StreamPath))

	// WebSocket relay
	if s.config.EnableWebSocket {
		s.wsServer = websocket.NewServer(s.bus, s.history, streamConfig.GapQueryLimit, s.logger)
		s.router.Get(s.config.WebSocketPath, s.wsServer.ServeHTTP)
		s.logger.Info("websocket relay enabled", zap.String("path", s.config.WebSocketPath))
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)

	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Bus       *BusHealthInfo `json:"bus,omitempty"`
}

// BusHealthInfo contains publish bus health information
type BusHealthInfo struct {
	Type            string `json:"type"`
	Healthy         bool   `json:"healthy"`
	Subscribers     int    `json:"subscribers"`
	TotalMessages   uint64 `json:"total_messages"`
	TotalDeliveries uint64 `json:"total_deliveries"`
	DroppedMessages uint64 `json:"dropped_messages"`
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if s.bus != nil {
		totalMessages, totalDeliveries, dropped := s.bus.Stats()
		response.Bus = &BusHealthInfo{
			Type:            string(s.bus.Type()),
			Healthy:         s.bus.Healthy(),
			Subscribers:     s.bus.SubscriberCount(),
			TotalMessages:   totalMessages,
			TotalDeliveries: totalDeliveries,
			DroppedMessages: dropped,
		}
		if !s.bus.Healthy() {
			response.Status = "degraded"
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// handleVersion handles the version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"version":"1.0.0","name":"lattica-server"}`)
}

// Start starts the API server and blocks until it exits.
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		zap.String("address", s.config.Address()),
		zap.String("stream_path", s.config.StreamPath),
		zap.Bool("websocket", s.config.EnableWebSocket),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	// Close websocket clients first so Shutdown does not wait on them
	if s.wsServer != nil {
		s.wsServer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
