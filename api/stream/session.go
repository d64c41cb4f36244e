package stream

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

// session is one long-lived stream connection. The request context is the
// single source of truth for teardown: every timer and the bus subscription
// die with it.
type session struct {
	handler   *Handler
	id        bus.SubscriptionID
	channel   bus.Channel
	principal string
	fw        *frameWriter
	logger    *zap.Logger

	// lastEmitted is the durable watermark: the highest durable event id
	// written to this connection. Replay and live delivery both respect it,
	// which is what makes their overlap duplicate-free.
	lastEmitted string
	sinceSlot   uint64
}

func newSession(h *Handler, channel bus.Channel, principal, lastEventID string, sinceSlot uint64, fw *frameWriter) *session {
	id := bus.SubscriptionID(uuid.NewString())
	return &session{
		handler:     h,
		id:          id,
		channel:     channel,
		principal:   principal,
		fw:          fw,
		logger:      h.logger.With(zap.String("session", string(id)), zap.String("channel", string(channel))),
		lastEmitted: lastEventID,
		sinceSlot:   sinceSlot,
	}
}

// run drives the session: connected frame, live attach, gap fill, then
// event-driven delivery. Subscribing before the gap-fill query closes the
// window where a message lands between replay and attach; the watermark
// filters the resulting overlap.
func (s *session) run(ctx context.Context) {
	if err := s.fw.writeConnected(string(s.id)); err != nil {
		return
	}

	sub := s.handler.bus.Subscribe(s.id, []bus.Channel{s.channel}, s.handler.config.SubscriberBufferSize)
	if sub != nil {
		defer s.handler.bus.Unsubscribe(s.id)
	}

	if !s.gapFill(ctx) {
		return
	}

	if sub == nil {
		s.logger.Warn("bus unavailable, degrading to fallback polling")
		s.fallbackPoll(ctx)
		return
	}

	s.logger.Debug("session attached")

	keepAlive := time.NewTicker(s.handler.config.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-sub.Ch:
			if !ok {
				// Bus shut down under us; stay useful on history alone
				s.logger.Warn("bus subscription closed, degrading to fallback polling")
				s.fallbackPoll(ctx)
				return
			}
			if !s.emit(msg) {
				return
			}

		case <-keepAlive.C:
			if err := s.fw.writeKeepAlive(); err != nil {
				return
			}
		}
	}
}

// gapFill replays durable history newer than the client's marker, oldest
// first. Returns false when the connection died mid-replay.
func (s *session) gapFill(ctx context.Context) bool {
	if s.lastEmitted == "" && s.sinceSlot == 0 {
		return true
	}

	messages, err := s.handler.history.QueryGap(ctx, storage.GapQuery{
		AfterEventID: s.lastEmitted,
		SinceSlot:    s.sinceSlot,
		TargetOwner:  s.ownerFilter(),
		Limit:        s.handler.config.GapQueryLimit,
	})
	if err != nil {
		s.logger.Error("gap fill query failed", zap.Error(err))
		// Live delivery still works; the client just misses the replay
		return true
	}

	if len(messages) > 0 {
		s.logger.Debug("replaying gap", zap.Int("count", len(messages)))
	}

	for _, msg := range messages {
		if ctx.Err() != nil {
			return false
		}
		if !s.emit(msg) {
			return false
		}
	}
	return true
}

// emit writes one message, enforcing principal scoping and the duplicate
// watermark. Returns false on write failure.
func (s *session) emit(msg bus.Message) bool {
	// Defense in depth: the bus channel is already scoped, but a user
	// session never forwards someone else's message
	if owner := s.ownerFilter(); owner != "" && msg.TargetOwner != "" && msg.TargetOwner != owner {
		return true
	}

	if msg.Durable() {
		if s.lastEmitted != "" && msg.EventID <= s.lastEmitted {
			return true
		}
		if err := s.fw.writeMessage(msg); err != nil {
			return false
		}
		s.lastEmitted = msg.EventID
		return true
	}

	return s.fw.writeMessage(msg) == nil
}

// fallbackPoll keeps the connection functional during bus outages by
// polling durable history on a short interval.
func (s *session) fallbackPoll(ctx context.Context) {
	// Without a marker the first poll would replay the entire history;
	// prime the watermark to the newest stored id instead
	if s.lastEmitted == "" && s.sinceSlot == 0 {
		if latest, err := s.handler.history.LatestEventID(ctx, s.ownerFilter()); err == nil && latest != "" {
			s.lastEmitted = latest
		}
	}

	poll := time.NewTicker(s.handler.config.FallbackPollInterval)
	defer poll.Stop()

	keepAlive := time.NewTicker(s.handler.config.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-poll.C:
			messages, err := s.handler.history.QueryGap(ctx, storage.GapQuery{
				AfterEventID: s.lastEmitted,
				SinceSlot:    s.sinceSlot,
				TargetOwner:  s.ownerFilter(),
				Limit:        s.handler.config.GapQueryLimit,
			})
			if err != nil {
				s.logger.Error("fallback poll failed", zap.Error(err))
				continue
			}
			for _, msg := range messages {
				if !s.emit(msg) {
					return
				}
			}

		case <-keepAlive.C:
			if err := s.fw.writeKeepAlive(); err != nil {
				return
			}
		}
	}
}

// ownerFilter returns the principal for user sessions, empty otherwise.
func (s *session) ownerFilter() string {
	if s.channel == bus.GlobalChannel {
		return ""
	}
	return s.principal
}
