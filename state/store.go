package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/events"
	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
)

// Status is the lifecycle stage of one tracked operation.
type Status string

const (
	// StatusOptimistic means the client predicted the result handle but no
	// submission is known yet.
	StatusOptimistic Status = "optimistic"

	// StatusSubmitting means the transaction was sent and awaits
	// confirmation.
	StatusSubmitting Status = "submitting"

	// StatusConfirmed means the matching chain event arrived.
	StatusConfirmed Status = "confirmed"

	// StatusFailed means the submission failed.
	StatusFailed Status = "failed"
)

var (
	// ErrNotTracked is returned for handles with no entry.
	ErrNotTracked = errors.New("handle not tracked")

	// ErrInvalidTransition is returned for disallowed status changes.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Entry is the tracked state of one operation, keyed by its predicted
// result handle.
type Entry struct {
	Handle    events.Handle
	Status    Status
	Owner     string
	Signature string
	Slot      uint64
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store tracks optimistic operations until the chain confirms or fails
// them. Stale optimistic entries are reaped after the TTL so abandoned
// predictions cannot accumulate.
type Store struct {
	mu      sync.RWMutex
	entries map[events.Handle]*Entry
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates a state store with the given optimistic TTL.
func NewStore(ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = constants.DefaultOptimisticTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries: make(map[events.Handle]*Entry),
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "state-store")),
		now:     time.Now,
	}
}

// Track registers a predicted handle in the optimistic state. Re-tracking
// an existing handle resets it only if it was failed.
func (s *Store) Track(handle events.Handle, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[handle]; ok {
		if existing.Status != StatusFailed {
			return fmt.Errorf("%w: %s already %s", ErrInvalidTransition, handle, existing.Status)
		}
	}

	now := s.now()
	s.entries[handle] = &Entry{
		Handle:    handle,
		Status:    StatusOptimistic,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// MarkSubmitting moves an optimistic entry to submitting.
func (s *Store) MarkSubmitting(handle events.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[handle]
	if !ok {
		return ErrNotTracked
	}
	if entry.Status != StatusOptimistic {
		return fmt.Errorf("%w: %s is %s, want optimistic", ErrInvalidTransition, handle, entry.Status)
	}

	entry.Status = StatusSubmitting
	entry.UpdatedAt = s.now()
	return nil
}

// Confirm moves an entry to confirmed when the matching chain event
// arrives. Untracked handles are recorded directly as confirmed: the chain
// is the source of truth, with or without a prior prediction.
func (s *Store) Confirm(handle events.Handle, owner string, slot uint64, signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[handle]
	if !ok {
		s.entries[handle] = &Entry{
			Handle:    handle,
			Status:    StatusConfirmed,
			Owner:     owner,
			Signature: signature,
			Slot:      slot,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return
	}

	entry.Status = StatusConfirmed
	entry.Signature = signature
	entry.Slot = slot
	entry.UpdatedAt = now
}

// Fail moves a tracked entry to failed.
func (s *Store) Fail(handle events.Handle, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[handle]
	if !ok {
		return ErrNotTracked
	}
	if entry.Status == StatusConfirmed {
		return fmt.Errorf("%w: %s already confirmed", ErrInvalidTransition, handle)
	}

	entry.Status = StatusFailed
	entry.Reason = reason
	entry.UpdatedAt = s.now()
	return nil
}

// Get returns a copy of the entry for a handle.
func (s *Store) Get(handle events.Handle) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[handle]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Len returns the number of tracked entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reap removes optimistic entries older than the TTL and returns how many
// were removed.
func (s *Store) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	reaped := 0
	for handle, entry := range s.entries {
		if entry.Status == StatusOptimistic && entry.UpdatedAt.Before(cutoff) {
			delete(s.entries, handle)
			reaped++
		}
	}

	if reaped > 0 {
		s.logger.Info("reaped stale optimistic entries", zap.Int("count", reaped))
	}
	return reaped
}

// RunReaper reaps periodically until the context ends.
func (s *Store) RunReaper(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap()
		}
	}
}
