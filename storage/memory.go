package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/waLLLnut/lattica-server-sub000/bus"
)

// MemoryStore implements Store in memory. Used in tests and available as a
// throwaway backend for local development.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[solana.PublicKey]Checkpoint
	events      map[string]bus.Message
	closed      bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[solana.PublicKey]Checkpoint),
		events:      make(map[string]bus.Message),
	}
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// GetCheckpoint returns the stored checkpoint for a program.
func (s *MemoryStore) GetCheckpoint(_ context.Context, program solana.PublicKey) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Checkpoint{}, ErrClosed
	}
	cp, ok := s.checkpoints[program]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

// UpsertCheckpoint stores a checkpoint, rejecting slot regressions.
func (s *MemoryStore) UpsertCheckpoint(_ context.Context, program solana.PublicKey, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if current, ok := s.checkpoints[program]; ok && cp.Slot < current.Slot {
		return fmt.Errorf("%w: have slot %d, got %d", ErrCheckpointRegression, current.Slot, cp.Slot)
	}
	s.checkpoints[program] = cp
	return nil
}

// Append stores one durable message.
func (s *MemoryStore) Append(_ context.Context, msg bus.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !msg.Durable() {
		return nil
	}
	s.events[msg.EventID] = msg
	return nil
}

// QueryGap returns stored messages after the query's lower bound, ascending
// by event id.
func (s *MemoryStore) QueryGap(_ context.Context, q GapQuery) ([]bus.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var slotBound string
	if q.SinceSlot > 0 {
		slotBound = eventSlotPrefix(q.SinceSlot)
	}

	var messages []bus.Message
	for _, id := range ids {
		if q.AfterEventID != "" {
			if id <= q.AfterEventID {
				continue
			}
		} else if slotBound != "" && id < slotBound {
			continue
		}

		msg := s.events[id]
		if q.TargetOwner != "" && msg.TargetOwner != q.TargetOwner {
			continue
		}

		messages = append(messages, msg)
		if q.Limit > 0 && len(messages) >= q.Limit {
			break
		}
	}

	return messages, nil
}

// LatestEventID returns the highest stored event id for the owner filter.
func (s *MemoryStore) LatestEventID(_ context.Context, targetOwner string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrClosed
	}

	var latest string
	for id, msg := range s.events {
		if targetOwner != "" && msg.TargetOwner != targetOwner {
			continue
		}
		if id > latest {
			latest = id
		}
	}
	return latest, nil
}

// Cleanup deletes history rows published before the cutoff.
func (s *MemoryStore) Cleanup(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	cutoffMs := cutoff.UnixMilli()
	deleted := 0
	for id, msg := range s.events {
		if msg.PublishedAt < cutoffMs {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

// EventCount reports the number of stored history rows.
func (s *MemoryStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// HasEvent reports whether an event id is stored.
func (s *MemoryStore) HasEvent(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[eventID]
	return ok
}
