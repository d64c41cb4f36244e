package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/bus"
)

// PebbleStore implements Store on PebbleDB.
type PebbleStore struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	// serializes checkpoint read-modify-write per process
	checkpointMu sync.Mutex
}

var _ Store = (*PebbleStore)(nil)

// NewPebbleStore opens a pebble-backed store at the configured path.
func NewPebbleStore(cfg *Config, logger *zap.Logger) (*PebbleStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := &pebble.Options{
		Cache:        pebble.NewCache(int64(cfg.CacheMB) << 20),
		MemTableSize: uint64(cfg.WriteBufferMB) << 20,
		MaxOpenFiles: cfg.MaxOpenFiles,
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &PebbleStore{
		db:     db,
		config: cfg,
		logger: logger,
	}, nil
}

func (s *PebbleStore) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close closes the store and releases resources.
func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// GetCheckpoint returns the stored checkpoint for a program.
func (s *PebbleStore) GetCheckpoint(_ context.Context, program solana.PublicKey) (Checkpoint, error) {
	if err := s.ensureNotClosed(); err != nil {
		return Checkpoint{}, err
	}

	value, closer, err := s.db.Get(CheckpointKey(program))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	defer closer.Close()

	var cp Checkpoint
	if err := json.Unmarshal(value, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, nil
}

// UpsertCheckpoint stores a checkpoint, rejecting slot regressions. Equal
// slots are accepted because a slot can carry multiple transactions.
func (s *PebbleStore) UpsertCheckpoint(ctx context.Context, program solana.PublicKey, cp Checkpoint) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}

	s.checkpointMu.Lock()
	defer s.checkpointMu.Unlock()

	current, err := s.GetCheckpoint(ctx, program)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil && cp.Slot < current.Slot {
		return fmt.Errorf("%w: have slot %d, got %d", ErrCheckpointRegression, current.Slot, cp.Slot)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := s.db.Set(CheckpointKey(program), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// Append stores one durable message with its owner index entry.
func (s *PebbleStore) Append(_ context.Context, msg bus.Message) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if !msg.Durable() {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(EventKey(msg.EventID), data, nil); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if msg.TargetOwner != "" {
		if err := batch.Set(OwnerIndexKey(msg.TargetOwner, msg.EventID), nil, nil); err != nil {
			return fmt.Errorf("failed to write owner index: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// QueryGap returns stored messages after the query's lower bound, ascending
// by event id.
func (s *PebbleStore) QueryGap(_ context.Context, q GapQuery) ([]bus.Message, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	if q.TargetOwner != "" {
		return s.queryGapByOwner(q)
	}
	return s.queryGapAll(q)
}

func (s *PebbleStore) queryGapAll(q GapQuery) ([]bus.Message, error) {
	lower := []byte(prefixEvents)
	switch {
	case q.AfterEventID != "":
		// Exclusive bound: smallest key after the exact event key
		lower = append(EventKey(q.AfterEventID), 0x00)
	case q.SinceSlot > 0:
		lower = EventKey(eventSlotPrefix(q.SinceSlot))
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound([]byte(prefixEvents)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var messages []bus.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var msg bus.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			s.logger.Warn("skipping undecodable history row",
				zap.String("key", string(iter.Key())),
				zap.Error(err))
			continue
		}
		messages = append(messages, msg)
		if q.Limit > 0 && len(messages) >= q.Limit {
			break
		}
	}

	return messages, nil
}

func (s *PebbleStore) queryGapByOwner(q GapQuery) ([]bus.Message, error) {
	ownerPrefix := []byte(prefixOwnerIdx + q.TargetOwner + "/")

	lower := ownerPrefix
	switch {
	case q.AfterEventID != "":
		lower = append(OwnerIndexKey(q.TargetOwner, q.AfterEventID), 0x00)
	case q.SinceSlot > 0:
		lower = []byte(prefixOwnerIdx + q.TargetOwner + "/" + eventSlotPrefix(q.SinceSlot))
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(ownerPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var messages []bus.Message
	for iter.First(); iter.Valid(); iter.Next() {
		eventID := strings.TrimPrefix(string(iter.Key()), string(ownerPrefix))

		msg, err := s.getEvent(eventID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Index row outlived its event row, likely mid-cleanup
				continue
			}
			return nil, err
		}

		messages = append(messages, msg)
		if q.Limit > 0 && len(messages) >= q.Limit {
			break
		}
	}

	return messages, nil
}

// LatestEventID returns the highest stored event id via a single reverse
// seek, scoped to one owner when targetOwner is non-empty.
func (s *PebbleStore) LatestEventID(_ context.Context, targetOwner string) (string, error) {
	if err := s.ensureNotClosed(); err != nil {
		return "", err
	}

	prefix := []byte(prefixEvents)
	if targetOwner != "" {
		prefix = []byte(prefixOwnerIdx + targetOwner + "/")
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return "", nil
	}
	return strings.TrimPrefix(string(iter.Key()), string(prefix)), nil
}

func (s *PebbleStore) getEvent(eventID string) (bus.Message, error) {
	value, closer, err := s.db.Get(EventKey(eventID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return bus.Message{}, ErrNotFound
		}
		return bus.Message{}, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}
	defer closer.Close()

	var msg bus.Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return bus.Message{}, fmt.Errorf("failed to decode event %s: %w", eventID, err)
	}
	return msg, nil
}

// Cleanup deletes history rows published before the cutoff.
func (s *PebbleStore) Cleanup(_ context.Context, cutoff time.Time) (int, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}

	eventsPrefix := []byte(prefixEvents)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventsPrefix,
		UpperBound: prefixUpperBound(eventsPrefix),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	cutoffMs := cutoff.UnixMilli()
	batch := s.db.NewBatch()
	defer batch.Close()

	deleted := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var msg bus.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			continue
		}
		if msg.PublishedAt >= cutoffMs {
			continue
		}

		if err := batch.Delete(EventKey(msg.EventID), nil); err != nil {
			return deleted, fmt.Errorf("failed to delete event: %w", err)
		}
		if msg.TargetOwner != "" {
			if err := batch.Delete(OwnerIndexKey(msg.TargetOwner, msg.EventID), nil); err != nil {
				return deleted, fmt.Errorf("failed to delete owner index: %w", err)
			}
		}
		deleted++
	}

	if deleted > 0 {
		if err := batch.Commit(pebble.Sync); err != nil {
			return 0, fmt.Errorf("failed to commit cleanup: %w", err)
		}
		s.logger.Info("history cleanup complete",
			zap.Int("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}

	return deleted, nil
}
