package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/waLLLnut/lattica-server-sub000/bus"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("storage is closed")

	// ErrCheckpointRegression is returned when an upsert would move the
	// checkpoint to a lower slot.
	ErrCheckpointRegression = errors.New("checkpoint slot regression")
)

// Checkpoint records indexing progress for one program: the slot and
// signature of the last fully processed transaction. A restart resumes
// strictly after this point.
type Checkpoint struct {
	Slot      uint64           `json:"slot"`
	Signature solana.Signature `json:"signature"`
}

// GapQuery selects durable history rows for replay. AfterEventID and
// SinceSlot are alternative lower bounds; AfterEventID wins when both are
// set. AfterEventID is exclusive, SinceSlot inclusive.
type GapQuery struct {
	AfterEventID string
	SinceSlot    uint64
	TargetOwner  string
	Limit        int
}

// CheckpointStore persists per-program indexing progress.
type CheckpointStore interface {
	// GetCheckpoint returns the stored checkpoint, or ErrNotFound when the
	// program has never been indexed.
	GetCheckpoint(ctx context.Context, program solana.PublicKey) (Checkpoint, error)

	// UpsertCheckpoint stores a checkpoint. Slot must not regress; equal
	// slots are allowed since one slot can hold several transactions.
	UpsertCheckpoint(ctx context.Context, program solana.PublicKey, cp Checkpoint) error
}

// HistoryStore persists published messages for gap-fill replay.
type HistoryStore interface {
	// Append stores one durable message keyed by its event id. Transient
	// messages (non-durable ids) are ignored.
	Append(ctx context.Context, msg bus.Message) error

	// QueryGap returns stored messages after the query's lower bound in
	// ascending event-id order.
	QueryGap(ctx context.Context, q GapQuery) ([]bus.Message, error)

	// LatestEventID returns the highest stored event id, scoped to one
	// owner when targetOwner is non-empty. Returns "" when no rows match.
	LatestEventID(ctx context.Context, targetOwner string) (string, error)

	// Cleanup deletes messages published before the cutoff and returns how
	// many rows were removed.
	Cleanup(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is the combined persistence boundary.
type Store interface {
	CheckpointStore
	HistoryStore

	Close() error
}

// Config holds pebble store configuration.
type Config struct {
	Path          string `yaml:"path"`
	CacheMB       int    `yaml:"cache_mb"`
	WriteBufferMB int    `yaml:"write_buffer_mb"`
	MaxOpenFiles  int    `yaml:"max_open_files"`
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "data/lattica"
	}
	if c.CacheMB <= 0 {
		c.CacheMB = 64
	}
	if c.WriteBufferMB <= 0 {
		c.WriteBufferMB = 16
	}
	if c.MaxOpenFiles <= 0 {
		c.MaxOpenFiles = 1024
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("storage path cannot be empty")
	}
	return nil
}
