package storage

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Key prefixes for the different record types
const (
	prefixCheckpoint = "/meta/checkpoint/"
	prefixEvents     = "/data/events/"
	prefixOwnerIdx   = "/index/owner/"
)

// CheckpointKey returns the key for a program's checkpoint.
// Format: /meta/checkpoint/{program}
func CheckpointKey(program solana.PublicKey) []byte {
	return []byte(prefixCheckpoint + program.String())
}

// EventKey returns the key for a durable history row. Event ids are
// lexicographically sortable, so iteration over this prefix yields chain
// order.
// Format: /data/events/{eventId}
func EventKey(eventID string) []byte {
	return []byte(prefixEvents + eventID)
}

// OwnerIndexKey returns the key for the per-owner event index.
// Format: /index/owner/{owner}/{eventId}
func OwnerIndexKey(owner, eventID string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixOwnerIdx, owner, eventID))
}

// eventSlotPrefix returns the event-id prefix shared by every chain event in
// the given slot, used as an inclusive lower bound for sinceSlot scans.
func eventSlotPrefix(slot uint64) string {
	return fmt.Sprintf("s%020d", slot)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
