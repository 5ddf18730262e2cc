// Package audit keeps a hash-chained log of domain verification lifecycle
// events.
//
// The chain begins with a genesis entry whose Hash equals GenesisHash (64 hex
// zeros). Every later entry records the hash of its predecessor, so editing
// or removing a row is detected by Verify.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// GenesisHash is the hash of the genesis entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ActionGenesis is the action of the entry at index 0.
const ActionGenesis = "genesis"

// ErrEntryNotFound is returned by Get for an index past the chain tip.
var ErrEntryNotFound = errors.New("audit entry not found")

// Entry is a single record in the audit log.
type Entry struct {
	Index      int64     `json:"index"`
	RecordedAt time.Time `json:"recorded_at"`
	// Subject is the verification ID the event is about.
	Subject  string `json:"subject"`
	Action   string `json:"action"`
	DataHash string `json:"data_hash"` // SHA-256 of the event payload
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// Ledger is an append-only audit log.
type Ledger interface {
	// Append adds an entry chained to the current tip. payload is
	// canonicalised and only its SHA-256 is stored.
	Append(ctx context.Context, subject, action string, payload map[string]string) (*Entry, error)
	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int64) (*Entry, error)
	// Tail returns up to n of the most recent entries, oldest first.
	Tail(ctx context.Context, n int) ([]*Entry, error)
	// Verify walks the entire chain and reports the first inconsistency.
	Verify(ctx context.Context) error
	// Root returns the hash of the chain tip.
	Root(ctx context.Context) (string, error)
}

// hashEntry computes the hash of every field except Hash itself. It must not
// be called on the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s",
		e.Index, e.RecordedAt.UTC().Format(time.RFC3339Nano),
		e.Subject, e.Action, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// checkLink validates curr against its predecessor prev (nil for the genesis
// entry).
func checkLink(prev, curr *Entry) error {
	if prev == nil {
		if curr.Index != 0 || curr.Hash != GenesisHash {
			return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.Index != prev.Index+1 {
		return fmt.Errorf("gap in chain between index %d and %d", prev.Index, curr.Index)
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	return nil
}

// timestamp returns the current time at the precision Postgres stores.
func timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
