package audit

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLedger is an in-memory, thread-safe Ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryLedger creates a MemoryLedger holding only the genesis entry.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: []*Entry{{
		Index:      0,
		RecordedAt: timestamp(),
		Action:     ActionGenesis,
		DataHash:   GenesisHash,
		PrevHash:   GenesisHash,
		Hash:       GenesisHash,
	}}}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, subject, action string, payload map[string]string) (*Entry, error) {
	dataHash, err := payloadHash(payload)
	if err != nil {
		return nil, fmt.Errorf("hash payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[len(l.entries)-1]
	entry := &Entry{
		Index:      prev.Index + 1,
		RecordedAt: timestamp(),
		Subject:    subject,
		Action:     action,
		DataHash:   dataHash,
		PrevHash:   prev.Hash,
	}
	entry.Hash = hashEntry(entry)
	l.entries = append(l.entries, entry)
	return copyEntry(entry), nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= int64(len(l.entries)) {
		return nil, ErrEntryNotFound
	}
	return copyEntry(l.entries[index]), nil
}

// Tail implements Ledger.
func (l *MemoryLedger) Tail(_ context.Context, n int) ([]*Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := max(len(l.entries)-n, 0)
	out := make([]*Entry, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		out = append(out, copyEntry(e))
	}
	return out, nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var prev *Entry
	for _, curr := range l.entries {
		if err := checkLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}

func copyEntry(e *Entry) *Entry {
	c := *e
	return &c
}
