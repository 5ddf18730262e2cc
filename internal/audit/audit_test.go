package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jmerrifield20/domainverify/internal/audit"
	"go.uber.org/zap"
)

var ctx = context.Background()

func TestNewMemoryLedger_genesisEntry(t *testing.T) {
	l := audit.NewMemoryLedger()

	entry, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Action != audit.ActionGenesis {
		t.Errorf("expected action %q, got %q", audit.ActionGenesis, entry.Action)
	}
	if entry.Hash != audit.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}

	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != audit.GenesisHash {
		t.Errorf("Root() on genesis-only: got %q", root)
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() on genesis-only chain: %v", err)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := audit.NewMemoryLedger()

	e1, err := l.Append(ctx, "v-1", "domain_verification.created", map[string]string{"domain": "acme.io"})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, "v-1", "domain_verification.verified", nil)
	if err != nil {
		t.Fatal(err)
	}

	if e1.Index != 1 || e2.Index != 2 {
		t.Errorf("indexes = %d, %d", e1.Index, e2.Index)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want %q", e2.PrevHash, e1.Hash)
	}
	root, _ := l.Root(ctx)
	if root != e2.Hash {
		t.Errorf("Root(): got %q, want %q", root, e2.Hash)
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() failed on valid chain: %v", err)
	}
}

func TestAppend_payloadHash(t *testing.T) {
	l := audit.NewMemoryLedger()
	payload := map[string]string{"domain": "acme.io", "status": "VERIFIED"}

	e, err := l.Append(ctx, "v-1", "domain_verification.verified", payload)
	if err != nil {
		t.Fatal(err)
	}
	if !audit.PayloadMatches(e, map[string]string{"status": "VERIFIED", "domain": "acme.io"}) {
		t.Error("same payload in another order should match")
	}
	if audit.PayloadMatches(e, map[string]string{"domain": "evil.io", "status": "VERIFIED"}) {
		t.Error("different payload matched")
	}
}

func TestGet_returnsCopies(t *testing.T) {
	l := audit.NewMemoryLedger()
	_, _ = l.Append(ctx, "v-1", "domain_verification.created", nil)
	e, _ := l.Append(ctx, "v-1", "domain_verification.failed", nil)
	_, _ = l.Append(ctx, "v-1", "domain_verification.reset", nil)

	// Get returns copies, so rewriting one does not touch the chain.
	e.Action = "domain_verification.verified"
	if err := l.Verify(ctx); err != nil {
		t.Errorf("chain changed through a returned entry: %v", err)
	}
}

func TestGet_outOfRange(t *testing.T) {
	l := audit.NewMemoryLedger()
	if _, err := l.Get(ctx, 5); !errors.Is(err, audit.ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestTail(t *testing.T) {
	l := audit.NewMemoryLedger()
	for _, action := range []string{"a", "b", "c"} {
		if _, err := l.Append(ctx, "v-1", action, nil); err != nil {
			t.Fatal(err)
		}
	}

	tail, err := l.Tail(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Action != "b" || tail[1].Action != "c" {
		t.Errorf("tail = %+v", tail)
	}

	all, _ := l.Tail(ctx, 100)
	if len(all) != 4 {
		t.Errorf("expected genesis + 3, got %d", len(all))
	}
	if none, _ := l.Tail(ctx, 0); len(none) != 0 {
		t.Errorf("Tail(0) = %d entries", len(none))
	}
}

func TestRecorder_usesIDAsSubject(t *testing.T) {
	l := audit.NewMemoryLedger()
	r := audit.NewRecorder(l, zap.NewNop())

	r.Record(ctx, "domain_verification.created", map[string]string{"id": "v-42", "domain": "acme.io"})

	e, err := l.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if e.Subject != "v-42" || e.Action != "domain_verification.created" {
		t.Errorf("entry = %+v", e)
	}
}
