package ledger

import (
	"testing"
	"time"

	"blackoutd/internal/model"
	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

func TestLedgerPersistsAcrossOpen(t *testing.T) {
	kv := storage.NewMemoryKV()
	l := Open(kv, logx.Nop())
	l.Add("change-2025-01-10-2025-01-10T08:00:00Z", "new-2025-01-10-post1")
	l.Add("new-2025-01-10-post1")

	l2 := Open(kv, logx.Nop())
	if !l2.Has("new-2025-01-10-post1") || !l2.Has("change-2025-01-10-2025-01-10T08:00:00Z") {
		t.Fatalf("ids not restored")
	}
	if l2.Len() != 2 {
		t.Fatalf("len=%d, want 2", l2.Len())
	}
}

func TestLedgerPrune(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
	kv := storage.NewMemoryKV()
	l := Open(kv, logx.Nop(), WithClock(func() time.Time { return now }))

	l.Add(
		"new-2025-01-01-a",      // older than 30 days
		"change-2025-02-20-b",   // recent
		"garbage",               // unparsable, kept
		"new-2025-13-40-broken", // invalid date, kept
	)

	if n := l.Prune(30); n != 1 {
		t.Fatalf("pruned=%d, want 1", n)
	}
	if l.Has("new-2025-01-01-a") {
		t.Fatalf("old id must be pruned")
	}
	for _, id := range []string{"change-2025-02-20-b", "garbage", "new-2025-13-40-broken"} {
		if !l.Has(id) {
			t.Fatalf("expected %q kept", id)
		}
	}
	if Open(kv, logx.Nop()).Has("new-2025-01-01-a") {
		t.Fatalf("prune not persisted")
	}
}

func TestUpdateID(t *testing.T) {
	cases := []struct {
		name string
		it   model.UpdateItem
		want string
	}{
		{"updatedAt", model.UpdateItem{Date: "2025-01-10", UpdatedAt: "u1", SourcePostID: "p"}, "change-2025-01-10-u1"},
		{"sourcePost", model.UpdateItem{Date: "2025-01-10", SourcePostID: "p"}, "change-2025-01-10-p"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := UpdateID("change", tc.it); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
