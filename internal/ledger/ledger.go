// Package ledger records notification-event identifiers that were already
// acted upon, so the same logical event never notifies twice.
package ledger

import (
	"strings"
	"sync"
	"time"

	"blackoutd/internal/model"
	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

// Ledger is a persisted set of processed identifiers.
type Ledger interface {
	Has(id string) bool
	Add(ids ...string)
	// Prune drops ids whose embedded date is older than maxAgeDays and
	// returns how many were removed.
	Prune(maxAgeDays int) int
}

// Store is a Ledger backed by one fast-store key holding a JSON array.
type Store struct {
	kv  storage.KV
	key string
	log logx.Logger
	now func() time.Time

	mu  sync.Mutex
	ids map[string]struct{}
	ord []string
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithKey(key string) Option {
	return func(s *Store) {
		if strings.TrimSpace(key) != "" {
			s.key = key
		}
	}
}

// Open loads the ledger from kv. A missing or unreadable entry yields an
// empty ledger.
func Open(kv storage.KV, log logx.Logger, opts ...Option) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		kv:  kv,
		key: storage.KeyProcessedUpdates,
		log: log,
		now: time.Now,
		ids: map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}

	var list []string
	if _, err := storage.GetJSON(kv, s.key, &list); err != nil {
		s.log.Warn("ledger load failed, starting empty", logx.Err(err))
	}
	for _, id := range list {
		if _, ok := s.ids[id]; ok || id == "" {
			continue
		}
		s.ids[id] = struct{}{}
		s.ord = append(s.ord, id)
	}
	return s
}

func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Store) Add(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		s.ord = append(s.ord, id)
		changed = true
	}
	if changed {
		s.persistLocked()
	}
}

func (s *Store) Prune(maxAgeDays int) int {
	if maxAgeDays <= 0 {
		return 0
	}
	cutoff := s.now().AddDate(0, 0, -maxAgeDays)

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.ord[:0]
	removed := 0
	for _, id := range s.ord {
		d, ok := EmbeddedDate(id)
		if ok && d.Before(cutoff) {
			delete(s.ids, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.ord = kept
	if removed > 0 {
		s.persistLocked()
	}
	return removed
}

// Len returns the number of recorded ids.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ord)
}

func (s *Store) persistLocked() {
	if err := storage.SetJSON(s.kv, s.key, s.ord); err != nil {
		s.log.Warn("ledger persist failed", logx.Err(err))
	}
}

// EmbeddedDate extracts the YYYY-MM-DD carried by an id of the form
// "{prefix}-{YYYY}-{MM}-{DD}-...".
func EmbeddedDate(id string) (time.Time, bool) {
	parts := strings.Split(id, "-")
	if len(parts) < 4 {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(model.DateLayout, strings.Join(parts[1:4], "-"), time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// UpdateID builds the dedup identifier for a feed item.
func UpdateID(prefix string, it model.UpdateItem) string {
	disc := it.UpdatedAt
	if disc == "" {
		disc = it.SourcePostID
	}
	return prefix + "-" + it.Date + "-" + disc
}
