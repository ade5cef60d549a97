// Package history is the single notification history every producer writes
// to. It keeps a fast-store mirror for synchronous startup reads and a
// durable log shared with the background delivery side.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"blackoutd/internal/eventbus"
	"blackoutd/internal/metrics"
	"blackoutd/internal/model"
	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

const (
	DefaultMaxItems = 50
	dedupWindow     = time.Second
	durableTimeout  = 5 * time.Second
)

// Input describes a notification to add.
type Input struct {
	Title   string
	Message string
	Type    model.NotificationType
	// Timestamp is the delivery time for push-delivered items (RFC 3339).
	Timestamp string
	// Delivered marks items the background side already wrote to the
	// durable log; they are not mirrored again.
	Delivered bool
}

// Store implements the notification history.
//
// Persistence failures are logged and never returned; the store degrades to
// whatever data it still has.
type Store struct {
	kv      storage.KV
	durable storage.Log
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time
	newID   func() string
	max     int

	mu    sync.Mutex
	items []model.NotificationItem
	// stored is the fast-store value last read or written here. A different
	// value means another process replaced the history.
	stored []byte
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(s *Store) {
		if b != nil {
			s.bus = b
		}
	}
}

func WithLogger(l logx.Logger) Option { return func(s *Store) { s.log = l } }

func WithMaxItems(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.max = n
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func New(kv storage.KV, durable storage.Log, opts ...Option) *Store {
	s := &Store{
		kv:      kv,
		durable: durable,
		bus:     eventbus.Nop(),
		now:     time.Now,
		newID:   uuid.NewString,
		max:     DefaultMaxItems,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// Load merges the fast store and the durable log into the in-memory history
// and returns a copy of it.
func (s *Store) Load(ctx context.Context) []model.NotificationItem {
	s.mu.Lock()
	raw, local := s.readFastLocked()
	s.mu.Unlock()
	durable := s.loadDurable(ctx)

	merged := Merge(local, durable, s.max)

	s.mu.Lock()
	s.items = merged
	s.stored = raw
	out := cloneItems(merged)
	s.mu.Unlock()

	s.log.Debug("history loaded", logx.Int("local", len(local)), logx.Int("durable", len(durable)), logx.Int("total", len(out)))
	return out
}

func (s *Store) loadDurable(ctx context.Context) []model.NotificationItem {
	if s.durable == nil {
		return nil
	}
	// Headroom over the cap covers records the merge drops as duplicates.
	recs, err := s.durable.ListNotifications(ctx, 2*s.max)
	if err != nil {
		if !errors.Is(err, storage.ErrDisabled) {
			s.log.Warn("history: durable log unavailable, using fast store only", logx.Err(err))
		}
		return nil
	}
	out := make([]model.NotificationItem, 0, len(recs))
	for _, r := range recs {
		out = append(out, model.NotificationItem{
			ID:        strconv.FormatInt(r.ID, 10),
			Title:     r.Title,
			Message:   r.Message,
			Type:      model.CoerceType(r.Type),
			Date:      r.Timestamp.UnixMilli(),
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
			Read:      true,
		})
	}
	return out
}

// Merge concatenates local then durable items, drops duplicates (same title
// and message within one second, first occurrence wins), sorts newest first
// and caps the result at limit.
func Merge(local, durable []model.NotificationItem, limit int) []model.NotificationItem {
	all := make([]model.NotificationItem, 0, len(local)+len(durable))
	all = append(all, local...)
	all = append(all, durable...)

	out := make([]model.NotificationItem, 0, len(all))
	for i, it := range all {
		dup := false
		for j := 0; j < i; j++ {
			if sameEvent(all[j], it) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At().After(out[j].At()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sameEvent(a, b model.NotificationItem) bool {
	if a.Title != b.Title || a.Message != b.Message {
		return false
	}
	d := a.At().Sub(b.At())
	if d < 0 {
		d = -d
	}
	return d < dedupWindow
}

// Add prepends a new unread item, evicting the oldest beyond the cap.
func (s *Store) Add(ctx context.Context, in Input) model.NotificationItem {
	now := s.now()
	at := now
	if in.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, in.Timestamp); err == nil {
			at = t
		} else {
			s.log.Debug("history: ignoring unparsable timestamp", logx.String("timestamp", in.Timestamp))
			in.Timestamp = ""
		}
	}
	typ := in.Type
	if typ == "" {
		typ = model.TypeInfo
	}
	item := model.NotificationItem{
		ID:        s.newID(),
		Title:     in.Title,
		Message:   in.Message,
		Type:      typ,
		Date:      at.UnixMilli(),
		Read:      false,
		Timestamp: in.Timestamp,
	}

	s.mu.Lock()
	s.syncLocked()
	items := make([]model.NotificationItem, 0, len(s.items)+1)
	items = append(items, item)
	items = append(items, s.items...)
	if in.Timestamp != "" {
		// Pushed items may be older than what is already shown.
		sort.SliceStable(items, func(i, j int) bool { return items[i].At().After(items[j].At()) })
	}
	if len(items) > s.max {
		items = items[:s.max]
	}
	s.items = items
	s.persistLocked()
	s.mu.Unlock()

	if !in.Delivered {
		s.mirror(ctx, item, at)
	}
	metrics.RecordHistoryAdded(string(item.Type))
	s.bus.Publish(eventbus.Event{Type: eventbus.HistoryAdded, Data: item})
	return item
}

func (s *Store) mirror(ctx context.Context, item model.NotificationItem, at time.Time) {
	if s.durable == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, durableTimeout)
	defer cancel()
	err := s.durable.AppendNotification(ctx, storage.NotificationRecord{
		Title:     item.Title,
		Message:   item.Message,
		Type:      string(item.Type),
		Timestamp: at,
	})
	if err != nil && !errors.Is(err, storage.ErrDisabled) {
		s.log.Warn("history: durable mirror failed", logx.Err(err))
	}
}

// MarkAllRead flips every item to read.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	s.syncLocked()
	changed := false
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			changed = true
		}
	}
	if changed {
		s.persistLocked()
	}
	s.mu.Unlock()
	if changed {
		s.bus.Publish(eventbus.Event{Type: eventbus.HistoryRead})
	}
}

// Clear empties the history in both stores.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.items = nil
	s.stored = nil
	if s.kv != nil {
		if err := s.kv.Delete(storage.KeyHistory); err != nil {
			s.log.Warn("history: fast store clear failed", logx.Err(err))
		}
	}
	s.mu.Unlock()

	if s.durable != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		if err := s.durable.ClearNotifications(ctx); err != nil && !errors.Is(err, storage.ErrDisabled) {
			s.log.Warn("history: durable clear failed", logx.Err(err))
		}
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.HistoryCleared})
}

// Items returns a copy of the history, newest first.
func (s *Store) Items() []model.NotificationItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// Reload replaces the in-memory history with the fast-store copy when
// another process changed it. It reports whether anything changed.
func (s *Store) Reload() bool {
	s.mu.Lock()
	changed := s.syncLocked()
	s.mu.Unlock()
	if changed {
		s.bus.Publish(eventbus.Event{Type: eventbus.HistoryReloaded})
	}
	return changed
}

// syncLocked adopts the fast-store history when it is not the value this
// store last saw.
func (s *Store) syncLocked() bool {
	if s.kv == nil {
		return false
	}
	raw, items := s.readFastLocked()
	if bytes.Equal(raw, s.stored) {
		return false
	}
	if len(items) > s.max {
		items = items[:s.max]
	}
	s.items = items
	s.stored = raw
	s.log.Debug("history: fast store changed elsewhere, reloaded", logx.Int("items", len(items)))
	return true
}

func (s *Store) readFastLocked() ([]byte, []model.NotificationItem) {
	if s.kv == nil {
		return nil, nil
	}
	raw, ok, err := s.kv.Get(storage.KeyHistory)
	if err != nil || !ok {
		if err != nil {
			s.log.Warn("history: fast store unreadable", logx.Err(err))
		}
		return nil, nil
	}
	var items []model.NotificationItem
	if err := json.Unmarshal(raw, &items); err != nil {
		s.log.Warn("history: fast store unreadable", logx.Err(err))
		return raw, nil
	}
	return raw, items
}

func (s *Store) persistLocked() {
	if s.kv == nil {
		return
	}
	b, err := json.Marshal(s.items)
	if err == nil {
		err = s.kv.Set(storage.KeyHistory, b)
	}
	if err != nil {
		s.log.Warn("history: fast store persist failed", logx.Err(err))
		return
	}
	s.stored = b
}

func cloneItems(in []model.NotificationItem) []model.NotificationItem {
	if len(in) == 0 {
		return []model.NotificationItem{}
	}
	return append([]model.NotificationItem(nil), in...)
}
