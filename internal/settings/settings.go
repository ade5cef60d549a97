// Package settings persists the notification flags and the user's local
// preferences (selected queue, theme).
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"blackoutd/internal/eventbus"
	"blackoutd/internal/model"
	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

var ErrUnknownFlag = errors.New("unknown settings flag")

const mirrorTimeout = 5 * time.Second

// Store holds the notification settings singleton. Every change is written
// to the fast store, and silentMode is mirrored into the durable log for the
// background delivery side.
type Store struct {
	kv      storage.KV
	durable storage.Log
	bus     eventbus.Bus
	log     logx.Logger

	mu  sync.RWMutex
	cur model.Settings
	// stored is the fast-store value last read or written here.
	stored model.Settings
}

func New(kv storage.KV, durable storage.Log, bus eventbus.Bus, log logx.Logger) *Store {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{kv: kv, durable: durable, bus: bus, log: log, cur: model.DefaultSettings()}
	s.cur = s.readFast()
	s.stored = s.cur
	return s
}

func (s *Store) readFast() model.Settings {
	out := model.DefaultSettings()
	if s.kv == nil {
		return out
	}
	// Decoding over the defaults keeps defaults for fields an older file lacks.
	if _, err := storage.GetJSON(s.kv, storage.KeySettings, &out); err != nil {
		s.log.Warn("settings: fast store unreadable, using defaults", logx.Err(err))
		return model.DefaultSettings()
	}
	return out
}

// Get returns the current settings.
func (s *Store) Get() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update applies fn to the stored settings and persists the result. It
// starts from the fast store so changes made by other processes survive.
func (s *Store) Update(ctx context.Context, fn func(*model.Settings)) model.Settings {
	s.mu.Lock()
	next := s.cur
	if fresh := s.readFast(); fresh != s.stored {
		next = fresh
	}
	fn(&next)
	s.cur = next
	if s.kv != nil {
		if err := storage.SetJSON(s.kv, storage.KeySettings, next); err != nil {
			s.log.Warn("settings: fast store persist failed", logx.Err(err))
		} else {
			s.stored = next
		}
	}
	s.mu.Unlock()

	s.mirrorSilentMode(ctx, next.SilentMode)
	s.bus.Publish(eventbus.Event{Type: eventbus.SettingsChanged, Data: next})
	return next
}

// Set updates a single flag by its JSON name.
func (s *Store) Set(ctx context.Context, flag string, v bool) (model.Settings, error) {
	var apply func(*model.Settings)
	switch strings.TrimSpace(flag) {
	case "lightAlerts":
		apply = func(m *model.Settings) { m.LightAlerts = v }
	case "nightMode":
		apply = func(m *model.Settings) { m.NightMode = v }
	case "scheduleUpdates":
		apply = func(m *model.Settings) { m.ScheduleUpdates = v }
	case "tomorrowSchedule":
		apply = func(m *model.Settings) { m.TomorrowSchedule = v }
	case "silentMode":
		apply = func(m *model.Settings) { m.SilentMode = v }
	default:
		return s.Get(), fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
	}
	return s.Update(ctx, apply), nil
}

func (s *Store) mirrorSilentMode(ctx context.Context, v bool) {
	if s.durable == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	b, _ := json.Marshal(v)
	if err := s.durable.PutSetting(ctx, storage.SettingSilentMode, b); err != nil && !errors.Is(err, storage.ErrDisabled) {
		s.log.Warn("settings: durable mirror failed", logx.Err(err))
	}
}

// Reload re-reads the fast store and publishes the settings when they
// changed.
func (s *Store) Reload() model.Settings {
	next := s.readFast()
	s.mu.Lock()
	if next == s.stored {
		// Nothing new on disk; keep unsaved local changes.
		next = s.cur
		s.mu.Unlock()
		return next
	}
	changed := next != s.cur
	s.cur = next
	s.stored = next
	s.mu.Unlock()
	if changed {
		s.log.Debug("settings: reloaded from fast store")
		s.bus.Publish(eventbus.Event{Type: eventbus.SettingsChanged, Data: next})
	}
	return next
}

// DurableSilentMode reads the mirrored flag the way the background side
// does. ok is false when the mirror has no value or is unavailable.
func DurableSilentMode(ctx context.Context, durable storage.Log) (silent, ok bool, err error) {
	if durable == nil {
		return false, false, nil
	}
	raw, found, err := durable.GetSetting(ctx, storage.SettingSilentMode)
	if err != nil || !found {
		return false, false, err
	}
	if err := json.Unmarshal(raw, &silent); err != nil {
		return false, false, err
	}
	return silent, true, nil
}
