package settings

import (
	"fmt"
	"strings"
	"sync"

	"blackoutd/internal/eventbus"
	"blackoutd/internal/model"
	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Preferences persists the selected queue and theme in the fast store.
type Preferences struct {
	kv  storage.KV
	bus eventbus.Bus
	log logx.Logger

	mu        sync.Mutex
	lastQueue string
}

func NewPreferences(kv storage.KV, bus eventbus.Bus, log logx.Logger) *Preferences {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Preferences{kv: kv, bus: bus, log: log}
	p.lastQueue, _ = p.Queue()
	return p
}

// Queue returns the saved queue. ok is false when the user never picked one.
func (p *Preferences) Queue() (string, bool) {
	var q string
	found, err := storage.GetJSON(p.kv, storage.KeyUserQueue, &q)
	if err != nil {
		p.log.Warn("preferences: queue unreadable", logx.Err(err))
		return "", false
	}
	if !found || q == "" {
		return "", false
	}
	return q, true
}

// QueueOrDefault returns the saved queue or the default one.
func (p *Preferences) QueueOrDefault() string {
	if q, ok := p.Queue(); ok {
		return q
	}
	return model.DefaultQueue
}

func (p *Preferences) SetQueue(q string) error {
	q = strings.TrimSpace(q)
	if !model.ValidQueue(q) {
		return fmt.Errorf("unknown queue %q", q)
	}
	if err := storage.SetJSON(p.kv, storage.KeyUserQueue, q); err != nil {
		return err
	}
	p.mu.Lock()
	p.lastQueue = q
	p.mu.Unlock()
	p.bus.Publish(eventbus.Event{Type: eventbus.QueueChanged, Data: q})
	return nil
}

// Reload publishes QueueChanged when the stored queue differs from the one
// this process last saw, e.g. after another process saved a new one.
func (p *Preferences) Reload() {
	q, ok := p.Queue()
	if !ok {
		return
	}
	p.mu.Lock()
	changed := q != p.lastQueue
	p.lastQueue = q
	p.mu.Unlock()
	if changed {
		p.log.Debug("preferences: queue changed elsewhere", logx.String("queue", q))
		p.bus.Publish(eventbus.Event{Type: eventbus.QueueChanged, Data: q})
	}
}

func (p *Preferences) Theme() Theme {
	var t string
	if _, err := storage.GetJSON(p.kv, storage.KeyTheme, &t); err != nil {
		p.log.Debug("preferences: theme unreadable", logx.Err(err))
	}
	if Theme(t) == ThemeLight {
		return ThemeLight
	}
	return ThemeDark
}

func (p *Preferences) SetTheme(t Theme) error {
	if t != ThemeLight && t != ThemeDark {
		return fmt.Errorf("unknown theme %q", t)
	}
	return storage.SetJSON(p.kv, storage.KeyTheme, string(t))
}
