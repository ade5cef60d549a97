// Package updates polls the backend's new/changed schedule feeds and turns
// unseen revisions into one notification per affected date.
package updates

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"blackoutd/internal/history"
	"blackoutd/internal/i18n"
	"blackoutd/internal/ledger"
	"blackoutd/internal/metrics"
	"blackoutd/internal/model"
	"blackoutd/internal/sysnotify"
	"blackoutd/internal/task/scheduler"
	logx "blackoutd/pkg/logx"
)

const (
	FeedNew     = "new"
	FeedChanged = "changed"

	jobName = "updates"
)

// ErrStopped is returned by Poll once the poller was stopped.
var ErrStopped = errors.New("updates poller stopped")

// Config controls the poller. Zero values take defaults.
type Config struct {
	Interval     time.Duration
	WindowHours  int
	RetainDays   int
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.WindowHours <= 0 {
		c.WindowHours = 24
	}
	if c.RetainDays <= 0 {
		c.RetainDays = 30
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

// Feeds is the slice of the API client the poller needs.
type Feeds interface {
	NewSchedules(ctx context.Context, hours int) (*model.UpdatesResponse, error)
	ChangedSchedules(ctx context.Context, hours int) (*model.UpdatesResponse, error)
}

type Recorder interface {
	Add(ctx context.Context, in history.Input) model.NotificationItem
}

type Notifier interface {
	Notify(ctx context.Context, n sysnotify.Notification) error
}

type SettingsSource interface {
	Get() model.Settings
}

type feed struct {
	name     string
	prefix   string
	typ      model.NotificationType
	enabled  func(model.Settings) bool
	fetch    func(ctx context.Context, hours int) (*model.UpdatesResponse, error)
	title    string
	fallback string
}

// Poller owns the polling state for both feeds.
type Poller struct {
	cfg      Config
	api      Feeds
	ledger   ledger.Ledger
	settings SettingsSource
	history  Recorder
	notifier Notifier
	tr       i18n.Translator
	log      logx.Logger

	feeds []feed

	// alive guards against results that arrive after Stop.
	alive atomic.Bool

	// mu serializes cycles and guards unavailable.
	mu          sync.Mutex
	unavailable bool

	sched *scheduler.Service
}

func New(cfg Config, api Feeds, l ledger.Ledger, settings SettingsSource, rec Recorder, n Notifier, tr i18n.Translator, log logx.Logger) *Poller {
	p := &Poller{
		cfg:      cfg.withDefaults(),
		api:      api,
		ledger:   l,
		settings: settings,
		history:  rec,
		notifier: n,
		tr:       tr,
		log:      log.With(logx.String("comp", "updates")),
	}
	p.feeds = []feed{
		{
			name:     FeedNew,
			prefix:   "new",
			typ:      model.TypeInfo,
			enabled:  func(s model.Settings) bool { return s.TomorrowSchedule },
			fetch:    api.NewSchedules,
			title:    i18n.NewSchedule,
			fallback: i18n.ScheduleFor,
		},
		{
			name:     FeedChanged,
			prefix:   "change",
			typ:      model.TypeWarning,
			enabled:  func(s model.Settings) bool { return s.ScheduleUpdates },
			fetch:    api.ChangedSchedules,
			title:    i18n.ScheduleChanged,
			fallback: i18n.ChangesFor,
		},
	}
	p.alive.Store(true)
	return p
}

// Start registers the periodic poll on s; the first cycle runs immediately.
func (p *Poller) Start(s *scheduler.Service) error {
	p.alive.Store(true)
	p.sched = s
	return s.Add(jobName, scheduler.Every(p.cfg.Interval), 2*p.cfg.FetchTimeout, func(ctx context.Context) error {
		err := p.Poll(ctx)
		if errors.Is(err, ErrStopped) {
			return nil
		}
		return err
	}, scheduler.RunNow())
}

// Stop cancels future cycles and drops results of in-flight ones.
func (p *Poller) Stop() {
	p.alive.Store(false)
	if p.sched != nil {
		p.sched.Remove(jobName)
	}
}

// Poll runs one cycle over every enabled feed. Transport errors are logged
// and left for the next cycle.
func (p *Poller) Poll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.settings.Get()
	for _, f := range p.feeds {
		if !p.alive.Load() {
			return ErrStopped
		}
		if !f.enabled(st) {
			continue
		}
		p.pollFeed(ctx, f)
	}
	if !p.alive.Load() {
		return ErrStopped
	}
	return nil
}

func (p *Poller) pollFeed(ctx context.Context, f feed) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	resp, err := f.fetch(fctx, p.cfg.WindowHours)
	cancel()
	if !p.alive.Load() {
		return
	}
	if err != nil {
		metrics.RecordUpdatePoll(f.name, "error")
		p.log.Error("update feed failed", logx.String("feed", f.name), logx.Err(err))
		return
	}
	if resp.ServiceUnavailable {
		metrics.RecordUpdatePoll(f.name, "unavailable")
		p.notifyUnavailable(ctx)
		return
	}
	p.unavailable = false
	metrics.RecordUpdatePoll(f.name, "ok")

	if resp.Success && len(resp.Schedules) > 0 {
		p.processBatch(ctx, f, resp.Schedules)
	}
	if n := p.ledger.Prune(p.cfg.RetainDays); n > 0 {
		p.log.Debug("pruned processed update ids", logx.Int("removed", n))
	}
}

func (p *Poller) notifyUnavailable(ctx context.Context) {
	if p.unavailable {
		return
	}
	p.unavailable = true
	title, msg := p.tr.T(i18n.ServerUnavailable), p.tr.T(i18n.ServerUnavailableDesc)
	p.history.Add(ctx, history.Input{Title: title, Message: msg, Type: model.TypeWarning})
	p.log.Warn("schedule service unavailable")
}

func (p *Poller) processBatch(ctx context.Context, f feed, items []model.UpdateItem) {
	byDate := map[string][]model.UpdateItem{}
	var dates []string
	for _, it := range items {
		if p.ledger.Has(ledger.UpdateID(f.prefix, it)) {
			continue
		}
		if _, ok := byDate[it.Date]; !ok {
			dates = append(dates, it.Date)
		}
		byDate[it.Date] = append(byDate[it.Date], it)
	}
	sort.Strings(dates)

	for _, date := range dates {
		group := byDate[date]
		latest := Latest(group)

		title := p.tr.T(f.title)
		msg := latest.PushMessage
		if msg == "" {
			msg = p.tr.T(f.fallback, date)
		}
		p.history.Add(ctx, history.Input{Title: title, Message: msg, Type: f.typ})
		if p.notifier != nil {
			if err := p.notifier.Notify(ctx, sysnotify.Notification{Title: title, Body: msg, Type: f.typ}); err != nil {
				p.log.Debug("system notification not shown", logx.String("feed", f.name), logx.Err(err))
			}
		}
		metrics.RecordUpdateNotified(f.name)

		ids := make([]string, 0, len(group))
		for _, it := range group {
			ids = append(ids, ledger.UpdateID(f.prefix, it))
		}
		p.ledger.Add(ids...)
		p.log.Info("schedule update notified", logx.String("feed", f.name), logx.String("date", date), logx.Int("revisions", len(group)))
	}
}

// Latest returns the item with the newest revision timestamp. Items with an
// unparseable revision rank oldest; ties keep the earlier item.
func Latest(items []model.UpdateItem) model.UpdateItem {
	best, bestAt := items[0], revisionTime(items[0])
	for _, it := range items[1:] {
		if at := revisionTime(it); at.After(bestAt) {
			best, bestAt = it, at
		}
	}
	return best
}

func revisionTime(it model.UpdateItem) time.Time {
	rev := it.Revision()
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, rev); err == nil {
			return t
		}
	}
	return time.Time{}
}
