// Package schedule loads outage schedules cache-first and classifies what
// the user should see when no data is available.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"blackoutd/internal/apiclient"
	"blackoutd/internal/eventbus"
	"blackoutd/internal/i18n"
	"blackoutd/internal/model"
	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

// Status is the outcome of a load.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusNotPublished Status = "not_published"
	StatusNoData       Status = "no_data"
	StatusLoadFailed   Status = "load_failed"
)

// MessageKey returns the i18n key describing s, or "" for success.
func (s Status) MessageKey() string {
	switch s {
	case StatusNotPublished:
		return i18n.NotPublished
	case StatusNoData:
		return i18n.NoData
	case StatusLoadFailed:
		return i18n.LoadFailed
	}
	return ""
}

// Source is the slice of the API client the loader needs.
type Source interface {
	ScheduleByDate(ctx context.Context, date string) (*model.Schedule, error)
	LatestSchedule(ctx context.Context) (*model.Schedule, error)
}

// Result is what a load produced.
type Result struct {
	Date     string
	Schedule *model.Schedule
	Status   Status
	// FromCache is set when Schedule came from the fast store because the
	// network could not provide it.
	FromCache   bool
	CachedAt    time.Time
	Unavailable bool
}

type Loader struct {
	kv  storage.KV
	api Source
	bus eventbus.Bus
	log logx.Logger
	now func() time.Time

	mu      sync.RWMutex
	current Result
}

type Option func(*Loader)

func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(l *Loader) {
		if b != nil {
			l.bus = b
		}
	}
}

func New(kv storage.KV, api Source, log logx.Logger, opts ...Option) *Loader {
	l := &Loader{kv: kv, api: api, bus: eventbus.Nop(), log: log.With(logx.String("comp", "schedule")), now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Cached returns the cached schedule for date.
func (l *Loader) Cached(date string) (model.CachedSchedule, bool) {
	var c model.CachedSchedule
	ok, err := storage.GetJSON(l.kv, storage.CachedScheduleKey(date), &c)
	if err != nil {
		l.log.Debug("read cached schedule failed", logx.String("date", date), logx.Err(err))
		return c, false
	}
	return c, ok
}

func (l *Loader) save(date string, s *model.Schedule) {
	c := model.CachedSchedule{Data: *s, Timestamp: l.now().UnixMilli()}
	if err := storage.SetJSON(l.kv, storage.CachedScheduleKey(date), c); err != nil {
		l.log.Warn("cache schedule failed", logx.String("date", date), logx.Err(err))
	}
}

// Load fetches date, falling back to the cache on transport errors and to
// the latest schedule when today's date is not found.
func (l *Loader) Load(ctx context.Context, date string) Result {
	res := l.load(ctx, date)
	l.mu.Lock()
	l.current = res
	l.mu.Unlock()
	l.bus.Publish(eventbus.Event{Type: eventbus.ScheduleLoaded, Time: l.now(), Data: res})
	if res.Unavailable {
		l.bus.Publish(eventbus.Event{Type: eventbus.ServiceUnavailable, Time: l.now(), Data: date})
	}
	return res
}

func (l *Loader) load(ctx context.Context, date string) Result {
	today := IsToday(date, l.now())
	cached, haveCache := l.Cached(date)

	data, err := l.api.ScheduleByDate(ctx, date)
	switch {
	case errors.Is(err, apiclient.ErrNotFound):
		data, err = nil, nil
	case err == nil && data != nil && data.ServiceUnavailable:
		err = apiclient.ErrServiceUnavailable
	}
	if err != nil {
		l.log.Warn("schedule fetch failed", logx.String("date", date), logx.Err(err))
		unavailable := errors.Is(err, apiclient.ErrServiceUnavailable)
		if haveCache {
			s := cached.Data
			return Result{Date: date, Schedule: &s, Status: StatusSuccess, FromCache: true, CachedAt: time.UnixMilli(cached.Timestamp), Unavailable: unavailable}
		}
		return Result{Date: date, Status: StatusLoadFailed, Unavailable: unavailable}
	}

	if !data.HasData() {
		data = nil
	}
	if data == nil && today {
		latest, lerr := l.api.LatestSchedule(ctx)
		if lerr != nil {
			l.log.Debug("latest schedule fallback failed", logx.Err(lerr))
		} else if latest.HasData() && latest.Date == date {
			data = latest
		}
	}
	if data != nil {
		l.save(date, data)
		return Result{Date: date, Schedule: data, Status: StatusSuccess}
	}

	// The backend answered but has nothing for date.
	if date > l.now().Format(model.DateLayout) {
		return Result{Date: date, Status: StatusNotPublished}
	}
	return Result{Date: date, Status: StatusNoData}
}

// Current returns the last load result.
func (l *Loader) Current() Result {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// ThreeDayRange returns yesterday, today and tomorrow as dates.
func ThreeDayRange(now time.Time) []string {
	return []string{
		now.AddDate(0, 0, -1).Format(model.DateLayout),
		now.Format(model.DateLayout),
		now.AddDate(0, 0, 1).Format(model.DateLayout),
	}
}

// IsToday reports whether date is now's local calendar date.
func IsToday(date string, now time.Time) bool {
	return date == now.Format(model.DateLayout)
}

// StaleBanner decides when to show the "showing saved version" banner: only
// once cached data has been on screen for the whole delay.
type StaleBanner struct {
	Delay time.Duration

	since time.Time
	on    bool
}

// Observe records whether cached data is shown at now.
func (b *StaleBanner) Observe(usingCache bool, now time.Time) {
	if !usingCache {
		b.on = false
		return
	}
	if !b.on {
		b.on = true
		b.since = now
	}
}

// Visible reports whether the banner should show at now.
func (b *StaleBanner) Visible(now time.Time) bool {
	d := b.Delay
	if d <= 0 {
		d = 5 * time.Second
	}
	return b.on && now.Sub(b.since) >= d
}
