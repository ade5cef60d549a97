// Package alerts raises "power off soon" / "power on soon" notifications for
// the selected queue's outage windows of the current day.
package alerts

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"blackoutd/internal/history"
	"blackoutd/internal/i18n"
	"blackoutd/internal/metrics"
	"blackoutd/internal/model"
	"blackoutd/internal/sysnotify"
	"blackoutd/internal/task/scheduler"
	logx "blackoutd/pkg/logx"
)

const minutesPerDay = 24 * 60

const (
	KindOff = "off"
	KindOn  = "on"
)

// Config controls the evaluator. Zero values take defaults.
type Config struct {
	Interval       time.Duration
	Lead           time.Duration
	NightStartHour int
	NightEndHour   int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Lead <= 0 {
		c.Lead = 30 * time.Minute
	}
	if c.NightStartHour == 0 && c.NightEndHour == 0 {
		c.NightStartHour, c.NightEndHour = 22, 8
	}
	return c
}

// Recorder appends to the notification history.
type Recorder interface {
	Add(ctx context.Context, in history.Input) model.NotificationItem
}

// Notifier shows a system notification.
type Notifier interface {
	Notify(ctx context.Context, n sysnotify.Notification) error
}

// SettingsSource returns the current notification settings.
type SettingsSource interface {
	Get() model.Settings
}

// ScheduleSource returns the schedule currently on screen and the selected
// queue. A nil schedule means nothing is loaded.
type ScheduleSource func() (*model.Schedule, string)

// Evaluator checks schedule windows against the clock and fires each
// boundary alert at most once per calendar day.
type Evaluator struct {
	cfg      Config
	settings SettingsSource
	schedule ScheduleSource
	history  Recorder
	notifier Notifier
	tr       i18n.Translator
	log      logx.Logger

	mu    sync.Mutex
	day   string
	fired map[string]struct{}
}

func New(cfg Config, settings SettingsSource, schedule ScheduleSource, rec Recorder, n Notifier, tr i18n.Translator, log logx.Logger) *Evaluator {
	return &Evaluator{
		cfg:      cfg.withDefaults(),
		settings: settings,
		schedule: schedule,
		history:  rec,
		notifier: n,
		tr:       tr,
		log:      log.With(logx.String("comp", "alerts")),
		fired:    map[string]struct{}{},
	}
}

// Register installs the periodic check on s, running once immediately.
func (e *Evaluator) Register(s *scheduler.Service, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return s.Add("alerts", scheduler.Every(e.cfg.Interval), 10*time.Second, func(ctx context.Context) error {
		e.Tick(ctx, now())
		return nil
	}, scheduler.RunNow())
}

// Alert is one boundary alert that fired.
type Alert struct {
	ID   string
	Kind string
	At   string
}

// Tick evaluates all windows at now and fires pending alerts. It returns the
// alerts fired in this call.
func (e *Evaluator) Tick(ctx context.Context, now time.Time) []Alert {
	st := e.settings.Get()
	if !st.LightAlerts {
		return nil
	}
	sched, queue := e.schedule()
	if sched == nil || !sched.Success {
		return nil
	}
	today := now.Format(model.DateLayout)
	if sched.Date != today {
		return nil
	}
	if st.NightMode && e.isNight(now) {
		return nil
	}
	qd := sched.Queue(queue)
	if qd == nil {
		return nil
	}

	lead := e.cfg.Lead.Minutes()
	nowMin := float64(now.Hour()*60+now.Minute()) + float64(now.Second())/60 + float64(now.Nanosecond())/6e10

	var out []Alert
	for _, iv := range qd.Intervals {
		start, ok1 := parseClock(iv.Start)
		end, ok2 := parseClock(iv.End)
		if !ok1 || !ok2 {
			e.log.Debug("skip malformed interval", logx.String("start", iv.Start), logx.String("end", iv.End))
			continue
		}
		untilStart, untilEnd := Until(nowMin, start, end)

		if untilStart > 0 && untilStart <= lead {
			if a, ok := e.fire(ctx, today, KindOff, iv.Start); ok {
				out = append(out, a)
			}
		}
		if untilEnd > 0 && untilEnd <= lead {
			if a, ok := e.fire(ctx, today, KindOn, iv.End); ok {
				out = append(out, a)
			}
		}
	}
	return out
}

// Until returns the minutes from nowMin to start and to end. An interval
// whose end is before its start crosses midnight; the end moves to the next
// day and nowMin follows it when it lies in the post-midnight tail.
func Until(nowMin, start, end float64) (untilStart, untilEnd float64) {
	if end < start {
		if nowMin < end {
			nowMin += minutesPerDay
		}
		end += minutesPerDay
	}
	return start - nowMin, end - nowMin
}

func (e *Evaluator) isNight(now time.Time) bool {
	h := now.Hour()
	s, en := e.cfg.NightStartHour, e.cfg.NightEndHour
	if s > en {
		return h >= s || h < en
	}
	return h >= s && h < en
}

// AlertID is the identifier of one boundary alert.
func AlertID(date, at, kind string) string { return date + "-" + at + "-" + kind }

func (e *Evaluator) fire(ctx context.Context, today, kind, at string) (Alert, bool) {
	id := AlertID(today, at, kind)

	e.mu.Lock()
	if e.day != today {
		e.day = today
		e.fired = map[string]struct{}{}
	}
	if _, done := e.fired[id]; done {
		e.mu.Unlock()
		return Alert{}, false
	}
	e.fired[id] = struct{}{}
	e.mu.Unlock()

	title, body, typ := e.tr.T(i18n.LightOff), e.tr.T(i18n.LightOffDesc, at), model.TypeWarning
	if kind == KindOn {
		title, body, typ = e.tr.T(i18n.LightOn), e.tr.T(i18n.LightOnDesc, at), model.TypeSuccess
	}

	if e.history != nil {
		e.history.Add(ctx, history.Input{Title: title, Message: body, Type: typ})
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, sysnotify.Notification{Title: title, Body: body, Type: typ}); err != nil {
			e.log.Debug("system notification not shown", logx.String("id", id), logx.Err(err))
		}
	}
	metrics.RecordAlertFired(kind)
	e.log.Info("alert fired", logx.String("id", id))
	return Alert{ID: id, Kind: kind, At: at}, true
}

// parseClock parses "HH:MM" into minutes of day.
func parseClock(s string) (float64, bool) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 24 || m < 0 || m > 59 {
		return 0, false
	}
	return float64(h*60 + m), true
}
