package alerts

import (
	"context"
	"testing"
	"time"

	"blackoutd/internal/history"
	"blackoutd/internal/i18n"
	"blackoutd/internal/model"
	"blackoutd/internal/sysnotify"
	logx "blackoutd/pkg/logx"
)

type staticSettings model.Settings

func (s staticSettings) Get() model.Settings { return model.Settings(s) }

type recorder struct{ items []history.Input }

func (r *recorder) Add(_ context.Context, in history.Input) model.NotificationItem {
	r.items = append(r.items, in)
	return model.NotificationItem{Title: in.Title, Type: in.Type}
}

type notifier struct{ sent []sysnotify.Notification }

func (n *notifier) Notify(_ context.Context, x sysnotify.Notification) error {
	n.sent = append(n.sent, x)
	return nil
}

func at(date string, hh, mm int) time.Time {
	d, _ := time.ParseInLocation(model.DateLayout, date, time.Local)
	return d.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

func newEval(st model.Settings, date string, ivs ...model.Interval) (*Evaluator, *recorder, *notifier) {
	sched := &model.Schedule{
		Success: true,
		Date:    date,
		Queues:  []model.QueueData{{Queue: "2.1", Intervals: ivs}},
	}
	rec, n := &recorder{}, &notifier{}
	src := func() (*model.Schedule, string) { return sched, "2.1" }
	e := New(Config{}, staticSettings(st), src, rec, n, i18n.New("en"), logx.Nop())
	return e, rec, n
}

func daySettings() model.Settings {
	st := model.DefaultSettings()
	st.NightMode = false
	return st
}

func TestLeadBoundary(t *testing.T) {
	const date = "2025-01-10"
	tests := []struct {
		name  string
		hh    int
		mm    int
		fires bool
	}{
		{"31 minutes before", 11, 29, false},
		{"30 minutes before", 11, 30, true},
		{"29 minutes before", 11, 31, true},
		{"at start", 12, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newEval(daySettings(), date, model.Interval{Start: "12:00", End: "16:00"})
			got := e.Tick(context.Background(), at(date, tt.hh, tt.mm))
			if (len(got) == 1) != tt.fires {
				t.Fatalf("fired=%v, want %v", got, tt.fires)
			}
			if tt.fires && got[0].ID != "2025-01-10-12:00-off" {
				t.Fatalf("id=%s", got[0].ID)
			}
		})
	}
}

func TestAtMostOncePerDay(t *testing.T) {
	const date = "2025-01-10"
	e, rec, n := newEval(daySettings(), date, model.Interval{Start: "12:00", End: "13:00"})

	var offs, ons int
	for m := 0; m <= 24*60; m++ {
		now := at(date, 0, 0).Add(time.Duration(m) * time.Minute)
		if now.Format(model.DateLayout) != date {
			break
		}
		for _, a := range e.Tick(context.Background(), now) {
			switch a.Kind {
			case KindOff:
				offs++
			case KindOn:
				ons++
			}
		}
	}
	if offs != 1 || ons != 1 {
		t.Fatalf("offs=%d ons=%d, want 1 each", offs, ons)
	}
	if len(rec.items) != 2 || len(n.sent) != 2 {
		t.Fatalf("history=%d notifications=%d", len(rec.items), len(n.sent))
	}
	if rec.items[0].Type != model.TypeWarning || rec.items[1].Type != model.TypeSuccess {
		t.Fatalf("types=%s,%s", rec.items[0].Type, rec.items[1].Type)
	}
}

func TestMidnightCrossingInterval(t *testing.T) {
	iv := model.Interval{Start: "23:30", End: "00:30"}

	e, _, _ := newEval(daySettings(), "2025-01-10", iv)
	got := e.Tick(context.Background(), at("2025-01-10", 23, 0))
	if len(got) != 1 || got[0].Kind != KindOff {
		t.Fatalf("23:00 fired %v, want off", got)
	}

	e, _, _ = newEval(daySettings(), "2025-01-11", iv)
	got = e.Tick(context.Background(), at("2025-01-11", 0, 0))
	if len(got) != 1 || got[0].Kind != KindOn {
		t.Fatalf("00:00 fired %v, want on", got)
	}
}

func TestUntil(t *testing.T) {
	s, en := Until(23*60, 23*60+30, 30)
	if s != 30 || en != 90 {
		t.Fatalf("23:00 -> %v,%v", s, en)
	}
	s, en = Until(0, 23*60+30, 30)
	if s != -30 || en != 30 {
		t.Fatalf("00:00 -> %v,%v", s, en)
	}
}

func TestNightModeSuppresses(t *testing.T) {
	const date = "2025-01-10"
	tests := []struct {
		name  string
		now   time.Time
		start string
		fires bool
	}{
		{"before night", at(date, 21, 50), "22:10", true},
		{"night start", at(date, 22, 0), "22:20", false},
		{"early morning", at(date, 7, 45), "08:10", false},
		{"morning", at(date, 8, 0), "08:20", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec, _ := newEval(model.DefaultSettings(), date, model.Interval{Start: tt.start, End: "23:59"})
			got := e.Tick(context.Background(), tt.now)
			if (len(got) > 0) != tt.fires {
				t.Fatalf("fired=%v, want %v", got, tt.fires)
			}
			if !tt.fires && len(rec.items) != 0 {
				t.Fatalf("history written during night")
			}
		})
	}
}

func TestGates(t *testing.T) {
	const date = "2025-01-10"
	iv := model.Interval{Start: "12:00", End: "13:00"}

	off := daySettings()
	off.LightAlerts = false
	e, _, _ := newEval(off, date, iv)
	if got := e.Tick(context.Background(), at(date, 11, 45)); len(got) != 0 {
		t.Fatalf("lightAlerts=false fired %v", got)
	}

	e, _, _ = newEval(daySettings(), "2025-01-11", iv)
	if got := e.Tick(context.Background(), at(date, 11, 45)); len(got) != 0 {
		t.Fatalf("other date fired %v", got)
	}
}

func TestFiredSetResetsNextDay(t *testing.T) {
	iv := model.Interval{Start: "12:00", End: "13:00"}
	day := "2025-01-10"
	sched := &model.Schedule{Success: true, Date: day, Queues: []model.QueueData{{Queue: "2.1", Intervals: []model.Interval{iv}}}}
	e := New(Config{}, staticSettings(daySettings()), func() (*model.Schedule, string) { return sched, "2.1" }, nil, nil, i18n.New("uk"), logx.Nop())

	if got := e.Tick(context.Background(), at(day, 11, 45)); len(got) != 1 {
		t.Fatalf("day1 fired %v", got)
	}
	sched.Date = "2025-01-11"
	if got := e.Tick(context.Background(), at("2025-01-11", 11, 45)); len(got) != 1 {
		t.Fatalf("day2 fired %v", got)
	}
	e.mu.Lock()
	n := len(e.fired)
	e.mu.Unlock()
	if n != 1 {
		t.Fatalf("fired set holds %d ids, want 1", n)
	}
}
