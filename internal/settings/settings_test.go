package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"blackoutd/internal/eventbus"
	"blackoutd/internal/model"
	"blackoutd/internal/storage"
	logx "blackoutd/pkg/logx"
)

func TestDefaultsOnFirstRun(t *testing.T) {
	s := New(storage.NewMemoryKV(), nil, nil, logx.Nop())
	if got := s.Get(); got != model.DefaultSettings() {
		t.Fatalf("got %+v, want defaults", got)
	}
}

func TestSilentModeRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	kv, err := storage.OpenFileKV(filepath.Join(dir, "kv.json"), logx.Nop())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	durable, err := storage.OpenSQLite(storage.Config{Path: filepath.Join(dir, "log.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer durable.Close()

	s := New(kv, durable, nil, logx.Nop())
	s.Update(ctx, func(m *model.Settings) { m.SilentMode = true })

	kv2, err := storage.OpenFileKV(filepath.Join(dir, "kv.json"), logx.Nop())
	if err != nil {
		t.Fatalf("reopen kv: %v", err)
	}
	if !New(kv2, durable, nil, logx.Nop()).Get().SilentMode {
		t.Fatalf("fast store lost silentMode")
	}
	silent, ok, err := DurableSilentMode(ctx, durable)
	if err != nil || !ok || !silent {
		t.Fatalf("durable mirror silent=%v ok=%v err=%v", silent, ok, err)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	kv := storage.NewMemoryKV()
	_ = kv.Set(storage.KeySettings, []byte(`{"lightAlerts":false}`))
	got := New(kv, nil, nil, logx.Nop()).Get()
	want := model.DefaultSettings()
	want.LightAlerts = false
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSetByName(t *testing.T) {
	s := New(storage.NewMemoryKV(), nil, nil, logx.Nop())
	cases := []struct {
		flag string
		get  func(model.Settings) bool
	}{
		{"lightAlerts", func(m model.Settings) bool { return m.LightAlerts }},
		{"nightMode", func(m model.Settings) bool { return m.NightMode }},
		{"scheduleUpdates", func(m model.Settings) bool { return m.ScheduleUpdates }},
		{"tomorrowSchedule", func(m model.Settings) bool { return m.TomorrowSchedule }},
	}
	for _, tc := range cases {
		t.Run(tc.flag, func(t *testing.T) {
			got, err := s.Set(context.Background(), tc.flag, false)
			if err != nil {
				t.Fatalf("set: %v", err)
			}
			if tc.get(got) {
				t.Fatalf("%s still true", tc.flag)
			}
		})
	}
	if _, err := s.Set(context.Background(), "bogus", true); !errors.Is(err, ErrUnknownFlag) {
		t.Fatalf("expected ErrUnknownFlag, got %v", err)
	}
}

func TestPreferences(t *testing.T) {
	p := NewPreferences(storage.NewMemoryKV(), nil, logx.Nop())
	if _, ok := p.Queue(); ok {
		t.Fatalf("expected no queue on first run")
	}
	if p.QueueOrDefault() != model.DefaultQueue {
		t.Fatalf("default queue mismatch")
	}
	if err := p.SetQueue("4.2"); err != nil {
		t.Fatalf("set queue: %v", err)
	}
	if q, ok := p.Queue(); !ok || q != "4.2" {
		t.Fatalf("queue=%q ok=%v", q, ok)
	}
	if err := p.SetQueue("9.9"); err == nil {
		t.Fatalf("expected invalid queue error")
	}
	if p.Theme() != ThemeDark {
		t.Fatalf("default theme should be dark")
	}
	if err := p.SetTheme(ThemeLight); err != nil || p.Theme() != ThemeLight {
		t.Fatalf("theme not persisted: %v", err)
	}
}

func TestUpdateKeepsChangesFromOtherProcess(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.json")
	daemonKV, err := storage.OpenFileKV(path, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cliKV, err := storage.OpenFileKV(path, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	daemon := New(daemonKV, nil, bus, logx.Nop())
	cli := New(cliKV, nil, nil, logx.Nop())
	if _, err := cli.Set(ctx, "lightAlerts", false); err != nil {
		t.Fatalf("cli set: %v", err)
	}

	got := daemon.Update(ctx, func(m *model.Settings) { m.NightMode = false })
	if got.LightAlerts || got.NightMode {
		t.Fatalf("daemon update dropped the other change: %+v", got)
	}
	<-events

	if _, err := cli.Set(ctx, "silentMode", true); err != nil {
		t.Fatalf("cli set: %v", err)
	}
	if !daemon.Reload().SilentMode || !daemon.Get().SilentMode {
		t.Fatalf("reload did not pick up silentMode")
	}
	select {
	case ev := <-events:
		if ev.Type != eventbus.SettingsChanged {
			t.Fatalf("event=%s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no settings event after reload")
	}
}

func TestPreferencesReloadAnnouncesQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	daemonKV, err := storage.OpenFileKV(path, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cliKV, err := storage.OpenFileKV(path, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	daemon := NewPreferences(daemonKV, bus, logx.Nop())
	if err := NewPreferences(cliKV, nil, logx.Nop()).SetQueue("3.2"); err != nil {
		t.Fatalf("cli set queue: %v", err)
	}
	daemon.Reload()
	select {
	case ev := <-events:
		if ev.Type != eventbus.QueueChanged || ev.Data != "3.2" {
			t.Fatalf("event=%+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no queue event")
	}
	daemon.Reload()
	if len(events) != 0 {
		t.Fatalf("unchanged queue announced again")
	}
}
