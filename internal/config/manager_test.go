package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalJSON = `{"api":{"base_url":"https://power.example.org/api"}}`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDecodeStrict(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"minimal json", "c.json", minimalJSON, ""},
		{"unknown field", "c.json", `{"api":{"base_url":"https://x.org"},"plugins":{}}`, "unknown field"},
		{"trailing data", "c.json", minimalJSON + minimalJSON, "trailing data"},
		{"yaml", "c.yaml", "api:\n  base_url: https://x.org\nlanguage: en\n", ""},
		{"yaml unknown field", "c.yml", "api:\n  base_url: https://x.org\n  retries: 3\n", "unknown field"},
		{"missing base url", "c.json", `{}`, "api.base_url is required"},
		{"bad duration", "c.json", `{"api":{"base_url":"https://x.org"},"alerts":{"lead":"soon"}}`, "alerts.lead: invalid duration"},
		{"bad language", "c.json", `{"api":{"base_url":"https://x.org"},"language":"de"}`, "language must be one of"},
		{"push needs distributor", "c.json", `{"api":{"base_url":"https://x.org"},"push":{"enabled":true}}`, "push.distributor_url is required"},
		{"mqtt needs topic", "c.json", `{"api":{"base_url":"https://x.org"},"bridge":{"mqtt":{"broker":"tcp://localhost:1883"}}}`, "bridge.mqtt.topic is required"},
		{"night hour range", "c.json", `{"api":{"base_url":"https://x.org"},"alerts":{"night_start_hour":24}}`, "alerts.night_start_hour must be <="},
		{"debug addr", "c.json", `{"api":{"base_url":"https://x.org"},"debug":{"enabled":true,"addr":"127.0.0.1:6060"}}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.file, []byte(tc.body))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	err := Validate(&Config{Language: "fr", Updates: UpdatesConfig{Interval: "often"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"api.base_url", "language", "updates.interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestDurationOr(t *testing.T) {
	if got := DurationOr("", time.Minute); got != time.Minute {
		t.Fatalf("empty: got %v", got)
	}
	if got := DurationOr("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("90s: got %v", got)
	}
	if got := DurationOr("0s", time.Minute); got != time.Minute {
		t.Fatalf("zero: got %v", got)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration accepted")
	}
}

func TestManagerLoadAndSubscribeDropsOldest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blackoutd.json")
	writeFile(t, path, minimalJSON)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get should return the committed config")
	}

	ch := m.Subscribe(1)
	a, b := &Config{Language: "uk"}, &Config{Language: "en"}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("slow subscriber should keep the newest config, got %+v", got)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after Unsubscribe")
	}
}

func TestReloadSkipsUnchangedAndRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blackoutd.json")
	writeFile(t, path, minimalJSON)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatalf("unchanged content must not publish")
	}

	writeFile(t, path, `{"api":{"base_url":"https://x.org"},"language":"xx"}`)
	if m.reload(ctx) {
		t.Fatalf("invalid content must not publish")
	}

	m.SetValidator(func(context.Context, *Config) error { return os.ErrPermission })
	writeFile(t, path, `{"api":{"base_url":"https://x.org"},"language":"en"}`)
	if m.reload(ctx) {
		t.Fatalf("validator rejection must not publish")
	}
	if m.Get().Language != "" {
		t.Fatalf("rejected config was committed")
	}

	m.SetValidator(nil)
	if !m.reload(ctx) {
		t.Fatalf("valid change should publish")
	}
	if m.Get().Language != "en" {
		t.Fatalf("language=%q, want en", m.Get().Language)
	}
}

func TestWatchPublishesFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blackoutd.yaml")
	writeFile(t, path, "api:\n  base_url: https://x.org\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "api:\n  base_url: https://x.org\nlanguage: en\n")

	select {
	case cfg := <-ch:
		if cfg.Language != "en" {
			t.Fatalf("language=%q, want en", cfg.Language)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
}

func TestSummarizeChange(t *testing.T) {
	oldCfg := &Config{API: APIConfig{BaseURL: "https://x.org"}}
	newCfg := &Config{
		API:           APIConfig{BaseURL: "https://x.org"},
		Logging:       LoggingConfig{Level: "debug"},
		Notifications: NotificationsConfig{Telegram: &TelegramConfig{Token: "secret", ChatID: 1}},
		Push:          PushConfig{Enabled: true, DistributorURL: "https://ntfy.sh/up"},
	}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	want := []string{"logging", "notifications", "push"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed=%v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected log fields")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "push" {
		t.Fatalf("restart required=%v, want [push]", got)
	}
}
