package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"blackoutd/internal/bridge"
	"blackoutd/internal/config"
	"blackoutd/internal/eventbus"
	"blackoutd/internal/history"
	"blackoutd/internal/model"
	"blackoutd/internal/observability/debug"
	"blackoutd/internal/push"
)

func writeConfig(t *testing.T, baseURL, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`{
  "api": {"base_url": %q},
  "storage": {"kv_path": %q, "driver": "none"},
  "logging": {"level": "error"},
  "notifications": {"enabled": true}%s
}`, baseURL, filepath.Join(dir, "kv.json"), extra)
	path := filepath.Join(dir, "blackoutd.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func notFoundAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	return srv
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	if err := os.WriteFile(path, []byte(`{"api":{}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected error for missing base_url")
	}
}

func TestStartDeliversBridgeMessagesAndStops(t *testing.T) {
	api := notFoundAPI(t)
	a, err := Open(writeConfig(t, api.URL+"/api", ""))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if got := a.Push.State(); got != push.StateUnsupported {
		t.Fatalf("push state=%s, want unsupported when push is disabled", got)
	}

	ok := a.Inbox().Post(bridge.PushNotification(bridge.Payload{
		Title:     "Графік змінено",
		Message:   "Черга 3.1",
		Type:      "warning",
		Timestamp: "2025-01-10T08:00:00Z",
	}))
	if !ok {
		t.Fatalf("inbox rejected message")
	}
	waitFor(t, func() bool { return a.History.UnreadCount() == 1 })
	if it := a.History.Items()[0]; it.Type != model.TypeWarning || it.Title != "Графік змінено" {
		t.Fatalf("unexpected history item %+v", it)
	}

	a.Inbox().Post(bridge.OpenPanel())
	waitFor(t, func() bool { return a.History.UnreadCount() == 0 })

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestNotificationGate(t *testing.T) {
	a, err := Open(writeConfig(t, "https://power.example.org/api", ""))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	if ok, _ := a.notificationGate(); ok {
		t.Fatalf("gate should be closed before permission is granted")
	}

	auto, err := Open(writeConfig(t, "https://power.example.org/api", `, "push": {"auto_grant": true}`))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer auto.Close()
	if _, err := auto.Perms.Request(context.Background()); err != nil {
		t.Fatalf("request: %v", err)
	}
	if ok, reason := auto.notificationGate(); !ok {
		t.Fatalf("gate closed after grant: %s", reason)
	}
	if _, err := auto.Settings.Set(context.Background(), "silentMode", true); err != nil {
		t.Fatalf("set silent: %v", err)
	}
	if ok, reason := auto.notificationGate(); ok || reason != "silent mode" {
		t.Fatalf("silent mode should close the gate, got ok=%v reason=%q", ok, reason)
	}
}

func TestApplyConfigHotSections(t *testing.T) {
	a, err := Open(writeConfig(t, "https://power.example.org/api", ""))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	next := *a.cfg
	next.Logging.Level = "debug"
	next.Notifications.RatePerSec = 5
	a.applyConfig(context.Background(), &next)
	if a.cfg != &next {
		t.Fatalf("config not swapped")
	}
	a.Notify.Stop(context.Background())
}

func TestMapStorageDefaults(t *testing.T) {
	sc := mapStorage(&config.Config{})
	if sc.Driver != "sqlite" || sc.Path != defaultDBPath || sc.KVPath != defaultKVPath || sc.BusyTimeout != time.Second {
		t.Fatalf("unexpected defaults %+v", sc)
	}
	if sc := mapStorage(&config.Config{Storage: config.StorageConfig{Driver: "none"}}); sc.Path != "" {
		t.Fatalf("disabled log should not get a path: %+v", sc)
	}
	if sc := mapStorage(&config.Config{Storage: config.StorageConfig{KVPath: ":memory:"}}); sc.KVPath != "" {
		t.Fatalf(":memory: should select the in-process store: %+v", sc)
	}
	if _, resync := mapPush(&config.Config{}); resync != defaultResyncInterval {
		t.Fatalf("resync=%v", resync)
	}
}

func TestSharedStoreKeepsCLIWrites(t *testing.T) {
	ctx := context.Background()
	path := writeConfig(t, "https://power.example.org/api", "")
	daemon, err := Open(path)
	if err != nil {
		t.Fatalf("open daemon: %v", err)
	}
	cli, err := Open(path)
	if err != nil {
		t.Fatalf("open cli: %v", err)
	}

	if _, err := cli.Settings.Set(ctx, "silentMode", true); err != nil {
		t.Fatalf("cli set: %v", err)
	}
	if err := cli.Prefs.SetQueue("3.2"); err != nil {
		t.Fatalf("cli queue: %v", err)
	}
	cli.Close()

	if q := daemon.Prefs.QueueOrDefault(); q != "3.2" {
		t.Fatalf("daemon queue=%s", q)
	}
	daemon.History.Add(ctx, history.Input{Title: "alert"})
	daemon.Settings.Update(ctx, func(m *model.Settings) { m.NightMode = false })
	daemon.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	got := again.Settings.Get()
	if !got.SilentMode || got.NightMode {
		t.Fatalf("settings=%+v, want silentMode from cli and nightMode from daemon", got)
	}
	if q := again.Prefs.QueueOrDefault(); q != "3.2" {
		t.Fatalf("queue=%s after daemon writes", q)
	}
	if items := again.History.Items(); len(items) != 1 || items[0].Title != "alert" {
		t.Fatalf("history=%+v", items)
	}
}

func TestRunningDaemonFollowsCLIChanges(t *testing.T) {
	ctx := context.Background()
	api := notFoundAPI(t)
	path := writeConfig(t, api.URL+"/api", "")
	daemon, err := Open(path)
	if err != nil {
		t.Fatalf("open daemon: %v", err)
	}
	events, unsub := daemon.Bus().Subscribe(32)
	defer unsub()
	if err := daemon.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = daemon.Stop(sctx)
	}()
	daemon.History.Add(ctx, history.Input{Title: "old"})

	cli, err := Open(path)
	if err != nil {
		t.Fatalf("open cli: %v", err)
	}
	if _, err := cli.Settings.Set(ctx, "lightAlerts", false); err != nil {
		t.Fatalf("cli set: %v", err)
	}
	if err := cli.Prefs.SetQueue("4.2"); err != nil {
		t.Fatalf("cli queue: %v", err)
	}
	cli.History.Clear(ctx)
	cli.Close()

	waitFor(t, func() bool { return !daemon.Settings.Get().LightAlerts })
	waitFor(t, func() bool { return len(daemon.History.Items()) == 0 })
	waitFor(t, func() bool {
		for {
			select {
			case ev := <-events:
				if ev.Type == eventbus.QueueChanged && ev.Data == "4.2" {
					return true
				}
			default:
				return false
			}
		}
	})
}

func TestBridgeRoutesFeedHistory(t *testing.T) {
	ctx := context.Background()
	api := notFoundAPI(t)
	a, err := Open(writeConfig(t, api.URL+"/api", ""))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(sctx)
	}()

	a.debug.Reconfigure(ctx, debug.Config{Enabled: true, Addr: "127.0.0.1:0"})
	actx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	addr, err := a.debug.Addr(actx)
	if err != nil {
		t.Fatalf("debug addr: %v", err)
	}

	body := `{"type":"PUSH_NOTIFICATION","notification":{"title":"Світло","message":"Черга 1.1","type":"success"}}`
	resp, err := http.Post("http://"+addr+"/bridge/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	waitFor(t, func() bool { return a.History.UnreadCount() == 1 })

	resp, err = http.Post("http://"+addr+"/bridge/open", "application/json", strings.NewReader(`{"url":"/?notifications=open"}`))
	if err != nil {
		t.Fatalf("post open: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("open status=%d", resp.StatusCode)
	}
	waitFor(t, func() bool { return a.History.UnreadCount() == 0 })
}
