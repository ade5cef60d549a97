package app

import (
	"fmt"
	"strings"
	"time"

	"blackoutd/internal/alerts"
	"blackoutd/internal/apiclient"
	"blackoutd/internal/bridge"
	"blackoutd/internal/config"
	"blackoutd/internal/observability/debug"
	"blackoutd/internal/platform"
	"blackoutd/internal/push"
	"blackoutd/internal/storage"
	"blackoutd/internal/sysnotify"
	"blackoutd/internal/updates"
	logx "blackoutd/pkg/logx"
)

const (
	defaultDBPath         = "./blackoutd.db"
	defaultKVPath         = "./blackoutd.state.json"
	memoryKVPath          = ":memory:"
	defaultResyncInterval = 30 * time.Minute
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" && driver != "none" {
		path = defaultDBPath
	}
	// The daemon and the CLI must share one fast store; ":memory:" opts out.
	kvPath := strings.TrimSpace(sc.KVPath)
	switch kvPath {
	case "":
		kvPath = defaultKVPath
	case memoryKVPath:
		kvPath = ""
	}
	return storage.Config{
		KVPath:      kvPath,
		Driver:      driver,
		Path:        path,
		BusyTimeout: config.DurationOr(sc.BusyTimeout, time.Second),
	}
}

func mapAPI(cfg *config.Config) apiclient.Config {
	return apiclient.Config{
		BaseURL:       cfg.API.BaseURL,
		Timeout:       config.DurationOr(cfg.API.Timeout, 0),
		HealthTimeout: config.DurationOr(cfg.API.HealthTimeout, 0),
		VAPIDCacheTTL: config.DurationOr(cfg.API.VAPIDCacheTTL, 0),
		Language:      cfg.Language,
	}
}

func mapNotifications(cfg *config.Config) sysnotify.Config {
	n := cfg.Notifications
	return sysnotify.Config{
		Enabled:       n.Enabled,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     config.DurationOr(n.RetryBase, 0),
		RetryMaxDelay: config.DurationOr(n.RetryMaxDelay, 0),
		SendTimeout:   config.DurationOr(n.SendTimeout, 0),
		DedupWindow:   config.DurationOr(n.DedupWindow, 30*time.Second),
	}
}

// buildSinks returns the log sink plus every configured remote sink.
func buildSinks(cfg *config.Config, log logx.Logger) ([]sysnotify.Sink, error) {
	sinks := []sysnotify.Sink{sysnotify.LogSink{Log: log.With(logx.String("comp", "sysnotify.log"))}}
	n := cfg.Notifications
	if len(n.Shoutrrr) > 0 {
		s, err := sysnotify.NewShoutrrrSink(n.Shoutrrr, config.DurationOr(n.SendTimeout, 10*time.Second))
		if err != nil {
			return nil, fmt.Errorf("notifications.shoutrrr: %w", err)
		}
		sinks = append(sinks, s)
	}
	if n.Telegram != nil {
		s, err := sysnotify.NewTelegramSink(n.Telegram.Token, n.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("notifications.telegram: %w", err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func mapAlerts(cfg *config.Config) alerts.Config {
	a := cfg.Alerts
	return alerts.Config{
		Interval:       config.DurationOr(a.Interval, 0),
		Lead:           config.DurationOr(a.Lead, 0),
		NightStartHour: a.NightStartHour,
		NightEndHour:   a.NightEndHour,
	}
}

func mapUpdates(cfg *config.Config) updates.Config {
	u := cfg.Updates
	return updates.Config{
		Interval:    config.DurationOr(u.Interval, 0),
		WindowHours: u.WindowHours,
		RetainDays:  u.RetainDays,
	}
}

func mapPush(cfg *config.Config) (push.Config, time.Duration) {
	p := cfg.Push
	return push.Config{
		Debounce:   config.DurationOr(p.Debounce, 0),
		RetryDelay: config.DurationOr(p.RetryDelay, 0),
	}, config.DurationOr(p.ResyncInterval, defaultResyncInterval)
}

func mapKeyring(cfg *config.Config) platform.KeyringConfig {
	k := cfg.Push.Keyring
	return platform.KeyringConfig{FileDir: k.FileDir, FilePassword: k.FilePassword, FileOnly: k.FileOnly}
}

func mapMQTT(cfg *config.Config) (bridge.MQTTConfig, bool) {
	m := cfg.Bridge.MQTT
	if m == nil {
		return bridge.MQTTConfig{}, false
	}
	return bridge.MQTTConfig{
		Broker:   m.Broker,
		ClientID: m.ClientID,
		Username: m.Username,
		Password: m.Password,
		Topic:    m.Topic,
		QoS:      byte(m.QoS),
	}, true
}

func mapDebug(cfg *config.Config) debug.Config {
	d := cfg.Debug
	return debug.Config{Enabled: d.Enabled, Addr: d.Addr, Pprof: d.Pprof, Token: d.Token}
}
