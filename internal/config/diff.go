package config

import (
	"reflect"
	"sort"
	"strings"

	logx "blackoutd/pkg/logx"
)

// Sections applied in place on reload. Every other changed section needs a
// restart to take effect.
var hotSections = map[string]bool{
	"logging":       true,
	"notifications": true,
}

// SummarizeChange returns the changed top-level sections, sorted, and safe
// structured fields for logging them. Secrets (tokens, passwords, shoutrrr
// URLs) are reduced to whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Language != newCfg.Language {
		changed = append(changed, "language")
		attrs = append(attrs, logx.String("language", newCfg.Language))
	}
	if oldCfg.API != newCfg.API {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.String("api.base_url", newCfg.API.BaseURL),
			logx.String("api.timeout", newCfg.API.Timeout),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.kv_path_set", strings.TrimSpace(newCfg.Storage.KVPath) != ""),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifications, newCfg.Notifications) {
		n := newCfg.Notifications
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.Bool("notifications.enabled", n.Enabled),
			logx.Int("notifications.workers", n.Workers),
			logx.Int("notifications.rate_per_sec", n.RatePerSec),
			logx.Int("notifications.shoutrrr_count", len(n.Shoutrrr)),
			logx.Bool("notifications.telegram_set", n.Telegram != nil),
		)
	}
	if oldCfg.Alerts != newCfg.Alerts {
		changed = append(changed, "alerts")
		attrs = append(attrs, logx.String("alerts.lead", newCfg.Alerts.Lead))
	}
	if oldCfg.Updates != newCfg.Updates {
		changed = append(changed, "updates")
		attrs = append(attrs, logx.String("updates.interval", newCfg.Updates.Interval))
	}
	if oldCfg.Push != newCfg.Push {
		changed = append(changed, "push")
		attrs = append(attrs,
			logx.Bool("push.enabled", newCfg.Push.Enabled),
			logx.Bool("push.keyring_password_set", newCfg.Push.Keyring.FilePassword != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Bridge, newCfg.Bridge) {
		changed = append(changed, "bridge")
		attrs = append(attrs, logx.Bool("bridge.mqtt", newCfg.Bridge.MQTT != nil))
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters changed down to sections that are not applied
// in place.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !hotSections[s] {
			out = append(out, s)
		}
	}
	return out
}
