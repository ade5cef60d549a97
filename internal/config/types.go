package config

// Config is the blackoutd configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
// Omitted fields take the defaults documented on each section.
type Config struct {
	// Language selects notification strings: "uk" (default) or "en".
	Language string `json:"language,omitempty" validate:"omitempty,oneof=uk en"`

	API           APIConfig           `json:"api"`
	Storage       StorageConfig       `json:"storage"`
	Logging       LoggingConfig       `json:"logging"`
	Notifications NotificationsConfig `json:"notifications"`
	Alerts        AlertsConfig        `json:"alerts"`
	Updates       UpdatesConfig       `json:"updates"`
	Push          PushConfig          `json:"push"`
	Bridge        BridgeConfig        `json:"bridge"`
	Debug         DebugConfig         `json:"debug,omitempty"`
}

// APIConfig points at the schedule backend.
//
//	"api": { "base_url": "https://svitlo.example.org/api", "timeout": "15s" }
type APIConfig struct {
	BaseURL       string `json:"base_url" validate:"required,url"`
	Timeout       string `json:"timeout,omitempty" validate:"omitempty,duration"`
	HealthTimeout string `json:"health_timeout,omitempty" validate:"omitempty,duration"`
	VAPIDCacheTTL string `json:"vapid_cache_ttl,omitempty" validate:"omitempty,duration"`
}

// StorageConfig controls the fast store and the durable log.
//
// Defaults: kv_path "" (in-memory), driver "sqlite", path "./blackoutd.db".
type StorageConfig struct {
	KVPath      string `json:"kv_path,omitempty"`
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=sqlite sqlite3 none"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// NotificationsConfig controls system notification delivery.
//
// Defaults (when omitted/zero): workers 1, queue_size 64, rate_per_sec 2,
// retry_max 3, retry_base "500ms", retry_max_delay "10s", send_timeout "10s",
// dedup_window "30s".
type NotificationsConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers,omitempty" validate:"min=0,max=16"`
	QueueSize     int    `json:"queue_size,omitempty" validate:"min=0,max=4096"`
	RatePerSec    int    `json:"rate_per_sec,omitempty" validate:"min=0"`
	RetryMax      int    `json:"retry_max,omitempty" validate:"min=0,max=10"`
	RetryBase     string `json:"retry_base,omitempty" validate:"omitempty,duration"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty" validate:"omitempty,duration"`
	SendTimeout   string `json:"send_timeout,omitempty" validate:"omitempty,duration"`
	DedupWindow   string `json:"dedup_window,omitempty" validate:"omitempty,duration"`

	// Shoutrrr lists service URLs (e.g. "ntfy://ntfy.sh/topic").
	Shoutrrr []string        `json:"shoutrrr,omitempty" validate:"dive,required"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// TelegramConfig delivers system notifications to one chat.
// The token is never logged.
type TelegramConfig struct {
	Token  string `json:"token" validate:"required"`
	ChatID int64  `json:"chat_id" validate:"required"`
}

// AlertsConfig controls the outage alert check.
//
// Defaults: interval "1m", lead "30m", night hours 22 to 8.
type AlertsConfig struct {
	Interval       string `json:"interval,omitempty" validate:"omitempty,duration"`
	Lead           string `json:"lead,omitempty" validate:"omitempty,duration"`
	NightStartHour int    `json:"night_start_hour,omitempty" validate:"min=0,max=23"`
	NightEndHour   int    `json:"night_end_hour,omitempty" validate:"min=0,max=23"`
}

// UpdatesConfig controls the schedule update poller.
//
// Defaults: interval "5m", window_hours 24, retain_days 30.
type UpdatesConfig struct {
	Interval    string `json:"interval,omitempty" validate:"omitempty,duration"`
	WindowHours int    `json:"window_hours,omitempty" validate:"min=0,max=168"`
	RetainDays  int    `json:"retain_days,omitempty" validate:"min=0,max=365"`
}

// PushConfig controls the Web Push subscription.
//
// distributor_url is the push service under which local endpoints are
// created (e.g. "https://ntfy.sh/up"). auto_grant answers the permission
// prompt with "allow" when no terminal is attached.
type PushConfig struct {
	Enabled        bool          `json:"enabled"`
	DistributorURL string        `json:"distributor_url,omitempty" validate:"required_if=Enabled true,omitempty,url"`
	Debounce       string        `json:"debounce,omitempty" validate:"omitempty,duration"`
	RetryDelay     string        `json:"retry_delay,omitempty" validate:"omitempty,duration"`
	ResyncInterval string        `json:"resync_interval,omitempty" validate:"omitempty,duration"`
	AutoGrant      bool          `json:"auto_grant,omitempty"`
	Keyring        KeyringConfig `json:"keyring,omitempty"`
}

type KeyringConfig struct {
	FileDir      string `json:"file_dir,omitempty"`
	FilePassword string `json:"file_password,omitempty"`
	FileOnly     bool   `json:"file_only,omitempty"`
}

// BridgeConfig selects how background-context messages arrive. Without an
// mqtt block only in-process messages are handled.
type BridgeConfig struct {
	MQTT *MQTTConfig `json:"mqtt,omitempty"`
}

type MQTTConfig struct {
	Broker   string `json:"broker" validate:"required,url"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Topic    string `json:"topic" validate:"required"`
	QoS      int    `json:"qos,omitempty" validate:"min=0,max=2"`
}

// DebugConfig controls the local debug HTTP server (/metrics, /healthz and
// optionally pprof). Prefer a loopback address.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty" validate:"required_if=Enabled true,omitempty,hostname_port"`
	Pprof   bool   `json:"pprof,omitempty"`
	// Token, when set, is required as a bearer token on every request.
	Token string `json:"token,omitempty"`
}
