package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// KVPath is the JSON file backing the fast store. If empty, an in-memory
// store is used.
//
// Driver values for the durable log:
//   - "sqlite": SQLite database file at Path
//   - "none" or "": durable log disabled (operations return ErrDisabled)
type Config struct {
	KVPath      string
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// KeepNotifications caps the durable notifications table (sqlite only);
	// 0 means DefaultKeepNotifications.
	KeepNotifications int
}

// Well-known fast-store keys.
const (
	KeySettings          = "notification_settings"
	KeyHistory           = "notifications_history"
	KeyProcessedUpdates  = "notification_processed_updates"
	KeyPushQueueSync     = "push_queue_sync"
	KeyPushSubscription  = "push_subscription"
	KeyPermission        = "notification_permission"
	KeyTheme             = "theme"
	KeyUserQueue         = "userQueue"
	cachedSchedulePrefix = "cached_schedule_"
)

// Durable settings keys.
const SettingSilentMode = "silentMode"

// CachedScheduleKey returns the fast-store key caching the schedule for date.
func CachedScheduleKey(date string) string { return cachedSchedulePrefix + date }

// NotificationRecord is one row of the durable notification log.
type NotificationRecord struct {
	ID        int64
	Title     string
	Message   string
	Type      string
	Timestamp time.Time
}
