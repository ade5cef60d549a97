// Package sysnotify delivers system-level notifications through an async
// pipeline: queue + worker pool + rate limit + retry + short-window dedup.
//
// Delivery is gated: when notification permission is missing or silent mode
// is on, Notify is a no-op. Sinks are pluggable (shoutrrr URLs, Telegram,
// the local log).
package sysnotify
