// Package scheduler runs named periodic triggers on robfig/cron.
//
// Each entry is independently removable, never overlaps with itself and may
// run once immediately on registration. Jobs receive a context that is
// canceled when the scheduler stops.
package scheduler
