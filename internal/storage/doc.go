// Package storage provides the two persistence tiers used by blackoutd.
//
//   - KV: a small synchronous key-value store read on startup (settings,
//     history mirror, dedup ledger, push markers, preferences, schedule cache).
//   - Log: a durable SQLite log shared with the background delivery side
//     (notification records and a settings mirror).
package storage
