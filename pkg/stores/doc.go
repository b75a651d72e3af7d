// Package stores persists what the engine knows about a machine.
//
// FileStateStore owns the single JSON state document (schemaVersion 1):
// the last apply, the last verify, and the per-app observations. Every write
// goes to a temp file in the same directory and is renamed into place, so a
// reader sees either the old or the new document and a crash leaves the old
// one intact. There is no cross-process lock; concurrent runs are
// last-writer-wins.
//
// SQLiteStore keeps an append-only run history (runs, their per-app items,
// events and an audit trail) in SQLite with WAL mode and embedded
// migrations. History is informational; the JSON state document is the
// source of truth.
package stores
