// Package sqlite persists per-scan decode summaries in SQLite.
//
// The schema is managed by golang-migrate with migrations embedded in the
// binary, so a fresh database file is usable straight after Open.
package sqlite
