// Package store persists work-item state in SQLite so an interrupted run can
// resume without re-running completed stages. The database lives at
// .specq/state.db in WAL mode, and a companion flock file serializes access
// across processes: a second specq process fails fast instead of corrupting
// state.
package store
