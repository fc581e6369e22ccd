// Package fsm enforces the per-item state machine: which lifecycle
// transitions are legal, how dispositions map onto states, and the retry
// bookkeeping that happens on rejection.
//
// The package mutates WorkItems in memory only; durably persisting each
// transition before the tick ends is the coordinator's responsibility. Every
// mutation here is deterministic, so replaying a tick from the last persisted
// snapshot reproduces the same outcome.
package fsm
