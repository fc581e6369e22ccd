package model

import "time"

// Task is a single unit of work within a change.
type Task struct {
	ID              string
	Title           string
	Description     string
	Status          Status
	FilesChanged    []string
	CommitHash      string
	ExecutionOutput string
	TurnsUsed       int
	TokensIn        int
	TokensOut       int
	Duration        time.Duration
}

// Overrides holds per-item metadata that shadows the merged configuration for
// this item only. Zero values mean "use the merged config".
type Overrides struct {
	ExecutorType  string
	ExecutorModel string
	MaxTurns      int
	ExecutorTools []string
	// Verification names a strategy ("skip", "majority", "unanimous") that
	// replaces the risk-policy lookup for this item.
	Verification string
}

// WorkItem is the internal representation of one change spec plus its live
// execution state. Items are created by the scanner, mutated only by the
// state machine, and persisted by the store.
type WorkItem struct {
	ID          string
	ChangeDir   string
	Title       string
	Description string

	Deps     []string
	Priority int
	Risk     Risk

	Overrides Overrides

	MaxRetries  int
	MaxDuration time.Duration

	Status        Status
	Tasks         []Task
	RetryCount    int
	History       []VerificationAttempt
	CompiledBrief string
	ErrorMessage  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LastAttempt returns the most recent verification attempt, or nil if the
// item has never been verified.
func (w *WorkItem) LastAttempt() *VerificationAttempt {
	if len(w.History) == 0 {
		return nil
	}
	return &w.History[len(w.History)-1]
}
