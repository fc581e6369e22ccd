package model

// Status is the lifecycle state of a WorkItem or Task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusBlocked     Status = "blocked"
	StatusReady       Status = "ready"
	StatusCompiling   Status = "compiling"
	StatusRunning     Status = "running"
	StatusVerifying   Status = "verifying"
	StatusNeedsReview Status = "needs_review"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
)

// IsTerminal reports whether the status ends the item's automated lifecycle.
// needs_review is terminal pending human action: the pipeline will not advance
// the item, only an explicit accept/reject/skip will.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusFailed, StatusSkipped, StatusNeedsReview:
		return true
	default:
		return false
	}
}

// SatisfiesDependents reports whether the status unlocks downstream items.
// A skipped item unlocks its dependents just like an accepted one.
func (s Status) SatisfiesDependents() bool {
	return s == StatusAccepted || s == StatusSkipped
}

// InFlight reports whether the item is currently being advanced through a
// pipeline stage.
func (s Status) InFlight() bool {
	switch s {
	case StatusCompiling, StatusRunning, StatusVerifying:
		return true
	default:
		return false
	}
}
