package fsm

import (
	"fmt"
	"time"

	"github.com/specq-dev/specq/internal/dag"
	"github.com/specq-dev/specq/internal/model"
)

// TransitionError reports an attempted illegal state transition.
type TransitionError struct {
	Item string
	From model.Status
	To   model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition for %q: %s -> %s", e.Item, e.From, e.To)
}

// allowed is the transition table. Absent entries are illegal. The skip
// transition is the only path to a terminal state that bypasses verifying.
var allowed = map[model.Status][]model.Status{
	model.StatusPending: {model.StatusBlocked, model.StatusReady, model.StatusSkipped},
	model.StatusBlocked: {model.StatusReady, model.StatusSkipped},
	// Ready jumps straight to verifying when every task already completed in
	// an earlier interrupted run.
	model.StatusReady: {model.StatusCompiling, model.StatusVerifying, model.StatusSkipped},
	// Compile failure routes through the rejection path: back to ready while
	// retries remain, otherwise failed.
	model.StatusCompiling: {model.StatusRunning, model.StatusReady, model.StatusFailed},
	// Running may revert to ready on cancellation; execution failure routes
	// through the rejection path like compile failure. A multi-task change
	// cycles back to compiling for each subsequent task brief.
	model.StatusRunning:   {model.StatusVerifying, model.StatusCompiling, model.StatusReady, model.StatusFailed},
	model.StatusVerifying: {model.StatusAccepted, model.StatusNeedsReview, model.StatusReady, model.StatusFailed},
	// needs_review resolves only through explicit operator action.
	model.StatusNeedsReview: {model.StatusAccepted, model.StatusFailed, model.StatusSkipped},
	// failed resolves only through explicit retry or skip.
	model.StatusFailed: {model.StatusReady, model.StatusSkipped},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to model.Status) bool {
	for _, t := range allowed[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a state change to the item. The caller
// persists the item afterwards; the mutation itself has no side effects.
func Transition(item *model.WorkItem, to model.Status) error {
	if !CanTransition(item.Status, to) {
		return &TransitionError{Item: item.ID, From: item.Status, To: to}
	}
	item.Status = to
	item.UpdatedAt = time.Now().UTC()
	return nil
}

// Promote resolves pending and blocked items against the current graph view:
// items whose dependencies are all satisfied become ready, the rest become
// (or stay) blocked. In-flight and terminal items are never touched.
func Promote(items []*model.WorkItem, view *dag.View) {
	for _, item := range items {
		switch item.Status {
		case model.StatusPending, model.StatusBlocked:
			if view.Unlocked(item.ID) {
				item.Status = model.StatusReady
			} else {
				item.Status = model.StatusBlocked
			}
			item.UpdatedAt = time.Now().UTC()
		}
	}
}

// ApplyDisposition moves a verifying item to its post-verification state and
// appends the attempt to its immutable history. A rejection increments the
// retry counter first; the item returns to ready while the counter stays
// below maxRetries and finalizes failed once it reaches it, so a rejection
// at retryCount = maxRetries-1 fails rather than retrying.
func ApplyDisposition(item *model.WorkItem, attempt model.VerificationAttempt) error {
	if item.Status != model.StatusVerifying {
		return &TransitionError{Item: item.ID, From: item.Status, To: model.StatusVerifying}
	}
	item.History = append(item.History, attempt)

	switch attempt.Disposition {
	case model.DispositionApproved:
		return Transition(item, model.StatusAccepted)
	case model.DispositionNeedsReview:
		return Transition(item, model.StatusNeedsReview)
	case model.DispositionRejected:
		item.RetryCount++
		if item.RetryCount < item.MaxRetries {
			return Transition(item, model.StatusReady)
		}
		return Transition(item, model.StatusFailed)
	default:
		return fmt.Errorf("unknown disposition %q for %q", attempt.Disposition, item.ID)
	}
}

// StageFailure routes a compile or execute failure for an in-flight item
// through the same increment-then-compare retry boundary as a rejection:
// back to ready while the incremented counter stays below maxRetries,
// otherwise failed. The error message is recorded on the item.
func StageFailure(item *model.WorkItem, stageErr error) error {
	if !item.Status.InFlight() {
		return &TransitionError{Item: item.ID, From: item.Status, To: model.StatusFailed}
	}
	item.ErrorMessage = stageErr.Error()
	item.RetryCount++
	if item.RetryCount < item.MaxRetries {
		return Transition(item, model.StatusReady)
	}
	return Transition(item, model.StatusFailed)
}

// Accept confirms a needs_review item. This is the only automatic-free path
// to accepted from needs_review.
func Accept(item *model.WorkItem) error {
	if item.Status != model.StatusNeedsReview {
		return &TransitionError{Item: item.ID, From: item.Status, To: model.StatusAccepted}
	}
	return Transition(item, model.StatusAccepted)
}

// Reject finalizes a needs_review item as failed.
func Reject(item *model.WorkItem) error {
	if item.Status != model.StatusNeedsReview {
		return &TransitionError{Item: item.ID, From: item.Status, To: model.StatusFailed}
	}
	return Transition(item, model.StatusFailed)
}

// Retry returns a failed item to ready. The retry counter is left unchanged:
// a manual retry is an operator decision, not a verification attempt.
func Retry(item *model.WorkItem) error {
	if item.Status != model.StatusFailed {
		return &TransitionError{Item: item.ID, From: item.Status, To: model.StatusReady}
	}
	return Transition(item, model.StatusReady)
}

// Skip retires the item without compile/execute/verify, unlocking its
// dependents.
func Skip(item *model.WorkItem) error {
	switch item.Status {
	case model.StatusPending, model.StatusBlocked, model.StatusReady,
		model.StatusNeedsReview, model.StatusFailed:
		item.Status = model.StatusSkipped
		item.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return &TransitionError{Item: item.ID, From: item.Status, To: model.StatusSkipped}
	}
}

// Cancel reverts an in-flight item to ready so it can be rescheduled. Partial
// side effects are the executor's to discard; the state machine only records
// that nothing from the interrupted attempt counts.
func Cancel(item *model.WorkItem) error {
	if !item.Status.InFlight() {
		return &TransitionError{Item: item.ID, From: item.Status, To: model.StatusReady}
	}
	item.Status = model.StatusReady
	item.UpdatedAt = time.Now().UTC()
	return nil
}
