// Package pipeline is the run coordinator: each tick scans the change specs,
// reconciles them with persisted state, and advances exactly one item through
// compile, execute, and verify. Dispatch is serialized; only voters fan out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/specq-dev/specq/internal/aggregator"
	"github.com/specq-dev/specq/internal/compiler"
	"github.com/specq-dev/specq/internal/config"
	"github.com/specq-dev/specq/internal/ctxlog"
	"github.com/specq-dev/specq/internal/dag"
	"github.com/specq-dev/specq/internal/executor"
	"github.com/specq-dev/specq/internal/fsm"
	"github.com/specq-dev/specq/internal/model"
	"github.com/specq-dev/specq/internal/notifier"
	"github.com/specq-dev/specq/internal/scanner"
	"github.com/specq-dev/specq/internal/scheduler"
	"github.com/specq-dev/specq/internal/store"
	"github.com/specq-dev/specq/internal/voter"
)

// perVoterTimeout bounds one voter's review within an attempt.
const perVoterTimeout = 5 * time.Minute

// DiffSource provides the diff voters review. Satisfied by gitops.Client.
type DiffSource interface {
	DiffFromBase(ctx context.Context, baseBranch string) string
}

// ScanFunc discovers change specs. Defaults to scanner.Scan.
type ScanFunc func(ctx context.Context, cfg *config.Config) ([]*model.WorkItem, error)

// Pipeline wires the collaborators of one run.
type Pipeline struct {
	Config   *config.Config
	Store    *store.Store
	Compiler compiler.Compiler
	Executor executor.Executor
	Voters   []voter.Voter
	Notifier *notifier.Notifier
	Diff     DiffSource
	Scan     ScanFunc

	runID string
}

// ErrNotReady is returned by a targeted run whose item cannot be dispatched.
var ErrNotReady = errors.New("target item is not ready")

// ErrBudgetExhausted is returned when the daily task budget has been spent.
var ErrBudgetExhausted = errors.New("daily task budget exhausted")

// Run drives the coordinator loop until no dispatchable work remains, the
// target item (when given) has been carried as far as automation can, or the
// context is cancelled. Safe to re-invoke after a crash: completed stages are
// not re-run.
func (p *Pipeline) Run(ctx context.Context, targetID string) error {
	logger := ctxlog.FromContext(ctx)
	p.runID = uuid.NewString()
	scan := p.Scan
	if scan == nil {
		scan = scanner.Scan
	}
	logger.Info("Run starting.", "run_id", p.runID, "target", targetID)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		scanned, err := scan(ctx, p.Config)
		if err != nil {
			return fmt.Errorf("scanning changes: %w", err)
		}
		items, err := p.Store.Sync(ctx, scanned)
		if err != nil {
			return fmt.Errorf("syncing state: %w", err)
		}
		p.recoverInterrupted(ctx, items)

		graph, err := dag.Build(items)
		if err != nil {
			return err
		}
		fsm.Promote(items, dag.NewView(graph, items))
		for _, item := range items {
			if err := p.Store.UpsertWorkItem(ctx, item); err != nil {
				return err
			}
		}

		if limit := p.Config.Budgets.DailyTaskLimit; limit > 0 {
			midnight := time.Now().UTC().Truncate(24 * time.Hour)
			done, err := p.Store.CountAcceptedSince(ctx, midnight)
			if err != nil {
				return err
			}
			if done >= limit {
				logger.Warn("Stopping run.", "reason", "daily_task_limit", "accepted_today", done, "limit", limit)
				p.Notifier.Notify(ctx, notifier.EventQuotaExceeded, nil)
				return fmt.Errorf("%w: %d tasks accepted today (limit %d)", ErrBudgetExhausted, done, limit)
			}
		}

		var next *model.WorkItem
		if targetID != "" {
			if next = scheduler.SelectTarget(items, targetID); next == nil {
				if done := p.findItem(items, targetID); done != nil && done.Status.IsTerminal() {
					return nil
				}
				return fmt.Errorf("%w: %s", ErrNotReady, targetID)
			}
		} else {
			// Promote changed statuses, so rank against a fresh view.
			next = scheduler.SelectNext(items, dag.NewView(graph, items))
		}
		if next == nil {
			logger.Info("No dispatchable work remains.", "run_id", p.runID)
			return nil
		}

		disposition, err := p.processItem(ctx, next, items)
		if err != nil {
			return err
		}

		// A rejection loops to re-run the target while retries remain;
		// anything else ends a targeted run.
		if targetID != "" && disposition != model.DispositionRejected {
			return nil
		}
	}
}

// recoverInterrupted reverts items a crashed run left in-flight. Nothing from
// the interrupted attempt counts; the item is rescheduled from ready.
func (p *Pipeline) recoverInterrupted(ctx context.Context, items []*model.WorkItem) {
	logger := ctxlog.FromContext(ctx)
	for _, item := range items {
		if item.Status.InFlight() {
			logger.Warn("Recovering interrupted item.", "id", item.ID, "was", item.Status)
			if err := fsm.Cancel(item); err == nil {
				p.logEvent(ctx, item.ID, "recover", map[string]any{"was": string(item.Status)})
			}
		}
	}
}

func (p *Pipeline) findItem(items []*model.WorkItem, id string) *model.WorkItem {
	for _, item := range items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// processItem advances one ready item through its full stage sequence and
// returns the resulting disposition.
func (p *Pipeline) processItem(ctx context.Context, item *model.WorkItem, all []*model.WorkItem) (model.Disposition, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Dispatching item.", "id", item.ID, "attempt", item.RetryCount+1, "risk", item.Risk)
	projectRules := p.readProjectRules()

	// The whole attempt, compile through verification, runs under the item's
	// total duration budget. Expiry surfaces as a stage failure.
	if item.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, item.MaxDuration)
		defer cancel()
	}

	if ok, err := p.runTasks(ctx, item, projectRules); err != nil || !ok {
		if err != nil {
			return "", err
		}
		// Stage failure already routed by the state machine.
		if item.Status == model.StatusFailed {
			p.Notifier.Notify(ctx, notifier.EventFailed, item)
		}
		return model.DispositionRejected, nil
	}

	attempt, err := p.verify(ctx, item, projectRules)
	if err != nil {
		return "", err
	}
	if err := fsm.ApplyDisposition(item, attempt); err != nil {
		return "", err
	}
	if attempt.Disposition == model.DispositionRejected && item.Status == model.StatusReady {
		// The retry reworks the whole change: every task runs again against
		// the rejection findings.
		for i := range item.Tasks {
			item.Tasks[i].Status = model.StatusPending
		}
	}
	// The item deadline may have expired during verification; the decided
	// attempt is recorded regardless.
	persist := context.WithoutCancel(ctx)
	if err := p.Store.SaveAttempt(persist, item.ID, attempt); err != nil {
		return "", err
	}
	if err := p.Store.UpsertWorkItem(persist, item); err != nil {
		return "", err
	}

	switch attempt.Disposition {
	case model.DispositionApproved:
		p.logEvent(persist, item.ID, "approve", nil)
		p.Notifier.Notify(persist, notifier.EventCompleted, item)
	case model.DispositionNeedsReview:
		p.logEvent(persist, item.ID, "needs_review", nil)
		p.Notifier.Notify(persist, notifier.EventNeedsReview, item)
	case model.DispositionRejected:
		if item.Status == model.StatusFailed {
			p.logEvent(persist, item.ID, "failed", map[string]any{"reason": "max_retries_exceeded"})
			p.Notifier.Notify(persist, notifier.EventFailed, item)
		} else {
			p.logEvent(persist, item.ID, "retry", map[string]any{"attempt": item.RetryCount})
		}
	}
	logger.Info("Item settled.", "id", item.ID, "disposition", attempt.Disposition, "status", item.Status)
	return attempt.Disposition, nil
}

// runTasks compiles and executes the item's remaining tasks serially. It
// returns false when a stage failed and the state machine has already routed
// the item.
func (p *Pipeline) runTasks(ctx context.Context, item *model.WorkItem, projectRules string) (bool, error) {
	var retryFindings []model.Finding
	if item.RetryCount > 0 {
		if last := item.LastAttempt(); last != nil {
			retryFindings = last.AllFindings()
		}
	}
	taskTitles := make([]string, len(item.Tasks))
	for i, t := range item.Tasks {
		taskTitles[i] = t.Title
	}

	for i := range item.Tasks {
		task := &item.Tasks[i]
		if task.Status == model.StatusAccepted {
			// Already completed by a previous attempt or interrupted run.
			continue
		}

		if err := fsm.Transition(item, model.StatusCompiling); err != nil {
			return false, err
		}
		if err := p.Store.UpsertWorkItem(ctx, item); err != nil {
			return false, err
		}
		p.logEvent(ctx, item.ID, "compile", map[string]any{"task": task.ID})

		var prev []model.Task
		for _, t := range item.Tasks {
			if t.Status == model.StatusAccepted {
				prev = append(prev, t)
			}
		}
		brief, err := p.Compiler.Compile(ctx, compiler.Request{
			Proposal:      item.Description,
			AllTasks:      taskTitles,
			Task:          *task,
			PrevResults:   prev,
			ProjectRules:  projectRules,
			RetryFindings: retryFindings,
		})
		if err != nil {
			if ctx.Err() == context.Canceled {
				return false, p.cancelAttempt(ctx, item)
			}
			return false, p.failStage(ctx, item, err)
		}
		item.CompiledBrief = brief

		if err := fsm.Transition(item, model.StatusRunning); err != nil {
			return false, err
		}
		if err := p.Store.UpsertWorkItem(ctx, item); err != nil {
			return false, err
		}
		p.logEvent(ctx, item.ID, "execute", map[string]any{"task": task.ID})

		res, execErr := p.Executor.Execute(ctx, executor.Request{
			Item:        item,
			Task:        *task,
			Brief:       brief,
			Dir:         p.Config.ProjectRoot,
			Model:       p.Config.ResolveExecutor(item).Model,
			MaxTurns:    p.Config.ResolveMaxTurns(item),
			MaxDuration: item.MaxDuration,
			Tools:       item.Overrides.ExecutorTools,
		})
		task.FilesChanged = res.FilesChanged
		task.CommitHash = res.CommitHash
		task.ExecutionOutput = res.Output
		task.TurnsUsed = res.TurnsUsed
		task.TokensIn = res.TokensIn
		task.TokensOut = res.TokensOut
		task.Duration = res.Duration
		if execErr != nil {
			// An external cancellation killed the agent; nothing from this
			// attempt counts against the retry budget.
			if ctx.Err() == context.Canceled {
				return false, p.cancelAttempt(ctx, item)
			}
			task.Status = model.StatusFailed
			if uerr := p.Store.UpsertWorkItem(context.WithoutCancel(ctx), item); uerr != nil {
				return false, uerr
			}
			return false, p.failStage(ctx, item, execErr)
		}
		task.Status = model.StatusAccepted
		if err := p.Store.UpsertWorkItem(ctx, item); err != nil {
			return false, err
		}
	}
	return true, nil
}

// failStage routes a compile/execute failure through the retry budget and
// persists the outcome. Returns nil: the failure is handled, not fatal to the
// run. Persistence runs outside the item context, which may have expired.
func (p *Pipeline) failStage(ctx context.Context, item *model.WorkItem, stageErr error) error {
	ctxlog.FromContext(ctx).Warn("Stage failed.", "id", item.ID, "error", stageErr)
	if err := fsm.StageFailure(item, stageErr); err != nil {
		return err
	}
	persist := context.WithoutCancel(ctx)
	p.logEvent(persist, item.ID, "stage_failure", map[string]any{"error": stageErr.Error()})
	return p.Store.UpsertWorkItem(persist, item)
}

// cancelAttempt reverts an externally cancelled in-flight item so it can be
// rescheduled with nothing from the attempt counting, and surfaces the
// cancellation to the run loop. Persistence runs outside the cancelled
// context.
func (p *Pipeline) cancelAttempt(ctx context.Context, item *model.WorkItem) error {
	ctxlog.FromContext(ctx).Warn("Cancelled mid-attempt.", "id", item.ID, "was", item.Status)
	was := item.Status
	if err := fsm.Cancel(item); err != nil {
		return err
	}
	persist := context.WithoutCancel(ctx)
	if err := p.Store.UpsertWorkItem(persist, item); err != nil {
		return err
	}
	p.logEvent(persist, item.ID, "cancel", map[string]any{"was": string(was)})
	return context.Canceled
}

// verify runs the verification stage and returns the decided attempt. Under
// the skip strategy no voters are consulted and the attempt approves with an
// empty vote set.
func (p *Pipeline) verify(ctx context.Context, item *model.WorkItem, projectRules string) (model.VerificationAttempt, error) {
	policy := p.Config.ResolvePolicy(item)
	attempt := model.VerificationAttempt{
		Attempt:  item.RetryCount + 1,
		Risk:     item.Risk,
		Strategy: string(policy.Strategy),
	}

	if err := fsm.Transition(item, model.StatusVerifying); err != nil {
		return attempt, err
	}
	if err := p.Store.UpsertWorkItem(ctx, item); err != nil {
		return attempt, err
	}

	if policy.Strategy != model.StrategySkip {
		diff := ""
		if p.Diff != nil {
			diff = p.Diff.DiffFromBase(ctx, p.Config.BaseBranch)
		}
		attempt.Votes = voter.Collect(ctx, p.Voters, voter.Request{
			Diff:         diff,
			Proposal:     item.Description,
			ProjectRules: projectRules,
			Checks:       p.Config.Verification.Checks,
		}, perVoterTimeout)
		// A cancellation mid-vote must not settle as a rejection.
		if ctx.Err() == context.Canceled {
			return attempt, p.cancelAttempt(ctx, item)
		}
		p.logEvent(ctx, item.ID, "vote", map[string]any{
			"attempt": attempt.Attempt,
			"voters":  len(attempt.Votes),
		})
	}

	attempt.Disposition = aggregator.Aggregate(attempt.Votes, policy)
	attempt.DecidedAt = time.Now().UTC()
	return attempt, nil
}

// readProjectRules loads CLAUDE.md project rules when present.
func (p *Pipeline) readProjectRules() string {
	raw, err := os.ReadFile(filepath.Join(p.Config.ProjectRoot, "CLAUDE.md"))
	if err != nil {
		return ""
	}
	return string(raw)
}

// logEvent appends to the audit log; failures there never interrupt a run.
func (p *Pipeline) logEvent(ctx context.Context, itemID, event string, detail map[string]any) {
	if err := p.Store.LogEvent(ctx, p.runID, itemID, event, detail); err != nil {
		ctxlog.FromContext(ctx).Warn("Run log write failed.", "event", event, "error", err)
	}
}
