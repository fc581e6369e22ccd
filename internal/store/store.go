package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/specq-dev/specq/internal/config"
	"github.com/specq-dev/specq/internal/ctxlog"
	"github.com/specq-dev/specq/internal/model"
)

// ErrLocked is returned when another specq process already holds the state
// lock for this project.
var ErrLocked = fmt.Errorf("state is locked by another specq process")

// Store is a handle on one project's durable state.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// Open creates (if needed) and opens the state database under stateDir,
// acquiring the project lock first. Callers must Close to release the lock.
func Open(ctx context.Context, stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}

	lock := flock.New(filepath.Join(stateDir, config.StateLockFile))
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring state lock: %w", err)
	}
	if !held {
		return nil, ErrLocked
	}

	dbPath := filepath.Join(stateDir, config.StateFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_fk=on")
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	// SQLite writes are serialized; a single connection avoids SQLITE_BUSY
	// between the pipeline's interleaved reads and writes.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("State store opened.", "path", dbPath)
	return &Store{db: db, lock: lock}, nil
}

// Close closes the database and releases the project lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// UpsertWorkItem writes the item's full record, including its tasks. The
// insert is idempotent: replaying it after a crash converges on the same row.
func (s *Store) UpsertWorkItem(ctx context.Context, item *model.WorkItem) error {
	ts := now()
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_items
		  (id, change_dir, title, description, status, risk, priority, deps,
		   overrides, retry_count, max_retries, max_duration_sec,
		   compiled_brief, error_message, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
		  change_dir=excluded.change_dir,
		  title=excluded.title,
		  description=excluded.description,
		  status=excluded.status,
		  risk=excluded.risk,
		  priority=excluded.priority,
		  deps=excluded.deps,
		  overrides=excluded.overrides,
		  retry_count=excluded.retry_count,
		  max_retries=excluded.max_retries,
		  max_duration_sec=excluded.max_duration_sec,
		  compiled_brief=excluded.compiled_brief,
		  error_message=excluded.error_message,
		  updated_at=excluded.updated_at`,
		item.ID, item.ChangeDir, item.Title, item.Description,
		string(item.Status), string(item.Risk), item.Priority, toJSON(item.Deps),
		toJSON(item.Overrides), item.RetryCount, item.MaxRetries,
		int(item.MaxDuration.Seconds()),
		item.CompiledBrief, item.ErrorMessage,
		createdAt.Format(time.RFC3339Nano), ts,
	)
	if err != nil {
		return fmt.Errorf("upserting work item %s: %w", item.ID, err)
	}
	for i := range item.Tasks {
		if err := s.upsertTask(ctx, item.ID, &item.Tasks[i]); err != nil {
			return err
		}
	}
	return nil
}

// upsertTask converges one task row. accepted_at records the first instant
// the task reached accepted and survives later rewrites of the row; it is
// cleared when a rejection retry resets the task for rework.
func (s *Store) upsertTask(ctx context.Context, itemID string, task *model.Task) error {
	ts := now()
	var acceptedAt any
	if task.Status == model.StatusAccepted {
		acceptedAt = ts
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks
		  (id, work_item_id, title, description, status, files_changed,
		   commit_hash, execution_output, turns_used, tokens_in, tokens_out,
		   duration_sec, accepted_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(work_item_id, id) DO UPDATE SET
		  title=excluded.title,
		  description=excluded.description,
		  status=excluded.status,
		  files_changed=excluded.files_changed,
		  commit_hash=excluded.commit_hash,
		  execution_output=excluded.execution_output,
		  turns_used=excluded.turns_used,
		  tokens_in=excluded.tokens_in,
		  tokens_out=excluded.tokens_out,
		  duration_sec=excluded.duration_sec,
		  accepted_at=CASE
		    WHEN excluded.status = 'accepted'
		      THEN COALESCE(tasks.accepted_at, excluded.accepted_at)
		    ELSE NULL
		  END,
		  updated_at=excluded.updated_at`,
		task.ID, itemID, task.Title, task.Description, string(task.Status),
		toJSON(task.FilesChanged), task.CommitHash, task.ExecutionOutput,
		task.TurnsUsed, task.TokensIn, task.TokensOut,
		task.Duration.Seconds(), acceptedAt, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("upserting task %s/%s: %w", itemID, task.ID, err)
	}
	return nil
}

// SaveAttempt records one verification attempt and its votes. Replaying the
// same attempt number overwrites the attempt row and re-inserts its votes.
func (s *Store) SaveAttempt(ctx context.Context, itemID string, att model.VerificationAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_attempts
		  (work_item_id, attempt, risk, strategy, disposition, decided_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(work_item_id, attempt) DO UPDATE SET
		  risk=excluded.risk,
		  strategy=excluded.strategy,
		  disposition=excluded.disposition,
		  decided_at=excluded.decided_at`,
		itemID, att.Attempt, string(att.Risk), att.Strategy,
		string(att.Disposition), att.DecidedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving attempt %d for %s: %w", att.Attempt, itemID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM vote_results WHERE work_item_id = ? AND attempt = ?`,
		itemID, att.Attempt,
	); err != nil {
		return fmt.Errorf("clearing votes for %s attempt %d: %w", itemID, att.Attempt, err)
	}
	for _, v := range att.Votes {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO vote_results
			  (work_item_id, attempt, voter, verdict, confidence, findings, summary, cast_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			itemID, att.Attempt, v.Voter, string(v.Verdict), v.Confidence,
			toJSON(v.Findings), v.Summary, v.CastAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("saving vote by %s for %s: %w", v.Voter, itemID, err)
		}
	}
	return nil
}

// GetWorkItem loads one item with its tasks and verification history, or nil
// when the id is unknown.
func (s *Store) GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, change_dir, title, description, status, risk, priority,
		        deps, overrides, retry_count, max_retries, max_duration_sec,
		        compiled_brief, error_message, created_at, updated_at
		   FROM work_items WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	items, err := s.scanWorkItems(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// ListWorkItems loads every persisted item, ordered by id.
func (s *Store) ListWorkItems(ctx context.Context) ([]*model.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, change_dir, title, description, status, risk, priority,
		        deps, overrides, retry_count, max_retries, max_duration_sec,
		        compiled_brief, error_message, created_at, updated_at
		   FROM work_items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return s.scanWorkItems(ctx, rows)
}

func (s *Store) scanWorkItems(ctx context.Context, rows *sql.Rows) ([]*model.WorkItem, error) {
	defer rows.Close()
	var items []*model.WorkItem
	for rows.Next() {
		var (
			item                            model.WorkItem
			status, risk                    string
			deps, overrides                 string
			maxDurationSec                  int
			createdAt, updatedAt            string
			description, brief, errMsg      sql.NullString
		)
		if err := rows.Scan(
			&item.ID, &item.ChangeDir, &item.Title, &description,
			&status, &risk, &item.Priority, &deps, &overrides,
			&item.RetryCount, &item.MaxRetries, &maxDurationSec,
			&brief, &errMsg, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning work item: %w", err)
		}
		item.Description = description.String
		item.Status = model.Status(status)
		item.Risk = model.Risk(risk)
		item.CompiledBrief = brief.String
		item.ErrorMessage = errMsg.String
		item.MaxDuration = time.Duration(maxDurationSec) * time.Second
		item.CreatedAt = parseTime(createdAt)
		item.UpdatedAt = parseTime(updatedAt)
		if err := json.Unmarshal([]byte(deps), &item.Deps); err != nil {
			item.Deps = nil
		}
		if err := json.Unmarshal([]byte(overrides), &item.Overrides); err != nil {
			item.Overrides = model.Overrides{}
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, item := range items {
		tasks, err := s.getTasks(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		item.Tasks = tasks
		history, err := s.History(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		item.History = history
	}
	return items, nil
}

func (s *Store) getTasks(ctx context.Context, itemID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, status, files_changed, commit_hash,
		        execution_output, turns_used, tokens_in, tokens_out, duration_sec
		   FROM tasks WHERE work_item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []model.Task
	for rows.Next() {
		var (
			task                model.Task
			status, files       string
			description, output sql.NullString
			durationSec         float64
		)
		if err := rows.Scan(
			&task.ID, &task.Title, &description, &status, &files,
			&task.CommitHash, &output, &task.TurnsUsed,
			&task.TokensIn, &task.TokensOut, &durationSec,
		); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		task.Description = description.String
		task.Status = model.Status(status)
		task.ExecutionOutput = output.String
		task.Duration = time.Duration(durationSec * float64(time.Second))
		if err := json.Unmarshal([]byte(files), &task.FilesChanged); err != nil {
			task.FilesChanged = nil
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// History loads the item's verification attempts with their votes, oldest
// first.
func (s *Store) History(ctx context.Context, itemID string) ([]model.VerificationAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attempt, risk, strategy, disposition, decided_at
		   FROM verification_attempts WHERE work_item_id = ? ORDER BY attempt`,
		itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.VerificationAttempt
	for rows.Next() {
		var (
			att             model.VerificationAttempt
			risk, dispo, ts string
		)
		if err := rows.Scan(&att.Attempt, &risk, &att.Strategy, &dispo, &ts); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		att.Risk = model.Risk(risk)
		att.Disposition = model.Disposition(dispo)
		att.DecidedAt = parseTime(ts)
		attempts = append(attempts, att)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range attempts {
		votes, err := s.Votes(ctx, itemID, attempts[i].Attempt)
		if err != nil {
			return nil, err
		}
		attempts[i].Votes = votes
	}
	return attempts, nil
}

// Votes loads the votes cast in one attempt, in cast order.
func (s *Store) Votes(ctx context.Context, itemID string, attempt int) ([]model.Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT voter, verdict, confidence, findings, summary, cast_at
		   FROM vote_results WHERE work_item_id = ? AND attempt = ? ORDER BY id`,
		itemID, attempt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var votes []model.Vote
	for rows.Next() {
		var (
			v                 model.Vote
			verdict, findings string
			summary           sql.NullString
			castAt            string
		)
		if err := rows.Scan(&v.Voter, &verdict, &v.Confidence, &findings, &summary, &castAt); err != nil {
			return nil, fmt.Errorf("scanning vote: %w", err)
		}
		v.Verdict = model.Verdict(verdict)
		v.Summary = summary.String
		v.CastAt = parseTime(castAt)
		if err := json.Unmarshal([]byte(findings), &v.Findings); err != nil {
			v.Findings = nil
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// Sync merges freshly scanned items with persisted state: spec fields (title,
// deps, risk, priority, overrides) come from disk, live state (status, retry
// count, brief, error, history, creation time) from the database. New items
// persist as pending; persisted items whose change dir has disappeared are
// retired — kept in the database, excluded from the returned set.
func (s *Store) Sync(ctx context.Context, scanned []*model.WorkItem) ([]*model.WorkItem, error) {
	for _, item := range scanned {
		existing, err := s.GetWorkItem(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			item.Status = existing.Status
			item.RetryCount = existing.RetryCount
			item.CompiledBrief = existing.CompiledBrief
			item.ErrorMessage = existing.ErrorMessage
			item.History = existing.History
			item.CreatedAt = existing.CreatedAt
			mergeTasks(item, existing)
		}
		if err := s.UpsertWorkItem(ctx, item); err != nil {
			return nil, err
		}
	}
	return scanned, nil
}

// mergeTasks carries persisted execution results onto freshly parsed tasks.
// Task identity is the heading id; title and description always follow disk.
func mergeTasks(scanned, existing *model.WorkItem) {
	byID := make(map[string]*model.Task, len(existing.Tasks))
	for i := range existing.Tasks {
		byID[existing.Tasks[i].ID] = &existing.Tasks[i]
	}
	for i := range scanned.Tasks {
		prev, ok := byID[scanned.Tasks[i].ID]
		if !ok {
			continue
		}
		title, desc := scanned.Tasks[i].Title, scanned.Tasks[i].Description
		scanned.Tasks[i] = *prev
		scanned.Tasks[i].Title = title
		scanned.Tasks[i].Description = desc
	}
}
