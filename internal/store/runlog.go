package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/specq-dev/specq/internal/model"
)

// LogEntry is one row of the append-only run log.
type LogEntry struct {
	RunID      string
	WorkItemID string
	Event      string
	Detail     map[string]any
	CreatedAt  time.Time
}

// LogEvent appends one event to the run log. The log is an audit trail only;
// resume logic never reads it.
func (s *Store) LogEvent(ctx context.Context, runID, itemID, event string, detail map[string]any) error {
	var detailJSON any
	if detail != nil {
		detailJSON = toJSON(detail)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (run_id, work_item_id, event, detail, created_at)
		 VALUES (?,?,?,?,?)`,
		runID, itemID, event, detailJSON, now(),
	)
	if err != nil {
		return fmt.Errorf("logging %s for %s: %w", event, itemID, err)
	}
	return nil
}

// Logs returns the run-log entries for one item, oldest first.
func (s *Store) Logs(ctx context.Context, itemID string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, work_item_id, event, detail, created_at
		   FROM run_log WHERE work_item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LogEntry
	for rows.Next() {
		var (
			e      LogEntry
			detail sql.NullString
			ts     string
		)
		if err := rows.Scan(&e.RunID, &e.WorkItemID, &e.Event, &detail, &ts); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				e.Detail = nil
			}
		}
		e.CreatedAt = parseTime(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountAcceptedSince counts tasks first accepted at or after the given
// instant, for daily budget enforcement. The count is anchored on
// accepted_at, which later row rewrites never move.
func (s *Store) CountAcceptedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = ? AND accepted_at >= ?`,
		string(model.StatusAccepted), since.UTC().Format(time.RFC3339Nano),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting accepted tasks: %w", err)
	}
	return n, nil
}
