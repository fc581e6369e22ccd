package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specq-dev/specq/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleItem(id string) *model.WorkItem {
	return &model.WorkItem{
		ID:          id,
		ChangeDir:   "changes/" + id,
		Title:       "Sample " + id,
		Description: "body",
		Deps:        []string{"base"},
		Priority:    3,
		Risk:        model.RiskHigh,
		Overrides:   model.Overrides{ExecutorModel: "gpt-5", MaxTurns: 7},
		MaxRetries:  3,
		MaxDuration: 10 * time.Minute,
		Status:      model.StatusPending,
		Tasks: []model.Task{
			{ID: "task-1", Title: "First", Status: model.StatusPending},
		},
	}
}

func TestUpsertAndGetWorkItem(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	item := sampleItem("add-auth")
	require.NoError(t, s.UpsertWorkItem(ctx, item))

	got, err := s.GetWorkItem(ctx, "add-auth")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, item.Title, got.Title)
	assert.Equal(t, []string{"base"}, got.Deps)
	assert.Equal(t, model.RiskHigh, got.Risk)
	assert.Equal(t, "gpt-5", got.Overrides.ExecutorModel)
	assert.Equal(t, 7, got.Overrides.MaxTurns)
	assert.Equal(t, 10*time.Minute, got.MaxDuration)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, "First", got.Tasks[0].Title)

	// Second upsert converges, not duplicates.
	item.Status = model.StatusReady
	item.RetryCount = 1
	require.NoError(t, s.UpsertWorkItem(ctx, item))

	all, err := s.ListWorkItems(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.StatusReady, all[0].Status)
	assert.Equal(t, 1, all[0].RetryCount)
}

func TestGetWorkItemUnknown(t *testing.T) {
	s := openStore(t)
	got, err := s.GetWorkItem(context.Background(), "no-such")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveAttemptAndHistory(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.UpsertWorkItem(ctx, sampleItem("add-auth")))

	att := model.VerificationAttempt{
		Attempt:     1,
		Risk:        model.RiskHigh,
		Strategy:    "unanimous",
		Disposition: model.DispositionRejected,
		DecidedAt:   time.Now().UTC(),
		Votes: []model.Vote{
			{Voter: "anthropic/claude-sonnet-4-5", Verdict: model.VerdictPass, Confidence: 0.9, CastAt: time.Now().UTC()},
			{
				Voter:   "openai/gpt-5",
				Verdict: model.VerdictFail,
				Findings: []model.Finding{
					{Severity: model.SeverityCritical, Category: "regression_risk", Description: "drops index"},
				},
				Summary: "schema regression",
				CastAt:  time.Now().UTC(),
			},
		},
	}
	require.NoError(t, s.SaveAttempt(ctx, "add-auth", att))

	history, err := s.History(ctx, "add-auth")
	require.NoError(t, err)
	require.Len(t, history, 1)
	if diff := cmp.Diff(att, history[0], cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("attempt round trip mismatch (-want +got):\n%s", diff)
	}

	// Replaying the same attempt after a crash does not duplicate votes.
	require.NoError(t, s.SaveAttempt(ctx, "add-auth", att))
	votes, err := s.Votes(ctx, "add-auth", 1)
	require.NoError(t, err)
	assert.Len(t, votes, 2)
}

func TestSyncPreservesLiveState(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	persisted := sampleItem("add-auth")
	persisted.Status = model.StatusNeedsReview
	persisted.RetryCount = 2
	persisted.CompiledBrief = "brief v2"
	persisted.Tasks[0].Status = model.StatusAccepted
	persisted.Tasks[0].CommitHash = "abc123"
	require.NoError(t, s.UpsertWorkItem(ctx, persisted))

	// Rescan sees updated spec fields and a fresh pending state.
	rescanned := sampleItem("add-auth")
	rescanned.Title = "Sample add-auth, renamed"
	rescanned.Priority = 9

	merged, err := s.Sync(ctx, []*model.WorkItem{rescanned})
	require.NoError(t, err)
	require.Len(t, merged, 1)

	got := merged[0]
	assert.Equal(t, "Sample add-auth, renamed", got.Title)
	assert.Equal(t, 9, got.Priority)
	assert.Equal(t, model.StatusNeedsReview, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "brief v2", got.CompiledBrief)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, model.StatusAccepted, got.Tasks[0].Status)
	assert.Equal(t, "abc123", got.Tasks[0].CommitHash)
}

func TestSyncRetiresRemovedItems(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.UpsertWorkItem(ctx, sampleItem("removed-change")))

	merged, err := s.Sync(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, merged)

	// History stays in the database even though the item is retired.
	got, err := s.GetWorkItem(ctx, "removed-change")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestCountAcceptedSinceSurvivesRewrites(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	item := sampleItem("old-change")
	item.Tasks[0].Status = model.StatusAccepted
	require.NoError(t, s.UpsertWorkItem(ctx, item))

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	n, err := s.CountAcceptedSince(ctx, midnight)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Backdate the acceptance to the day before.
	yesterday := time.Now().UTC().Add(-36 * time.Hour).Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `UPDATE tasks SET accepted_at = ?`, yesterday)
	require.NoError(t, err)

	// A rescan rewrites the row; the acceptance instant must not move.
	rescanned := sampleItem("old-change")
	merged, err := s.Sync(ctx, []*model.WorkItem{rescanned})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	require.Equal(t, model.StatusAccepted, merged[0].Tasks[0].Status)

	n, err = s.CountAcceptedSince(ctx, midnight)
	require.NoError(t, err)
	assert.Zero(t, n, "yesterday's acceptance must not count toward today")
}

func TestCountAcceptedSinceClearedOnRework(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	item := sampleItem("reworked")
	item.Tasks[0].Status = model.StatusAccepted
	require.NoError(t, s.UpsertWorkItem(ctx, item))

	// A rejection retry resets the task for rework.
	item.Tasks[0].Status = model.StatusPending
	require.NoError(t, s.UpsertWorkItem(ctx, item))

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	n, err := s.CountAcceptedSince(ctx, midnight)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunLog(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.LogEvent(ctx, "run-1", "add-auth", "compile", map[string]any{"task": "task-1"}))
	require.NoError(t, s.LogEvent(ctx, "run-1", "add-auth", "approve", nil))

	logs, err := s.Logs(ctx, "add-auth")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "compile", logs[0].Event)
	assert.Equal(t, "task-1", logs[0].Detail["task"])
	assert.Equal(t, "approve", logs[1].Event)
	assert.Nil(t, logs[1].Detail)
}

func TestOpenLockedByAnotherProcess(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(context.Background(), dir)
	assert.ErrorIs(t, err, ErrLocked)
}
