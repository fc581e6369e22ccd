package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specq-dev/specq/internal/dag"
	"github.com/specq-dev/specq/internal/model"
)

func newItem(id string, status model.Status) *model.WorkItem {
	return &model.WorkItem{ID: id, Status: status, MaxRetries: 3}
}

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to model.Status }{
		{model.StatusPending, model.StatusBlocked},
		{model.StatusPending, model.StatusReady},
		{model.StatusBlocked, model.StatusReady},
		{model.StatusReady, model.StatusCompiling},
		{model.StatusCompiling, model.StatusRunning},
		{model.StatusRunning, model.StatusVerifying},
		{model.StatusVerifying, model.StatusAccepted},
		{model.StatusVerifying, model.StatusNeedsReview},
		{model.StatusVerifying, model.StatusReady},
		{model.StatusVerifying, model.StatusFailed},
		{model.StatusNeedsReview, model.StatusAccepted},
		{model.StatusFailed, model.StatusReady},
		{model.StatusReady, model.StatusSkipped},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to model.Status }{
		// Nothing bypasses verifying except skip.
		{model.StatusRunning, model.StatusAccepted},
		{model.StatusCompiling, model.StatusAccepted},
		{model.StatusReady, model.StatusAccepted},
		// needs_review never resolves automatically.
		{model.StatusNeedsReview, model.StatusReady},
		// Terminal states have no exits besides operator actions above.
		{model.StatusAccepted, model.StatusReady},
		{model.StatusSkipped, model.StatusReady},
		{model.StatusAccepted, model.StatusSkipped},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestTransitionRejectsIllegal(t *testing.T) {
	item := newItem("x", model.StatusRunning)
	err := Transition(item, model.StatusAccepted)

	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.StatusRunning, terr.From)
	assert.Equal(t, model.StatusRunning, item.Status, "item must be untouched on illegal transition")
}

func TestPromote(t *testing.T) {
	items := []*model.WorkItem{
		newItem("a", model.StatusAccepted),
		newItem("b", model.StatusPending),
		newItem("c", model.StatusPending),
		newItem("d", model.StatusRunning),
	}
	items[1].Deps = []string{"a"}
	items[2].Deps = []string{"b"}
	items[3].Deps = []string{"a"}

	g, err := dag.Build(items)
	require.NoError(t, err)

	Promote(items, dag.NewView(g, items))

	assert.Equal(t, model.StatusAccepted, items[0].Status)
	assert.Equal(t, model.StatusReady, items[1].Status)
	assert.Equal(t, model.StatusBlocked, items[2].Status)
	assert.Equal(t, model.StatusRunning, items[3].Status, "in-flight items are never promoted")
}

func TestApplyDisposition(t *testing.T) {
	attempt := func(d model.Disposition) model.VerificationAttempt {
		return model.VerificationAttempt{Attempt: 1, Disposition: d}
	}

	t.Run("approved", func(t *testing.T) {
		item := newItem("x", model.StatusVerifying)
		require.NoError(t, ApplyDisposition(item, attempt(model.DispositionApproved)))
		assert.Equal(t, model.StatusAccepted, item.Status)
		assert.Len(t, item.History, 1)
	})

	t.Run("needs review", func(t *testing.T) {
		item := newItem("x", model.StatusVerifying)
		require.NoError(t, ApplyDisposition(item, attempt(model.DispositionNeedsReview)))
		assert.Equal(t, model.StatusNeedsReview, item.Status)
	})

	t.Run("rejected with retries left", func(t *testing.T) {
		item := newItem("x", model.StatusVerifying)
		item.RetryCount = 1
		require.NoError(t, ApplyDisposition(item, attempt(model.DispositionRejected)))
		assert.Equal(t, model.StatusReady, item.Status)
		assert.Equal(t, 2, item.RetryCount)
	})

	t.Run("rejected one below the boundary fails", func(t *testing.T) {
		item := newItem("x", model.StatusVerifying)
		item.RetryCount = item.MaxRetries - 1
		require.NoError(t, ApplyDisposition(item, attempt(model.DispositionRejected)))
		assert.Equal(t, model.StatusFailed, item.Status)
		assert.Equal(t, item.MaxRetries, item.RetryCount, "counter is incremented entering failed")
	})

	t.Run("rejected two below the boundary retries once more", func(t *testing.T) {
		item := newItem("x", model.StatusVerifying)
		item.RetryCount = item.MaxRetries - 2
		require.NoError(t, ApplyDisposition(item, attempt(model.DispositionRejected)))
		assert.Equal(t, model.StatusReady, item.Status)
		assert.Equal(t, item.MaxRetries-1, item.RetryCount)
	})

	t.Run("not verifying", func(t *testing.T) {
		item := newItem("x", model.StatusReady)
		err := ApplyDisposition(item, attempt(model.DispositionApproved))
		var terr *TransitionError
		require.ErrorAs(t, err, &terr)
		assert.Empty(t, item.History)
	})
}

func TestStageFailure(t *testing.T) {
	t.Run("retries remain", func(t *testing.T) {
		item := newItem("x", model.StatusCompiling)
		require.NoError(t, StageFailure(item, errors.New("compile blew up")))
		assert.Equal(t, model.StatusReady, item.Status)
		assert.Equal(t, 1, item.RetryCount)
		assert.Equal(t, "compile blew up", item.ErrorMessage)
	})

	t.Run("retries exhausted", func(t *testing.T) {
		item := newItem("x", model.StatusRunning)
		item.RetryCount = item.MaxRetries - 1
		require.NoError(t, StageFailure(item, errors.New("timeout")))
		assert.Equal(t, model.StatusFailed, item.Status)
		assert.Equal(t, item.MaxRetries, item.RetryCount)
	})
}

func TestOperatorActions(t *testing.T) {
	t.Run("accept needs_review", func(t *testing.T) {
		item := newItem("x", model.StatusNeedsReview)
		require.NoError(t, Accept(item))
		assert.Equal(t, model.StatusAccepted, item.Status)
	})

	t.Run("accept from other state refused", func(t *testing.T) {
		item := newItem("x", model.StatusReady)
		assert.Error(t, Accept(item))
	})

	t.Run("reject needs_review", func(t *testing.T) {
		item := newItem("x", model.StatusNeedsReview)
		require.NoError(t, Reject(item))
		assert.Equal(t, model.StatusFailed, item.Status)
	})

	t.Run("retry keeps count", func(t *testing.T) {
		item := newItem("x", model.StatusFailed)
		item.RetryCount = 3
		require.NoError(t, Retry(item))
		assert.Equal(t, model.StatusReady, item.Status)
		assert.Equal(t, 3, item.RetryCount)
	})

	t.Run("skip from blocked", func(t *testing.T) {
		item := newItem("x", model.StatusBlocked)
		require.NoError(t, Skip(item))
		assert.Equal(t, model.StatusSkipped, item.Status)
	})

	t.Run("skip from accepted refused", func(t *testing.T) {
		item := newItem("x", model.StatusAccepted)
		assert.Error(t, Skip(item))
	})

	t.Run("cancel running", func(t *testing.T) {
		item := newItem("x", model.StatusRunning)
		require.NoError(t, Cancel(item))
		assert.Equal(t, model.StatusReady, item.Status)
	})
}
