package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specq-dev/specq/internal/model"
)

func item(id string, deps ...string) *model.WorkItem {
	return &model.WorkItem{ID: id, Deps: deps, Status: model.StatusPending}
}

func TestBuild(t *testing.T) {
	t.Run("empty item set", func(t *testing.T) {
		g, err := Build(nil)
		require.NoError(t, err)
		assert.Empty(t, g.IDs())
	})

	t.Run("valid dag", func(t *testing.T) {
		g, err := Build([]*model.WorkItem{
			item("a"),
			item("b", "a"),
			item("c", "a", "b"),
			item("d", "c"),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, g.IDs())
		assert.Equal(t, []string{"a", "b"}, g.Dependencies("c"))
		assert.Equal(t, []string{"b", "c"}, g.Dependents("a"))
	})

	t.Run("duplicate declared dependency is collapsed", func(t *testing.T) {
		g, err := Build([]*model.WorkItem{
			item("a"),
			item("b", "a", "a"),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, g.Dependencies("b"))
	})

	t.Run("self dependency", func(t *testing.T) {
		_, err := Build([]*model.WorkItem{item("a", "a")})
		var selfErr *SelfDependencyError
		require.ErrorAs(t, err, &selfErr)
		assert.Equal(t, "a", selfErr.Item)
	})

	t.Run("unknown dependency", func(t *testing.T) {
		_, err := Build([]*model.WorkItem{item("a", "ghost")})
		var unknownErr *UnknownDependencyError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, "a", unknownErr.Item)
		assert.Equal(t, "ghost", unknownErr.Missing)
	})

	t.Run("direct cycle carries ordered path", func(t *testing.T) {
		_, err := Build([]*model.WorkItem{
			item("a", "b"),
			item("b", "a"),
		})
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, []string{"a", "b", "a"}, cycleErr.Path)
	})

	t.Run("longer cycle detected behind valid prefix", func(t *testing.T) {
		_, err := Build([]*model.WorkItem{
			item("a"),
			item("b", "a", "d"),
			item("c", "b"),
			item("d", "c"),
		})
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
		require.GreaterOrEqual(t, len(cycleErr.Path), 4)
		assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
	})
}

func TestTopoOrder(t *testing.T) {
	g, err := Build([]*model.WorkItem{
		item("z"),
		item("m", "z"),
		item("a", "z"),
		item("q", "a", "m"),
	})
	require.NoError(t, err)

	order := g.TopoOrder()
	assert.Equal(t, []string{"z", "a", "m", "q"}, order)

	// Deterministic across repeated calls.
	assert.Equal(t, order, g.TopoOrder())
}

func TestViewUnlocked(t *testing.T) {
	items := []*model.WorkItem{
		item("a"),
		item("b", "a"),
		item("c", "a", "b"),
	}
	g, err := Build(items)
	require.NoError(t, err)

	t.Run("nothing accepted", func(t *testing.T) {
		v := NewView(g, items)
		assert.True(t, v.Unlocked("a"))
		assert.False(t, v.Unlocked("b"))
		assert.False(t, v.Unlocked("c"))
	})

	t.Run("accepted dependency unlocks", func(t *testing.T) {
		items[0].Status = model.StatusAccepted
		v := NewView(g, items)
		assert.True(t, v.Unlocked("b"))
		assert.False(t, v.Unlocked("c"))
	})

	t.Run("skipped dependency unlocks like accepted", func(t *testing.T) {
		items[1].Status = model.StatusSkipped
		v := NewView(g, items)
		assert.True(t, v.Unlocked("c"))
	})
}

func TestViewReadySet(t *testing.T) {
	items := []*model.WorkItem{
		item("a"),
		item("b", "a"),
		item("c", "a"),
	}
	items[0].Status = model.StatusAccepted
	items[1].Status = model.StatusBlocked
	items[2].Status = model.StatusReady

	g, err := Build(items)
	require.NoError(t, err)

	ready := NewView(g, items).ReadySet(items)
	require.Len(t, ready, 2)
	assert.Equal(t, "b", ready[0].ID)
	assert.Equal(t, "c", ready[1].ID)
}

func TestViewUnlockDegree(t *testing.T) {
	items := []*model.WorkItem{
		item("a"),
		item("b"),
		item("c", "a"),       // unlocked by a alone
		item("d", "a", "b"),  // still blocked by b
		item("e", "a"),       // unlocked by a alone
	}
	g, err := Build(items)
	require.NoError(t, err)

	v := NewView(g, items)
	assert.Equal(t, 2, v.UnlockDegree("a"), "c and e become unlocked, d stays blocked on b")

	t.Run("terminal dependents do not count", func(t *testing.T) {
		items[2].Status = model.StatusSkipped
		v := NewView(g, items)
		assert.Equal(t, 1, v.UnlockDegree("a"))
	})

	t.Run("other dependency satisfied raises degree", func(t *testing.T) {
		items[1].Status = model.StatusAccepted
		v := NewView(g, items)
		assert.Equal(t, 2, v.UnlockDegree("a"), "d now only waits on a")
	})
}
