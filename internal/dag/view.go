package dag

import "github.com/specq-dev/specq/internal/model"

// View pairs the immutable graph with a snapshot of per-item status, giving
// the scheduler O(1) unlocked lookups for the duration of one tick. The
// unlocked set is precomputed in O(V+E); the snapshot is discarded when the
// tick's authoritative state changes.
type View struct {
	graph    *Graph
	status   map[string]model.Status
	unlocked map[string]bool
}

// NewView precomputes the unlocked set for the given items.
func NewView(g *Graph, items []*model.WorkItem) *View {
	v := &View{
		graph:    g,
		status:   make(map[string]model.Status, len(items)),
		unlocked: make(map[string]bool, len(items)),
	}
	for _, item := range items {
		v.status[item.ID] = item.Status
	}
	for _, id := range g.order {
		v.unlocked[id] = v.computeUnlocked(id)
	}
	return v
}

func (v *View) computeUnlocked(id string) bool {
	for _, dep := range v.graph.deps[id] {
		if !v.status[dep].SatisfiesDependents() {
			return false
		}
	}
	return true
}

// Unlocked reports whether every dependency of id is terminal-accepted (or
// skipped). O(1) after the NewView precompute.
func (v *View) Unlocked(id string) bool {
	return v.unlocked[id]
}

// ReadySet returns, in ascending ID order, the items whose dependencies are
// satisfied and that are still waiting to be dispatched.
func (v *View) ReadySet(items []*model.WorkItem) []*model.WorkItem {
	byID := make(map[string]*model.WorkItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	var ready []*model.WorkItem
	for _, id := range v.graph.order {
		item, ok := byID[id]
		if !ok {
			continue
		}
		if (item.Status == model.StatusBlocked || item.Status == model.StatusReady) && v.unlocked[id] {
			ready = append(ready, item)
		}
	}
	return ready
}

// UnlockDegree counts the direct dependents of id that would become newly
// unlocked were id accepted now: dependents not yet terminal whose every
// other dependency is already satisfied.
func (v *View) UnlockDegree(id string) int {
	degree := 0
	for _, dep := range v.graph.dependents[id] {
		if v.status[dep].IsTerminal() {
			continue
		}
		blocked := false
		for _, d := range v.graph.deps[dep] {
			if d == id {
				continue
			}
			if !v.status[d].SatisfiesDependents() {
				blocked = true
				break
			}
		}
		if !blocked {
			degree++
		}
	}
	return degree
}
