// Package scheduler selects the next work item to advance. It is a read-only
// consumer of work-item state: given the same ready set and metadata it
// always returns the same selection, with no hidden randomness or time
// dependence.
package scheduler

import (
	"sort"

	"github.com/specq-dev/specq/internal/dag"
	"github.com/specq-dev/specq/internal/model"
)

// SelectNext returns the single ready item to dispatch, or nil when no work
// is available. Ranking, each tier breaking ties from the prior:
//
//  1. unlock degree, higher first — accepting this item frees the most
//     direct dependents
//  2. declared priority, higher first
//  3. risk, lower first — drain the cheap low-risk backlog before the
//     expensive high-risk items
//
// A remaining tie is broken by ascending ID, making the selection total.
func SelectNext(items []*model.WorkItem, view *dag.View) *model.WorkItem {
	ready := readyItems(items)
	if len(ready) == 0 {
		return nil
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if da, db := view.UnlockDegree(a.ID), view.UnlockDegree(b.ID); da != db {
			return da > db
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if ra, rb := a.Risk.Order(), b.Risk.Order(); ra != rb {
			return ra < rb
		}
		return a.ID < b.ID
	})
	return ready[0]
}

// SelectTarget returns the item with the given ID iff it is ready, or nil.
// Used by `run <id>` to advance one specific item.
func SelectTarget(items []*model.WorkItem, id string) *model.WorkItem {
	for _, item := range items {
		if item.ID == id && item.Status == model.StatusReady {
			return item
		}
	}
	return nil
}

func readyItems(items []*model.WorkItem) []*model.WorkItem {
	out := make([]*model.WorkItem, 0, len(items))
	for _, item := range items {
		if item.Status == model.StatusReady {
			out = append(out, item)
		}
	}
	return out
}
