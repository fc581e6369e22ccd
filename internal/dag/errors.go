package dag

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle. Path holds the offending cycle as an
// ordered ID sequence, first node repeated at the end.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// UnknownDependencyError reports a declared dependency that resolves to no
// known work item.
type UnknownDependencyError struct {
	Item    string
	Missing string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("item %q depends on unknown item %q", e.Item, e.Missing)
}

// SelfDependencyError reports an item that declares itself as a dependency.
type SelfDependencyError struct {
	Item string
}

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("item %q depends on itself", e.Item)
}
