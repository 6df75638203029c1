package core

import (
	"fmt"

	"github.com/helixsync/helixsync/pkg/errorkind"
	"github.com/helixsync/helixsync/pkg/random"
	"github.com/helixsync/helixsync/pkg/upath"
)

// ErrCyclicDependency is wrapped as errorkind.Integrity and returned by Sort
// when the ready set drains before every item has been emitted. Per spec
// §4.5 this indicates a bug in the classifier or sorter, not a condition
// callers should expect to recover from for a given run.
var ErrCyclicDependency = fmt.Errorf("cyclic dependency among pending sync operations")

// Sort implements the Dependency Sorter (spec component C5): it orders the
// non-Unchanged, non-Match records in records so that no item is applied
// before its prerequisites, choosing uniformly at random among items whose
// prerequisites are already satisfied at each step. Unknown records
// (DisplayOperation Error) are left out of the result; Conflict records are
// kept so the caller can report them. caseInsensitive governs the path
// comparisons used by the case-only-conflict dependency rule.
func Sort(records []*PreSync, caseInsensitive bool) ([]*PreSync, error) {
	pending := make([]*PreSync, 0, len(records))
	for _, p := range records {
		if p.IsChange() && (p.DisplayOperation != Error || p.SyncMode == Conflict) {
			pending = append(pending, p)
		}
	}

	// parentsOf[i] holds the indexes (into pending) that i depends on.
	// childrenOf[i] holds the indexes that depend on i.
	parentsOf := make([][]int, len(pending))
	childrenOf := make([][]int, len(pending))

	for i, x := range pending {
		for j, y := range pending {
			if i == j {
				continue
			}
			if dependsOn(x, y, caseInsensitive) {
				parentsOf[i] = append(parentsOf[i], j)
				childrenOf[j] = append(childrenOf[j], i)
			}
		}
	}

	remaining := make([]int, 0, len(pending))
	for i := range pending {
		remaining = append(remaining, i)
	}

	// blockedBy[i] counts unresolved parents for item i.
	blockedBy := make([]int, len(pending))
	for i := range pending {
		blockedBy[i] = len(parentsOf[i])
	}

	var ready []int
	for i, count := range blockedBy {
		if count == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]*PreSync, 0, len(pending))
	emitted := make([]bool, len(pending))

	for len(ready) > 0 {
		pick := random.Uint32n(uint32(len(ready)))
		idx := ready[pick]
		ready[pick] = ready[len(ready)-1]
		ready = ready[:len(ready)-1]

		ordered = append(ordered, pending[idx])
		emitted[idx] = true

		for _, child := range childrenOf[idx] {
			blockedBy[child]--
			if blockedBy[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(ordered) != len(pending) {
		return nil, errorkind.Wrap(errorkind.Integrity, ErrCyclicDependency)
	}

	return ordered, nil
}

// dependsOn reports whether x must be applied after y, per spec §4.5's
// three dependency rules. Both x and y are drawn from the decrypted
// namespace: the encrypted side stores a flat list of encoded names with
// no hierarchy, so parent/child relationships are always evaluated against
// DecrFileName.
func dependsOn(x, y *PreSync, caseInsensitive bool) bool {
	if x.DisplayOperation == Add && y.DisplayOperation == Add {
		if x.DecrFileName != "" && y.DecrFileName != "" &&
			upath.Dir(x.DecrFileName) == y.DecrFileName {
			return true
		}
	}

	if x.DisplayOperation == Add && y.DisplayOperation == Remove {
		if x.DecrFileName != "" && y.DecrFileName != "" &&
			upath.EqualFold(x.DecrFileName, y.DecrFileName, caseInsensitive) {
			return true
		}
	}

	if x.DisplayOperation == Remove && y.DisplayOperation == Remove {
		if x.DecrFileName != "" && y.DecrFileName != "" &&
			upath.Dir(y.DecrFileName) == x.DecrFileName {
			return true
		}
	}

	return false
}
