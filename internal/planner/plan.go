// Package planner implements the Planner named in spec.md §4.6: a pure,
// I/O-free diff between an upstream Manifest and the persisted prior one.
package planner

import (
	"sort"

	"github.com/zextras/reposync/reposync"
)

// Plan is the disjoint partition of destination paths computed between two
// Manifests.
type Plan struct {
	ToAddPackages []string
	ToAddIndexes  []string
	ToKeep        []string
	ToDelete      []string
}

// Compute diffs newM (the freshly built upstream Manifest) against oldM (the
// persisted Prior Manifest, empty on first run). Identity between entries
// sharing a path is by the strongest digest algorithm the two entries have
// in common (reposync.DigestSet.Equal); if the two entries share no
// algorithm at all, they're treated as differing, never as "unknown/skip".
//
// The to_add set is additionally partitioned into packages and indexes,
// because that ordering is load-bearing for the Executor's publication
// protocol (spec.md §4.7).
func Compute(newM, oldM reposync.Manifest) Plan {
	var p Plan

	for path, ne := range newM {
		oe, existed := oldM[path]
		if existed && ne.Digests.Equal(oe.Digests) {
			p.ToKeep = append(p.ToKeep, path)
			continue
		}
		switch ne.Role {
		case reposync.RoleIndex:
			p.ToAddIndexes = append(p.ToAddIndexes, path)
		default:
			p.ToAddPackages = append(p.ToAddPackages, path)
		}
	}
	for path := range oldM {
		if _, stillPresent := newM[path]; !stillPresent {
			p.ToDelete = append(p.ToDelete, path)
		}
	}

	// Manifest iteration order is unspecified; sort every set so the
	// Executor's "manifest order" publication of step 3 is deterministic
	// across runs, matching spec.md §4.7's determinism note.
	sort.Strings(p.ToAddPackages)
	sort.Strings(p.ToAddIndexes)
	sort.Strings(p.ToKeep)
	sort.Strings(p.ToDelete)
	return p
}
