package reposync

import "fmt"

// Role distinguishes index artifacts (Release, Packages, repomd.xml, ...)
// from package artifacts (.deb, .rpm) within a Manifest. The Executor's
// publication ordering depends entirely on this tag.
type Role uint8

const (
	RolePackage Role = iota
	RoleIndex
)

func (r Role) String() string {
	if r == RoleIndex {
		return "index"
	}
	return "package"
}

// PackageRef is the smallest identity of a published artifact: where it
// lives under the repository root, how big it's expected to be, and the
// digests that must match once fetched.
type PackageRef struct {
	Path    string
	Size    int64
	Digests DigestSet
}

// ManifestEntry is one destination-relative path's expected state.
type ManifestEntry struct {
	PackageRef
	Role Role
}

// Manifest is the transitive closure of an index set: every path that must
// exist at the destination, and what it must contain, for the published view
// to be referentially consistent.
type Manifest map[string]ManifestEntry

// Validate checks the invariants spec.md §3 places on every Manifest:
// every package is referenced by at least one index, and every entry's
// digest-set is non-empty. (The "index digest agrees with its parent" part
// of the invariant is enforced at parse time, where both documents are still
// in hand; by the time a Manifest reaches the Planner or Executor it's
// assumed to have come from a parser that already checked this.)
func (m Manifest) Validate(referenced map[string]bool) error {
	for path, e := range m {
		if e.Digests.Empty() {
			return fmt.Errorf("reposync: manifest entry %q has no digests", path)
		}
		if e.Role == RolePackage && referenced != nil && !referenced[path] {
			return fmt.Errorf("reposync: package %q is not referenced by any index", path)
		}
	}
	return nil
}

// Packages returns the subset of paths in m with Role == RolePackage.
func (m Manifest) Packages() []string {
	var out []string
	for path, e := range m {
		if e.Role == RolePackage {
			out = append(out, path)
		}
	}
	return out
}

// Indexes returns the subset of paths in m with Role == RoleIndex.
func (m Manifest) Indexes() []string {
	var out []string
	for path, e := range m {
		if e.Role == RoleIndex {
			out = append(out, path)
		}
	}
	return out
}

// TotalSize sums the declared size of every entry, used to populate
// RunStatus.Size after a successful commit.
func (m Manifest) TotalSize() int64 {
	var n int64
	for _, e := range m {
		n += e.Size
	}
	return n
}

// PackageCount reports how many Role==RolePackage entries the manifest has,
// used to populate RunStatus.Packages.
func (m Manifest) PackageCount() int {
	n := 0
	for _, e := range m {
		if e.Role == RolePackage {
			n++
		}
	}
	return n
}
