// Package reposync holds the data model shared by every component of the
// synchronization engine: digests, package references, manifests,
// repositories, and run status.
package reposync

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Algorithm names a content-digest algorithm. Algorithms are ordered
// weakest-to-strongest; the ordering is what the Planner's tie-break rule
// uses to pick the "strongest common digest" between two manifests.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// strength ranks algorithms from weakest (0) to strongest. Unknown algorithms
// rank below everything else.
func (a Algorithm) strength() int {
	switch a {
	case MD5:
		return 1
	case SHA1:
		return 2
	case SHA256:
		return 3
	case SHA512:
		return 4
	default:
		return 0
	}
}

// New returns a fresh hash.Hash for the algorithm, or nil if the algorithm is
// unrecognized.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	default:
		return nil
	}
}

// Digest is a single (algorithm, checksum) pair, independent of any specific
// encoding. It's used throughout reposync to remain agnostic of which digest
// algorithm a given upstream index happened to publish.
type Digest struct {
	Algo     Algorithm
	Checksum []byte
}

// String renders the digest as "algo:hex", the form used in persisted state
// and in log messages.
func (d Digest) String() string {
	return fmt.Sprintf("%s:%s", d.Algo, hex.EncodeToString(d.Checksum))
}

// ParseDigest parses the "algo:hex" form produced by String.
func ParseDigest(s string) (Digest, error) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return Digest{}, fmt.Errorf("reposync: malformed digest %q", s)
	}
	algo := Algorithm(s[:i])
	b, err := hex.DecodeString(s[i+1:])
	if err != nil {
		return Digest{}, fmt.Errorf("reposync: malformed digest %q: %w", s, err)
	}
	return Digest{Algo: algo, Checksum: b}, nil
}

// MarshalText implements encoding.TextMarshaler so Digest can be used
// directly as a map key or struct field in persisted JSON/YAML state.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(t []byte) error {
	v, err := ParseDigest(string(t))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// DigestSet is the set of digests known for one piece of content, at most one
// per algorithm. Order is insertion order; it carries no meaning beyond that.
type DigestSet []Digest

// Strongest returns the highest-ranked digest in the set.
func (s DigestSet) Strongest() (Digest, bool) {
	var best Digest
	found := false
	for _, d := range s {
		if !found || d.Algo.strength() > best.Algo.strength() {
			best, found = d, true
		}
	}
	return best, found
}

// Get returns the digest for the given algorithm, if present.
func (s DigestSet) Get(a Algorithm) (Digest, bool) {
	for _, d := range s {
		if d.Algo == a {
			return d, true
		}
	}
	return Digest{}, false
}

// Equal implements the identity rule of spec §4.6 and §8: two sets are equal
// iff they share an algorithm and, for the strongest algorithm they share,
// the checksums match. If the two sets share no algorithm at all, they are
// unequal -- the caller must treat the pair as a replacement, not a skip.
func (s DigestSet) Equal(o DigestSet) bool {
	var bestAlgo Algorithm
	matched := false
	agree := true
	for _, d := range s {
		od, ok := o.Get(d.Algo)
		if !ok {
			continue
		}
		if d.Algo.strength() >= bestAlgo.strength() {
			bestAlgo = d.Algo
			matched = true
			agree = string(d.Checksum) == string(od.Checksum)
		} else if d.Algo.strength() == bestAlgo.strength() {
			agree = agree && string(d.Checksum) == string(od.Checksum)
		}
	}
	return matched && agree
}

// Empty reports whether the set has no digests at all, which violates the
// Manifest invariant that every entry's digest-set is non-empty.
func (s DigestSet) Empty() bool { return len(s) == 0 }
