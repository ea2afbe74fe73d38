package aptidx

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"
	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/reposync"
)

// variant is one candidate encoding of a Packages file, ordered by
// preference (spec.md §4.4: "prefer .xz > .gz > plain").
type variant struct {
	suffix string
	open   func(io.Reader) (io.ReadCloser, error)
}

var variants = []variant{
	{".xz", func(r io.Reader) (io.ReadCloser, error) {
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(zr), nil
	}},
	{".gz", func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	}},
	{".bz2", func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(bzip2.NewReader(r)), nil
	}},
	{"", func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	}},
}

// SelectPackagesPath picks the best available Packages variant under
// dir ("<component>/binary-<arch>", relative to the Release file's
// directory) whose path the Release document actually declares a digest
// for, preferring .xz over .gz over plain, per spec.md §4.4.
func SelectPackagesPath(rel *Release, dir string) (string, bool) {
	for _, v := range variants {
		p := path.Join(dir, "Packages"+v.suffix)
		if _, ok := rel.Hashes[p]; ok {
			return p, true
		}
	}
	return "", false
}

// openVariant returns a decompressing reader appropriate for path's suffix.
func openVariant(p string, r io.Reader) (io.ReadCloser, error) {
	for _, v := range variants {
		if v.suffix != "" && hasSuffix(p, v.suffix) {
			return v.open(r)
		}
	}
	return variants[len(variants)-1].open(r)
}

func hasSuffix(s, suf string) bool {
	return len(s) >= len(suf) && s[len(s)-len(suf):] == suf
}

// ComponentArchPaths enumerates every "<component>/binary-<arch>" directory
// a suite's Release document implies, the supplemented "suite/component/
// architecture expansion" feature from SPEC_FULL.md §4.
func ComponentArchPaths(rel *Release) []string {
	var out []string
	for _, c := range rel.Components {
		for _, a := range rel.Architectures {
			out = append(out, path.Join(c, "binary-"+a))
		}
	}
	return out
}

// maxConcurrentPackagesFetches bounds how many component/arch Packages
// files are downloaded at once, so a Release with many suites/components
// doesn't open unbounded simultaneous connections to the mirror.
const maxConcurrentPackagesFetches = 4

// BuildManifest fetches and parses every Packages file implied by rel and
// merges them, along with the Release/InRelease root itself, into a single
// Manifest. baseURL is the dists/<suite> URL the Release document was
// fetched from; fetcher is used for every subsequent Packages download.
func BuildManifest(ctx context.Context, f fetch.Fetcher, baseURL string, rel *Release, rootEntries map[string]reposync.ManifestEntry) (reposync.Manifest, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "aptidx/BuildManifest")
	m := make(reposync.Manifest, len(rootEntries))
	for k, v := range rootEntries {
		m[k] = v
	}
	var mu sync.Mutex

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentPackagesFetches)
	for _, dir := range ComponentArchPaths(rel) {
		p, ok := SelectPackagesPath(rel, dir)
		if !ok {
			zlog.Debug(ctx).Str("dir", dir).Msg("no Packages variant found in Release, skipping")
			continue
		}
		declared, ok := rel.Hashes[p]
		if !ok {
			continue
		}
		mu.Lock()
		m[p] = reposync.ManifestEntry{
			PackageRef: reposync.PackageRef{Path: p, Size: rel.Sizes[p], Digests: declared},
			Role:       reposync.RoleIndex,
		}
		mu.Unlock()

		eg.Go(func() error {
			res, err := f.Fetch(ctx, baseURL+"/"+p, algosOf(declared))
			if err != nil {
				return fmt.Errorf("aptidx: fetching %s: %w", p, err)
			}
			defer res.File.Close()
			if !res.Digests.Equal(declared) {
				return fmt.Errorf("aptidx: digest mismatch for %s", p)
			}

			rc, err := openVariant(p, res.File)
			if err != nil {
				return fmt.Errorf("aptidx: decompressing %s: %w", p, err)
			}
			stanzas, err := ParsePackages(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("aptidx: parsing %s: %w", p, err)
			}

			mu.Lock()
			for _, s := range stanzas {
				m[s.Ref.Path] = reposync.ManifestEntry{PackageRef: s.Ref, Role: reposync.RolePackage}
			}
			mu.Unlock()
			zlog.Debug(ctx).Str("dir", dir).Int("packages", len(stanzas)).Msg("indexed component/arch")
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return m, nil
}

func algosOf(s reposync.DigestSet) []reposync.Algorithm {
	out := make([]reposync.Algorithm, 0, len(s))
	for _, d := range s {
		out = append(out, d.Algo)
	}
	return out
}
