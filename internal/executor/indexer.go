package executor

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/quay/zlog"

	"github.com/zextras/reposync/internal/aptidx"
	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/rpmidx"
	"github.com/zextras/reposync/internal/sign"
	"github.com/zextras/reposync/reposync"
)

// Indexer builds the freshly-fetched upstream Manifest for one repository.
// It's the seam between the Executor's step 1 and the kind-specific Index
// Parser packages (internal/aptidx, internal/rpmidx).
type Indexer interface {
	Index(ctx context.Context, repo reposync.Repository, f fetch.Fetcher, v sign.Verifier) (reposync.Manifest, error)
}

// AptIndexer drives internal/aptidx across every configured suite.
type AptIndexer struct{}

var _ Indexer = AptIndexer{}

func (AptIndexer) Index(ctx context.Context, repo reposync.Repository, f fetch.Fetcher, v sign.Verifier) (reposync.Manifest, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "executor/AptIndexer.Index", "repo", repo.Name)
	full := make(reposync.Manifest)

	for _, suite := range repo.Suites {
		dir := path.Join("dists", suite)
		rootEntries, rel, err := fetchAptRoot(ctx, f, v, repo.BaseURL, dir)
		if err != nil {
			return nil, fmt.Errorf("executor: apt suite %q: %w", suite, err)
		}
		m, err := aptidx.BuildManifest(ctx, f, repo.BaseURL+"/"+dir, rel, nil)
		if err != nil {
			return nil, fmt.Errorf("executor: apt suite %q: %w", suite, err)
		}
		for k, e := range rootEntries {
			e.Path = path.Join(dir, k)
			full[e.Path] = e
		}
		for relPath, e := range m {
			// Packages files and any other dists-relative index live under
			// dir; package .deb files come out of Packages stanzas already
			// relative to the repository root (conventionally pool/...), so
			// leave those keys alone.
			if isPoolPath(e) {
				full[relPath] = e
				continue
			}
			e.Path = path.Join(dir, relPath)
			full[e.Path] = e
		}
		zlog.Debug(ctx).Str("suite", suite).Int("entries", len(m)).Msg("indexed suite")
	}
	return full, nil
}

func isPoolPath(e reposync.ManifestEntry) bool {
	return e.Role == reposync.RolePackage
}

// fetchAptRoot fetches InRelease (preferred) or Release+Release.gpg
// (fallback) for one suite directory, verifies its signature, and returns
// both the manifest entries for the root document(s) and the parsed
// Release.
func fetchAptRoot(ctx context.Context, f fetch.Fetcher, v sign.Verifier, baseURL, dir string) (map[string]reposync.ManifestEntry, *aptidx.Release, error) {
	entries := make(map[string]reposync.ManifestEntry)

	if res, err := f.Fetch(ctx, baseURL+"/"+dir+"/InRelease", []reposync.Algorithm{reposync.SHA256}); err == nil {
		defer res.File.Close()
		raw, err := sign.ReadAll(res.File)
		if err != nil {
			return nil, nil, err
		}
		plain, err := v.VerifyClearsigned(ctx, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("verifying InRelease: %w", err)
		}
		rel, err := aptidx.ParseRelease(bytes.NewReader(plain))
		if err != nil {
			return nil, nil, err
		}
		entries["InRelease"] = reposync.ManifestEntry{
			PackageRef: reposync.PackageRef{Path: "InRelease", Size: res.Size, Digests: res.Digests},
			Role:       reposync.RoleIndex,
		}
		return entries, rel, nil
	}

	relRes, err := f.Fetch(ctx, baseURL+"/"+dir+"/Release", []reposync.Algorithm{reposync.SHA256})
	if err != nil {
		return nil, nil, fmt.Errorf("fetching Release: %w", err)
	}
	defer relRes.File.Close()
	relBytes, err := sign.ReadAll(relRes.File)
	if err != nil {
		return nil, nil, err
	}

	sigRes, err := f.Fetch(ctx, baseURL+"/"+dir+"/Release.gpg", []reposync.Algorithm{reposync.SHA256})
	if err != nil {
		return nil, nil, fmt.Errorf("fetching Release.gpg: %w", err)
	}
	defer sigRes.File.Close()
	sigBytes, err := sign.ReadAll(sigRes.File)
	if err != nil {
		return nil, nil, err
	}
	if err := v.VerifyDetached(ctx, relBytes, sigBytes); err != nil {
		return nil, nil, fmt.Errorf("verifying Release: %w", err)
	}

	rel, err := aptidx.ParseRelease(bytes.NewReader(relBytes))
	if err != nil {
		return nil, nil, err
	}
	entries["Release"] = reposync.ManifestEntry{
		PackageRef: reposync.PackageRef{Path: "Release", Size: relRes.Size, Digests: relRes.Digests},
		Role:       reposync.RoleIndex,
	}
	entries["Release.gpg"] = reposync.ManifestEntry{
		PackageRef: reposync.PackageRef{Path: "Release.gpg", Size: sigRes.Size, Digests: sigRes.Digests},
		Role:       reposync.RoleIndex,
	}
	return entries, rel, nil
}

// RpmIndexer drives internal/rpmidx.
type RpmIndexer struct{}

var _ Indexer = RpmIndexer{}

func (RpmIndexer) Index(ctx context.Context, repo reposync.Repository, f fetch.Fetcher, _ sign.Verifier) (reposync.Manifest, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "executor/RpmIndexer.Index", "repo", repo.Name)
	m, err := rpmidx.BuildManifest(ctx, f, repo.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("executor: rpm repository %q: %w", repo.Name, err)
	}
	return m, nil
}
