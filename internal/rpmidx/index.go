package rpmidx

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"
	"github.com/ulikunitz/xz"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/reposync"
)

func openCompressed(href string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(href, ".gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(href, ".xz"):
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(zr), nil
	case strings.HasSuffix(href, ".bz2"):
		return io.NopCloser(bzip2.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}

// BuildManifest fetches repodata/repomd.xml under baseURL, adds every
// metadata file it lists to the manifest so each gets published, then
// fetches and parses the "primary" metadata file, enumerating every package
// with its location, size, and checksum, per spec.md §4.4.
func BuildManifest(ctx context.Context, f fetch.Fetcher, baseURL string) (reposync.Manifest, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "rpmidx/BuildManifest")

	rmRes, err := f.Fetch(ctx, baseURL+"/repodata/repomd.xml", []reposync.Algorithm{reposync.SHA256})
	if err != nil {
		return nil, fmt.Errorf("rpmidx: fetching repomd.xml: %w", err)
	}
	defer rmRes.File.Close()
	rm, err := ParseRepomd(rmRes.File)
	if err != nil {
		return nil, err
	}

	primary, ok := rm.Find("primary")
	if !ok {
		return nil, fmt.Errorf("rpmidx: repomd.xml does not declare a primary metadata file")
	}
	primDigest, err := primary.Digest()
	if err != nil {
		return nil, err
	}

	m := make(reposync.Manifest)
	m["repodata/repomd.xml"] = reposync.ManifestEntry{
		PackageRef: reposync.PackageRef{Path: "repodata/repomd.xml", Size: rmRes.Size, Digests: rmRes.Digests},
		Role:       reposync.RoleIndex,
	}

	// Every metadata file repomd.xml lists (primary, filelists, other, and
	// their compressed/sqlite variants) is published verbatim, even though
	// only primary is parsed below, so the published repomd.xml never
	// references a file that was never fetched.
	for _, d := range rm.Data {
		digest, err := d.Digest()
		if err != nil {
			return nil, fmt.Errorf("rpmidx: %s: %w", d.Type, err)
		}
		m[d.Location.Href] = reposync.ManifestEntry{
			PackageRef: reposync.PackageRef{Path: d.Location.Href, Size: d.Size, Digests: reposync.DigestSet{digest}},
			Role:       reposync.RoleIndex,
		}
	}

	pRes, err := f.Fetch(ctx, baseURL+"/"+primary.Location.Href, []reposync.Algorithm{primDigest.Algo})
	if err != nil {
		return nil, fmt.Errorf("rpmidx: fetching %s: %w", primary.Location.Href, err)
	}
	defer pRes.File.Close()
	if !pRes.Digests.Equal(reposync.DigestSet{primDigest}) {
		return nil, fmt.Errorf("rpmidx: digest mismatch for %s", primary.Location.Href)
	}

	rc, err := openCompressed(primary.Location.Href, pRes.File)
	if err != nil {
		return nil, fmt.Errorf("rpmidx: decompressing %s: %w", primary.Location.Href, err)
	}
	defer rc.Close()
	pkgs, err := ParsePrimary(rc)
	if err != nil {
		return nil, err
	}
	for _, p := range pkgs {
		m[p.Path] = reposync.ManifestEntry{PackageRef: p, Role: reposync.RolePackage}
	}
	zlog.Debug(ctx).Int("packages", len(pkgs)).Msg("indexed primary metadata")
	return m, nil
}
