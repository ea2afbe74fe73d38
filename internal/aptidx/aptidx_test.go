package aptidx

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/pkg/tmp"
	"github.com/zextras/reposync/reposync"
)

const releaseStanza = `Suite: stable
Codename: bookworm
Components: main contrib
Architectures: amd64 arm64
MD5Sum:
 d41d8cd98f00b204e9800998ecf8427e 0 main/binary-amd64/Packages
 d41d8cd98f00b204e9800998ecf8427e 0 main/binary-amd64/Packages.gz
SHA256:
 e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855 120 main/binary-amd64/Packages
 e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855 90 main/binary-amd64/Packages.gz
`

func TestParseRelease(t *testing.T) {
	rel, err := ParseRelease(strings.NewReader(releaseStanza))
	require.NoError(t, err)

	assert.Equal(t, "stable", rel.Suite)
	assert.Equal(t, "bookworm", rel.Codename)
	assert.Equal(t, []string{"main", "contrib"}, rel.Components)
	assert.Equal(t, []string{"amd64", "arm64"}, rel.Architectures)

	set, ok := rel.Hashes["main/binary-amd64/Packages.gz"]
	require.True(t, ok)
	assert.Len(t, set, 2)
	assert.Equal(t, int64(90), rel.Sizes["main/binary-amd64/Packages.gz"])
}

func TestParseReleaseRejectsGarbage(t *testing.T) {
	_, err := ParseRelease(strings.NewReader(""))
	assert.Error(t, err)
}

const packagesStanza = `Package: curl
Version: 7.88.1-1
Filename: pool/c/curl/curl_7.88.1-1_amd64.deb
Size: 300000
MD5sum: d41d8cd98f00b204e9800998ecf8427e
SHA256: e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855

Package: wget
Version: 1.21.3-1
Filename: pool/w/wget/wget_1.21.3-1_amd64.deb
Size: 150000
SHA256: 9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
`

func TestParsePackages(t *testing.T) {
	stanzas, err := ParsePackages(strings.NewReader(packagesStanza))
	require.NoError(t, err)
	require.Len(t, stanzas, 2)

	assert.Equal(t, "curl", stanzas[0].Name)
	assert.Equal(t, "7.88.1-1", stanzas[0].Version)
	assert.Equal(t, "pool/c/curl/curl_7.88.1-1_amd64.deb", stanzas[0].Ref.Path)
	assert.Equal(t, int64(300000), stanzas[0].Ref.Size)
	assert.Len(t, stanzas[0].Ref.Digests, 2)

	assert.Equal(t, "wget", stanzas[1].Name)
	assert.Len(t, stanzas[1].Ref.Digests, 1)
}

func TestParsePackagesSkipsEntriesWithoutFilename(t *testing.T) {
	const stanza = "Package: source-only\nVersion: 1\n"
	stanzas, err := ParsePackages(strings.NewReader(stanza))
	require.NoError(t, err)
	assert.Empty(t, stanzas)
}

func TestSelectPackagesPathPrefersXZThenGzThenPlain(t *testing.T) {
	rel := &Release{Hashes: map[string]reposync.DigestSet{
		"main/binary-amd64/Packages.gz": {{Algo: reposync.MD5}},
		"main/binary-amd64/Packages":    {{Algo: reposync.MD5}},
	}}
	p, ok := SelectPackagesPath(rel, "main/binary-amd64")
	require.True(t, ok)
	assert.Equal(t, "main/binary-amd64/Packages.gz", p)
}

func TestSelectPackagesPathNoneAvailable(t *testing.T) {
	rel := &Release{Hashes: map[string]reposync.DigestSet{}}
	_, ok := SelectPackagesPath(rel, "main/binary-amd64")
	assert.False(t, ok)
}

func TestComponentArchPaths(t *testing.T) {
	rel := &Release{Components: []string{"main", "contrib"}, Architectures: []string{"amd64", "arm64"}}
	got := ComponentArchPaths(rel)
	assert.ElementsMatch(t, []string{
		"main/binary-amd64", "main/binary-arm64",
		"contrib/binary-amd64", "contrib/binary-arm64",
	}, got)
}

// fakeFetcher serves a fixed gzip-compressed Packages body for any URL, so
// BuildManifest's digest check and decompression path get exercised without
// a real network round trip.
type fakeFetcher struct {
	t    *testing.T
	body []byte
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, algos []reposync.Algorithm) (*fetch.Result, error) {
	tf, err := tmp.NewFile(f.t.TempDir(), "aptidx-test-*")
	require.NoError(f.t, err)
	_, err = tf.File.Write(f.body)
	require.NoError(f.t, err)
	_, err = tf.File.Seek(0, 0)
	require.NoError(f.t, err)

	set := reposync.DigestSet{}
	for _, a := range algos {
		h := a.New()
		h.Write(f.body)
		set = append(set, reposync.Digest{Algo: a, Checksum: h.Sum(nil)})
	}
	return &fetch.Result{File: tf, Size: int64(len(f.body)), Digests: set}, nil
}

func TestBuildManifest(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(packagesStanza))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	gzBody := buf.Bytes()

	ff := &fakeFetcher{t: t, body: gzBody}
	h := reposync.SHA256.New()
	h.Write(gzBody)
	declared := reposync.DigestSet{{Algo: reposync.SHA256, Checksum: h.Sum(nil)}}

	rel := &Release{
		Components:    []string{"main"},
		Architectures: []string{"amd64"},
		Hashes:        map[string]reposync.DigestSet{"main/binary-amd64/Packages.gz": declared},
		Sizes:         map[string]int64{"main/binary-amd64/Packages.gz": int64(len(gzBody))},
	}

	m, err := BuildManifest(context.Background(), ff, "https://example.test/dists/stable", rel, map[string]reposync.ManifestEntry{
		"dists/stable/Release": {PackageRef: reposync.PackageRef{Path: "dists/stable/Release"}, Role: reposync.RoleIndex},
	})
	require.NoError(t, err)

	assert.Contains(t, m, "dists/stable/Release")
	assert.Contains(t, m, "main/binary-amd64/Packages.gz")
	assert.Contains(t, m, "pool/c/curl/curl_7.88.1-1_amd64.deb")
	assert.Contains(t, m, "pool/w/wget/wget_1.21.3-1_amd64.deb")
	assert.Equal(t, reposync.RolePackage, m["pool/c/curl/curl_7.88.1-1_amd64.deb"].Role)
}

func TestBuildManifestDigestMismatch(t *testing.T) {
	ff := &fakeFetcher{t: t, body: []byte("not what was declared")}
	rel := &Release{
		Components:    []string{"main"},
		Architectures: []string{"amd64"},
		Hashes:        map[string]reposync.DigestSet{"main/binary-amd64/Packages.gz": {{Algo: reposync.SHA256, Checksum: []byte("wrong")}}},
	}
	_, err := BuildManifest(context.Background(), ff, "https://example.test/dists/stable", rel, nil)
	assert.Error(t, err)
}
