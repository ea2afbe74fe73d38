package rpmidx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/pkg/tmp"
	"github.com/zextras/reposync/reposync"
)

const repomdXML = `<?xml version="1.0"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <data type="primary">
    <checksum type="sha256">e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855</checksum>
    <location href="repodata/abc-primary.xml.gz"/>
    <size>1234</size>
    <open-size>5678</open-size>
  </data>
  <data type="filelists">
    <checksum type="sha256">5feceb66ffc86f38d952786c6d696c79c2dbc239dd4e91b46729d73a27fb57e9</checksum>
    <location href="repodata/abc-filelists.xml.gz"/>
    <size>42</size>
  </data>
</repomd>`

func TestParseRepomdAndFind(t *testing.T) {
	rm, err := ParseRepomd(strings.NewReader(repomdXML))
	require.NoError(t, err)

	d, ok := rm.Find("primary")
	require.True(t, ok)
	assert.Equal(t, "repodata/abc-primary.xml.gz", d.Location.Href)
	assert.Equal(t, int64(1234), d.Size)

	fl, ok := rm.Find("filelists")
	require.True(t, ok)
	assert.Equal(t, "repodata/abc-filelists.xml.gz", fl.Location.Href)

	_, ok = rm.Find("other")
	assert.False(t, ok)
}

func TestRepomdDataDigest(t *testing.T) {
	rm, err := ParseRepomd(strings.NewReader(repomdXML))
	require.NoError(t, err)
	d, _ := rm.Find("primary")

	digest, err := d.Digest()
	require.NoError(t, err)
	assert.Equal(t, reposync.SHA256, digest.Algo)
	assert.Len(t, digest.Checksum, 32)
}

func TestNormalizeAlgoUnknown(t *testing.T) {
	rm := RepomdData{Checksum: RepomdCksum{Type: "whirlpool", Value: "aa"}}
	_, err := rm.Digest()
	assert.Error(t, err)
}

func TestNormalizeAlgoShaAliasesSha1(t *testing.T) {
	algo, err := normalizeAlgo("sha")
	require.NoError(t, err)
	assert.Equal(t, reposync.SHA1, algo)
}

const primaryXML = `<?xml version="1.0"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" packages="1">
  <package type="rpm">
    <name>bash</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="5.2.15" rel="1.fc38"/>
    <checksum type="sha256" pkgid="YES">9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08</checksum>
    <location href="Packages/b/bash-5.2.15-1.fc38.x86_64.rpm"/>
    <size package="1728364" installed="0" archive="0"/>
  </package>
</metadata>`

func TestParsePrimary(t *testing.T) {
	pkgs, err := ParsePrimary(strings.NewReader(primaryXML))
	require.NoError(t, err)
	require.Len(t, pkgs, 1)

	p := pkgs[0]
	assert.Equal(t, "Packages/b/bash-5.2.15-1.fc38.x86_64.rpm", p.Path)
	assert.Equal(t, int64(1728364), p.Size)
	require.Len(t, p.Digests, 1)
	assert.Equal(t, reposync.SHA256, p.Digests[0].Algo)
}

func TestParsePrimaryBadChecksum(t *testing.T) {
	const bad = `<metadata><package>
    <checksum type="sha256">not-hex</checksum>
    <location href="x.rpm"/>
    <size package="1"/>
  </package></metadata>`
	_, err := ParsePrimary(strings.NewReader(bad))
	assert.Error(t, err)
}

// sequenceFetcher serves one fixed body per call, in order, so
// BuildManifest's two sequential fetches (repomd.xml then primary.xml) can
// be exercised deterministically.
type sequenceFetcher struct {
	t      *testing.T
	bodies [][]byte
	calls  int
}

func (f *sequenceFetcher) Fetch(ctx context.Context, url string, algos []reposync.Algorithm) (*fetch.Result, error) {
	body := f.bodies[f.calls]
	f.calls++

	tf, err := tmp.NewFile(f.t.TempDir(), "rpmidx-test-*")
	require.NoError(f.t, err)
	_, err = tf.File.Write(body)
	require.NoError(f.t, err)
	_, err = tf.File.Seek(0, 0)
	require.NoError(f.t, err)

	set := reposync.DigestSet{}
	for _, a := range algos {
		h := a.New()
		h.Write(body)
		set = append(set, reposync.Digest{Algo: a, Checksum: h.Sum(nil)})
	}
	return &fetch.Result{File: tf, Size: int64(len(body)), Digests: set}, nil
}

func TestBuildManifest(t *testing.T) {
	primaryBody := []byte(primaryXML)
	h := reposync.SHA256.New()
	h.Write(primaryBody)
	primaryHash := h.Sum(nil)

	filelistsHash := sha256.Sum256([]byte("filelists"))

	repomd := `<?xml version="1.0"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <data type="primary">
    <checksum type="sha256">` + hex.EncodeToString(primaryHash) + `</checksum>
    <location href="repodata/primary.xml"/>
    <size>` + strconv.Itoa(len(primaryBody)) + `</size>
  </data>
  <data type="filelists">
    <checksum type="sha256">` + hex.EncodeToString(filelistsHash[:]) + `</checksum>
    <location href="repodata/filelists.xml.gz"/>
    <size>9</size>
  </data>
</repomd>`

	f := &sequenceFetcher{t: t, bodies: [][]byte{[]byte(repomd), primaryBody}}
	m, err := BuildManifest(context.Background(), f, "https://example.test/repo")
	require.NoError(t, err)

	require.Contains(t, m, "repodata/repomd.xml")
	assert.NotEmpty(t, m["repodata/repomd.xml"].Digests, "repomd.xml entry must carry a digest or Manifest.Validate rejects the manifest")
	assert.Equal(t, reposync.RoleIndex, m["repodata/repomd.xml"].Role)

	require.Contains(t, m, "repodata/primary.xml")
	assert.NotEmpty(t, m["repodata/primary.xml"].Digests)
	assert.Equal(t, reposync.RoleIndex, m["repodata/primary.xml"].Role)

	require.Contains(t, m, "repodata/filelists.xml.gz", "every repomd.xml data entry must be published, not just primary")
	assert.NotEmpty(t, m["repodata/filelists.xml.gz"].Digests)
	assert.Equal(t, reposync.RoleIndex, m["repodata/filelists.xml.gz"].Role)

	assert.Contains(t, m, "Packages/b/bash-5.2.15-1.fc38.x86_64.rpm")
	assert.Equal(t, reposync.RolePackage, m["Packages/b/bash-5.2.15-1.fc38.x86_64.rpm"].Role)

	assert.NoError(t, m.Validate(nil), "manifest built by BuildManifest must satisfy the same Validate the executor runs")
}

func TestBuildManifestMissingPrimaryErrors(t *testing.T) {
	f := &sequenceFetcher{t: t, bodies: [][]byte{[]byte(`<repomd></repomd>`)}}
	_, err := BuildManifest(context.Background(), f, "https://example.test/repo")
	assert.Error(t, err)
}
