package executor

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/sign"
	"github.com/zextras/reposync/internal/statestore"
	"github.com/zextras/reposync/internal/storage"
	"github.com/zextras/reposync/pkg/tmp"
	"github.com/zextras/reposync/reposync"
)

// fakeIndexer returns a fixed Manifest, bypassing real network parsing so
// the executor's protocol can be tested in isolation.
type fakeIndexer struct {
	manifest reposync.Manifest
	err      error
}

func (f fakeIndexer) Index(context.Context, reposync.Repository, fetch.Fetcher, sign.Verifier) (reposync.Manifest, error) {
	return f.manifest, f.err
}

// fakeFetcher serves bytes from an in-memory map keyed by URL suffix.
type fakeFetcher struct {
	content map[string][]byte
}

func (f fakeFetcher) Fetch(_ context.Context, url string, algos []reposync.Algorithm) (*fetch.Result, error) {
	b, ok := f.content[url]
	if !ok {
		b = []byte("missing:" + url)
	}
	tf, err := tmp.NewFile("", "exectest-*.tmp")
	if err != nil {
		return nil, err
	}
	if _, err := tf.File.Write(b); err != nil {
		return nil, err
	}
	tf.File.Seek(0, io.SeekStart)

	set := make(reposync.DigestSet, 0, len(algos))
	for _, a := range algos {
		h := a.New()
		h.Write(b)
		set = append(set, reposync.Digest{Algo: a, Checksum: h.Sum(nil)})
	}
	return &fetch.Result{File: tf, Size: int64(len(b)), Digests: set}, nil
}

func digestOf(algo reposync.Algorithm, content []byte) reposync.Digest {
	h := algo.New()
	h.Write(content)
	return reposync.Digest{Algo: algo, Checksum: h.Sum(nil)}
}

func TestRunFirstSync(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	pkgA := []byte("package a contents")
	idxContent := []byte("index contents")

	manifest := reposync.Manifest{
		"pool/a.deb": {
			PackageRef: reposync.PackageRef{Path: "pool/a.deb", Size: int64(len(pkgA)), Digests: reposync.DigestSet{digestOf(reposync.SHA256, pkgA)}},
			Role:       reposync.RolePackage,
		},
		"Packages": {
			PackageRef: reposync.PackageRef{Path: "Packages", Size: int64(len(idxContent)), Digests: reposync.DigestSet{digestOf(reposync.SHA256, idxContent)}},
			Role:       reposync.RoleIndex,
		},
	}

	f := fakeFetcher{content: map[string][]byte{
		"http://upstream/pool/a.deb": pkgA,
		"http://upstream/Packages":   idxContent,
	}}

	backend := &storage.Local{Root: dir}
	ss := statestore.New(backend)

	repo := reposync.Repository{Name: "test-repo", Kind: reposync.KindAPT, BaseURL: "http://upstream"}
	out := Run(ctx, repo, Deps{
		Indexer:    fakeIndexer{manifest: manifest},
		Fetcher:    f,
		Storage:    backend,
		StateStore: ss,
	})
	require.NoError(t, out.Err)
	assert.Equal(t, manifest, out.Manifest)

	got, err := backend.Read(ctx, "pool/a.deb")
	require.NoError(t, err)
	assert.Equal(t, pkgA, got)

	state, err := ss.Load(ctx, "test-repo")
	require.NoError(t, err)
	assert.Equal(t, reposync.ResultOK, state.LastResult)
	assert.Len(t, state.Manifest, 2)
}

func TestRunAbortsOnDigestMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	manifest := reposync.Manifest{
		"pool/a.deb": {
			PackageRef: reposync.PackageRef{Path: "pool/a.deb", Size: 3, Digests: reposync.DigestSet{{Algo: reposync.SHA256, Checksum: []byte("wrong-digest-bytes")}}},
			Role:       reposync.RolePackage,
		},
	}
	f := fakeFetcher{content: map[string][]byte{"http://upstream/pool/a.deb": []byte("abc")}}
	backend := &storage.Local{Root: dir}
	ss := statestore.New(backend)

	repo := reposync.Repository{Name: "bad-repo", Kind: reposync.KindAPT, BaseURL: "http://upstream"}
	out := Run(ctx, repo, Deps{
		Indexer:    fakeIndexer{manifest: manifest},
		Fetcher:    f,
		Storage:    backend,
		StateStore: ss,
	})
	require.Error(t, out.Err)

	_, err := os.Stat(dir + "/pool/a.deb")
	assert.True(t, os.IsNotExist(err), "aborted run must not leave the mismatched file published")

	state, err := ss.Load(ctx, "bad-repo")
	require.NoError(t, err)
	assert.Empty(t, state.Manifest, "a failed run must leave M_old unchanged")
}

func TestRunNoopWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	pkgA := []byte("package a contents")
	manifest := reposync.Manifest{
		"pool/a.deb": {
			PackageRef: reposync.PackageRef{Path: "pool/a.deb", Size: int64(len(pkgA)), Digests: reposync.DigestSet{digestOf(reposync.SHA256, pkgA)}},
			Role:       reposync.RolePackage,
		},
	}
	backend := &storage.Local{Root: dir}
	ss := statestore.New(backend)
	require.NoError(t, ss.Commit(ctx, "repo", reposync.PriorState{Manifest: manifest, LastResult: reposync.ResultOK}))

	f := fakeFetcher{content: map[string][]byte{}}
	repo := reposync.Repository{Name: "repo", Kind: reposync.KindAPT, BaseURL: "http://upstream"}
	out := Run(ctx, repo, Deps{
		Indexer:    fakeIndexer{manifest: manifest},
		Fetcher:    f,
		Storage:    backend,
		StateStore: ss,
	})
	require.NoError(t, out.Err)

	_, err := backend.Read(ctx, "pool/a.deb")
	assert.ErrorIs(t, err, storage.ErrNotFound, "no-op sync must not re-fetch or re-write unchanged packages")
}
