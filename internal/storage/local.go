package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	rpath "github.com/zextras/reposync/pkg/path"
	"github.com/zextras/reposync/pkg/tmp"
)

// Local publishes to a directory on the local filesystem. WriteAtomic is
// implemented as write-to-temp-then-rename within Root, which is atomic on
// any POSIX filesystem as long as the temp file and the destination share a
// mount point.
type Local struct {
	Root string
}

var _ Storage = (*Local)(nil)

func (l *Local) abs(path string) string {
	return filepath.Join(l.Root, rpath.CanonicalizeFileName(path))
}

func (l *Local) Read(_ context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(l.abs(path))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (l *Local) WriteAtomic(_ context.Context, path string, data io.Reader, _ int64, _ string) error {
	dst := l.abs(path)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := tmp.NewFile(dir, ".reposync-*.tmp")
	if err != nil {
		return err
	}
	defer f.Close() // removes the temp file if copy or sync fails; once f.File is closed below it removes nothing

	if _, err := io.Copy(f.File, data); err != nil {
		return err
	}
	if err := f.File.Sync(); err != nil {
		return err
	}
	if err := f.File.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), dst)
}

func (l *Local) Delete(_ context.Context, path string) error {
	err := os.Remove(l.abs(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	root := l.abs(prefix)
	var out []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.Root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
