package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/applyline/applyline/internal/common"
)

// LocalFS implements Store on a directory. Storage refs are paths
// relative to Root. Used in local mode and by tests.
type LocalFS struct {
	Root string
}

// rel anchors the key at the root so "../" segments cannot escape it.
func rel(key string) string {
	return strings.TrimPrefix(filepath.Join(string(filepath.Separator), key), string(filepath.Separator))
}

func (l LocalFS) Put(_ context.Context, key string, r io.Reader) (string, error) {
	ref := rel(key)
	abs := filepath.Join(l.Root, ref)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return ref, nil
}

func (l LocalFS) Get(_ context.Context, storageRef string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(l.Root, rel(storageRef)))
	if os.IsNotExist(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l LocalFS) Stat(_ context.Context, storageRef string) error {
	_, err := os.Stat(filepath.Join(l.Root, rel(storageRef)))
	if os.IsNotExist(err) {
		return common.ErrNotFound
	}
	return err
}
