// local.go -- Filesystem-backed blob store for single-node deployments.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore keeps objects as files under Dir. Keys may contain '/' to form
// subdirectories but can never resolve outside Dir.
type LocalStore struct {
	root *os.Root
}

// NewLocalStore creates dir if needed and opens it as the store root.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating blob dir: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening blob dir: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Close releases the root directory handle.
func (s *LocalStore) Close() error { return s.root.Close() }

func cleanKey(key string) (string, error) {
	if key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.FromSlash(key), nil
}

// Put writes to a temporary file then renames it into place, so readers
// never see a partial object.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, _ string) error {
	name, err := cleanKey(key)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating blob subdir: %w", err)
		}
	}

	tmp := name + ".part"
	f, err := s.root.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("creating blob: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, size+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n != size {
		err = fmt.Errorf("expected %d bytes, got %d", size, n)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.root.Remove(tmp)
		return fmt.Errorf("writing blob %s: %w", key, err)
	}
	if err := s.root.Rename(tmp, name); err != nil {
		s.root.Remove(tmp)
		return fmt.Errorf("committing blob %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	name, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := s.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening blob %s: %w", key, err)
	}
	return f, nil
}
