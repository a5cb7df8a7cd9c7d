package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// DefaultPrefix is the name prefix of the scratch directory.
const DefaultPrefix = "mock-api-uploads-"

// LocalStore writes uploads into a uniquely named directory under the host's
// temp directory.
type LocalStore struct {
	dir  string
	opts options

	count  atomic.Int64
	closed atomic.Bool

	teardownOnce sync.Once
	teardownErr  error
}

// NewLocalStore allocates a fresh scratch directory under parent (os.TempDir()
// when empty) whose name starts with prefix.
func NewLocalStore(parent, prefix string, opts ...Option) (*LocalStore, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	dir, err := os.MkdirTemp(parent, prefix)
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &LocalStore{dir: dir, opts: buildOptions(opts)}, nil
}

// Dir returns the scratch directory path.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Backend implements Store.
func (s *LocalStore) Backend() string {
	return "local"
}

// Count implements Store.
func (s *LocalStore) Count() int64 {
	return s.count.Load()
}

// Put implements Store. A file that fails mid-write is left in place and
// reaped with the rest of the directory.
func (s *LocalStore) Put(ctx context.Context, r io.Reader, originalName string) (Stored, error) {
	if s.closed.Load() {
		return Stored{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}

	key := NewKey(s.opts.now(), originalName)
	path := filepath.Join(s.dir, key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Stored{}, fmt.Errorf("create %s: %w", key, err)
	}

	n, copyErr := limitedCopy(f, r, s.opts.maxBytes)
	closeErr := f.Close()
	if copyErr != nil {
		if errors.Is(copyErr, ErrTooLarge) {
			return Stored{}, copyErr
		}
		return Stored{}, fmt.Errorf("write %s: %w", key, copyErr)
	}
	if closeErr != nil {
		return Stored{}, fmt.Errorf("close %s: %w", key, closeErr)
	}

	s.count.Add(1)
	return Stored{
		Key:          key,
		Location:     path,
		OriginalName: originalName,
		Size:         n,
	}, nil
}

// Teardown implements Store. The directory is removed recursively once; a
// directory that is already gone is not an error.
func (s *LocalStore) Teardown(_ context.Context) error {
	s.teardownOnce.Do(func() {
		s.closed.Store(true)
		s.teardownErr = os.RemoveAll(s.dir)
	})
	return s.teardownErr
}
