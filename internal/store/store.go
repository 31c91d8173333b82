// Package store implements the orchestrator's durable document store:
// JSON documents written with a temp-file-then-rename atomic replace,
// fsynced before and after the rename, and protected by per-file
// advisory locks (shared for reads, exclusive for writes) so concurrent
// processes never observe a torn write.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
)

// Logger is the minimal logging seam the store depends on.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Store provides atomic get/put access to JSON documents on disk.
// It holds no opinions about document shape; callers own concurrency
// above the single-document level.
type Store struct {
	logger       Logger
	warnOnce     sync.Once
	lockDisabled atomic.Bool
}

// Option customizes Store construction.
type Option func(*Store)

// WithLogger injects a logger for lock-degradation warnings.
func WithLogger(logger Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Store.
func New(opts ...Option) *Store {
	s := &Store{logger: nopLogger{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get reads and unmarshals the document at path into v, holding a shared
// advisory lock for the duration of the read. A missing file returns
// fs.ErrNotExist (wrapped) so callers can distinguish "not yet created"
// from a real I/O failure.
func (s *Store) Get(path string, v any) error {
	unlock := s.acquire(path, false)
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("store: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: parse %s: %w", path, err)
	}
	return nil
}

// Put serializes v and atomically replaces the document at path, holding
// an exclusive advisory lock for the duration of the write.
//
// Sequence: marshal -> write to a sibling temp file -> flush+fsync the
// temp file -> rename over the target -> fsync the containing directory
// (best-effort, some filesystems do not support directory fsync).
func (s *Store) Put(path string, v any) error {
	unlock := s.acquire(path, true)
	defer unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: ensure dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", path, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("store: create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: fsync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("store: rename into place for %s: %w", path, err)
	}

	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	return nil
}

// lockPath returns the sibling lock file used to guard path.
func lockPath(path string) string {
	return path + ".lock"
}

// acquire takes a shared (read) or exclusive (write) advisory lock on
// path's sibling lock file, returning a release function. If the
// platform has no advisory-lock primitive, it logs a one-time
// degradation warning and proceeds lock-free, per spec.md §4.A/§7(e).
func (s *Store) acquire(path string, exclusive bool) func() {
	if s.lockDisabled.Load() {
		return func() {}
	}
	fl := flock.New(lockPath(path))

	var err error
	if exclusive {
		err = fl.Lock()
	} else {
		err = fl.RLock()
	}
	if err != nil {
		s.warnOnce.Do(func() {
			s.logger.Printf("store: advisory locking unavailable, proceeding without locks: %v", err)
		})
		s.lockDisabled.Store(true)
		return func() {}
	}
	return func() {
		_ = fl.Unlock()
	}
}
