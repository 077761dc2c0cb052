package watchers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nightlyone/lockfile"
)

// Load reads a JSON array of watchers from path. null entries are dropped.
func Load(path string) ([]*Watcher, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read watchers file %q: %w", path, err)
	}
	var ws []*Watcher
	if err := json.Unmarshal(b, &ws); err != nil {
		return nil, fmt.Errorf("could not parse watchers file %q: %w", path, err)
	}
	out := ws[:0]
	for i, w := range ws {
		if w == nil {
			slog.Warn("null watcher entry dropped (ignored)", "file", path, "index", i)
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// Save rewrites path with ws. The new content is written to a temporary file
// in the same directory and renamed over the old one.
func Save(path string, ws []*Watcher) error {
	b, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode watchers: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("could not create temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write %q: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("could not sync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("could not replace %q: %w", path, err)
	}
	return nil
}

// ErrLocked is returned by Open when another process owns the watchers file.
var ErrLocked = errors.New("watchers file is locked by another process")

// Store is the single-writer handle on a watchers file.
type Store struct {
	path string
	lock lockfile.Lockfile
}

// Open takes the process lock for path. The lock lives next to the file as
// path + ".lock".
func Open(path string) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve %q: %w", path, err)
	}
	lock, err := lockfile.New(abs + ".lock")
	if err != nil {
		return nil, fmt.Errorf("could not create lock file handle: %w", err)
	}
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, lockfile.ErrBusy) {
			return nil, fmt.Errorf("%w: %v", ErrLocked, err)
		}
		return nil, fmt.Errorf("could not get lock on file %q: %w", abs+".lock", err)
	}
	return &Store{path: abs, lock: lock}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load() ([]*Watcher, error) { return Load(s.path) }

func (s *Store) Save(ws []*Watcher) error { return Save(s.path, ws) }

func (s *Store) Close() error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("could not unlock %q: %w", s.path, err)
	}
	return nil
}
