// Package storage provides the shared JSON file persistence used by every
// component store: whole-file loads that distinguish an absent file from a
// corrupt one, and serialized atomic rewrites.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// ErrCorrupt marks a backing file that exists but cannot be parsed. Callers
// must fail loudly on it rather than reinitializing over the data.
var ErrCorrupt = errors.New("storage: corrupt file")

// File is a JSON-persisted store backed by a single file. All mutations
// rewrite the whole file; writes are serialized in-process by a mutex and
// across processes by an exclusive lock on a sibling .lock file.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a store handle for path. The file is created lazily on
// first Save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Load reads the file into v. It returns false with a nil error when the
// file is absent (callers start from empty state) and ErrCorrupt when the
// file exists but does not parse.
func (f *File) Load(v any) (bool, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: read %s: %w", f.path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	return true, nil
}

// Save rewrites the file with pretty-printed JSON via a temp file and
// rename, holding an exclusive flock for the duration.
func (f *File) Save(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal %s: %w", f.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("storage: init dir for %s: %w", f.path, err)
	}

	unlock, err := lockFile(f.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("storage: atomic rename %s: %w", f.path, err)
	}
	return nil
}

// AppendLine appends v as one line of JSON to path (line-delimited journal).
func AppendLine(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal journal record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("storage: init dir for %s: %w", path, err)
	}
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("storage: open journal %s: %w", path, err)
	}
	defer fh.Close()
	if _, err := fh.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("storage: append journal %s: %w", path, err)
	}
	return nil
}

// lockFile takes an exclusive flock and returns the release func. The lock
// file itself is left in place.
func lockFile(path string) (func(), error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("storage: open lock %s: %w", path, err)
	}
	if err := syscall.Flock(int(fh.Fd()), syscall.LOCK_EX); err != nil {
		fh.Close()
		return nil, fmt.Errorf("storage: flock %s: %w", path, err)
	}
	return func() {
		_ = syscall.Flock(int(fh.Fd()), syscall.LOCK_UN)
		fh.Close()
	}, nil
}
