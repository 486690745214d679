package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xelth-com/chatrelay/internal/models"
)

// FileBackend keeps the log as one indented JSON array, rewritten in full
// on every append.
type FileBackend struct {
	path string
	mode os.FileMode

	// blocked refuses writes over a log that could be neither read nor moved.
	blocked error
}

// NewFileBackend returns a backend writing to path. Parent directories are
// created on first write.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, mode: 0o600}
}

// Path returns the backing file location.
func (b *FileBackend) Path() string { return b.path }

// Load reads the log; a missing file is an empty log. A file that cannot be
// read or decoded is renamed to <path>.corrupt-<unixnano> so the next append
// does not overwrite it.
func (b *FileBackend) Load(_ context.Context) ([]models.Message, error) {
	log, err := ReadLogFile(b.path)
	if err == nil {
		return log, nil
	}

	aside := fmt.Sprintf("%s.corrupt-%d", b.path, time.Now().UnixNano())
	if rerr := os.Rename(b.path, aside); rerr != nil {
		b.blocked = fmt.Errorf("unreadable log %s could not be moved aside: %w", b.path, rerr)
		return nil, errors.Join(err, b.blocked)
	}
	return nil, fmt.Errorf("%w (moved to %s)", err, aside)
}

// Persist rewrites the whole file with log.
func (b *FileBackend) Persist(_ context.Context, log []models.Message, _ models.Message) error {
	if b.blocked != nil {
		return b.blocked
	}
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	return writeFile(b.path, data, b.mode)
}

// ReadLogFile decodes a persisted log file without touching any store.
func ReadLogFile(path string) ([]models.Message, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var log []models.Message
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return log, nil
}

// writeFile writes bytes via a temp file, then atomically replaces the target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
