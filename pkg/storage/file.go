package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// File is a read-only handle on a batch file. Its name is the corrected
// creation time in milliseconds since the epoch.
type File struct {
	dir  string
	name string
}

func (f File) Name() string { return f.name }
func (f File) Path() string { return filepath.Join(f.dir, f.name) }

// CreatedAt decodes the creation time from the file name.
func (f File) CreatedAt() time.Time {
	ms, _ := parseFileName(f.name)
	return time.UnixMilli(ms)
}

// Size returns the current on-disk size.
func (f File) Size() (int64, error) {
	st, err := os.Stat(f.Path())
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Read loads the whole file.
func (f File) Read() ([]byte, error) {
	return os.ReadFile(f.Path())
}

// Delete removes the file. A missing file is not an error.
func (f File) Delete() error {
	if err := os.Remove(f.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func fileName(ms int64) string { return strconv.FormatInt(ms, 10) }

func parseFileName(name string) (int64, bool) {
	ms, err := strconv.ParseInt(name, 10, 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return ms, true
}

// WritableFile is the orchestrator's current file. Appends are serialized
// by mu; size and event counters belong to the orchestrator lock.
type WritableFile struct {
	File

	created time.Time
	size    int64
	events  int

	// reservations handed out but not yet appended
	inflight sync.WaitGroup

	mu      sync.Mutex
	f       *os.File
	written int64
	sync    bool
}

func createWritable(dir string, ms int64, syncWrites bool) (*WritableFile, error) {
	name := fileName(ms)
	fh, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &WritableFile{
		File:    File{dir: dir, name: name},
		created: time.UnixMilli(ms),
		f:       fh,
		sync:    syncWrites,
	}, nil
}

// Append writes data with a single write call. On failure the file is cut
// back to its last complete block so later appends stay decodable.
func (w *WritableFile) Append(data []byte) error {
	defer w.inflight.Done()
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return &StorageError{Op: "append", Path: w.Path(), Err: ErrClosed}
	}
	n, err := w.f.Write(data)
	if err != nil {
		if n > 0 {
			_ = w.f.Truncate(w.written)
		}
		return &StorageError{Op: "append", Path: w.Path(), Err: err}
	}
	if w.sync {
		if err := w.f.Sync(); err != nil {
			return &StorageError{Op: "fsync", Path: w.Path(), Err: err}
		}
	}
	w.written += int64(n)
	return nil
}

// Release gives back a reservation that will not be appended.
func (w *WritableFile) Release() { w.inflight.Done() }

// close waits for reserved appends and drops the descriptor. The caller
// holds the orchestrator lock so no new reservation can start.
func (w *WritableFile) close() error {
	w.inflight.Wait()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
