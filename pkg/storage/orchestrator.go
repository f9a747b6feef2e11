package storage

import (
	"errors"
	"io/fs"
	"sync"
	"time"

	"telemetrycore/pkg/clock"
	"telemetrycore/pkg/logger"
	"telemetrycore/pkg/metrics"
	"telemetrycore/pkg/performance"
)

// maxNameAttempts bounds the next-millisecond search for a free file name.
const maxNameAttempts = 1000

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Feature    string
	Preset     performance.Preset
	Clock      clock.Clock
	SyncWrites bool
	Metrics    *metrics.FeatureRecorder
}

// Orchestrator decides which file of a directory receives the next write
// and which files are ready to be read. One orchestrator owns a directory.
type Orchestrator struct {
	dir     *Directory
	feature string
	preset  performance.Preset
	clock   clock.Clock
	sync    bool
	rec     *metrics.FeatureRecorder

	mu        sync.Mutex
	current   *WritableFile
	lastMs    int64
	dirSize   int64
	sizeKnown bool
	closed    bool
}

// NewOrchestrator returns an orchestrator for dir. A nil clock uses the
// wall clock.
func NewOrchestrator(dir *Directory, opts OrchestratorOptions) *Orchestrator {
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Orchestrator{
		dir:     dir,
		feature: opts.Feature,
		preset:  opts.Preset,
		clock:   c,
		sync:    opts.SyncWrites,
		rec:     opts.Metrics,
	}
}

func (o *Orchestrator) Directory() *Directory       { return o.dir }
func (o *Orchestrator) Preset() performance.Preset { return o.preset }

// FileForWriting reserves room for one event of writeSize framed bytes and
// returns the file it must be appended to. The caller must follow up with
// exactly one Append or Release on the returned file.
func (o *Orchestrator) FileForWriting(writeSize int64) (*WritableFile, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	now := o.clock.Now()
	if o.current != nil && !o.writableLocked(o.current, now) {
		o.retireLocked()
	}
	if o.current == nil || !o.sizeKnown {
		size, err := o.dir.Size()
		if err != nil {
			return nil, &StorageError{Op: "stat", Path: o.dir.Path(), Err: err}
		}
		o.dirSize = size
		o.sizeKnown = true
	}
	if limit := o.preset.MaxDirectorySize; limit > 0 && o.dirSize+writeSize > limit {
		logger.Debug("storage_directory_full", "feature", o.feature, "dir_size", o.dirSize, "write_size", writeSize, "max", limit)
		return nil, ErrCapacityExceeded
	}
	if o.current == nil {
		if err := o.createLocked(now); err != nil {
			return nil, err
		}
	}

	cur := o.current
	cur.size += writeSize
	cur.events++
	o.dirSize += writeSize
	cur.inflight.Add(1)
	return cur, nil
}

// unreserve gives back the accounting of a reservation whose append failed.
// The file was cut back, so its bytes never reached the disk.
func (o *Orchestrator) unreserve(wf *WritableFile, writeSize int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == wf {
		wf.size -= writeSize
		wf.events--
	}
	o.dirSize -= writeSize
	if o.dirSize < 0 {
		o.dirSize = 0
	}
}

func (o *Orchestrator) writableLocked(w *WritableFile, now time.Time) bool {
	p := o.preset
	if p.MaxFileAgeForWrite > 0 && now.Sub(w.created) >= p.MaxFileAgeForWrite {
		return false
	}
	if p.MaxFileSize > 0 && w.size >= p.MaxFileSize {
		return false
	}
	if p.MaxEventsPerFile > 0 && w.events >= p.MaxEventsPerFile {
		return false
	}
	return true
}

func (o *Orchestrator) createLocked(now time.Time) error {
	ms := now.UnixMilli()
	if ms <= o.lastMs {
		ms = o.lastMs + 1
	}
	var (
		wf  *WritableFile
		err error
	)
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		wf, err = createWritable(o.dir.Path(), ms, o.sync)
		if err == nil || !errors.Is(err, fs.ErrExist) {
			break
		}
		ms++
	}
	if err != nil {
		return &StorageError{Op: "create", Path: o.dir.Path(), Err: err}
	}
	if o.sync {
		if err := o.dir.Sync(); err != nil {
			logger.Warn("storage_dir_sync_failed", "feature", o.feature, "dir", o.dir.Path(), "error", err)
		}
	}
	o.lastMs = ms
	o.current = wf
	o.rec.FileCreated()
	logger.Debug("storage_file_created", "feature", o.feature, "file", wf.Name())
	return nil
}

func (o *Orchestrator) retireLocked() {
	if o.current == nil {
		return
	}
	if err := o.current.close(); err != nil {
		logger.Warn("storage_file_close_failed", "feature", o.feature, "file", o.current.Name(), "error", err)
	}
	o.current = nil
}

// FilesForReading returns files ready for upload, oldest first. The current
// file is excluded while it is still writable, as are files younger than
// MinFileAgeForRead. Files older than MaxFileAgeForRead are deleted.
func (o *Orchestrator) FilesForReading() ([]File, error) {
	return o.readable(false)
}

// FilesForFlush is FilesForReading without the read grace period.
func (o *Orchestrator) FilesForFlush() ([]File, error) {
	return o.readable(true)
}

func (o *Orchestrator) readable(ignoreGrace bool) ([]File, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if o.current != nil && !o.writableLocked(o.current, now) {
		o.retireLocked()
	}
	files, err := o.dir.Files()
	if err != nil {
		return nil, &StorageError{Op: "list", Path: o.dir.Path(), Err: err}
	}

	var out []File
	purged := 0
	for _, f := range files {
		if o.current != nil && f.name == o.current.name {
			continue
		}
		age := now.Sub(f.CreatedAt())
		if o.preset.MaxFileAgeForRead > 0 && age > o.preset.MaxFileAgeForRead {
			if err := o.deleteLocked(f); err != nil {
				logger.Warn("storage_stale_delete_failed", "feature", o.feature, "file", f.name, "error", err)
				continue
			}
			purged++
			continue
		}
		if !ignoreGrace && o.preset.MinFileAgeForRead > 0 && age < o.preset.MinFileAgeForRead {
			continue
		}
		out = append(out, f)
	}
	if purged > 0 {
		o.rec.Purged(purged)
		logger.Info("storage_stale_files_deleted", "feature", o.feature, "count", purged)
	}
	return out, nil
}

// Delete removes f. Deleting a missing file is not an error.
func (o *Orchestrator) Delete(f File) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && f.name == o.current.name {
		o.retireLocked()
	}
	return o.deleteLocked(f)
}

func (o *Orchestrator) deleteLocked(f File) error {
	size, statErr := f.Size()
	if err := f.Delete(); err != nil {
		return &StorageError{Op: "delete", Path: f.Path(), Err: err}
	}
	if statErr == nil && o.sizeKnown {
		o.dirSize -= size
		if o.dirSize < 0 {
			o.dirSize = 0
		}
	}
	return nil
}

// DeleteStale removes every non-current file older than MaxFileAgeForRead
// and reports how many were deleted.
func (o *Orchestrator) DeleteStale() (int, error) {
	if o.preset.MaxFileAgeForRead <= 0 {
		return 0, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if o.current != nil && !o.writableLocked(o.current, now) {
		o.retireLocked()
	}
	files, err := o.dir.Files()
	if err != nil {
		return 0, &StorageError{Op: "list", Path: o.dir.Path(), Err: err}
	}
	n := 0
	for _, f := range files {
		if o.current != nil && f.name == o.current.name {
			continue
		}
		if now.Sub(f.CreatedAt()) <= o.preset.MaxFileAgeForRead {
			continue
		}
		if err := o.deleteLocked(f); err != nil {
			return n, err
		}
		n++
	}
	o.rec.Purged(n)
	return n, nil
}

// Purge closes the current file and deletes every file in the directory.
func (o *Orchestrator) Purge() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retireLocked()
	files, err := o.dir.Files()
	if err != nil {
		return 0, &StorageError{Op: "list", Path: o.dir.Path(), Err: err}
	}
	n := 0
	for _, f := range files {
		if err := o.deleteLocked(f); err != nil {
			return n, err
		}
		n++
	}
	o.dirSize = 0
	o.sizeKnown = true
	o.rec.Purged(n)
	return n, nil
}

// MoveAllTo closes the current file and renames every file into dst,
// keeping timestamp names so read order is preserved.
func (o *Orchestrator) MoveAllTo(dst *Orchestrator) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retireLocked()
	files, err := o.dir.Files()
	if err != nil {
		return 0, &StorageError{Op: "list", Path: o.dir.Path(), Err: err}
	}
	n := 0
	var moveErr error
	for _, f := range files {
		if _, err := o.dir.moveFile(f, dst.dir); err != nil {
			moveErr = &StorageError{Op: "move", Path: f.Path(), Err: err}
			break
		}
		n++
	}
	o.dirSize = 0
	o.sizeKnown = moveErr == nil

	dst.mu.Lock()
	dst.sizeKnown = false
	dst.mu.Unlock()
	if moveErr != nil {
		return n, moveErr
	}
	if n > 0 {
		if err := dst.dir.Sync(); err != nil {
			logger.Warn("storage_dir_sync_failed", "feature", o.feature, "dir", dst.dir.Path(), "error", err)
		}
	}
	return n, nil
}

// CurrentFile returns the file receiving writes, if any.
func (o *Orchestrator) CurrentFile() (File, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return File{}, false
	}
	return o.current.File, true
}

// Close retires the current file. Further writes fail with ErrClosed.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retireLocked()
	o.closed = true
	return nil
}
