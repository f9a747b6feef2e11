package storage

import (
	"errors"
	"io/fs"

	"telemetrycore/pkg/datablock"
	"telemetrycore/pkg/encryption"
	"telemetrycore/pkg/logger"
	"telemetrycore/pkg/metrics"
)

// StoredEvent is one event read back from a batch file. Data is the
// decrypted payload exactly as it was serialized at write time.
type StoredEvent struct {
	Data     []byte
	Metadata []byte
}

// Batch is the decoded content of one file.
type Batch struct {
	File   File
	Events []StoredEvent
	// Truncated is set when the file ends in a torn block, the mark of a
	// crash mid-append. Earlier events are intact.
	Truncated bool
	// Skipped counts blocks of unknown type or that failed to decrypt.
	Skipped int
}

// BatchReader reads closed files of one orchestrator.
type BatchReader struct {
	orch    *Orchestrator
	feature string
	crypt   encryption.DataEncryption
	rec     *metrics.FeatureRecorder
}

// NewBatchReader returns a reader over orch. crypt may be nil.
func NewBatchReader(orch *Orchestrator, feature string, crypt encryption.DataEncryption, rec *metrics.FeatureRecorder) *BatchReader {
	return &BatchReader{orch: orch, feature: feature, crypt: crypt, rec: rec}
}

// Read decodes f. It has no side effects on disk.
func (r *BatchReader) Read(f File) (*Batch, error) {
	data, err := f.Read()
	if err != nil {
		return nil, &StorageError{Op: "read", Path: f.Path(), Err: err}
	}

	b := &Batch{File: f}
	var meta []byte
	rd := datablock.NewReader(data)
	for {
		blk, ok := rd.Next()
		if !ok {
			break
		}
		switch blk.Type {
		case datablock.Metadata:
			if meta, err = r.open(blk.Data); err != nil {
				b.Skipped++
				meta = nil
			}
		case datablock.Event:
			payload, err := r.open(blk.Data)
			if err != nil {
				logger.Warn("storage_event_decrypt_failed", "feature", r.feature, "file", f.Name(), "error", err)
				b.Skipped++
				meta = nil
				continue
			}
			b.Events = append(b.Events, StoredEvent{Data: payload, Metadata: meta})
			meta = nil
		default:
			b.Skipped++
		}
	}
	if rd.Truncated() {
		b.Truncated = true
		r.rec.Truncated()
		logger.Info("storage_batch_truncated", "feature", r.feature, "file", f.Name(), "valid_bytes", rd.Offset(), "file_bytes", len(data))
	}
	return b, nil
}

func (r *BatchReader) open(data []byte) ([]byte, error) {
	if r.crypt == nil {
		return data, nil
	}
	return r.crypt.Decrypt(data)
}

// NextBatch reads the oldest readable file. It returns nil when nothing is
// ready. A file that vanished between selection and read is skipped.
func (r *BatchReader) NextBatch() (*Batch, error) {
	files, err := r.orch.FilesForReading()
	if err != nil {
		return nil, err
	}
	return r.first(files)
}

// NextFlushBatch is NextBatch ignoring the read grace period.
func (r *BatchReader) NextFlushBatch() (*Batch, error) {
	files, err := r.orch.FilesForFlush()
	if err != nil {
		return nil, err
	}
	return r.first(files)
}

func (r *BatchReader) first(files []File) (*Batch, error) {
	for _, f := range files {
		b, err := r.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		return b, nil
	}
	return nil, nil
}

// Delete removes the batch's file once the caller judged the outcome final.
func (r *BatchReader) Delete(b *Batch) error {
	if b == nil {
		return nil
	}
	return r.orch.Delete(b.File)
}
