package storage

import (
	"errors"
	"time"

	"telemetrycore/pkg/clock"
	"telemetrycore/pkg/datablock"
	"telemetrycore/pkg/encoding"
	"telemetrycore/pkg/encryption"
	"telemetrycore/pkg/health"
	"telemetrycore/pkg/logger"
	"telemetrycore/pkg/metrics"

	"github.com/valyala/bytebufferpool"
)

// Event is what producers hand to a Writer. Payload is owned by the writer
// once Write is called. Date is the producer's local time; zero means now.
type Event struct {
	Type     string
	Payload  any
	Metadata any
	Date     time.Time
}

// Writer persists events.
type Writer interface {
	Write(ev Event) error
}

// FileWriterOptions configures a FileWriter.
type FileWriterOptions struct {
	Feature    string
	Encoder    encoding.Encoder
	Encryption encryption.DataEncryption
	// Clock is the uncorrected local clock; Corrector supplies the offset.
	Clock     clock.Clock
	Corrector *clock.Corrector
	Stats     *Stats
	Metrics   *metrics.FeatureRecorder
	Health    *health.Tracker
}

// FileWriter frames events into the files chosen by an Orchestrator.
type FileWriter struct {
	orch    *Orchestrator
	feature string
	enc     encoding.Encoder
	crypt   encryption.DataEncryption
	clock   clock.Clock
	corr    *clock.Corrector
	stats   *Stats
	rec     *metrics.FeatureRecorder
	health  *health.Tracker
}

// NewFileWriter returns a writer appending to orch.
func NewFileWriter(orch *Orchestrator, opts FileWriterOptions) *FileWriter {
	enc := opts.Encoder
	if enc == nil {
		enc = encoding.JSON{}
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	st := opts.Stats
	if st == nil {
		st = &Stats{}
	}
	return &FileWriter{
		orch:    orch,
		feature: opts.Feature,
		enc:     enc,
		crypt:   opts.Encryption,
		clock:   c,
		corr:    opts.Corrector,
		stats:   st,
		rec:     opts.Metrics,
		health:  opts.Health,
	}
}

// Stats returns the counters this writer updates.
func (w *FileWriter) Stats() *Stats { return w.stats }

// Write serializes, optionally encrypts, frames and appends ev. The clock
// offset is applied here and only here.
func (w *FileWriter) Write(ev Event) error {
	local := ev.Date
	if local.IsZero() {
		local = w.clock.Now()
	}
	rec := encoding.Record{
		Date:    w.corr.Correct(local).UnixMilli(),
		Type:    ev.Type,
		Payload: ev.Payload,
	}

	data, err := w.seal(rec)
	if err != nil {
		return w.dropEncoding(err)
	}
	var meta []byte
	if ev.Metadata != nil {
		if meta, err = w.seal(ev.Metadata); err != nil {
			return w.dropEncoding(err)
		}
	}
	if limit := w.orch.Preset().MaxEventSize; limit > 0 && int64(len(data)+len(meta)) > limit {
		w.stats.droppedCapacity.Add(1)
		w.rec.Dropped(metrics.ReasonCapacity)
		logger.Warn("storage_event_too_large", "feature", w.feature, "size", len(data), "metadata_size", len(meta), "max", limit)
		return ErrCapacityExceeded
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if meta != nil {
		if err := datablock.Append(bb, datablock.Metadata, meta); err != nil {
			return w.dropEncoding(err)
		}
	}
	if err := datablock.Append(bb, datablock.Event, data); err != nil {
		return w.dropEncoding(err)
	}

	wf, err := w.orch.FileForWriting(int64(bb.Len()))
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			w.stats.droppedCapacity.Add(1)
			w.rec.Dropped(metrics.ReasonCapacity)
			return err
		}
		return w.dropStorage(err)
	}
	if err := wf.Append(bb.B); err != nil {
		w.orch.unreserve(wf, int64(bb.Len()))
		return w.dropStorage(err)
	}

	w.stats.written.Add(1)
	w.rec.Written(bb.Len())
	w.health.RecordSuccess()
	return nil
}

func (w *FileWriter) seal(v any) ([]byte, error) {
	b, err := w.enc.Marshal(v)
	if err != nil {
		return nil, err
	}
	if w.crypt == nil {
		return b, nil
	}
	return w.crypt.Encrypt(b)
}

func (w *FileWriter) dropEncoding(err error) error {
	w.stats.droppedEncoding.Add(1)
	w.rec.Dropped(metrics.ReasonEncoding)
	logger.Warn("storage_event_encoding_failed", "feature", w.feature, "error", err)
	return &EncodingError{Feature: w.feature, Err: err}
}

func (w *FileWriter) dropStorage(err error) error {
	w.stats.droppedStorage.Add(1)
	w.rec.Dropped(metrics.ReasonStorage)
	w.health.RecordFailure(err)
	logger.Error("storage_event_write_failed", "feature", w.feature, "error", err)
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: "write", Err: err}
}
