package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"telemetrycore/pkg/appcontext"
	"telemetrycore/pkg/clock"
	"telemetrycore/pkg/logger"
	"telemetrycore/pkg/metrics"
	"telemetrycore/pkg/performance"
	"telemetrycore/pkg/storage"
)

// ErrRetryPending is returned by Flush when a batch must be retried later.
var ErrRetryPending = errors.New("upload: batch kept for retry")

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Feature     string
	Reader      *storage.BatchReader
	Uploader    Uploader
	Context     func() appcontext.Context
	Preset      performance.Preset
	Clock       clock.Clock
	Attempts    Attempts
	MaxAttempts int
	Metrics     *metrics.FeatureRecorder
}

// Worker periodically uploads the oldest readable batch of one feature.
type Worker struct {
	feature     string
	reader      *storage.BatchReader
	uploader    Uploader
	snapshot    func() appcontext.Context
	preset      performance.Preset
	clock       clock.Clock
	attempts    Attempts
	maxAttempts int
	rec         *metrics.FeatureRecorder

	mu    sync.Mutex
	delay time.Duration

	runMu    sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker builds a worker. It does not start it.
func NewWorker(opts WorkerOptions) *Worker {
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}
	att := opts.Attempts
	if att == nil {
		att = newMemAttempts()
	}
	snap := opts.Context
	if snap == nil {
		snap = func() appcontext.Context { return appcontext.Context{} }
	}
	return &Worker{
		feature:     opts.Feature,
		reader:      opts.Reader,
		uploader:    opts.Uploader,
		snapshot:    snap,
		preset:      opts.Preset,
		clock:       c,
		attempts:    att,
		maxAttempts: opts.MaxAttempts,
		rec:         opts.Metrics,
		delay:       opts.Preset.InitialUploadDelay,
		stopCh:      make(chan struct{}),
	}
}

// Delay returns the wait before the next cycle.
func (w *Worker) Delay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delay
}

func (w *Worker) decreaseDelay() {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := time.Duration(float64(w.delay) * (1 - w.preset.UploadDelayChangeRate))
	if d < w.preset.MinUploadDelay {
		d = w.preset.MinUploadDelay
	}
	w.delay = d
}

func (w *Worker) increaseDelay() {
	w.mu.Lock()
	defer w.mu.Unlock()
	d := time.Duration(float64(w.delay) * (1 + w.preset.UploadDelayChangeRate))
	if d > w.preset.MaxUploadDelay {
		d = w.preset.MaxUploadDelay
	}
	w.delay = d
}

// Start runs the upload loop until ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
	logger.Info("upload_worker_started", "feature", w.feature, "initial_delay", w.Delay())
}

// Stop ends the loop and waits for the cycle in progress.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.clock.After(w.Delay()):
		}
		if _, err := w.RunOnce(ctx); err != nil {
			logger.Error("upload_cycle_failed", "feature", w.feature, "error", err)
		}
	}
}

// RunOnce uploads at most one batch and adapts the delay. It reports
// whether a batch was delivered.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	b, err := w.reader.NextBatch()
	if err != nil {
		w.increaseDelay()
		return false, err
	}
	if b == nil {
		w.increaseDelay()
		return false, nil
	}
	delivered, retry, err := w.process(ctx, b)
	if delivered && !retry {
		w.decreaseDelay()
	} else {
		w.increaseDelay()
	}
	return delivered, err
}

// Flush uploads every readable batch now, ignoring the read grace period.
// It stops at the first batch that must be retried.
func (w *Worker) Flush(ctx context.Context) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := w.reader.NextFlushBatch()
		if err != nil {
			return err
		}
		if b == nil {
			return nil
		}
		_, retry, err := w.process(ctx, b)
		if err != nil {
			return err
		}
		if retry {
			return fmt.Errorf("%w: %s", ErrRetryPending, b.File.Name())
		}
	}
}

// process uploads b and applies the outcome to its file.
func (w *Worker) process(ctx context.Context, b *storage.Batch) (delivered, retry bool, err error) {
	name := b.File.Name()
	if len(b.Events) == 0 {
		logger.Debug("upload_empty_batch_deleted", "feature", w.feature, "file", name)
		return false, false, w.finish(b)
	}

	st := w.uploader.Upload(ctx, w.feature, b, w.snapshot())
	switch {
	case st.NeedsRetry:
		n, aerr := w.attempts.Increment(w.feature, name)
		if aerr != nil {
			logger.Warn("upload_attempt_record_failed", "feature", w.feature, "file", name, "error", aerr)
		}
		if w.maxAttempts > 0 && n >= w.maxAttempts {
			w.rec.Uploaded(metrics.OutcomeDropped)
			logger.Warn("upload_batch_abandoned", "feature", w.feature, "file", name, "attempts", n, "status", st.StatusCode, "error", st.Err)
			return false, false, w.finish(b)
		}
		w.rec.Uploaded(metrics.OutcomeRetry)
		logger.Info("upload_batch_retry", "feature", w.feature, "file", name, "attempt", n, "status", st.StatusCode, "error", st.Err)
		return false, true, nil
	case st.Delivered():
		w.rec.Uploaded(metrics.OutcomeDelivered)
		logger.Debug("upload_batch_delivered", "feature", w.feature, "file", name, "events", len(b.Events))
		return true, false, w.finish(b)
	default:
		w.rec.Uploaded(metrics.OutcomeDropped)
		logger.Warn("upload_batch_rejected", "feature", w.feature, "file", name, "status", st.StatusCode, "error", st.Err)
		return false, false, w.finish(b)
	}
}

func (w *Worker) finish(b *storage.Batch) error {
	if err := w.reader.Delete(b); err != nil {
		return err
	}
	if err := w.attempts.Clear(w.feature, b.File.Name()); err != nil {
		logger.Warn("upload_attempt_clear_failed", "feature", w.feature, "file", b.File.Name(), "error", err)
	}
	return nil
}
