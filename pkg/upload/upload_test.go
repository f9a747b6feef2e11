package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"telemetrycore/pkg/appcontext"
	"telemetrycore/pkg/clock"
	"telemetrycore/pkg/encoding"
	"telemetrycore/pkg/performance"
	"telemetrycore/pkg/storage"
	"telemetrycore/pkg/upload/ledger"
)

var epoch = time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clk    *clock.FakeClock
	dir    *storage.Directory
	writer *storage.FileWriter
	reader *storage.BatchReader
}

func testPreset() performance.Preset {
	p := performance.EachEventNewFile()
	p.InitialUploadDelay = 5 * time.Second
	p.MinUploadDelay = time.Second
	p.MaxUploadDelay = 10 * time.Second
	p.UploadDelayChangeRate = 0.1
	return p
}

func newHarness(t *testing.T, enc encoding.Encoder) *harness {
	t.Helper()
	dir, err := storage.OpenDirectory(filepath.Join(t.TempDir(), "logs"))
	require.NoError(t, err)
	clk := clock.Fake(epoch)
	corr := clock.NewCorrector(0)
	orch := storage.NewOrchestrator(dir, storage.OrchestratorOptions{
		Feature: "logs",
		Preset:  testPreset(),
		Clock:   clock.WithCorrection(clk, corr),
	})
	return &harness{
		clk: clk,
		dir: dir,
		writer: storage.NewFileWriter(orch, storage.FileWriterOptions{
			Feature: "logs", Encoder: enc, Clock: clk, Corrector: corr,
		}),
		reader: storage.NewBatchReader(orch, "logs", nil, nil),
	}
}

func (h *harness) write(t *testing.T, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		require.NoError(t, h.writer.Write(storage.Event{Type: "log", Payload: p}))
	}
}

func (h *harness) fileCount(t *testing.T) int {
	t.Helper()
	files, err := h.dir.Files()
	require.NoError(t, err)
	return len(files)
}

type recordingUploader struct {
	mu      sync.Mutex
	status  Status
	batches []*storage.Batch
}

func (r *recordingUploader) Upload(_ context.Context, _ string, b *storage.Batch, _ appcontext.Context) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return r.status
}

func (r *recordingUploader) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (h *harness) worker(up Uploader, maxAttempts int) *Worker {
	return NewWorker(WorkerOptions{
		Feature:     "logs",
		Reader:      h.reader,
		Uploader:    up,
		Preset:      testPreset(),
		Clock:       h.clk,
		MaxAttempts: maxAttempts,
	})
}

func TestClassify(t *testing.T) {
	require.True(t, Classify(202).Delivered())
	require.True(t, Classify(429).NeedsRetry)
	require.True(t, Classify(408).NeedsRetry)
	require.True(t, Classify(503).NeedsRetry)
	st := Classify(400)
	require.False(t, st.NeedsRetry)
	require.False(t, st.Delivered())
}

func TestDeliveredBatchIsDeletedAndDelayShrinks(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "a", "b")
	up := &recordingUploader{status: Status{StatusCode: 200}}
	w := h.worker(up, 0)

	ok, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4500*time.Millisecond, w.Delay())
	require.Equal(t, 1, h.fileCount(t))

	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, h.fileCount(t))
	require.Len(t, up.batches, 2)
	require.Len(t, up.batches[0].Events, 1)
}

func TestEmptyDirectoryGrowsDelayUpToMax(t *testing.T) {
	h := newHarness(t, nil)
	w := h.worker(&recordingUploader{}, 0)
	for i := 0; i < 20; i++ {
		ok, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		require.False(t, ok)
	}
	require.Equal(t, 10*time.Second, w.Delay())
}

func TestRetryKeepsFileUntilAttemptsExhausted(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "a")
	up := &recordingUploader{status: Status{NeedsRetry: true, StatusCode: 503}}
	w := h.worker(up, 3)

	for i := 0; i < 2; i++ {
		_, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, h.fileCount(t))
	}
	require.Greater(t, w.Delay(), 5*time.Second)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, h.fileCount(t))
	require.Equal(t, 3, up.calls())
}

func TestRejectedBatchIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "a")
	w := h.worker(&recordingUploader{status: Status{StatusCode: 400}}, 0)
	ok, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, h.fileCount(t))
}

func TestFlushStopsAtRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "a", "b", "c")

	up := &recordingUploader{status: Status{StatusCode: 200}}
	require.NoError(t, h.worker(up, 0).Flush(context.Background()))
	require.Equal(t, 3, up.calls())
	require.Equal(t, 0, h.fileCount(t))

	h.write(t, "d", "e")
	retry := &recordingUploader{status: Status{NeedsRetry: true}}
	err := h.worker(retry, 0).Flush(context.Background())
	require.True(t, errors.Is(err, ErrRetryPending))
	require.Equal(t, 1, retry.calls())
	require.Equal(t, 2, h.fileCount(t))
}

func TestLoopRunsOnClock(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "a")
	up := &recordingUploader{status: Status{StatusCode: 200}}
	w := h.worker(up, 0)

	w.Start(context.Background())
	defer w.Stop()

	require.Eventually(t, func() bool { return h.clk.Waiters() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 0, up.calls())
	h.clk.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return up.calls() == 1 }, time.Second, time.Millisecond)
}

func TestHTTPUploaderSendsCompressedNDJSON(t *testing.T) {
	var (
		mu      sync.Mutex
		body    []byte
		headers http.Header
		path    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zr, err := zlib.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(zr)
		mu.Lock()
		body, headers, path = data, r.Header.Clone(), r.URL.Path
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := newHarness(t, encoding.CBOR())
	h.write(t, "first", "second")
	h.clk.Advance(time.Second)

	up, err := NewHTTPUploader(HTTPOptions{
		Endpoint:          srv.URL + "/v1/{feature}",
		ClientToken:       "tok",
		Compress:          true,
		Encoder:           encoding.CBOR(),
		RequestsPerSecond: 100,
	})
	require.NoError(t, err)

	// Merge both stored events into one batch to exercise the separator.
	b1, err := h.reader.NextBatch()
	require.NoError(t, err)
	require.NoError(t, h.reader.Delete(b1))
	b2, err := h.reader.NextBatch()
	require.NoError(t, err)
	b1.Events = append(b1.Events, b2.Events...)

	st := up.Upload(context.Background(), "logs", b1, appcontext.Context{Service: "svc", SDKVersion: "1.0.0"})
	require.True(t, st.Delivered(), "status %+v", st)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "/v1/logs", path)
	require.Equal(t, "deflate", headers.Get("Content-Encoding"))
	require.Equal(t, "application/x-ndjson", headers.Get("Content-Type"))
	require.Equal(t, "tok", headers.Get("X-Client-Token"))
	require.Equal(t, "svc", headers.Get("X-Service"))
	require.NotEmpty(t, headers.Get("X-Request-ID"))

	lines := bytes.Split(body, []byte("\n"))
	require.Len(t, lines, 2)
	require.True(t, strings.Contains(string(lines[0]), `"first"`))
	require.True(t, strings.Contains(string(lines[1]), `"second"`))
}

func TestHTTPUploaderMapsStatusCodes(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(code.Load()))
	}))
	defer srv.Close()

	up, err := NewHTTPUploader(HTTPOptions{Endpoint: srv.URL, Format: FormatJSON})
	require.NoError(t, err)
	b := &storage.Batch{Events: []storage.StoredEvent{{Data: []byte(`{"a":1}`)}}}

	require.True(t, up.Upload(context.Background(), "logs", b, appcontext.Context{}).NeedsRetry)
	code.Store(http.StatusBadRequest)
	st := up.Upload(context.Background(), "logs", b, appcontext.Context{})
	require.False(t, st.NeedsRetry)
	require.Equal(t, http.StatusBadRequest, st.StatusCode)
}

func TestHTTPUploaderTransportErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	up, err := NewHTTPUploader(HTTPOptions{Endpoint: url, Timeout: time.Second})
	require.NoError(t, err)
	st := up.Upload(context.Background(), "logs", &storage.Batch{}, appcontext.Context{})
	require.True(t, st.NeedsRetry)
	require.Error(t, st.Err)
}

func TestNewHTTPUploaderValidates(t *testing.T) {
	_, err := NewHTTPUploader(HTTPOptions{})
	require.Error(t, err)
	_, err = NewHTTPUploader(HTTPOptions{Endpoint: "http://x", Format: "xml"})
	require.Error(t, err)
}

func TestAttemptsSurviveWorkerRestartWithLedger(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "a")
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	defer l.Close()

	up := &recordingUploader{status: Status{NeedsRetry: true}}
	opts := WorkerOptions{
		Feature: "logs", Reader: h.reader, Uploader: up,
		Preset: testPreset(), Clock: h.clk, Attempts: l, MaxAttempts: 2,
	}
	_, err = NewWorker(opts).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, h.fileCount(t))

	_, err = NewWorker(opts).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, h.fileCount(t))

	files, err := h.dir.Files()
	require.NoError(t, err)
	require.Empty(t, files)
	n, err := l.Attempts("logs", up.batches[0].File.Name())
	require.NoError(t, err)
	require.Zero(t, n)
}
