// Package upload drains readable batch files of a feature to a remote
// collector. Delivery is at least once: a file is deleted only after a
// terminal outcome.
package upload

import (
	"context"
	"sync"

	"telemetrycore/pkg/appcontext"
	"telemetrycore/pkg/storage"
)

// Status is the outcome of one upload.
type Status struct {
	// NeedsRetry keeps the file for a later attempt.
	NeedsRetry bool
	StatusCode int
	Err        error
}

// Delivered reports a 2xx response.
func (s Status) Delivered() bool {
	return !s.NeedsRetry && s.Err == nil && s.StatusCode >= 200 && s.StatusCode < 300
}

// Classify maps an HTTP status to an outcome: 2xx delivered, 408, 429 and
// 5xx retried, every other code dropped.
func Classify(code int) Status {
	switch {
	case code >= 200 && code < 300:
		return Status{StatusCode: code}
	case code == 408 || code == 429 || code >= 500:
		return Status{StatusCode: code, NeedsRetry: true}
	default:
		return Status{StatusCode: code}
	}
}

// Uploader sends one batch.
type Uploader interface {
	Upload(ctx context.Context, feature string, b *storage.Batch, c appcontext.Context) Status
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, feature string, b *storage.Batch, c appcontext.Context) Status

func (f UploaderFunc) Upload(ctx context.Context, feature string, b *storage.Batch, c appcontext.Context) Status {
	return f(ctx, feature, b, c)
}

// Attempts counts retryable failures per file.
type Attempts interface {
	Increment(feature, file string) (int, error)
	Clear(feature, file string) error
}

type memAttempts struct {
	mu sync.Mutex
	m  map[string]int
}

func newMemAttempts() *memAttempts { return &memAttempts{m: make(map[string]int)} }

func (a *memAttempts) Increment(feature, file string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m[feature+"/"+file]++
	return a.m[feature+"/"+file], nil
}

func (a *memAttempts) Clear(feature, file string) error {
	a.mu.Lock()
	delete(a.m, feature+"/"+file)
	a.mu.Unlock()
	return nil
}
