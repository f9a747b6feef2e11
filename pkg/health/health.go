// Package health turns repeated storage failures and low disk space into a
// degraded signal. Nothing here is fatal: it is only reported.
package health

import (
	"sync"
	"time"

	"telemetrycore/pkg/logger"

	"golang.org/x/sys/unix"
)

// DefaultFailureThreshold is the number of consecutive storage errors after
// which a tracker reports degraded.
const DefaultFailureThreshold = 10

// Status is a point-in-time health report.
type Status struct {
	Degraded          bool      `json:"degraded"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorAt       time.Time `json:"last_error_at,omitempty"`
	DiskAlert         bool      `json:"disk_alert"`
	DiskUsedPct       float64   `json:"disk_used_pct"`
	DiskFreeBytes     uint64    `json:"disk_free_bytes"`
}

// Tracker counts consecutive storage failures. A success resets the streak.
type Tracker struct {
	threshold int

	mu          sync.Mutex
	consecutive int
	lastErr     string
	lastErrAt   time.Time
	degraded    bool
	disk        DiskStats
	diskAlert   bool
}

// NewTracker returns a tracker that degrades after threshold failures in a
// row. threshold <= 0 uses DefaultFailureThreshold.
func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Tracker{threshold: threshold}
}

// RecordSuccess clears the failure streak.
func (t *Tracker) RecordSuccess() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.degraded {
		logger.Info("storage_health_recovered", "after_failures", t.consecutive)
	}
	t.consecutive = 0
	t.degraded = false
}

// RecordFailure extends the failure streak.
func (t *Tracker) RecordFailure(err error) {
	if t == nil || err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive++
	t.lastErr = err.Error()
	t.lastErrAt = time.Now()
	if !t.degraded && t.consecutive >= t.threshold {
		t.degraded = true
		logger.Warn("storage_health_degraded", "consecutive_errors", t.consecutive, "error", err)
	}
}

// Status returns the current report.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Degraded:          t.degraded || t.diskAlert,
		ConsecutiveErrors: t.consecutive,
		LastError:         t.lastErr,
		LastErrorAt:       t.lastErrAt,
		DiskAlert:         t.diskAlert,
		DiskUsedPct:       t.disk.UsedPct(),
		DiskFreeBytes:     t.disk.Available,
	}
}

func (t *Tracker) observeDisk(d DiskStats, alert bool) {
	t.mu.Lock()
	t.disk = d
	t.diskAlert = alert
	t.mu.Unlock()
}

// DiskStats describes the filesystem holding a path.
type DiskStats struct {
	Total     uint64
	Available uint64
}

// UsedPct is the used share of the filesystem in percent.
func (d DiskStats) UsedPct() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Total-d.Available) / float64(d.Total) * 100
}

// Disk stats the filesystem that holds path.
func Disk(path string) (DiskStats, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskStats{}, err
	}
	return DiskStats{
		Total:     stat.Blocks * uint64(stat.Bsize),
		Available: stat.Bavail * uint64(stat.Bsize),
	}, nil
}
