package clock

import (
	"sync/atomic"
	"time"
)

// Corrector holds the signed offset between server time and local time
// (server minus local). The last observation wins; there is no smoothing.
type Corrector struct {
	offset atomic.Int64
}

// NewCorrector returns a corrector starting at the given offset.
func NewCorrector(initial time.Duration) *Corrector {
	c := &Corrector{}
	c.offset.Store(int64(initial))
	return c
}

// Offset returns the current offset.
func (c *Corrector) Offset() time.Duration {
	if c == nil {
		return 0
	}
	return time.Duration(c.offset.Load())
}

// Update replaces the offset.
func (c *Corrector) Update(offset time.Duration) {
	c.offset.Store(int64(offset))
}

// Correct shifts a local timestamp onto the server timeline.
func (c *Corrector) Correct(local time.Time) time.Time {
	return local.Add(c.Offset())
}

// CorrectedClock is a Clock whose Now is server-corrected. Timers are not
// shifted since they only measure durations.
type CorrectedClock struct {
	base      Clock
	corrector *Corrector
}

// WithCorrection wraps base so Now returns base.Now() plus the offset.
func WithCorrection(base Clock, corrector *Corrector) *CorrectedClock {
	return &CorrectedClock{base: base, corrector: corrector}
}

func (c *CorrectedClock) Now() time.Time                         { return c.corrector.Correct(c.base.Now()) }
func (c *CorrectedClock) After(d time.Duration) <-chan time.Time { return c.base.After(d) }

// Base returns the uncorrected clock.
func (c *CorrectedClock) Base() Clock { return c.base }
