// Package clock provides the time source used by storage and upload code
// and the server offset corrector applied to event and file timestamps.
package clock

import "time"

// Clock abstracts time so tests can drive file ages and upload delays
// deterministically.
type Clock interface {
	Now() time.Time
	// After behaves like time.After. If d <= 0 the channel fires at once.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
