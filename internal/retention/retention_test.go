package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"telemetrycore/pkg/clock"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
	block chan struct{}
}

func (s *countingSweeper) SweepStale() (int, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	return 2, s.err
}

func TestRunImmediateSweepsAndPrunes(t *testing.T) {
	sw := &countingSweeper{}
	var pruned atomic.Int32
	m := New(Config{Enabled: true, Cron: "* * * * *"}, sw, func() (int, error) {
		pruned.Add(1)
		return 0, nil
	}, nil)

	require.NoError(t, m.RunImmediate())
	require.EqualValues(t, 1, sw.calls.Load())
	require.EqualValues(t, 1, pruned.Load())
}

func TestRunImmediateReportsSweepError(t *testing.T) {
	sw := &countingSweeper{err: errors.New("disk gone")}
	m := New(Config{Enabled: true, Cron: "* * * * *"}, sw, nil, nil)
	require.ErrorContains(t, m.RunImmediate(), "disk gone")
}

func TestOverlappingRunsAreRefused(t *testing.T) {
	sw := &countingSweeper{block: make(chan struct{})}
	m := New(Config{Enabled: true, Cron: "* * * * *"}, sw, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.RunImmediate()
	}()
	require.Eventually(t, func() bool { return sw.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.ErrorIs(t, m.RunImmediate(), ErrAlreadyRunning)
	close(sw.block)
	wg.Wait()
	require.NoError(t, m.RunImmediate())
}

func TestStartRejectsInvalidCron(t *testing.T) {
	m := New(Config{Enabled: true, Cron: "not a cron"}, &countingSweeper{}, nil, nil)
	_, err := m.Start(context.Background())
	require.Error(t, err)
}

func TestDisabledManagerDoesNothing(t *testing.T) {
	sw := &countingSweeper{}
	m := New(Config{Enabled: false, Cron: "bogus"}, sw, nil, nil)
	stop, err := m.Start(context.Background())
	require.NoError(t, err)
	stop()
	require.Zero(t, sw.calls.Load())
}

func TestScheduleFiresOnCronTick(t *testing.T) {
	clk := clock.Fake(time.Date(2022, 5, 1, 9, 0, 30, 0, time.UTC))
	sw := &countingSweeper{}
	m := New(Config{Enabled: true, Cron: "* * * * *"}, sw, nil, clk)

	stop, err := m.Start(context.Background())
	require.NoError(t, err)
	defer stop()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	clk.Advance(29 * time.Second)
	require.Zero(t, sw.calls.Load())
	clk.Advance(time.Second)
	require.Eventually(t, func() bool { return sw.calls.Load() == 1 }, time.Second, time.Millisecond)
}
