// Package retention runs the periodic cleanup of batch files that outlived
// the read window, plus the upload ledger entries that point at them.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"telemetrycore/pkg/clock"
	"telemetrycore/pkg/logger"
)

// Sweeper deletes files older than the read window.
type Sweeper interface {
	SweepStale() (int, error)
}

// Config controls scheduling.
type Config struct {
	Enabled bool
	Cron    string
}

// Manager runs sweeps on a cron schedule.
type Manager struct {
	cfg     Config
	sweeper Sweeper
	prune   func() (int, error)
	clock   clock.Clock

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mutex   sync.Mutex
	done    chan struct{}
}

// New builds a manager. prune may be nil; it runs after each sweep.
func New(cfg Config, sweeper Sweeper, prune func() (int, error), c clock.Clock) *Manager {
	if c == nil {
		c = clock.Real()
	}
	return &Manager{cfg: cfg, sweeper: sweeper, prune: prune, clock: c}
}

// Start launches the schedule loop. The returned func stops it and waits
// for the loop to exit.
func (m *Manager) Start(ctx context.Context) (context.CancelFunc, error) {
	if !m.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	if !gronx.New().IsValid(m.cfg.Cron) {
		return nil, fmt.Errorf("invalid retention cron %q", m.cfg.Cron)
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	logger.Info("retention_enabled", "cron", m.cfg.Cron)
	go m.scheduleLoop()
	return func() {
		m.cancel()
		<-m.done
	}, nil
}

// RunImmediate performs one sweep now, unless one is already running.
func (m *Manager) RunImmediate() error {
	if !m.begin() {
		return ErrAlreadyRunning
	}
	defer m.end()
	return m.runSweep()
}

// ErrAlreadyRunning is returned by RunImmediate while a sweep is in progress.
var ErrAlreadyRunning = errors.New("retention sweep already running")

func (m *Manager) scheduleLoop() {
	defer close(m.done)
	for {
		now := m.clock.Now()
		next, err := gronx.NextTickAfter(m.cfg.Cron, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", m.cfg.Cron, "error", err)
			select {
			case <-m.clock.After(30 * time.Second):
			case <-m.ctx.Done():
				return
			}
			continue
		}

		select {
		case <-m.clock.After(next.Sub(now)):
			m.runJob()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) begin() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.running {
		return false
	}
	m.running = true
	return true
}

func (m *Manager) end() {
	m.mutex.Lock()
	m.running = false
	m.mutex.Unlock()
}

func (m *Manager) runJob() {
	if !m.begin() {
		return
	}
	defer m.end()
	if err := m.runSweep(); err != nil {
		logger.Error("retention_run_error", "error", err)
	}
}

func (m *Manager) runSweep() error {
	runID := fmt.Sprintf("run-%d", m.clock.Now().UnixNano())
	logger.Info("retention_run_start", "run_id", runID)

	deleted, err := m.sweeper.SweepStale()
	if err != nil {
		return fmt.Errorf("sweep stale files: %w", err)
	}
	pruned := 0
	if m.prune != nil {
		if pruned, err = m.prune(); err != nil {
			return fmt.Errorf("prune upload ledger: %w", err)
		}
	}

	logger.Info("retention_run_done", "run_id", runID, "deleted", deleted, "ledger_pruned", pruned)
	return nil
}
