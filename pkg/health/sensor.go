package health

import (
	"sync"
	"time"

	"telemetrycore/pkg/logger"
)

// SensorConfig controls the disk poller. The alert raises above HighPct and
// clears once usage drops below LowPct.
type SensorConfig struct {
	Path         string
	PollInterval time.Duration
	HighPct      int
	LowPct       int
}

// Sensor polls disk usage of the storage root and feeds a Tracker.
type Sensor struct {
	cfg      SensorConfig
	tracker  *Tracker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	alert bool
}

// NewSensor builds a sensor. Zero values fall back to a 30s poll and 95/90
// percent thresholds.
func NewSensor(cfg SensorConfig, tracker *Tracker) *Sensor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.HighPct <= 0 {
		cfg.HighPct = 95
	}
	if cfg.LowPct <= 0 || cfg.LowPct > cfg.HighPct {
		cfg.LowPct = cfg.HighPct - 5
	}
	return &Sensor{cfg: cfg, tracker: tracker, stopCh: make(chan struct{})}
}

// Start begins polling in the background after an immediate first check.
func (s *Sensor) Start() {
	s.Check()
	s.wg.Add(1)
	go s.run()
}

// Stop ends polling and waits for the loop to exit.
func (s *Sensor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sensor) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Check()
		case <-s.stopCh:
			return
		}
	}
}

// Check samples disk usage once.
func (s *Sensor) Check() {
	d, err := Disk(s.cfg.Path)
	if err != nil {
		logger.Error("disk_stat_failed", "path", s.cfg.Path, "error", err)
		return
	}
	used := d.UsedPct()
	switch {
	case used > float64(s.cfg.HighPct) && !s.alert:
		logger.Warn("disk_usage_high", "usage_pct", used, "threshold", s.cfg.HighPct)
		s.alert = true
	case used < float64(s.cfg.LowPct) && s.alert:
		logger.Info("disk_usage_recovered", "usage_pct", used, "threshold", s.cfg.LowPct)
		s.alert = false
	}
	s.tracker.observeDisk(d, s.alert)
}
