package core

import (
	"errors"

	"telemetrycore/pkg/appcontext"
	"telemetrycore/pkg/consent"
	"telemetrycore/pkg/logger"
	"telemetrycore/pkg/performance"
	"telemetrycore/pkg/state"
	"telemetrycore/pkg/storage"
)

// Scope is one feature's view of the core.
type Scope struct {
	core   *Core
	name   string
	preset performance.Preset
	paths  state.FeaturePaths

	live        *storage.Orchestrator
	provisional *storage.Orchestrator
	migrator    *storage.Migrator
	writer      *storage.ConsentAwareWriter
	reader      *storage.BatchReader
	stats       *storage.Stats
}

func (c *Core) newScope(f Feature) (*Scope, error) {
	preset := c.preset
	if f.Preset != nil {
		if err := f.Preset.Validate(); err != nil {
			return nil, err
		}
		preset = *f.Preset
	}
	enc := f.Encoder
	if enc == nil {
		enc = c.encoder
	}
	paths := state.FeaturePathsFor(c.root, f.Name)

	liveDir, err := storage.OpenDirectory(paths.Live)
	if err != nil {
		return nil, err
	}
	provDir, err := storage.OpenDirectory(paths.Provisional)
	if err != nil {
		return nil, err
	}

	rec := c.metrics.Feature(f.Name)
	orchOpts := storage.OrchestratorOptions{
		Feature:    f.Name,
		Preset:     preset,
		Clock:      c.corrected,
		SyncWrites: c.syncWrites,
		Metrics:    rec,
	}
	live := storage.NewOrchestrator(liveDir, orchOpts)
	provisional := storage.NewOrchestrator(provDir, orchOpts)

	stats := &storage.Stats{}
	writerOpts := storage.FileWriterOptions{
		Feature:    f.Name,
		Encoder:    enc,
		Encryption: c.encryption,
		Clock:      c.clock,
		Corrector:  c.corrector,
		Stats:      stats,
		Metrics:    rec,
		Health:     c.health,
	}

	migrator := storage.NewMigrator(f.Name, live, provisional)
	// Leftovers survive a granted session only when a move failed partway;
	// the user already consented to them. The scope is not published yet,
	// so nothing writes to either area here.
	if c.gate.Current() == consent.Granted {
		if _, err := migrator.MoveLeftovers(); err != nil {
			logger.Warn("provisional_move_failed", "feature", f.Name, "error", err)
		}
	} else if n, err := migrator.PurgeProvisional(); err != nil {
		logger.Warn("provisional_purge_failed", "feature", f.Name, "error", err)
	} else if n > 0 {
		logger.Info("provisional_leftovers_purged", "feature", f.Name, "files", n)
	}
	c.gate.Subscribe(migrator)

	return &Scope{
		core:        c,
		name:        f.Name,
		preset:      preset,
		paths:       paths,
		live:        live,
		provisional: provisional,
		migrator:    migrator,
		writer: storage.NewConsentAwareWriter(c.gate,
			storage.NewFileWriter(live, writerOpts),
			storage.NewFileWriter(provisional, writerOpts),
			stats, rec),
		reader: storage.NewBatchReader(live, f.Name, c.encryption, rec),
		stats:  stats,
	}, nil
}

func (s *Scope) Name() string                { return s.name }
func (s *Scope) Preset() performance.Preset { return s.preset }
func (s *Scope) Paths() state.FeaturePaths  { return s.paths }

// Writer returns the feature's consent-aware writer. Each Write holds the
// consent gate for its own duration.
func (s *Scope) Writer() storage.Writer { return s.writer }

// Write is Writer().Write.
func (s *Scope) Write(ev storage.Event) error { return s.writer.Write(ev) }

// Context returns a fresh snapshot of the shared context.
func (s *Scope) Context() appcontext.Context { return s.core.Context() }

// WithContext runs fn with one snapshot and a writer bound to the consent
// of that snapshot. A consent change waits until fn returns. Inside fn,
// write through w only: Scope.Write and Writer().Write take the gate again
// and deadlock against a pending SetConsent. fn must not call SetConsent.
// Context and Core.Consent are safe to call.
func (s *Scope) WithContext(fn func(ctx appcontext.Context, w storage.Writer) error) error {
	st, release := s.core.gate.Hold()
	defer release()
	snap := appcontext.Snapshot(s.core.static, s.core.providers, st, s.core.corrector.Offset())
	return fn(snap, s.writer.Scoped(st))
}

// Reader returns the batch reader over the live directory.
func (s *Scope) Reader() *storage.BatchReader { return s.reader }

// Orchestrator returns the live orchestrator.
func (s *Scope) Orchestrator() *storage.Orchestrator { return s.live }

// Stats returns this feature's counters.
func (s *Scope) Stats() storage.StatsSnapshot { return s.stats.Snapshot() }

func (s *Scope) close() error {
	return errors.Join(s.live.Close(), s.provisional.Close())
}
