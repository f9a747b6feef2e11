// Package core is the registry that gives every feature its own storage
// directory and hands instrumentation a consistent (context, writer) pair.
//
// A Core is explicitly constructed and closed; tests build independent
// instances rather than sharing one.
package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"telemetrycore/pkg/appcontext"
	"telemetrycore/pkg/clock"
	"telemetrycore/pkg/consent"
	"telemetrycore/pkg/encoding"
	"telemetrycore/pkg/encryption"
	"telemetrycore/pkg/health"
	"telemetrycore/pkg/logger"
	"telemetrycore/pkg/metrics"
	"telemetrycore/pkg/performance"
	"telemetrycore/pkg/state"
	"telemetrycore/pkg/storage"
)

// SDKVersion is reported in every context snapshot.
const SDKVersion = "1.0.0"

var (
	ErrClosed         = errors.New("core closed")
	ErrUnknownFeature = errors.New("feature not registered")
)

// Options configures a Core.
type Options struct {
	Root    string
	Service string
	Env     string
	Version string

	Preset      performance.Preset
	Consent     consent.State
	Encryption  encryption.DataEncryption
	Encoder     encoding.Encoder
	Clock       clock.Clock
	ClockOffset time.Duration
	SyncWrites  bool

	Providers       appcontext.Providers
	Metrics         *metrics.Metrics
	HealthThreshold int
}

// Feature describes a producer registering with the core. Zero fields
// inherit the core's options.
type Feature struct {
	Name    string
	Preset  *performance.Preset
	Encoder encoding.Encoder
}

// Core owns the consent gate, the clock corrector and every feature scope.
type Core struct {
	root       string
	static     appcontext.Static
	providers  appcontext.Providers
	preset     performance.Preset
	encryption encryption.DataEncryption
	encoder    encoding.Encoder
	syncWrites bool

	gate      *consent.Gate
	corrector *clock.Corrector
	clock     clock.Clock
	corrected *clock.CorrectedClock
	metrics   *metrics.Metrics
	health    *health.Tracker

	mu     sync.RWMutex
	scopes map[string]*Scope
	closed bool
}

// New validates opts and prepares the storage root.
func New(opts Options) (*Core, error) {
	if opts.Root == "" {
		return nil, errors.New("core: storage root is required")
	}
	preset := opts.Preset
	if preset == (performance.Preset{}) {
		preset = performance.Default()
	}
	if err := preset.Validate(); err != nil {
		return nil, fmt.Errorf("core: invalid preset: %w", err)
	}
	if err := state.EnsureDirs(opts.Root); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	base := opts.Clock
	if base == nil {
		base = clock.Real()
	}
	enc := opts.Encoder
	if enc == nil {
		enc = encoding.JSON{}
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	corrector := clock.NewCorrector(opts.ClockOffset)
	c := &Core{
		root: opts.Root,
		static: appcontext.Static{
			Service:    opts.Service,
			Env:        opts.Env,
			Version:    opts.Version,
			SDKVersion: SDKVersion,
		},
		providers:  opts.Providers,
		preset:     preset,
		encryption: opts.Encryption,
		encoder:    enc,
		syncWrites: opts.SyncWrites,
		gate:       consent.NewGate(opts.Consent),
		corrector:  corrector,
		clock:      base,
		corrected:  clock.WithCorrection(base, corrector),
		metrics:    m,
		health:     health.NewTracker(opts.HealthThreshold),
		scopes:     make(map[string]*Scope),
	}
	logger.Info("core_started", "root", opts.Root, "consent", opts.Consent.String(), "encoding", enc.Name(), "encrypted", opts.Encryption != nil)
	return c, nil
}

// Register returns the scope of f, creating its directories on first use.
// Registering the same name again returns the existing scope.
func (c *Core) Register(f Feature) (*Scope, error) {
	if err := state.ValidateFeatureName(f.Name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if s, ok := c.scopes[f.Name]; ok {
		return s, nil
	}
	s, err := c.newScope(f)
	if err != nil {
		return nil, err
	}
	c.scopes[f.Name] = s
	logger.Info("feature_registered", "feature", f.Name, "dir", s.paths.Dir)
	return s, nil
}

// Scope looks up a registered feature.
func (c *Core) Scope(name string) (*Scope, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scopes[name]
	return s, ok
}

// Features lists registered feature names in sorted order.
func (c *Core) Features() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.scopes))
	for name := range c.scopes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Core) scopesSnapshot() []*Scope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Scope, 0, len(c.scopes))
	for _, s := range c.scopes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// SetConsent changes the consent for all features. It returns once
// provisional data has been moved or purged.
func (c *Core) SetConsent(s consent.State) { c.gate.Set(s) }

// Consent returns the current consent.
func (c *Core) Consent() consent.State { return c.gate.Current() }

// UpdateClockOffset records a new server-minus-local offset. Existing
// files and events are not touched.
func (c *Core) UpdateClockOffset(d time.Duration) {
	c.corrector.Update(d)
	logger.Debug("clock_offset_updated", "offset", d)
}

// ClockOffset returns the offset in force.
func (c *Core) ClockOffset() time.Duration { return c.corrector.Offset() }

// Context returns a snapshot of the shared context.
func (c *Core) Context() appcontext.Context {
	return appcontext.Snapshot(c.static, c.providers, c.gate.Current(), c.corrector.Offset())
}

// EventsForUpload returns the reader of a feature's readable batches.
func (c *Core) EventsForUpload(feature string) (*storage.BatchReader, error) {
	s, ok := c.Scope(feature)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}
	return s.reader, nil
}

// Stats returns write and drop counters per feature.
func (c *Core) Stats() map[string]storage.StatsSnapshot {
	out := make(map[string]storage.StatsSnapshot)
	for _, s := range c.scopesSnapshot() {
		out[s.name] = s.Stats()
	}
	return out
}

// Health reports the degraded signal fed by storage errors.
func (c *Core) Health() health.Status { return c.health.Status() }

// HealthTracker exposes the tracker so a disk sensor can feed it.
func (c *Core) HealthTracker() *health.Tracker { return c.health }

// Metrics returns the core's collectors.
func (c *Core) Metrics() *metrics.Metrics { return c.metrics }

// Root returns the storage root.
func (c *Core) Root() string { return c.root }

// Clock returns the corrected clock used for file names.
func (c *Core) Clock() clock.Clock { return c.corrected }

// SweepStale deletes stale files in every live and provisional directory.
func (c *Core) SweepStale() (int, error) {
	total := 0
	var errs []error
	for _, s := range c.scopesSnapshot() {
		for _, o := range []*storage.Orchestrator{s.live, s.provisional} {
			n, err := o.DeleteStale()
			total += n
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			}
		}
		if err := c.retryMigration(s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return total, errors.Join(errs...)
}

// retryMigration finishes a provisional move that failed partway while
// consent is granted.
func (c *Core) retryMigration(s *Scope) error {
	st, release := c.gate.Hold()
	defer release()
	if st != consent.Granted {
		return nil
	}
	_, err := s.migrator.MoveLeftovers()
	return err
}

// Close retires every current file. Writes after Close fail.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	scopes := make([]*Scope, 0, len(c.scopes))
	for _, s := range c.scopes {
		scopes = append(scopes, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range scopes {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}
	logger.Info("core_closed", "features", len(scopes))
	return errors.Join(errs...)
}
