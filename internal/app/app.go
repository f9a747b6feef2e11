// Package app wires a core, its upload workers, the retention sweeper, the
// disk sensor and the local HTTP surface into one runnable agent.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/valyala/fasthttp"

	"telemetrycore/internal/retention"
	"telemetrycore/pkg/appcontext"
	"telemetrycore/pkg/clock"
	"telemetrycore/pkg/config"
	"telemetrycore/pkg/core"
	"telemetrycore/pkg/encoding"
	"telemetrycore/pkg/health"
	"telemetrycore/pkg/logger"
	"telemetrycore/pkg/state"
	"telemetrycore/pkg/upload"
	"telemetrycore/pkg/upload/ledger"
)

// Options carries what the config file cannot express. Zero values pick
// production defaults.
type Options struct {
	Version   string
	Clock     clock.Clock
	Uploader  upload.Uploader
	Providers *appcontext.Providers
}

// App groups the agent's components.
type App struct {
	cfg     *config.Config
	version string
	clock   clock.Clock

	core      *core.Core
	ledger    *ledger.Ledger
	uploader  upload.Uploader
	workers   map[string]*upload.Worker
	retention *retention.Manager
	sensor    *health.Sensor

	retentionStop context.CancelFunc
	srvFast       *fasthttp.Server

	mu    sync.Mutex
	state string
}

// New builds every component from cfg. Nothing runs until Run.
func New(cfg *config.Config, opts Options) (*App, error) {
	crypt, err := cfg.DataEncryption()
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	enc, err := encoding.ForName(cfg.Encoding.Format)
	if err != nil {
		return nil, err
	}
	preset, err := cfg.Preset()
	if err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	providers := defaultProviders(clk)
	if opts.Providers != nil {
		providers = *opts.Providers
	}

	c, err := core.New(core.Options{
		Root:            cfg.Storage.Root,
		Service:         cfg.Service.Name,
		Env:             cfg.Service.Env,
		Version:         cfg.Service.Version,
		Preset:          preset,
		Consent:         cfg.InitialConsent(),
		Encryption:      crypt,
		Encoder:         enc,
		Clock:           clk,
		ClockOffset:     cfg.Storage.ClockOffset.Duration(),
		SyncWrites:      cfg.Storage.SyncWrites,
		Providers:       providers,
		HealthThreshold: cfg.Diagnostics.HealthThreshold,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		version: opts.Version,
		clock:   clk,
		core:    c,
		workers: make(map[string]*upload.Worker),
		state:   "initialized",
	}
	if err := a.init(opts); err != nil {
		_ = a.closeStorage()
		return nil, err
	}
	return a, nil
}

func (a *App) init(opts Options) error {
	for _, f := range a.cfg.Features {
		p, err := a.cfg.FeaturePreset(f)
		if err != nil {
			return err
		}
		feat := core.Feature{Name: f.Name, Preset: &p}
		if f.Encoding != "" {
			if feat.Encoder, err = encoding.ForName(f.Encoding); err != nil {
				return err
			}
		}
		if _, err := a.core.Register(feat); err != nil {
			return fmt.Errorf("register %s: %w", f.Name, err)
		}
	}

	l, err := ledger.Open(state.PathsFor(a.cfg.Storage.Root).Ledger)
	if err != nil {
		return err
	}
	a.ledger = l

	a.uploader = opts.Uploader
	if a.uploader == nil && a.cfg.Upload.Enabled {
		// Stored events are decoded with the core-wide encoder; per-feature
		// encoders only matter on disk.
		enc, _ := encoding.ForName(a.cfg.Encoding.Format)
		up, err := upload.NewHTTPUploader(upload.HTTPOptions{
			Endpoint:          a.cfg.Upload.Endpoint,
			ClientToken:       a.cfg.Upload.ClientToken,
			Timeout:           a.cfg.Upload.Timeout.Duration(),
			Compress:          a.cfg.Upload.Compress,
			Format:            a.cfg.Upload.Format,
			Encoder:           enc,
			RequestsPerSecond: a.cfg.Upload.RateLimit.RPS,
			Burst:             a.cfg.Upload.RateLimit.Burst,
			UserAgent:         "telemetrycore/" + core.SDKVersion,
		})
		if err != nil {
			return err
		}
		a.uploader = up
	}
	if a.uploader != nil {
		for _, name := range a.core.Features() {
			a.workers[name] = a.newWorker(name)
		}
	}

	a.retention = retention.New(retention.Config{
		Enabled: a.cfg.Retention.Enabled,
		Cron:    a.cfg.Retention.Cron,
	}, a.core, a.pruneLedger, a.clock)
	a.sensor = health.NewSensor(health.SensorConfig{
		Path:         a.cfg.Storage.Root,
		PollInterval: a.cfg.Diagnostics.PollInterval.Duration(),
		HighPct:      a.cfg.Diagnostics.DiskHighPct,
		LowPct:       a.cfg.Diagnostics.DiskLowPct,
	}, a.core.HealthTracker())
	return nil
}

func (a *App) newWorker(name string) *upload.Worker {
	scope, _ := a.core.Scope(name)
	return upload.NewWorker(upload.WorkerOptions{
		Feature:     name,
		Reader:      scope.Reader(),
		Uploader:    a.uploader,
		Context:     scope.Context,
		Preset:      scope.Preset(),
		Clock:       a.clock,
		Attempts:    a.ledger,
		MaxAttempts: a.cfg.Upload.MaxAttempts,
		Metrics:     a.core.Metrics().Feature(name),
	})
}

func defaultProviders(clk clock.Clock) appcontext.Providers {
	return appcontext.Providers{
		Device:  &appcontext.HostDeviceProvider{},
		User:    &appcontext.UserInfoStore{},
		Session: appcontext.NewSessionStore(clk.Now),
		Network: appcontext.NewStaticNetworkProvider(appcontext.Network{Reachable: true}),
	}
}

// Core exposes the wired core.
func (a *App) Core() *core.Core { return a.core }

// Worker returns the upload worker of a feature, if uploads are enabled.
func (a *App) Worker(feature string) (*upload.Worker, bool) {
	w, ok := a.workers[feature]
	return w, ok
}

// State reports the lifecycle phase.
func (a *App) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *App) setState(s string) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Run starts background components and the HTTP server, then blocks until
// ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	logger.LogConfigSummary("telemetry_agent", append(a.cfg.Summary(), a.diskSummary()...))

	stop, err := a.retention.Start(ctx)
	if err != nil {
		return err
	}
	a.retentionStop = stop

	a.sensor.Start()
	for _, w := range a.workers {
		w.Start(ctx)
	}

	errCh := a.startHTTP()
	a.setState("running")
	logger.Info("agent_running", "addr", a.cfg.Addr(), "features", len(a.core.Features()), "uploads", a.uploader != nil)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) diskSummary() []string {
	d, err := health.Disk(a.cfg.Storage.Root)
	if err != nil {
		return nil
	}
	return []string{fmt.Sprintf("disk: %s free of %s", humanize.IBytes(d.Available), humanize.IBytes(d.Total))}
}

// pruneLedger drops attempt counts of files that no longer exist.
func (a *App) pruneLedger() (int, error) {
	total := 0
	var errs []error
	for _, name := range a.core.Features() {
		scope, ok := a.core.Scope(name)
		if !ok {
			continue
		}
		files, err := scope.Orchestrator().Directory().Files()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		keep := make(map[string]bool, len(files))
		for _, f := range files {
			keep[f.Name()] = true
		}
		n, err := a.ledger.Prune(name, keep)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// flushAll pushes every readable batch of every feature, bounded by ctx.
func (a *App) flushAll(ctx context.Context) {
	for name, w := range a.workers {
		fctx, cancel := context.WithTimeout(ctx, flushTimeout)
		if err := w.Flush(fctx); err != nil {
			logger.Warn("upload_flush_incomplete", "feature", name, "error", err)
		}
		cancel()
	}
}

func (a *App) closeStorage() error {
	var errs []error
	if a.core != nil {
		errs = append(errs, a.core.Close())
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	return errors.Join(errs...)
}
