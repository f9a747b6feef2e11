package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"telemetrycore/pkg/logger"
)

// Shutdown stops components in dependency order: intake first, then the
// background loops, then a final flush, then storage.
func (a *App) Shutdown(ctx context.Context) error {
	a.setState("shutting_down")
	logger.Info("shutdown_requested")

	if a.srvFast != nil {
		logger.Info("shutdown_step", "step", "http_server")
		if err := a.srvFast.Shutdown(); err != nil {
			logger.Error("shutdown_http_failed", "error", err)
		}
	}
	if a.retentionStop != nil {
		logger.Info("shutdown_step", "step", "retention")
		a.retentionStop()
	}
	for name, w := range a.workers {
		logger.Info("shutdown_step", "step", "upload_worker", "feature", name)
		w.Stop()
	}
	if len(a.workers) > 0 {
		logger.Info("shutdown_step", "step", "upload_flush")
		a.flushAll(ctx)
	}
	if a.sensor != nil {
		logger.Info("shutdown_step", "step", "sensor")
		a.sensor.Stop()
	}

	logger.Info("shutdown_step", "step", "storage")
	err := a.closeStorage()
	if err != nil {
		logger.Error("shutdown_storage_failed", "error", err)
	} else {
		a.setState("stopped")
	}
	logger.Info("shutdown_complete")
	return err
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()
	return ctx, cancel
}
