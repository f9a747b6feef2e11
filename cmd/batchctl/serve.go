package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"telemetrycore/internal/app"
	"telemetrycore/pkg/config"
	"telemetrycore/pkg/logger"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telemetry agent with upload workers and the local HTTP surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolveConfigPath(cfgPath))
			if err != nil {
				return err
			}

			// initialize logger after config is fully loaded
			logger.Init(cfg.Logging.Level, cfg.Logging.Format)
			defer logger.Sync()
			logger.Info("config_validation_passed", "root", cfg.Storage.Root)

			a, err := app.New(cfg, app.Options{Version: version})
			if err != nil {
				logger.Error("agent_init_failed", "error", err)
				return err
			}

			ctx, cancel := app.SetupSignalHandler(cmd.Context())
			defer cancel()
			runErr := a.Run(ctx)

			shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
			defer done()
			if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path (default $TELEMETRY_CONFIG)")
	return cmd
}
