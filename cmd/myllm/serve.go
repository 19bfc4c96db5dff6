package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/myllm/pkg/config"
	"github.com/jingkaihe/myllm/pkg/hardware"
	"github.com/jingkaihe/myllm/pkg/loader"
	"github.com/jingkaihe/myllm/pkg/logger"
	"github.com/jingkaihe/myllm/pkg/models"
	"github.com/jingkaihe/myllm/pkg/presenter"
	"github.com/jingkaihe/myllm/pkg/runtime"
	"github.com/jingkaihe/myllm/pkg/server"
	"github.com/jingkaihe/myllm/pkg/sessions"
	"github.com/jingkaihe/myllm/pkg/telemetry"
	"github.com/jingkaihe/myllm/pkg/version"
)

// retentionSweepInterval is how often expired sessions are purged.
const retentionSweepInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP API server. Models are discovered in the models directory
and loaded on demand; sessions persist across restarts in SQLite.`,
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := loadSettings(cmd)
		if err != nil {
			presenter.Error(err, "invalid configuration")
			os.Exit(1)
		}
		if host, err := cmd.Flags().GetString("host"); err == nil && host != "" {
			settings.Host = host
		}
		if port, err := cmd.Flags().GetInt("port"); err == nil && port != 0 {
			settings.Port = port
		}

		if err := runServe(cmd.Context(), settings); err != nil {
			presenter.Error(err, "server failed")
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().String("host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().Int("port", 0, "Port to bind to (overrides config)")
}

func runServe(ctx context.Context, settings *config.Settings) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := settings.EnsureDirs(); err != nil {
		return err
	}

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:        settings.TracingEnabled,
		ServiceName:    "myllm",
		ServiceVersion: version.Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to shut down tracing")
		}
	}()

	info := hardware.Probe(ctx)
	logger.G(ctx).WithField("hardware", info.String()).Info("host capacity")
	if !info.HasGPU() {
		presenter.Warning("No GPU detected; inference will run on the CPU")
	}

	registry, err := models.NewRegistry(settings.ModelsDir)
	if err != nil {
		return err
	}
	go func() {
		if err := registry.Watch(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("models directory watcher stopped")
		}
	}()

	store, err := sessions.Open(ctx, settings.DBPath,
		sessions.WithMaxMessages(settings.MaxSessionMessages))
	if err != nil {
		return err
	}
	defer store.Close()

	cache := loader.New(settings.MaxLoadedModels, runtime.EngineLoader(settings, registry))
	defer func() {
		if err := cache.Close(); err != nil {
			logger.G(ctx).WithError(err).Warn("failed to close engine cache")
		}
	}()

	rt := runtime.New(settings, registry, cache, store)
	go runRetentionSweep(ctx, store, settings.SessionRetentionDays)

	srv, err := server.NewServer(server.ConfigFromSettings(settings), rt)
	if err != nil {
		return err
	}

	presenter.Success(fmt.Sprintf("myllm serving on http://%s:%d with %d models",
		settings.Host, settings.Port, len(registry.List())))
	presenter.Info("Press Ctrl+C to stop the server")

	return srv.Start(ctx)
}

// runRetentionSweep periodically deletes sessions past the retention window.
func runRetentionSweep(ctx context.Context, store *sessions.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			deleted, err := store.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				logger.G(ctx).WithError(err).Error("session retention sweep failed")
				continue
			}
			if deleted > 0 {
				logger.G(ctx).WithField("deleted", deleted).Info("expired sessions removed")
			}
		case <-ctx.Done():
			return
		}
	}
}
