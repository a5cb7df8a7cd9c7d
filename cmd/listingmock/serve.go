package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/szaher/designs/listingmock/internal/runtime"
)

func newServeCmd() *cobra.Command {
	flags := runtime.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mock backend",
		Long: `Run the mock backend until SIGINT or SIGTERM. On either signal in-flight
requests get the shutdown grace period to finish, every stored upload is
removed, and the process exits with status 0.

Settings come from LISTINGMOCK_* environment variables (and the dotenv file);
flags given on the command line take precedence.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := runtime.DefaultConfig()
			if err := config.ApplyEnv(); err != nil {
				return err
			}
			applyServeFlags(cmd, flags, config)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger, redactor := newLogger(os.Stderr, config)
			redactor.Add(config.S3.AccessKey, config.S3.SecretKey, config.RedisURL)
			return serve(ctx, config, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.Addr, "addr", flags.Addr, "Listen address")
	f.StringVar(&flags.TempDir, "temp-dir", flags.TempDir, "Parent directory for uploads (default: system temp dir)")
	f.StringVar(&flags.TempPrefix, "temp-prefix", flags.TempPrefix, "Name prefix of the upload directory")
	f.StringVar(&flags.ArtifactBackend, "artifact-backend", flags.ArtifactBackend, "Upload storage: local or s3")
	f.StringVar(&flags.S3.Endpoint, "s3-endpoint", flags.S3.Endpoint, "S3-compatible endpoint URL")
	f.StringVar(&flags.S3.Bucket, "s3-bucket", flags.S3.Bucket, "S3 bucket for uploads")
	f.StringVar(&flags.S3.Region, "s3-region", flags.S3.Region, "S3 region")
	f.Int64Var(&flags.MaxUploadBytes, "max-upload-bytes", flags.MaxUploadBytes, "Largest accepted file, 0 for no limit")
	f.IntVar(&flags.MaxFiles, "max-files", flags.MaxFiles, "Most files per request, 0 for no limit")
	f.Float64Var(&flags.UploadRate.RequestsPerSecond, "upload-rate", flags.UploadRate.RequestsPerSecond, "Uploads per second per client, 0 for no limit")
	f.IntVar(&flags.UploadRate.Burst, "upload-burst", flags.UploadRate.Burst, "Upload burst per client")
	f.BoolVar(&flags.StrictOrder, "strict-order", flags.StrictOrder, "Reject workflow steps taken out of order")
	f.StringVar(&flags.SessionBackend, "session-backend", flags.SessionBackend, "Workflow state storage: memory or redis")
	f.StringVar(&flags.RedisURL, "redis-url", flags.RedisURL, "Redis URL for the redis session backend")
	f.StringVar(&flags.FixturesFile, "fixtures", flags.FixturesFile, "YAML file replacing the built-in payloads")
	f.BoolVar(&flags.WatchFixtures, "watch-fixtures", flags.WatchFixtures, "Reload the fixtures file when it changes")
	f.StringArrayVar(&flags.ItemRules, "item-rule", flags.ItemRules, "Expression every published item must satisfy (repeatable)")
	f.StringSliceVar(&flags.CORSOrigins, "cors-origin", flags.CORSOrigins, "Allowed CORS origin (repeatable, default any)")
	f.DurationVar(&flags.ShutdownGrace, "shutdown-grace", flags.ShutdownGrace, "How long in-flight requests may run after a shutdown signal")

	return cmd
}

func applyServeFlags(cmd *cobra.Command, flags, config *runtime.Config) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("addr", func() { config.Addr = flags.Addr })
	set("temp-dir", func() { config.TempDir = flags.TempDir })
	set("temp-prefix", func() { config.TempPrefix = flags.TempPrefix })
	set("artifact-backend", func() { config.ArtifactBackend = flags.ArtifactBackend })
	set("s3-endpoint", func() { config.S3.Endpoint = flags.S3.Endpoint })
	set("s3-bucket", func() { config.S3.Bucket = flags.S3.Bucket })
	set("s3-region", func() { config.S3.Region = flags.S3.Region })
	set("max-upload-bytes", func() { config.MaxUploadBytes = flags.MaxUploadBytes })
	set("max-files", func() { config.MaxFiles = flags.MaxFiles })
	set("upload-rate", func() { config.UploadRate.RequestsPerSecond = flags.UploadRate.RequestsPerSecond })
	set("upload-burst", func() { config.UploadRate.Burst = flags.UploadRate.Burst })
	set("strict-order", func() { config.StrictOrder = flags.StrictOrder })
	set("session-backend", func() { config.SessionBackend = flags.SessionBackend })
	set("redis-url", func() { config.RedisURL = flags.RedisURL })
	set("fixtures", func() { config.FixturesFile = flags.FixturesFile })
	set("watch-fixtures", func() { config.WatchFixtures = flags.WatchFixtures })
	set("item-rule", func() { config.ItemRules = flags.ItemRules })
	set("cors-origin", func() { config.CORSOrigins = flags.CORSOrigins })
	set("shutdown-grace", func() { config.ShutdownGrace = flags.ShutdownGrace })
}

// serve runs the backend until ctx is cancelled, then shuts it down. A
// cancelled context is a clean exit.
func serve(ctx context.Context, config *runtime.Config, logger *slog.Logger) error {
	rt, err := runtime.New(ctx, config, runtime.Options{Logger: logger})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Start(ctx) }()

	select {
	case err := <-errCh:
		if shutdownErr := rt.Shutdown(context.Background()); shutdownErr != nil {
			logger.Error("shutdown failed", "error", shutdownErr)
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("signal received")
	if err := rt.Shutdown(context.Background()); err != nil {
		return err
	}
	return <-errCh
}
