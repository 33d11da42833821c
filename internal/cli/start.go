package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andris/kova/internal/config"
	"github.com/andris/kova/internal/logger"
	"github.com/andris/kova/internal/observability"
	"github.com/andris/kova/internal/tracing"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the Kova runtime",
	Long: `Run the Kova runtime in the foreground: session cleanup, declarative
tool hot-reload, and the /metrics endpoint stay up until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, log, closeLog, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	if err := tracing.InitOpenTelemetry("kova"); err != nil {
		log.Warn().Err(err).Msg("Tracing initialization failed, continuing without it")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(shutdownCtx)
	}()

	application, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer application.close()

	if err := observability.InitAuditLog(filepath.Join(cfg.DataDir, "audit.jsonl")); err != nil {
		log.Warn().Err(err).Msg("Audit log initialization failed, events go to stderr")
	}
	defer func() { _ = observability.CloseAuditLog() }()

	if err := application.cleanup.Start(); err != nil {
		return err
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics listener started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Kova runtime started")
	fmt.Println("Kova runtime started. Press Ctrl+C to stop.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	application.jobs.Wait(10 * time.Second)
	return nil
}

// loadConfigAndLogger is the shared bootstrap for commands that run the
// runtime. The returned closer flushes the log file.
func loadConfigAndLogger() (*config.Config, zerolog.Logger, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	l, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	return cfg, l.GetZerolog(), func() { _ = l.Close() }, nil
}
