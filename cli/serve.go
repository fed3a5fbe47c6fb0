package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/petal-labs/calticker/hub"
	tickerotel "github.com/petal-labs/calticker/otel"
	"github.com/petal-labs/calticker/server"
	"github.com/petal-labs/calticker/ticker"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the calendar ticker server",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to calticker.yaml")
	cmd.Flags().String("listen", "", "Listen address (overrides config)")
	cmd.Flags().String("cors-origin", "", "Allowed CORS origin (overrides config)")
	cmd.Flags().String("otel-endpoint", "", "OTLP trace endpoint host:port (disabled when empty)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Local .env is optional; absence is not an error.
	_ = godotenv.Load()

	configPath, _ := cmd.Flags().GetString("config")
	listenFlag, _ := cmd.Flags().GetString("listen")
	corsFlag, _ := cmd.Flags().GetString("cors-origin")
	otelEndpoint, _ := cmd.Flags().GetString("otel-endpoint")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return exitError(exitConfig, "loading config: %v", err)
	}
	if listenFlag != "" {
		cfg.Listen = listenFlag
	}
	if corsFlag != "" {
		cfg.CORSOrigin = corsFlag
	}

	logger := slog.Default()

	if otelEndpoint != "" {
		shutdown, err := tickerotel.SetupTracing(cmd.Context(), otelEndpoint, "calticker")
		if err != nil {
			return exitError(exitRuntime, "setting up tracing: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	metrics, err := tickerotel.NewMetrics(otelapi.GetMeterProvider().Meter("calticker"))
	if err != nil {
		return exitError(exitRuntime, "initializing metrics: %v", err)
	}

	src, err := buildSource(cmd.Context(), cfg, logger)
	if err != nil {
		return exitError(exitSource, "building event source: %v", err)
	}

	cache := ticker.NewCache()
	clientHub := hub.NewHub(hub.HubConfig{
		Snapshots: cache,
		ClientConfig: hub.ClientConfig{
			Display: hub.DisplayConfig{
				TimeFormat:            cfg.Display.TimeFormat,
				RelativeThresholdMins: cfg.Display.RelativeThresholdMins,
			},
			NoEventsMessage: cfg.NoEventsMessage,
		},
		Logger:  logger,
		Metrics: metrics,
	})

	refresher, err := ticker.NewRefresher(ticker.RefresherConfig{
		Source:         src,
		Cache:          cache,
		Broadcaster:    clientHub,
		Policy:         cfg.FilterPolicy(),
		Presentation:   cfg.PresentationConfig(),
		LookaheadHours: cfg.Filters.HoursAhead,
		CronExpr:       cfg.RefreshCron,
		Interval:       cfg.RefreshInterval(),
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return exitError(exitConfig, "creating refresher: %v", err)
	}
	if err := refresher.Start(cmd.Context()); err != nil {
		return exitError(exitRuntime, "starting refresher: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = refresher.Stop(stopCtx)
	}()

	apiServer := server.NewServer(server.ServerConfig{
		Snapshots:  cache,
		Refresher:  refresher,
		Hub:        clientHub,
		CORSOrigin: cfg.CORSOrigin,
		MaxBody:    maxBody,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Calendar ticker listening on %s\n", cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
