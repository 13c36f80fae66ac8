package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courtbook/internal/api"
	"courtbook/internal/app"
	"courtbook/internal/config"
	"courtbook/internal/logging"
	"courtbook/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger("api-main")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("init application")
		return err
	}
	defer application.Close()

	loc, err := cfg.App.Location()
	if err != nil {
		return err
	}
	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Bookings: application.Bookings,
		Payments: application.Payments,
		Wallets:  application.Wallets,
		Groups:   application.Groups,
	}, loc, nil, &logger)

	g, gctx := errgroup.WithContext(ctx)
	application.RunBackground(gctx, g)
	startMetrics(gctx, g, cfg, &logger)

	if cfg.API.HTTP.Enabled {
		g.Go(httpServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("API server stopped with error")
		return err
	}
	logger.Info().Msg("API server stopped")
	return nil
}

func loadConfigAndLogger(component string) (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", component).Logger()

	return cfg, logger, closer, nil
}

func startMetrics(ctx context.Context, g *errgroup.Group, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
}
