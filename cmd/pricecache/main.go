package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/pricecache/internal/cache"
	"github.com/sawpanic/pricecache/internal/clock"
	"github.com/sawpanic/pricecache/internal/config"
	"github.com/sawpanic/pricecache/internal/fetch"
	"github.com/sawpanic/pricecache/internal/httpapi"
	"github.com/sawpanic/pricecache/internal/model"
	"github.com/sawpanic/pricecache/internal/quota"
	"github.com/sawpanic/pricecache/internal/scheduler"
	"github.com/sawpanic/pricecache/internal/telemetry"
	"github.com/sawpanic/pricecache/internal/upstream"
)

const version = "v1.0.0"

func main() {
	configureLogging()

	rootCmd := &cobra.Command{
		Use:     "pricecache",
		Short:   "A self-refreshing price cache with per-upstream rate limiting.",
		Version: version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP surface and background scheduler",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "configs/pricecache.yaml", "Path to the YAML configuration file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func configureLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	fallbacks, err := config.LoadFallbacks(cfg.FallbacksPath)
	if err != nil {
		return fmt.Errorf("loading fallback values: %w", err)
	}
	log.Info().Str("path", cfg.FallbacksPath).Interface("values", fallbacks).Msg("fallback values in effect")

	realClock := clock.Real{}
	metrics := telemetry.New()
	priceCache := cache.New(realClock, cfg.TTLMin, cfg.TTLMax)
	limiter := quota.New(realClock, cfg.RateLimitWindow)
	registry := buildRegistry(cfg)
	fetcher := fetch.New(priceCache, limiter, registry, cfg, fallbacks, realClock, log.Logger, metrics)

	sched := scheduler.New(priceCache, fetcher, realClock, log.Logger, cfg.SchedulerInterval, cfg.RefreshThreshold, cfg.SeedOnStartup)

	handlers := httpapi.NewHandlers(priceCache, fetcher, limiter, sched, cfg, realClock, log.Logger, metrics)
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         "0.0.0.0",
		Port:         cfg.Port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		InboundRPS:   cfg.InboundRPS,
		InboundBurst: cfg.InboundBurst,
	}, handlers, metrics, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	defer sched.Stop()

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	log.Info().Msg("shutdown complete")
	return nil
}

// buildRegistry wires each known key to its upstream adapter, wrapping each
// quota-bearing market-data adapter in a circuit breaker of its own.
func buildRegistry(cfg config.Config) upstream.Registry {
	registry := upstream.Registry{}

	registry[model.KeyBTC] = upstream.NewCryptoAdapter(
		"https://api.coingecko.com/api/v3/simple/price", "bitcoin", "usd", cfg.UpstreamTimeout)

	registry[model.KeyEUR] = upstream.NewFXAdapter(
		"https://api.exchangerate.host/latest", "EUR", "USD", cfg.UpstreamTimeout)

	breakerCfg := upstream.BreakerConfig{
		ConsecutiveFailures: cfg.Circuit.ConsecutiveFailures,
		OpenTimeout:         cfg.Circuit.OpenTimeout,
	}
	for _, key := range model.MarketDataKeys() {
		adapter := upstream.NewMarketDataAdapter(
			"https://api.marketdata-vendor.example/v1", string(key), cfg.UpstreamCredential, cfg.UpstreamTimeout)
		registry[key] = upstream.WrapWithBreaker(adapter, breakerCfg)
	}

	return registry
}
