package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/woozymasta/shpmap/internal/cache"
	"github.com/woozymasta/shpmap/internal/config"
	"github.com/woozymasta/shpmap/internal/logger"
	"github.com/woozymasta/shpmap/internal/metrics"
	"github.com/woozymasta/shpmap/internal/server"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"     env:"CONFIG_FILE"    description:"Path to configuration file"         default:"config.yaml"`
	Addr       string `short:"a" long:"addr"       env:"LISTEN_ADDRESS" description:"Address to listen on"               default:"0.0.0.0"`
	Port       int    `short:"p" long:"port"       env:"LISTEN_PORT"    description:"Port to listen on"                  default:"8080"`
	MaxUpload  int64  `short:"m" long:"max-upload" env:"MAX_UPLOAD"     description:"Maximum upload size in bytes, overrides the config file"`
	RedisURL   string `long:"redis-url"            env:"REDIS_URL"      description:"Redis URL of the conversion cache, overrides the config file"`
	NoMetrics  bool   `long:"no-metrics"           env:"NO_METRICS"     description:"Do not expose /metrics"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Setup Logging
	opts.Logger.Setup()

	// Load Config
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if opts.MaxUpload > 0 {
		cfg.Upload.MaxSize = opts.MaxUpload
	}
	if opts.RedisURL != "" {
		cfg.Cache.RedisURL = opts.RedisURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conversionCache, err := cache.New(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect conversion cache")
	}
	defer func() { _ = conversionCache.Close() }()

	var (
		m              *metrics.Metrics
		metricsHandler http.Handler
	)
	if !opts.NoMetrics {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if m, err = metrics.New(registry); err != nil {
			log.Fatal().Err(err).Msg("Failed to register metrics")
		}
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	srvCtx := server.NewServerContext(cfg, conversionCache, m)

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           srvCtx.Routes(metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info().Msg("Shutting down web server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().
		Str("addr", listenAddr).
		Str("map_style", cfg.Map.StyleURL).
		Int64("max_upload", cfg.Upload.MaxSize).
		Msg("Web server started")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
