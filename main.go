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

	"github.com/gin-gonic/gin"

	"github.com/chrisbze/molaison-ai-backend/analyzer"
	"github.com/chrisbze/molaison-ai-backend/api"
	"github.com/chrisbze/molaison-ai-backend/config"
	"github.com/chrisbze/molaison-ai-backend/customer"
	"github.com/chrisbze/molaison-ai-backend/fetch"
	"github.com/chrisbze/molaison-ai-backend/logging"
	"github.com/chrisbze/molaison-ai-backend/middleware"
	"github.com/chrisbze/molaison-ai-backend/providers"
	"github.com/chrisbze/molaison-ai-backend/stats"
)

const (
	shutdownTimeout  = 10 * time.Second
	housekeepEvery   = time.Hour
	visitorWindow    = 48 * time.Hour
	statsRetainMonth = 12
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	gin.SetMode(cfg.GinMode)

	counters, err := stats.NewStorage(cfg.StatsDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open statistics storage")
	}
	requests := logging.NewStatistics(cfg.DevMode)
	customers := customer.NewStore(cfg.MaxCustomers, cfg.EntitlementValidity)

	pipeline := analyzer.New(analyzer.Deps{
		Fetcher:      fetch.NewClient(cfg.BlockPrivateNets),
		Speed:        providers.NewPageSpeed(cfg.PageSpeedAPIKey, cfg.PageSpeedEndpoint, cfg.ProviderTimeout),
		Recommender:  providers.NewCompletion(cfg.CompletionAPIKey, cfg.CompletionEndpoint, cfg.CompletionModel, cfg.ProviderTimeout),
		Entitlements: customers,
		Stats:        counters,
		Logger:       logger,
	}, analyzer.Options{
		UserAgent:          cfg.UserAgent,
		FetchTimeout:       cfg.FetchTimeout,
		AuxFetchTimeout:    cfg.AuxFetchTimeout,
		ProbeTimeout:       cfg.ProbeTimeout,
		ProviderTimeout:    cfg.ProviderTimeout,
		MaxRedirects:       cfg.MaxRedirects,
		ProbeMaxRedirects:  cfg.ProbeMaxRedirects,
		ProbeLimit:         cfg.ProbeLimit,
		ProbeConcurrency:   cfg.ProbeConcurrency,
		KeywordBodyChars:   cfg.KeywordBodyChars,
		StopWords:          cfg.StopWords,
		RequireEntitlement: cfg.RequireEntitlement,
	})

	if cfg.PageSpeedAPIKey == "" {
		logger.Warn().Msg("PAGESPEED_API_KEY not set, page speed uses the neutral fallback")
	}
	if cfg.CompletionAPIKey == "" {
		logger.Warn().Msg("COMPLETION_API_KEY not set, AI recommendations use the canned list")
	}
	if cfg.WebhookSecret == "" {
		logger.Warn().Msg("WEBHOOK_SECRET not set, the signup webhook is unauthenticated")
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.ErrorHandler(logger))
	r.Use(middleware.CORS())
	r.Use(rateLimiter.RateLimit())
	r.Use(middleware.Stats(requests))

	api.NewHandler(api.Deps{
		Pipeline:      pipeline,
		Customers:     customers,
		Requests:      requests,
		Counters:      counters,
		WebhookSecret: cfg.WebhookSecret,
		Logger:        logger,
	}).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go housekeep(ctx, requests, counters)

	go func() {
		logger.Info().Str("port", cfg.Port).Msgf("Server starting on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown did not complete")
	}
	if err := counters.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("failed to flush statistics")
	}
}

// housekeep prunes stale visitors and old monthly counters until ctx ends.
func housekeep(ctx context.Context, requests *logging.Statistics, counters *stats.Storage) {
	ticker := time.NewTicker(housekeepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requests.PruneVisitors(visitorWindow)
			counters.Cleanup(statsRetainMonth)
		}
	}
}
