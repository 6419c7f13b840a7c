package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "moviestream/searchservice/internal/api/http"
	"moviestream/searchservice/internal/app"
	"moviestream/searchservice/internal/metrics"
	"moviestream/searchservice/internal/providers/tmdb"
	"moviestream/searchservice/internal/search"
	"moviestream/searchservice/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "movie-search")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "movie-search"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("tmdbBaseURL", cfg.TMDBBaseURL),
		slog.String("tmdbLanguage", cfg.TMDBLanguage),
		slog.Duration("tmdbTimeout", cfg.TMDBTimeout),
		slog.Duration("searchDebounce", cfg.SearchDebounce),
		slog.Int("tmdbMaxConcurrent", cfg.TMDBMaxConcurrent),
		slog.Float64("wsRateLimit", cfg.WSRateLimit),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Bool("cacheDisabled", cfg.CacheDisabled),
		slog.Duration("cacheTTL", cfg.CacheTTL),
	)

	tmdbClient := buildTMDBClient(cfg, logger)
	movieService := search.NewService(tmdbClient,
		search.WithServiceDebounce(cfg.SearchDebounce),
		search.WithMaxConcurrentFetches(cfg.TMDBMaxConcurrent),
		search.WithLogger(logger),
	)

	apiServer := apihttp.NewServer(movieService,
		apihttp.WithLogger(logger),
		apihttp.WithRateLimit(cfg.HTTPRateLimit, cfg.HTTPRateBurst),
		apihttp.WithLiveSessionRateLimit(cfg.WSRateLimit, cfg.WSRateBurst),
		apihttp.WithUserAgent(cfg.UserAgent),
	)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Live sessions are long-lived WebSockets; write deadlines are set per frame.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("movie search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("debounce", cfg.SearchDebounce),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Hijacked WebSocket connections are not tracked by Shutdown, so the hub
	// closes them first.
	apiServer.Close()
	movieService.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("movie search service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildTMDBClient(cfg app.Config, logger *slog.Logger) *tmdb.Client {
	return tmdb.NewClient(tmdb.Config{
		APIKey:    cfg.TMDBAPIKey,
		BaseURL:   cfg.TMDBBaseURL,
		Language:  cfg.TMDBLanguage,
		UserAgent: cfg.UserAgent,
		Client: &http.Client{
			Timeout:   cfg.TMDBTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Redis:     buildRedisClient(cfg, logger),
		CacheTTL:  cfg.CacheTTL,
		RateLimit: cfg.TMDBRateLimit,
		RateBurst: cfg.TMDBRateBurst,
	})
}

// buildRedisClient returns nil when the response cache is off or Redis is
// unreachable; the TMDB client then always goes to the network.
func buildRedisClient(cfg app.Config, logger *slog.Logger) *redis.Client {
	if cfg.CacheDisabled {
		logger.Info("tmdb response cache disabled")
		return nil
	}
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, tmdb cache disabled", slog.String("error", err.Error()))
		return nil
	}
	redisClient := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable, tmdb cache disabled", slog.String("error", err.Error()))
		_ = redisClient.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return redisClient
}
