package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaypoint/notification-gateway/internal/application"
	"github.com/relaypoint/notification-gateway/internal/config"
	"github.com/relaypoint/notification-gateway/internal/infrastructure/rabbit"
	"github.com/relaypoint/notification-gateway/internal/infrastructure/redisstore"
	"github.com/relaypoint/notification-gateway/internal/infrastructure/upstream"
	transporthttp "github.com/relaypoint/notification-gateway/internal/transport/http"
)

// bootstrapTimeout bounds how long startup waits for Redis and RabbitMQ.
const bootstrapTimeout = 30 * time.Second

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("env", cfg.Server.Env).Str("port", cfg.Server.Port).Msg("starting notification-gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Redis ─────────────────────────────────────────────────────────────────
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("bad redis url")
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	if err := connectWithBackoff(ctx, "redis", func() error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	log.Info().Msg("redis connected")

	// ── RabbitMQ ──────────────────────────────────────────────────────────────
	var publisher *rabbit.Publisher
	if err := connectWithBackoff(ctx, "rabbitmq", func() error {
		var dialErr error
		publisher, dialErr = rabbit.Dial(cfg.Rabbit.URL, cfg.Rabbit.Exchange, cfg.Rabbit.ChannelPoolSize)
		return dialErr
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer publisher.Close()

	if err := publisher.DeclareTopology(); err != nil {
		log.Fatal().Err(err).Msg("failed to declare broker topology")
	}
	log.Info().Str("exchange", cfg.Rabbit.Exchange).Int("channels", cfg.Rabbit.ChannelPoolSize).Msg("rabbitmq connected, topology declared")

	// ── Stores & Pipeline ─────────────────────────────────────────────────────
	limiter := redisstore.NewRateLimiter(rdb)
	idem := redisstore.NewIdempotencyStore(rdb)
	tracker := redisstore.NewStatusTracker(rdb)

	pipeline := application.NewPipeline(limiter, idem, publisher, tracker, application.Limits{
		RequestsPerWindow: cfg.Limits.NotificationsPerWindow,
		Window:            cfg.Limits.Window(),
		IdempotencyTTL:    cfg.Limits.IdempotencyTTL(),
	})

	// ── HTTP Server ───────────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(pipeline, tracker)
	proxy := transporthttp.NewProxyHandler(
		upstream.NewClient(cfg.Upstream.Timeout()),
		limiter,
		transporthttp.ProxyLimits{
			Writes:      cfg.Limits.WritesPerWindow,
			Reads:       cfg.Limits.ReadsPerWindow,
			Preferences: cfg.Limits.PreferencesPerWindow,
			Window:      cfg.Limits.Window(),
		},
		cfg.Upstream.UserServiceBase,
		cfg.Upstream.TemplateServiceBase,
	)
	router := transporthttp.NewRouter(handler, proxy)

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil {
			log.Info().Msg("HTTP server stopped")
		}
	}()

	// ── Graceful Shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("notification-gateway stopped")
}

// connectWithBackoff retries connect with exponential backoff until it
// succeeds, the bootstrap timeout passes, or ctx is cancelled. Only startup
// uses this; the request path never retries.
func connectWithBackoff(ctx context.Context, name string, connect func() error) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = 5 * time.Second
	deadline := time.Now().Add(bootstrapTimeout)

	for {
		err := connect()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		log.Warn().Err(err).Str("target", name).Msg("connection failed, retrying")

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = backoffCfg.MaxInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
