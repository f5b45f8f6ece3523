// Command marketgate runs the interception gateway in front of the
// marketplace application.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/marketgate/internal/config"
	"github.com/Sternrassler/marketgate/internal/gateway"
	"github.com/Sternrassler/marketgate/internal/upstream"
	"github.com/Sternrassler/marketgate/pkg/cache"
	"github.com/Sternrassler/marketgate/pkg/logging"
	"github.com/Sternrassler/marketgate/pkg/ratelimit"
)

const (
	shutdownTimeout    = 15 * time.Second
	startupPingTimeout = 2 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "marketgate: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Log.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("gateway stopped with error")
	}
}

// run serves until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	gw, cleanup, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("upstream", cfg.Upstream.URL).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	gw.Drain()
	return nil
}

// build wires the gateway from configuration. The returned cleanup closes
// the Redis connection.
func build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*gateway.Gateway, func(), error) {
	target, err := url.Parse(cfg.Upstream.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse upstream url: %w", err)
	}

	retry := upstream.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Upstream.MaxAttempts
	transport := upstream.NewTransport(http.DefaultTransport,
		upstream.WithRetryConfig(retry),
		upstream.WithLogger(logger),
	)

	opts := gateway.Options{
		Config:   cfg,
		Upstream: gateway.NewProxy(target, transport, logger),
		Logger:   logger,
	}

	cleanup := func() {}
	if cfg.UsesRedis() {
		redisOpts, err := cfg.RedisOptions()
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(redisOpts)
		cleanup = func() { _ = client.Close() }

		// an unreachable store is not fatal; every component fails open
		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", redisOpts.Addr).Msg("redis unreachable at startup, continuing without it")
		} else {
			logger.Info().Str("addr", redisOpts.Addr).Msg("connected to redis")
		}

		opts.Pinger = pingFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		if cfg.Cache.Enabled {
			opts.Cache = cache.NewManager(client, cache.WithTimeout(cfg.Cache.Timeout))
		}
		if cfg.RateLimit.Store == config.StoreRedis {
			opts.Counter = ratelimit.NewRedisCounter(client, ratelimit.WithRedisTimeout(cfg.Cache.Timeout))
		}
	}

	gw, err := gateway.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return gw, cleanup, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}
