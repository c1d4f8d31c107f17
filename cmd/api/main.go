package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	api "kafka-stream-replay/internal/api"
	"kafka-stream-replay/internal/broker"
	"kafka-stream-replay/internal/config"
	"kafka-stream-replay/internal/logging"
	"kafka-stream-replay/internal/ratelimit"
	"kafka-stream-replay/internal/replay"
	"kafka-stream-replay/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	dial := func(addr, topic string) replay.Channel {
		return broker.NewChannel(addr, topic,
			broker.WithInitTimeout(cfg.BrokerInitTimeout),
			broker.WithDeliveryTimeout(cfg.BrokerDeliveryTimeout),
			broker.WithLogger(logger),
		)
	}
	registry := replay.NewRegistry(ctx, dial, replay.WithLogger(logger))

	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		limiter = ratelimit.New(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
		logger.Info().Str("redis", cfg.RedisAddr).Int("capacity", cfg.RateLimitCapacity).Msg("rate limiting enabled")
	}

	server := api.New(cfg, st, registry, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().Str("port", cfg.HTTPPort).Str("env", cfg.Env).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)

	// Cancelling ctx interrupts every running job; wait for them to publish
	// their final state and close their producers.
	registry.Wait()
}
