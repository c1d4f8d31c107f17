// Command replay runs a single stream to completion in the foreground and
// prints its final state.
//
//	replay [-metrics-addr :9090] [-file stream.json] [name]
//
// The stream comes from the configured store by name, or from a JSON file
// holding a queue definition.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kafka-stream-replay/internal/broker"
	"kafka-stream-replay/internal/config"
	"kafka-stream-replay/internal/logging"
	"kafka-stream-replay/internal/models"
	"kafka-stream-replay/internal/replay"
	"kafka-stream-replay/internal/store"
	"kafka-stream-replay/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "address for the metrics listener, empty to disable")
	file := flag.String("file", "", "read the queue definition from a JSON file instead of the store")
	flag.Parse()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	def, name, err := loadDefinition(ctx, cfg, logger, *file, flag.Arg(0))
	if err != nil {
		logger.Error().Err(err).Msg("load stream")
		os.Exit(1)
	}

	if *metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricsAddr, telemetry.Handler()); err != nil {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	dial := func(addr, topic string) replay.Channel {
		return broker.NewChannel(addr, topic,
			broker.WithInitTimeout(cfg.BrokerInitTimeout),
			broker.WithDeliveryTimeout(cfg.BrokerDeliveryTimeout),
			broker.WithLogger(logger),
		)
	}
	job := replay.NewJob(uuid.NewString(), def, dial, replay.WithJobLogger(logger.With().Str("stream", name).Logger()))
	job.Start(ctx)

	state := job.State()
	out, _ := json.MarshalIndent(state, "", "  ")
	fmt.Println(string(out))
	if state.Status != models.StatusDone {
		os.Exit(1)
	}
}

func loadDefinition(ctx context.Context, cfg config.Config, logger zerolog.Logger, file, name string) (models.QueueDefinition, string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return models.QueueDefinition{}, "", fmt.Errorf("read %s: %w", file, err)
		}
		def, err := models.ParseDefinition(data)
		return def, file, err
	}
	if name == "" {
		return models.QueueDefinition{}, "", errors.New("usage: replay [-file stream.json] [name]")
	}

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return models.QueueDefinition{}, "", err
	}
	defer st.Close()

	s, err := st.Get(ctx, name)
	if err != nil {
		return models.QueueDefinition{}, "", fmt.Errorf("stream %q: %w", name, err)
	}
	if err := s.QueueDefinition.Validate(); err != nil {
		return models.QueueDefinition{}, "", err
	}
	return s.QueueDefinition, name, nil
}
