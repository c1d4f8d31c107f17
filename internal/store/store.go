// Package store keeps named stream definitions. Three drivers share one
// interface: SQLite (the default, a single local file), Postgres, and S3
// (one JSON object per stream).
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"kafka-stream-replay/internal/config"
	"kafka-stream-replay/internal/models"
)

// Store persists stream definitions by name.
type Store interface {
	// Save inserts or replaces the stream with the same name.
	Save(ctx context.Context, s models.Stream) error
	// Get returns models.ErrNotFound when no stream has that name.
	Get(ctx context.Context, name string) (models.Stream, error)
	Close() error
}

// Open initializes the driver selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	log.Info().Str("driver", driver).Msg("opening stream store")
	switch driver {
	case "", "sqlite", "sqlite3":
		return OpenSQLite(ctx, cfg.DBPath)
	case "postgres", "postgresql":
		st, err := NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := st.RunMigrations(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case "s3":
		return OpenS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", driver)
	}
}

func encodeMessages(s models.Stream) (string, error) {
	b, err := models.EncodeItems(s.Items)
	if err != nil {
		return "", fmt.Errorf("encode messages: %w", err)
	}
	return string(b), nil
}

func decodeMessages(raw string) ([]models.Item, error) {
	items, err := models.DecodeItems([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return items, nil
}
