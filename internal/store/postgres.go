package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kafka-stream-replay/internal/models"
)

// Postgres wraps pgxpool for stream persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// RunMigrations executes the embedded Postgres migrations in order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	return runMigrations(ctx, "migrations/postgres", func(ctx context.Context, sql string) error {
		_, err := s.pool.Exec(ctx, sql)
		return err
	})
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Save upserts a stream row by name.
func (s *Postgres) Save(ctx context.Context, st models.Stream) error {
	messages, err := encodeMessages(st)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO streams (name, kafka_host, topic, messages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE
		SET kafka_host = EXCLUDED.kafka_host, topic = EXCLUDED.topic, messages = EXCLUDED.messages, updated_at = NOW()
	`, st.Name, st.BrokerAddress, st.Topic, messages)
	if err != nil {
		return fmt.Errorf("save stream: %w", err)
	}
	return nil
}

// Get fetches a stream by name.
func (s *Postgres) Get(ctx context.Context, name string) (models.Stream, error) {
	var st models.Stream
	var messages string
	err := s.pool.QueryRow(ctx, `
		SELECT name, kafka_host, topic, messages FROM streams WHERE name = $1
	`, name).Scan(&st.Name, &st.BrokerAddress, &st.Topic, &messages)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Stream{}, models.ErrNotFound
	}
	if err != nil {
		return models.Stream{}, fmt.Errorf("scan stream: %w", err)
	}
	if st.Items, err = decodeMessages(messages); err != nil {
		return models.Stream{}, err
	}
	return st, nil
}
