package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"kafka-stream-replay/internal/models"
)

// SQLite keeps streams in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path = filepath.Clean(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")

	s := &SQLite{db: db}
	err = runMigrations(ctx, "migrations/sqlite", func(ctx context.Context, q string) error {
		_, err := db.ExecContext(ctx, q)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the row for the stream's name.
func (s *SQLite) Save(ctx context.Context, st models.Stream) error {
	messages, err := encodeMessages(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`REPLACE INTO streams (name, kafkaHost, topic, messages) VALUES (?, ?, ?, ?)`,
		st.Name, st.BrokerAddress, st.Topic, messages,
	)
	if err != nil {
		return fmt.Errorf("save stream: %w", err)
	}
	return nil
}

// Get fetches a stream by name.
func (s *SQLite) Get(ctx context.Context, name string) (models.Stream, error) {
	var st models.Stream
	var messages string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, kafkaHost, topic, messages FROM streams WHERE name = ?`, name,
	).Scan(&st.Name, &st.BrokerAddress, &st.Topic, &messages)
	if errors.Is(err, sql.ErrNoRows) {
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
