package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // Import the SQLite3 driver
	"github.com/rs/zerolog"
)

// Store is the sqlite-backed cursor and usage store.
type Store struct {
	db  *sqlx.DB
	log zerolog.Logger
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		channel_id INTEGER PRIMARY KEY,
		latest_parsed_id INTEGER,
		earliest_parsed_id INTEGER,
		latest_unparsed_id INTEGER,
		exhausted_at INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS emote_usage (
		guild_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		sent_at INTEGER NOT NULL,
		emote_id TEXT NOT NULL,
		occurrence INTEGER NOT NULL DEFAULT 0,
		UNIQUE (guild_id, user_id, sent_at, emote_id, occurrence)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_emote_usage_message ON emote_usage (guild_id, user_id, sent_at);`,
	`CREATE TABLE IF NOT EXISTS emotes (
		emote_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_animated INTEGER NOT NULL DEFAULT 0,
		guild_id INTEGER
	);`,
}

// Columns added after the first release; missing ones are added on open.
var migrations = []string{
	`ALTER TABLE channels ADD COLUMN exhausted_at INTEGER`,
}

// Open connects to the sqlite database at dbPath, creating the file and schema if needed.
func Open(ctx context.Context, dbPath string, logger zerolog.Logger) (*Store, error) {
	// Ensure the directory for the database file exists.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// sqlite allows a single writer; queue callers on one connection instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("path", dbPath).Msg("connected to sqlite store")
	return &Store{db: db, log: logger}, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	for _, stmt := range migrations {
		_, err := db.ExecContext(ctx, stmt)
		if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("failed to execute ALTER statement %s: %w", stmt, err)
		}
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
