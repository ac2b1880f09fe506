package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// DB carries the dialect so repositories can write `?` placeholders once.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open picks the driver from the URL: postgres:// and postgresql:// use lib/pq,
// sqlite:// and file: use go-sqlite3.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	raw := strings.TrimSpace(databaseURL)
	if raw == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		dialect Dialect
		dsn     string
	)
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		dialect, dsn = Postgres, raw
	case strings.HasPrefix(raw, "sqlite://"):
		dialect, dsn = SQLite, strings.TrimPrefix(raw, "sqlite://")
	case strings.HasPrefix(raw, "file:"):
		dialect, dsn = SQLite, raw
	default:
		return nil, fmt.Errorf("unsupported database url: %s", raw)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		// sqlite는 단일 writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	out := &DB{DB: db, Dialect: dialect}
	if err := out.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return out, nil
}

func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

var placeholder = regexp.MustCompile(`\?`)

// Rebind rewrites `?` placeholders to $N for postgres.
func (db *DB) Rebind(q string) string {
	if db.Dialect != Postgres {
		return q
	}
	n := 0
	return placeholder.ReplaceAllStringFunc(q, func(string) string {
		n++
		return "$" + strconv.Itoa(n)
	})
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS player_stats (
		user_id BIGINT PRIMARY KEY,
		user_name TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		played_games INTEGER NOT NULL DEFAULT 0,
		last_game_at TIMESTAMP NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_player_stats_score ON player_stats (score DESC, played_games DESC)`,
	`CREATE TABLE IF NOT EXISTS chat_settings (
		chat_id BIGINT PRIMARY KEY,
		language TEXT NOT NULL,
		max_words_hint INTEGER NOT NULL,
		min_players_to_start INTEGER NOT NULL,
		max_players_to_play INTEGER NOT NULL,
		max_turns INTEGER NOT NULL,
		admin_id BIGINT NOT NULL DEFAULT 0
	)`,
}

func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
