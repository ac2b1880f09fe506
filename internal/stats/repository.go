package stats

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/storage"
)

// Result is one player's share of a resolved room.
type Result struct {
	UserID   int64
	UserName string // empty keeps the stored name
	Won      bool
	At       time.Time
}

// Repository persists PlayerStats. Apply adds every result or none, incrementing the
// stored counters in place so concurrent rooms never overwrite each other.
type Repository interface {
	Get(ctx context.Context, userID int64) (*domain.PlayerStats, error)
	GetMany(ctx context.Context, userIDs []int64) (map[int64]domain.PlayerStats, error)
	Apply(ctx context.Context, results []Result) ([]domain.PlayerStats, error)
	Top(ctx context.Context, limit int) ([]domain.PlayerStats, error)
}

type sqlRepo struct {
	db *storage.DB
}

func NewSQLRepository(db *storage.DB) Repository { return &sqlRepo{db: db} }

func (r *sqlRepo) Get(ctx context.Context, userID int64) (*domain.PlayerStats, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT user_id, user_name, score, played_games, last_game_at
		FROM player_stats WHERE user_id = ?`), userID)
	ps, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

func (r *sqlRepo) GetMany(ctx context.Context, userIDs []int64) (map[int64]domain.PlayerStats, error) {
	out := make(map[int64]domain.PlayerStats, len(userIDs))
	for _, id := range userIDs {
		ps, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ps != nil {
			out[id] = *ps
		}
	}
	return out, nil
}

func (r *sqlRepo) Apply(ctx context.Context, results []Result) ([]domain.PlayerStats, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	upsert := r.db.Rebind(`INSERT INTO player_stats (user_id, user_name, score, played_games, last_game_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			user_name = CASE WHEN EXCLUDED.user_name = '' THEN player_stats.user_name ELSE EXCLUDED.user_name END,
			score = player_stats.score + EXCLUDED.score,
			played_games = player_stats.played_games + 1,
			last_game_at = EXCLUDED.last_game_at`)
	read := r.db.Rebind(`SELECT user_id, user_name, score, played_games, last_game_at
		FROM player_stats WHERE user_id = ?`)

	out := make([]domain.PlayerStats, 0, len(results))
	for _, res := range results {
		score := 0
		if res.Won {
			score = 1
		}
		if _, err := tx.ExecContext(ctx, upsert, res.UserID, res.UserName, score, nullTime(res.At)); err != nil {
			return nil, err
		}
		ps, err := scanStats(tx.QueryRowContext(ctx, read, res.UserID))
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sqlRepo) Top(ctx context.Context, limit int) ([]domain.PlayerStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`SELECT user_id, user_name, score, played_games, last_game_at
		FROM player_stats ORDER BY score DESC, played_games DESC, user_name ASC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PlayerStats
	for rows.Next() {
		ps, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanStats(s scanner) (domain.PlayerStats, error) {
	var (
		ps   domain.PlayerStats
		last sql.NullTime
	)
	if err := s.Scan(&ps.UserID, &ps.UserName, &ps.Score, &ps.PlayedGames, &last); err != nil {
		return domain.PlayerStats{}, err
	}
	if last.Valid {
		ps.LastGameAt = last.Time
	}
	return ps, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// memrepo is a development-only repository used when no DATABASE_URL is configured.
type memrepo struct {
	mu      sync.RWMutex
	players map[int64]domain.PlayerStats
}

func NewMemoryRepository() Repository {
	return &memrepo{players: make(map[int64]domain.PlayerStats)}
}

func (m *memrepo) Get(ctx context.Context, userID int64) (*domain.PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ps, ok := m.players[userID]
	if !ok {
		return nil, nil
	}
	return &ps, nil
}

func (m *memrepo) GetMany(ctx context.Context, userIDs []int64) (map[int64]domain.PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]domain.PlayerStats, len(userIDs))
	for _, id := range userIDs {
		if ps, ok := m.players[id]; ok {
			out[id] = ps
		}
	}
	return out, nil
}

func (m *memrepo) Apply(ctx context.Context, results []Result) ([]domain.PlayerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PlayerStats, 0, len(results))
	for _, res := range results {
		ps, ok := m.players[res.UserID]
		if !ok {
			ps = domain.PlayerStats{UserID: res.UserID}
		}
		if res.UserName != "" {
			ps.UserName = res.UserName
		}
		if res.Won {
			ps.Score++
		}
		ps.PlayedGames++
		ps.LastGameAt = res.At
		m.players[res.UserID] = ps
		out = append(out, ps)
	}
	return out, nil
}

func (m *memrepo) Top(ctx context.Context, limit int) ([]domain.PlayerStats, error) {
	m.mu.RLock()
	items := make([]domain.PlayerStats, 0, len(m.players))
	for _, ps := range m.players {
		items = append(items, ps)
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return less(items[i], items[j]) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
