package chatstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/guessword-bot/internal/domain"
)

const (
	ttlRoom     = 72 * time.Hour
	keyPrefix   = "gw:"
	phraseLimit = 50
)

var (
	ErrNotFound = errors.New("record not found")
	ErrExists   = errors.New("record already exists")
)

// Store keeps per-chat records in Redis as whole JSON documents.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// Open connects to redisURL and pings it.
func Open(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for chat state")
	}
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}

func keyLevel(chatID int64) string  { return keyPrefix + "level:" + strconv.FormatInt(chatID, 10) }
func keyRoom(chatID int64) string   { return keyPrefix + "room:" + strconv.FormatInt(chatID, 10) }
func keyPhrases(mode string) string { return keyPrefix + "phrases:" + strings.TrimSpace(mode) }

func keySettled(sessionID string) string { return keyPrefix + "settled:" + sessionID }

// GetLevel returns ErrNotFound when the chat never had a level stored.
func (s *Store) GetLevel(ctx context.Context, chatID int64) (domain.ChatLevelState, error) {
	var st domain.ChatLevelState
	err := s.load(ctx, keyLevel(chatID), &st)
	return st, err
}

// InsertLevel writes only when no record exists; a concurrent insert yields ErrExists.
func (s *Store) InsertLevel(ctx context.Context, st domain.ChatLevelState) error {
	return s.insert(ctx, keyLevel(st.ChatID), st, 0)
}

func (s *Store) ReplaceLevel(ctx context.Context, st domain.ChatLevelState) error {
	return s.save(ctx, keyLevel(st.ChatID), st, 0)
}

func (s *Store) GetRoom(ctx context.Context, chatID int64) (domain.Room, error) {
	var r domain.Room
	err := s.load(ctx, keyRoom(chatID), &r)
	return r, err
}

// InsertRoom fails with ErrExists when the chat already has a room.
func (s *Store) InsertRoom(ctx context.Context, r domain.Room) error {
	return s.insert(ctx, keyRoom(r.ChatID), r, ttlRoom)
}

// ReplaceRoom overwrites an existing room; a room that vanished meanwhile is ErrNotFound.
func (s *Store) ReplaceRoom(ctx context.Context, r domain.Room) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetXX(ctx, keyRoom(r.ChatID), raw, ttlRoom).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRoom(ctx context.Context, chatID int64) error {
	n, err := s.rdb.Del(ctx, keyRoom(chatID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimSettlement marks a game session as counted. Only the first claim returns true, so
// a session reaches the leaderboard at most once even when its resolution is retried.
func (s *Store) ClaimSettlement(ctx context.Context, sessionID string) (bool, error) {
	return s.rdb.SetNX(ctx, keySettled(sessionID), 1, ttlRoom).Result()
}

// ReleaseSettlement drops a claim whose stats could not be written.
func (s *Store) ReleaseSettlement(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, keySettled(sessionID)).Err()
}

// RecentPhrases returns up to phraseLimit phrases, oldest first.
func (s *Store) RecentPhrases(ctx context.Context, mode string) ([]string, error) {
	out, err := s.rdb.LRange(ctx, keyPhrases(mode), 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return out, err
}

// RememberPhrase appends phrase and trims the list to the newest phraseLimit entries.
func (s *Store) RememberPhrase(ctx context.Context, mode, phrase string) error {
	key := keyPhrases(mode)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, phrase)
	pipe.LTrim(ctx, key, -phraseLimit, -1)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) load(ctx context.Context, key string, out any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, raw, ttl).Err()
}

func (s *Store) insert(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// SetNX로 중복 생성 방지
	ok, err := s.rdb.SetNX(ctx, key, raw, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}
