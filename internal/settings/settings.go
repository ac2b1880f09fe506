package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/storage"
)

var (
	ErrUnknownField = errors.New("unknown setting")
	ErrInvalidValue = errors.New("invalid setting value")
)

// Repository stores one ChatSettings per chat. Get returns nil when absent.
type Repository interface {
	Get(ctx context.Context, chatID int64) (*domain.ChatSettings, error)
	Upsert(ctx context.Context, s domain.ChatSettings) error
	Delete(ctx context.Context, chatID int64) error
}

// Defaults seeds settings for newly registered chats.
type Defaults struct {
	Language          string
	MaxWordsHint      int
	MinPlayersToStart int
	MaxPlayersToPlay  int
	MaxTurns          int
}

// Provider is the typed settings capability: lookup by chat, replace, admin check.
type Provider struct {
	repo          Repository
	defaults      Defaults
	globalAdminID int64
}

func NewProvider(repo Repository, defaults Defaults, globalAdminID int64) *Provider {
	return &Provider{repo: repo, defaults: defaults, globalAdminID: globalAdminID}
}

// Get returns the stored settings and whether the chat is registered.
func (p *Provider) Get(ctx context.Context, chatID int64) (domain.ChatSettings, bool, error) {
	s, err := p.repo.Get(ctx, chatID)
	if err != nil {
		return domain.ChatSettings{}, false, err
	}
	if s == nil {
		return p.Default(chatID), false, nil
	}
	return *s, true, nil
}

func (p *Provider) Default(chatID int64) domain.ChatSettings {
	return domain.ChatSettings{
		ChatID:            chatID,
		Language:          p.defaults.Language,
		MaxWordsHint:      p.defaults.MaxWordsHint,
		MinPlayersToStart: p.defaults.MinPlayersToStart,
		MaxPlayersToPlay:  p.defaults.MaxPlayersToPlay,
		MaxTurns:          p.defaults.MaxTurns,
		AdminID:           p.globalAdminID,
	}
}

func (p *Provider) Set(ctx context.Context, s domain.ChatSettings) error {
	if err := Validate(s); err != nil {
		return err
	}
	return p.repo.Upsert(ctx, s)
}

// Register whitelists a chat with default settings; re-registering keeps existing values.
func (p *Provider) Register(ctx context.Context, chatID, adminID int64) (domain.ChatSettings, error) {
	cur, found, err := p.Get(ctx, chatID)
	if err != nil {
		return domain.ChatSettings{}, err
	}
	if found {
		return cur, nil
	}
	s := p.Default(chatID)
	if adminID != 0 {
		s.AdminID = adminID
	}
	return s, p.repo.Upsert(ctx, s)
}

func (p *Provider) Unregister(ctx context.Context, chatID int64) error {
	return p.repo.Delete(ctx, chatID)
}

func (p *Provider) IsGlobalAdmin(userID int64) bool {
	return p.globalAdminID != 0 && userID == p.globalAdminID
}

// IsAdmin is true for the global admin and for the chat's own admin.
func (p *Provider) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if p.IsGlobalAdmin(userID) {
		return true, nil
	}
	s, found, err := p.Get(ctx, chatID)
	if err != nil || !found {
		return false, err
	}
	return s.AdminID != 0 && s.AdminID == userID, nil
}

func Validate(s domain.ChatSettings) error {
	switch {
	case strings.TrimSpace(s.Language) == "":
		return fmt.Errorf("%w: language is empty", ErrInvalidValue)
	case s.MaxWordsHint <= 0, s.MinPlayersToStart <= 0, s.MaxPlayersToPlay <= 0, s.MaxTurns <= 0:
		return fmt.Errorf("%w: numbers must be positive", ErrInvalidValue)
	case s.MinPlayersToStart > s.MaxPlayersToPlay:
		return fmt.Errorf("%w: minPlayers exceeds maxPlayers", ErrInvalidValue)
	}
	return nil
}

// Fields lists the names accepted by Apply.
func Fields() []string {
	out := make([]string, 0, len(setters))
	for k := range setters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var setters = map[string]func(s *domain.ChatSettings, v string) error{
	"language":   func(s *domain.ChatSettings, v string) error { s.Language = v; return nil },
	"maxwords":   intSetter(func(s *domain.ChatSettings, n int) { s.MaxWordsHint = n }),
	"minplayers": intSetter(func(s *domain.ChatSettings, n int) { s.MinPlayersToStart = n }),
	"maxplayers": intSetter(func(s *domain.ChatSettings, n int) { s.MaxPlayersToPlay = n }),
	"maxturns":   intSetter(func(s *domain.ChatSettings, n int) { s.MaxTurns = n }),
	"admin": func(s *domain.ChatSettings, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not a user id", ErrInvalidValue, v)
		}
		s.AdminID = n
		return nil
	},
}

func intSetter(set func(s *domain.ChatSettings, n int)) func(*domain.ChatSettings, string) error {
	return func(s *domain.ChatSettings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrInvalidValue, v)
		}
		set(s, n)
		return nil
	}
}

// Apply returns s with the named field set from its text form, validated.
func Apply(s domain.ChatSettings, name, value string) (domain.ChatSettings, error) {
	set, ok := setters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	out := s
	if err := set(&out, strings.TrimSpace(value)); err != nil {
		return s, err
	}
	if err := Validate(out); err != nil {
		return s, err
	}
	return out, nil
}

type sqlRepo struct{ db *storage.DB }

func NewSQLRepository(db *storage.DB) Repository { return &sqlRepo{db: db} }

func (r *sqlRepo) Get(ctx context.Context, chatID int64) (*domain.ChatSettings, error) {
	var s domain.ChatSettings
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT chat_id, language, max_words_hint, min_players_to_start,
		max_players_to_play, max_turns, admin_id FROM chat_settings WHERE chat_id = ?`), chatID).
		Scan(&s.ChatID, &s.Language, &s.MaxWordsHint, &s.MinPlayersToStart, &s.MaxPlayersToPlay, &s.MaxTurns, &s.AdminID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sqlRepo) Upsert(ctx context.Context, s domain.ChatSettings) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO chat_settings
		(chat_id, language, max_words_hint, min_players_to_start, max_players_to_play, max_turns, admin_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			language = EXCLUDED.language,
			max_words_hint = EXCLUDED.max_words_hint,
			min_players_to_start = EXCLUDED.min_players_to_start,
			max_players_to_play = EXCLUDED.max_players_to_play,
			max_turns = EXCLUDED.max_turns,
			admin_id = EXCLUDED.admin_id`),
		s.ChatID, s.Language, s.MaxWordsHint, s.MinPlayersToStart, s.MaxPlayersToPlay, s.MaxTurns, s.AdminID)
	return err
}

func (r *sqlRepo) Delete(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM chat_settings WHERE chat_id = ?`), chatID)
	return err
}

// memrepo is a development-only repository used when no DATABASE_URL is configured.
type memrepo struct {
	mu    sync.RWMutex
	chats map[int64]domain.ChatSettings
}

func NewMemoryRepository() Repository {
	return &memrepo{chats: make(map[int64]domain.ChatSettings)}
}

func (m *memrepo) Get(ctx context.Context, chatID int64) (*domain.ChatSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.chats[chatID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memrepo) Upsert(ctx context.Context, s domain.ChatSettings) error {
	m.mu.Lock()
	m.chats[s.ChatID] = s
	m.mu.Unlock()
	return nil
}

func (m *memrepo) Delete(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	delete(m.chats, chatID)
	m.mu.Unlock()
	return nil
}
