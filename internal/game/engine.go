package game

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/chatlock"
	"github.com/park285/guessword-bot/internal/chatstate"
	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/judge"
	"github.com/park285/guessword-bot/internal/obslog"
	"github.com/park285/guessword-bot/internal/stats"
)

const (
	LevelOnboarding = "onboarding"
	LevelPlaying    = "word_game"
)

var (
	ErrRoomExists       = errors.New("room already exists")
	ErrNoRoom           = errors.New("no room in this chat")
	ErrAlreadyJoined    = errors.New("player already joined")
	ErrRoomFull         = errors.New("room is full")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrAlreadyRunning   = errors.New("game already running")
	ErrNotRunning       = errors.New("game not running")
)

// RoomStore is the whole-record room persistence plus the settlement marks that keep a
// resolution from being counted twice. chatstate.Store implements it.
type RoomStore interface {
	GetRoom(ctx context.Context, chatID int64) (domain.Room, error)
	InsertRoom(ctx context.Context, r domain.Room) error
	ReplaceRoom(ctx context.Context, r domain.Room) error
	DeleteRoom(ctx context.Context, chatID int64) error
	ClaimSettlement(ctx context.Context, sessionID string) (bool, error)
	ReleaseSettlement(ctx context.Context, sessionID string) error
}

// Levels moves a chat between phases. levels.Manager implements it.
type Levels interface {
	Set(ctx context.Context, chatID int64, level string) error
	SetBaseLevel(ctx context.Context, chatID int64) error
}

// SettingsSource is read-only for the engine.
type SettingsSource interface {
	Get(ctx context.Context, chatID int64) (domain.ChatSettings, bool, error)
}

type Deps struct {
	Rooms    RoomStore
	Levels   Levels
	Settings SettingsSource
	Stats    *stats.Recorder
	Judge    judge.Judge
	Words    judge.WordGenerator
	Notifier Notifier
	Locks    chatlock.Locker
	Logger   *zap.Logger
}

// Engine owns room lifecycle and the turn protocol. Every operation holds the chat lock
// for its whole duration, so transitions of one chat are serialized while other chats
// proceed in parallel.
type Engine struct {
	rooms    RoomStore
	levels   Levels
	settings SettingsSource
	recorder *stats.Recorder
	judge    judge.Judge
	words    judge.WordGenerator
	notify   Notifier
	locks    chatlock.Locker
	logger   *zap.Logger

	now            func() time.Time
	seed           func() int64
	typingInterval time.Duration
	typingCeiling  time.Duration
}

func New(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := d.Locks
	if locks == nil {
		locks = chatlock.NewLocal()
	}
	return &Engine{
		rooms:          d.Rooms,
		levels:         d.Levels,
		settings:       d.Settings,
		recorder:       d.Stats,
		judge:          d.Judge,
		words:          d.Words,
		notify:         d.Notifier,
		locks:          locks,
		logger:         logger,
		now:            time.Now,
		seed:           randomSeed,
		typingInterval: typingInterval,
		typingCeiling:  typingCeiling,
	}
}

func randomSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// Create opens a lobby with the creator as the only player.
func (e *Engine) Create(ctx context.Context, chatID int64, creator domain.Player) (domain.Room, error) {
	unlock, err := e.locks.Lock(ctx, chatID)
	if err != nil {
		return domain.Room{}, err
	}
	defer unlock()

	s, err := e.chatSettings(ctx, chatID)
	if err != nil {
		return domain.Room{}, err
	}
	now := e.now()
	creator.JoinedAt = now
	room := domain.Room{
		ChatID:     chatID,
		SessionID:  uuid.NewString(),
		CreatorID:  creator.ID,
		CreatedAt:  now,
		Players:    []domain.Player{creator},
		RandomSeed: e.seed(),
	}
	if err := e.rooms.InsertRoom(ctx, room); err != nil {
		if errors.Is(err, chatstate.ErrExists) {
			return domain.Room{}, ErrRoomExists
		}
		return domain.Room{}, fmt.Errorf("insert room: %w", err)
	}
	if err := e.levels.Set(ctx, chatID, LevelOnboarding); err != nil {
		return domain.Room{}, fmt.Errorf("set level: %w", err)
	}
	e.logger.Info("room_create", obslog.Chat(chatID), obslog.User(creator.ID), zap.String("session_id", room.SessionID))

	return e.showLobby(ctx, room, s), nil
}

// Join seats a player in a lobby that has not started yet.
func (e *Engine) Join(ctx context.Context, chatID int64, p domain.Player) (domain.Room, error) {
	unlock, err := e.locks.Lock(ctx, chatID)
	if err != nil {
		return domain.Room{}, err
	}
	defer unlock()

	room, err := e.loadRoom(ctx, chatID)
	if err != nil {
		return domain.Room{}, err
	}
	if room.IsRunning {
		return domain.Room{}, ErrAlreadyRunning
	}
	if room.HasPlayer(p.ID) {
		return domain.Room{}, ErrAlreadyJoined
	}
	s, err := e.chatSettings(ctx, chatID)
	if err != nil {
		return domain.Room{}, err
	}
	if len(room.Players) >= s.MaxPlayersToPlay {
		return domain.Room{}, ErrRoomFull
	}

	p.JoinedAt = e.now()
	room = room.WithPlayer(p)
	if err := e.rooms.ReplaceRoom(ctx, room); err != nil {
		return domain.Room{}, fmt.Errorf("replace room: %w", err)
	}
	e.logger.Info("room_join", obslog.Chat(chatID), obslog.User(p.ID), zap.Int("players", len(room.Players)))

	return e.showLobby(ctx, room, s), nil
}

// Start shuffles the seats, draws a fresh phrase and opens round zero.
func (e *Engine) Start(ctx context.Context, chatID int64) (domain.Room, error) {
	unlock, err := e.locks.Lock(ctx, chatID)
	if err != nil {
		return domain.Room{}, err
	}
	defer unlock()

	room, err := e.loadRoom(ctx, chatID)
	if err != nil {
		return domain.Room{}, err
	}
	if room.IsRunning {
		return domain.Room{}, ErrAlreadyRunning
	}
	s, err := e.chatSettings(ctx, chatID)
	if err != nil {
		return domain.Room{}, err
	}
	if len(room.Players) < s.MinPlayersToStart {
		return domain.Room{}, ErrNotEnoughPlayers
	}

	stop := e.keepTyping(ctx, chatID)
	text, err := e.words.NewPhrase(ctx, s.Language)
	stop()
	if err != nil {
		return domain.Room{}, fmt.Errorf("new phrase: %w", err)
	}
	phrase := domain.NewPhrase(text)
	if len(phrase) == 0 {
		return domain.Room{}, judge.ErrEmptyPhrase
	}

	lobby := room.OnboardingMessageID
	started := room.
		WithStarted(domain.TurnOrder(room.Players, room.RandomSeed), phrase, s.MaxWordsHint).
		WithOnboardingMessage(nil)
	if err := e.rooms.ReplaceRoom(ctx, started); err != nil {
		return domain.Room{}, fmt.Errorf("replace room: %w", err)
	}
	if err := e.levels.Set(ctx, chatID, LevelPlaying); err != nil {
		return domain.Room{}, fmt.Errorf("set level: %w", err)
	}
	e.logger.Info("room_start", obslog.Chat(chatID), zap.String("session_id", started.SessionID),
		zap.Int("players", len(started.Players)), zap.Int("words", len(phrase)))

	if lobby != nil {
		e.warnNotify("lobby_closed", chatID, e.notify.LobbyClosed(ctx, chatID, *lobby))
	}
	first, _ := started.CurrentPlayer()
	e.warnNotify("started", chatID, e.notify.Started(ctx, started, first))
	return started, nil
}

// Cancel deletes the room. A running game counts as played for every player.
func (e *Engine) Cancel(ctx context.Context, chatID int64) error {
	unlock, err := e.locks.Lock(ctx, chatID)
	if err != nil {
		return err
	}
	defer unlock()

	room, err := e.loadRoom(ctx, chatID)
	if err != nil {
		return err
	}
	if room.IsRunning {
		if _, err := e.settle(ctx, room, 0); err != nil {
			return err
		}
	}
	if err := e.finish(ctx, room, stats.OutcomeCancelled); err != nil {
		return err
	}
	if room.OnboardingMessageID != nil {
		e.warnNotify("lobby_closed", chatID, e.notify.LobbyClosed(ctx, chatID, *room.OnboardingMessageID))
	}
	e.warnNotify("cancelled", chatID, e.notify.Cancelled(ctx, chatID))
	return nil
}

// RemindWord repeats the masked phrase of a running game.
func (e *Engine) RemindWord(ctx context.Context, chatID int64) error {
	unlock, err := e.locks.Lock(ctx, chatID)
	if err != nil {
		return err
	}
	defer unlock()

	room, err := e.loadRoom(ctx, chatID)
	if err != nil {
		return err
	}
	if !room.IsRunning {
		return ErrNotRunning
	}
	return e.notify.WordReminder(ctx, room)
}

// loadRoom maps a missing room to ErrNoRoom and puts the chat back to the base level,
// so a chat stuck in a game level after an expired room recovers on its next message.
func (e *Engine) loadRoom(ctx context.Context, chatID int64) (domain.Room, error) {
	room, err := e.rooms.GetRoom(ctx, chatID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, chatstate.ErrNotFound) {
		return domain.Room{}, fmt.Errorf("get room: %w", err)
	}
	if lerr := e.levels.SetBaseLevel(ctx, chatID); lerr != nil {
		e.logger.Warn("level_reset_failed", obslog.Chat(chatID), zap.Error(lerr))
	}
	return domain.Room{}, ErrNoRoom
}

func (e *Engine) chatSettings(ctx context.Context, chatID int64) (domain.ChatSettings, error) {
	s, _, err := e.settings.Get(ctx, chatID)
	if err != nil {
		return domain.ChatSettings{}, fmt.Errorf("chat settings: %w", err)
	}
	return s, nil
}

// showLobby posts or refreshes the onboarding message and stores its id.
func (e *Engine) showLobby(ctx context.Context, room domain.Room, s domain.ChatSettings) domain.Room {
	id, err := e.notify.Lobby(ctx, room, s)
	if err != nil {
		e.warnNotify("lobby", room.ChatID, err)
		return room
	}
	if room.OnboardingMessageID != nil && *room.OnboardingMessageID == id {
		return room
	}
	room = room.WithOnboardingMessage(&id)
	if err := e.rooms.ReplaceRoom(ctx, room); err != nil {
		e.logger.Warn("lobby_id_store_failed", obslog.Chat(room.ChatID), zap.Error(err))
	}
	return room
}

// settle records a resolved room once per session. A retry after a later store failure
// finds the claim taken and only reads the current standings.
func (e *Engine) settle(ctx context.Context, room domain.Room, winnerID int64) ([]domain.PlayerStats, error) {
	if room.SessionID == "" {
		return e.recorder.Record(ctx, room.Players, winnerID)
	}
	first, err := e.rooms.ClaimSettlement(ctx, room.SessionID)
	if err != nil {
		return nil, fmt.Errorf("claim settlement: %w", err)
	}
	if !first {
		e.logger.Info("room_already_settled", obslog.Chat(room.ChatID), zap.String("session_id", room.SessionID))
		return e.recorder.Current(ctx, room.Players)
	}
	updated, err := e.recorder.Record(ctx, room.Players, winnerID)
	if err != nil {
		if rerr := e.rooms.ReleaseSettlement(ctx, room.SessionID); rerr != nil {
			e.logger.Warn("settlement_release_failed", obslog.Chat(room.ChatID), zap.Error(rerr))
		}
		return nil, err
	}
	return updated, nil
}

// finish removes the room and returns the chat to the base level.
func (e *Engine) finish(ctx context.Context, room domain.Room, outcome stats.Outcome) error {
	if err := e.rooms.DeleteRoom(ctx, room.ChatID); err != nil && !errors.Is(err, chatstate.ErrNotFound) {
		return fmt.Errorf("delete room: %w", err)
	}
	if err := e.levels.SetBaseLevel(ctx, room.ChatID); err != nil {
		return fmt.Errorf("reset level: %w", err)
	}
	e.logger.Info("room_finish", obslog.Chat(room.ChatID), zap.String("session_id", room.SessionID),
		zap.String("outcome", string(outcome)), zap.Int("rounds", room.Round))
	return nil
}

func (e *Engine) warnNotify(event string, chatID int64, err error) {
	if err != nil {
		e.logger.Warn("notify_failed", zap.String("event", event), obslog.Chat(chatID), zap.Error(err))
	}
}
