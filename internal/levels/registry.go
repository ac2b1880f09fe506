package levels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/park285/guessword-bot/internal/domain"
)

const (
	// BaseLevel is the open-world phase every chat starts in.
	BaseLevel = ""
	// AllLevels binds an action in every phase.
	AllLevels = "*"
	// TextAction handles messages that carry no command.
	TextAction = "__text__"
)

var (
	ErrUnknownLevel = errors.New("chat is on a level with no registered actions")
	ErrNoHandler    = errors.New("no handler for action")
)

// Command is one resolved unit of inbound work.
type Command struct {
	ChatID     int64
	UserID     int64
	UserName   string
	Name       string
	Params     []string
	Body       string
	MessageID  int
	CallbackID string
}

func (c Command) FromCallback() bool { return c.CallbackID != "" }

type Handler interface {
	Handle(ctx context.Context, cmd Command) error
}

type HandlerFunc func(ctx context.Context, cmd Command) error

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// Binding is one (action, level) pair a handler serves.
type Binding struct {
	Action string
	Level  string
}

func On(action, level string) Binding { return Binding{Action: action, Level: level} }

type entry struct {
	action  string
	handler Handler
}

// Registry indexes handlers by level. It is filled once at startup and read-only after.
type Registry struct {
	mu      sync.RWMutex
	byLevel map[string][]entry
	states  *Manager
}

func NewRegistry(states *Manager) *Registry {
	return &Registry{byLevel: make(map[string][]entry), states: states}
}

// Register adds h under every binding. A later registration of an action already
// bound on the same level is shadowed by the first one.
func (r *Registry) Register(h Handler, bindings ...Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range bindings {
		r.byLevel[b.Level] = append(r.byLevel[b.Level], entry{action: b.Action, handler: h})
	}
}

// Resolve finds the handler for action in the chat's current level, falling back to
// the AllLevels index. It returns the canonical action name as registered.
func (r *Registry) Resolve(ctx context.Context, chatID int64, action string) (Handler, string, error) {
	st, err := r.states.Current(ctx, chatID)
	if err != nil {
		return nil, "", err
	}
	h, name, err := r.lookup(st.Level, action)
	if err != nil {
		return nil, "", err
	}
	return h, name, nil
}

func (r *Registry) lookup(level, action string) (Handler, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries, ok := r.byLevel[level]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
	if h, name, ok := find(entries, action); ok {
		return h, name, nil
	}
	if h, name, ok := find(r.byLevel[AllLevels], action); ok {
		return h, name, nil
	}
	return nil, "", ErrNoHandler
}

func find(entries []entry, action string) (Handler, string, bool) {
	for _, e := range entries {
		if strings.EqualFold(e.action, action) {
			return e.handler, e.action, true
		}
	}
	return nil, "", false
}

// StateStore is the persistence the Manager needs.
type StateStore interface {
	GetLevel(ctx context.Context, chatID int64) (domain.ChatLevelState, error)
	InsertLevel(ctx context.Context, st domain.ChatLevelState) error
	ReplaceLevel(ctx context.Context, st domain.ChatLevelState) error
}

// Manager reads and replaces a chat's current level.
type Manager struct {
	store   StateStore
	isMiss  func(error) bool
	isTaken func(error) bool
	now     func() time.Time
}

// NewManager wires store; notFound and exists classify the store's own sentinel errors.
func NewManager(store StateStore, notFound, exists error) *Manager {
	return &Manager{
		store:   store,
		isMiss:  func(err error) bool { return errors.Is(err, notFound) },
		isTaken: func(err error) bool { return errors.Is(err, exists) },
		now:     time.Now,
	}
}

// Current returns the stored state, creating a base-level record on first lookup.
func (m *Manager) Current(ctx context.Context, chatID int64) (domain.ChatLevelState, error) {
	st, err := m.store.GetLevel(ctx, chatID)
	if err == nil {
		return st, nil
	}
	if !m.isMiss(err) {
		return domain.ChatLevelState{}, err
	}
	st = domain.ChatLevelState{ChatID: chatID, Level: BaseLevel, UpdatedAt: m.now()}
	if err := m.store.InsertLevel(ctx, st); err != nil {
		if m.isTaken(err) {
			return m.store.GetLevel(ctx, chatID)
		}
		return domain.ChatLevelState{}, err
	}
	return st, nil
}

// Set replaces the level without checking that it is registered.
func (m *Manager) Set(ctx context.Context, chatID int64, level string) error {
	st, err := m.Current(ctx, chatID)
	if err != nil {
		return err
	}
	st.Level = level
	st.UpdatedAt = m.now()
	return m.store.ReplaceLevel(ctx, st)
}

func (m *Manager) SetBaseLevel(ctx context.Context, chatID int64) error {
	return m.Set(ctx, chatID, BaseLevel)
}
