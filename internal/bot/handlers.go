package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/adapter/gamepresenter"
	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/game"
	"github.com/park285/guessword-bot/internal/levels"
	"github.com/park285/guessword-bot/internal/obslog"
	"github.com/park285/guessword-bot/internal/settings"
	"github.com/park285/guessword-bot/internal/stats"
)

const topLimit = 10

// Action names as typed after the slash or carried by buttons.
const (
	ActionNew        = "new"
	ActionJoin       = "join"
	ActionRun        = "run"
	ActionCancel     = "cancel"
	ActionWord       = "word"
	ActionMe         = "me"
	ActionTop        = "top"
	ActionHelp       = "help"
	ActionSettings   = "settings"
	ActionRegister   = "register"
	ActionUnregister = "unregister"
)

var errNotAdmin = errors.New("admin only")

// denial is a handler outcome that already has a user-facing message.
type denial struct {
	key  string
	data any
}

func (d *denial) Error() string { return "denied: " + d.key }

func deny(key string, data any) error { return &denial{key: key, data: data} }

// Handlers implements every chat action on top of the engine.
type Handlers struct {
	engine   *game.Engine
	settings *settings.Provider
	levels   *levels.Manager
	stats    stats.Repository
	out      *gamepresenter.Presenter
	logger   *zap.Logger
}

func NewHandlers(engine *game.Engine, sp *settings.Provider, lm *levels.Manager, sr stats.Repository, out *gamepresenter.Presenter, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{engine: engine, settings: sp, levels: lm, stats: sr, out: out, logger: logger}
}

// Register fills r with the action table. Order matters only within one level.
func (h *Handlers) Register(r *levels.Registry) {
	r.Register(levels.HandlerFunc(h.newGame), levels.On(ActionNew, levels.BaseLevel))
	r.Register(levels.HandlerFunc(h.join), levels.On(ActionJoin, game.LevelOnboarding))
	r.Register(levels.HandlerFunc(h.run), levels.On(ActionRun, game.LevelOnboarding))
	r.Register(levels.HandlerFunc(h.cancel),
		levels.On(ActionCancel, game.LevelOnboarding),
		levels.On(ActionCancel, game.LevelPlaying))
	r.Register(levels.HandlerFunc(h.word), levels.On(ActionWord, game.LevelPlaying))
	r.Register(levels.HandlerFunc(h.text), levels.On(levels.TextAction, game.LevelPlaying))

	r.Register(levels.HandlerFunc(h.me), levels.On(ActionMe, levels.AllLevels))
	r.Register(levels.HandlerFunc(h.top), levels.On(ActionTop, levels.AllLevels))
	r.Register(levels.HandlerFunc(h.help), levels.On(ActionHelp, levels.AllLevels))
	r.Register(levels.HandlerFunc(h.showOrSetSettings), levels.On(ActionSettings, levels.AllLevels))
	r.Register(levels.HandlerFunc(h.registration),
		levels.On(ActionRegister, levels.BaseLevel),
		levels.On(ActionUnregister, levels.BaseLevel))
}

func player(cmd levels.Command) domain.Player {
	return domain.Player{ID: cmd.UserID, Name: cmd.UserName}
}

func (h *Handlers) newGame(ctx context.Context, cmd levels.Command) error {
	if _, err := h.engine.Create(ctx, cmd.ChatID, player(cmd)); err != nil {
		return err
	}
	// 버튼으로 시작하면 버튼이 달린 종료 메시지는 지운다
	if cmd.FromCallback() && cmd.MessageID != 0 {
		if err := h.out.Delete(ctx, cmd.ChatID, cmd.MessageID); err != nil {
			h.logger.Debug("delete_button_message_failed", obslog.Chat(cmd.ChatID), zap.Error(err))
		}
	}
	return nil
}

func (h *Handlers) join(ctx context.Context, cmd levels.Command) error {
	_, err := h.engine.Join(ctx, cmd.ChatID, player(cmd))
	return err
}

func (h *Handlers) run(ctx context.Context, cmd levels.Command) error {
	_, err := h.engine.Start(ctx, cmd.ChatID)
	if errors.Is(err, game.ErrNotEnoughPlayers) {
		s, _, serr := h.settings.Get(ctx, cmd.ChatID)
		if serr != nil {
			return serr
		}
		return deny("errors.not_enough_players", map[string]any{"Min": s.MinPlayersToStart})
	}
	return err
}

func (h *Handlers) cancel(ctx context.Context, cmd levels.Command) error {
	return h.engine.Cancel(ctx, cmd.ChatID)
}

func (h *Handlers) word(ctx context.Context, cmd levels.Command) error {
	return h.engine.RemindWord(ctx, cmd.ChatID)
}

// text feeds a free-text message to the turn protocol. Non-turn messages are ignored.
func (h *Handlers) text(ctx context.Context, cmd levels.Command) error {
	res, err := h.engine.ProcessTurnText(ctx, cmd.ChatID, player(cmd), cmd.Body)
	if err != nil {
		return err
	}
	if res.Outcome != game.TurnIgnored {
		h.logger.Debug("turn_done", obslog.Chat(cmd.ChatID), obslog.User(cmd.UserID), zap.Stringer("outcome", res.Outcome))
	}
	return nil
}

func (h *Handlers) me(ctx context.Context, cmd levels.Command) error {
	ps, err := h.stats.Get(ctx, cmd.UserID)
	if err != nil {
		return fmt.Errorf("player stats: %w", err)
	}
	return h.out.Send(ctx, cmd.ChatID, h.out.Formatter().PlayerStats(cmd.UserName, ps), nil)
}

func (h *Handlers) top(ctx context.Context, cmd levels.Command) error {
	entries, err := h.stats.Top(ctx, topLimit)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}
	return h.out.Send(ctx, cmd.ChatID, h.out.Formatter().Leaderboard(stats.Rank(entries)), nil)
}

func (h *Handlers) help(ctx context.Context, cmd levels.Command) error {
	return h.out.Reply(ctx, cmd.ChatID, "help", nil)
}

func (h *Handlers) requireAdmin(ctx context.Context, cmd levels.Command) error {
	ok, err := h.settings.IsAdmin(ctx, cmd.ChatID, cmd.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotAdmin
	}
	return nil
}

// showOrSetSettings shows the chat settings, or sets one field with /settings name value.
func (h *Handlers) showOrSetSettings(ctx context.Context, cmd levels.Command) error {
	if err := h.requireAdmin(ctx, cmd); err != nil {
		return err
	}
	current, _, err := h.settings.Get(ctx, cmd.ChatID)
	if err != nil {
		return err
	}
	if len(cmd.Params) == 0 {
		st, err := h.levels.Current(ctx, cmd.ChatID)
		if err != nil {
			return err
		}
		return h.out.Send(ctx, cmd.ChatID, h.out.Formatter().Settings(current, st.Level, settings.Fields()), nil)
	}
	if len(cmd.Params) < 2 {
		return deny("errors.bad_setting", map[string]any{"Name": cmd.Params[0], "Reason": "missing value"})
	}
	name, value := cmd.Params[0], cmd.Params[1]
	next, err := settings.Apply(current, name, value)
	if err != nil {
		if errors.Is(err, settings.ErrUnknownField) || errors.Is(err, settings.ErrInvalidValue) {
			return deny("errors.bad_setting", map[string]any{"Name": name, "Reason": err.Error()})
		}
		return err
	}
	if err := h.settings.Set(ctx, next); err != nil {
		return err
	}
	h.logger.Info("settings_updated", obslog.Chat(cmd.ChatID), obslog.User(cmd.UserID), zap.String("field", name))
	return h.out.Reply(ctx, cmd.ChatID, "settings.updated", map[string]any{"Name": name})
}

// registration whitelists or removes the chat. /register_<userID> names a chat admin.
func (h *Handlers) registration(ctx context.Context, cmd levels.Command) error {
	if err := h.requireAdmin(ctx, cmd); err != nil {
		return err
	}
	if cmd.Name == ActionUnregister {
		if err := h.settings.Unregister(ctx, cmd.ChatID); err != nil {
			return err
		}
		h.logger.Info("chat_unregistered", obslog.Chat(cmd.ChatID), obslog.User(cmd.UserID))
		return h.out.Reply(ctx, cmd.ChatID, "admin.unregistered", nil)
	}
	var adminID int64
	if len(cmd.Params) > 0 {
		n, err := strconv.ParseInt(cmd.Params[0], 10, 64)
		if err != nil {
			return deny("errors.bad_setting", map[string]any{"Name": "admin", "Reason": "not a user id"})
		}
		adminID = n
	}
	if _, err := h.settings.Register(ctx, cmd.ChatID, adminID); err != nil {
		return err
	}
	h.logger.Info("chat_registered", obslog.Chat(cmd.ChatID), obslog.User(cmd.UserID))
	return h.out.Reply(ctx, cmd.ChatID, "admin.registered", nil)
}

// denialMessage maps an action error to its catalog reply; ok is false for failures
// that are not the user's doing.
func denialMessage(err error) (key string, data any, ok bool) {
	var d *denial
	if errors.As(err, &d) {
		return d.key, d.data, true
	}
	switch {
	case errors.Is(err, errNotAdmin):
		return "errors.admin_only", nil, true
	case errors.Is(err, game.ErrRoomExists):
		return "errors.room_exists", nil, true
	case errors.Is(err, game.ErrNoRoom):
		return "errors.no_room", nil, true
	case errors.Is(err, game.ErrAlreadyJoined):
		return "errors.already_joined", nil, true
	case errors.Is(err, game.ErrRoomFull):
		return "errors.room_full", nil, true
	case errors.Is(err, game.ErrAlreadyRunning):
		return "errors.already_running", nil, true
	case errors.Is(err, game.ErrNotRunning):
		return "errors.not_running", nil, true
	}
	return "errors.oops", nil, false
}
