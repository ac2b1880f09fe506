package bot

import (
	"context"
	"errors"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/adapter/gamepresenter"
	"github.com/park285/guessword-bot/internal/levels"
	"github.com/park285/guessword-bot/internal/obslog"
	"github.com/park285/guessword-bot/internal/settings"
	"github.com/park285/guessword-bot/internal/tgfast"
)

// Dispatcher turns inbound updates into registry actions. It does not lock; every engine
// operation takes the chat lock itself.
type Dispatcher struct {
	registry *levels.Registry
	settings *settings.Provider
	out      *gamepresenter.Presenter
	botID    int64
	logger   *zap.Logger
}

func NewDispatcher(registry *levels.Registry, sp *settings.Provider, out *gamepresenter.Presenter, botID int64, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, settings: sp, out: out, botID: botID, logger: logger}
}

// Handle processes one update; its signature matches tgfast.UpdateHandler.
func (d *Dispatcher) Handle(ctx context.Context, u tgfast.Update) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch_panic", zap.Int64("update_id", u.UpdateID), zap.Any("panic", r))
			if chatID := updateChat(u); chatID != 0 {
				d.reply(ctx, chatID, "errors.oops", nil)
			}
		}
	}()
	switch {
	case u.CallbackQuery != nil:
		d.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		d.handleMessage(ctx, u.Message)
	}
}

func updateChat(u tgfast.Update) int64 {
	switch {
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message.Chat.ID
	case u.Message != nil:
		return u.Message.Chat.ID
	}
	return 0
}

func (d *Dispatcher) handleMessage(ctx context.Context, m *tgfast.Message) {
	chatID := m.Chat.ID
	if chatID == 0 || m.From == nil {
		return
	}
	if m.PinnedMessage != nil {
		if d.botID == 0 || m.From.ID == d.botID {
			if err := d.out.Delete(ctx, chatID, m.MessageID); err != nil {
				d.logger.Debug("pin_notice_delete_failed", obslog.Chat(chatID), zap.Error(err))
			}
		}
		return
	}
	if m.From.IsBot || strings.TrimSpace(m.Text) == "" {
		return
	}

	allowed, err := d.allowed(ctx, chatID, m.From.ID)
	if err != nil {
		d.fail(ctx, chatID, "whitelist", err)
		return
	}
	if !allowed {
		d.reply(ctx, chatID, "errors.not_whitelisted", nil)
		return
	}

	base := levels.Command{ChatID: chatID, UserID: m.From.ID, UserName: m.From.DisplayName(), MessageID: m.MessageID}
	if parsed := ParseCommands(m); len(parsed) > 0 {
		d.runCommands(ctx, base, parsed)
		return
	}

	h, name, err := d.registry.Resolve(ctx, chatID, levels.TextAction)
	if errors.Is(err, levels.ErrNoHandler) {
		return
	}
	if err != nil {
		d.fail(ctx, chatID, levels.TextAction, err)
		return
	}
	cmd := base
	cmd.Name = name
	cmd.Body = m.Text
	d.report(ctx, cmd, h.Handle(ctx, cmd))
}

// runCommands executes the first command the chat's level knows; the rest are ignored.
func (d *Dispatcher) runCommands(ctx context.Context, base levels.Command, parsed []ParsedCommand) {
	names := make([]string, 0, len(parsed))
	for _, p := range parsed {
		names = append(names, p.Name)
		h, name, err := d.registry.Resolve(ctx, base.ChatID, p.Name)
		if errors.Is(err, levels.ErrNoHandler) {
			continue
		}
		if err != nil {
			d.fail(ctx, base.ChatID, p.Name, err)
			return
		}
		cmd := base
		cmd.Name = name
		cmd.Params = p.Params
		cmd.Body = p.Body
		d.report(ctx, cmd, h.Handle(ctx, cmd))
		return
	}
	d.reply(ctx, base.ChatID, "errors.unknown_command", map[string]any{"Command": strings.Join(names, ", ")})
}

// handleCallback resolves a button press like a typed command and always answers it once.
func (d *Dispatcher) handleCallback(ctx context.Context, q *tgfast.CallbackQuery) {
	answer := ""
	defer func() {
		if err := d.out.Ack(ctx, q.ID, answer); err != nil {
			d.logger.Debug("callback_ack_failed", zap.String("callback_id", q.ID), zap.Error(err))
		}
	}()
	if q.Message == nil || q.Message.Chat.ID == 0 {
		return
	}
	chatID := q.Message.Chat.ID

	allowed, err := d.allowed(ctx, chatID, q.From.ID)
	if err != nil {
		d.logger.Error("whitelist_failed", obslog.Chat(chatID), zap.Error(err))
		answer = d.plain("errors.oops", nil)
		return
	}
	if !allowed {
		answer = d.plain("errors.not_whitelisted", nil)
		return
	}

	parsed, ok := CallbackCommand(q.Data)
	if !ok {
		answer = d.plain("errors.unknown_command", map[string]any{"Command": q.Data})
		return
	}
	h, name, err := d.registry.Resolve(ctx, chatID, parsed.Name)
	if errors.Is(err, levels.ErrNoHandler) {
		answer = d.plain("errors.unknown_command", map[string]any{"Command": parsed.Name})
		return
	}
	if err != nil {
		d.logger.Error("resolve_failed", obslog.Chat(chatID), zap.String("action", parsed.Name), zap.Error(err))
		answer = d.plain("errors.oops", nil)
		return
	}
	cmd := levels.Command{
		ChatID:     chatID,
		UserID:     q.From.ID,
		UserName:   q.From.DisplayName(),
		Name:       name,
		Params:     parsed.Params,
		MessageID:  q.Message.MessageID,
		CallbackID: q.ID,
	}
	if err := h.Handle(ctx, cmd); err != nil {
		key, data, expected := denialMessage(err)
		if !expected {
			d.logger.Error("action_failed", obslog.Chat(chatID), zap.String("action", name), zap.Error(err))
		}
		answer = d.plain(key, data)
	}
}

// allowed serves registered chats; the global admin is served everywhere so they can register.
func (d *Dispatcher) allowed(ctx context.Context, chatID, userID int64) (bool, error) {
	if d.settings.IsGlobalAdmin(userID) {
		return true, nil
	}
	_, found, err := d.settings.Get(ctx, chatID)
	return found, err
}

// report sends the single reply owed for a failed action.
func (d *Dispatcher) report(ctx context.Context, cmd levels.Command, err error) {
	if err == nil {
		return
	}
	key, data, expected := denialMessage(err)
	if !expected {
		d.logger.Error("action_failed", obslog.Chat(cmd.ChatID), obslog.User(cmd.UserID), zap.String("action", cmd.Name), zap.Error(err))
	}
	d.reply(ctx, cmd.ChatID, key, data)
}

func (d *Dispatcher) fail(ctx context.Context, chatID int64, action string, err error) {
	d.logger.Error("dispatch_failed", obslog.Chat(chatID), zap.String("action", action), zap.Error(err))
	d.reply(ctx, chatID, "errors.oops", nil)
}

func (d *Dispatcher) reply(ctx context.Context, chatID int64, key string, data any) {
	if err := d.out.Reply(ctx, chatID, key, data); err != nil {
		d.logger.Warn("reply_failed", obslog.Chat(chatID), zap.String("key", key), zap.Error(err))
	}
}

// plain renders a catalog message for a callback answer, which does not take HTML.
func (d *Dispatcher) plain(key string, data any) string {
	return html.UnescapeString(d.out.Formatter().Text(key, data))
}
