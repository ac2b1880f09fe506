package gamepresenter

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/game"
	"github.com/park285/guessword-bot/internal/obslog"
	"github.com/park285/guessword-bot/internal/stats"
	"github.com/park285/guessword-bot/internal/tgfast"
	"github.com/park285/guessword-bot/internal/util"
)

// Presenter delivers engine events and command replies to the chat.
type Presenter struct {
	out      tgfast.Egress
	fmt      *Formatter
	wordCard bool
	logger   *zap.Logger
}

var _ game.Notifier = (*Presenter)(nil)

func NewPresenter(out tgfast.Egress, f *Formatter, wordCard bool, logger *zap.Logger) *Presenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presenter{out: out, fmt: f, wordCard: wordCard, logger: logger}
}

func (p *Presenter) Formatter() *Formatter { return p.fmt }

// Reply sends a catalog message.
func (p *Presenter) Reply(ctx context.Context, chatID int64, key string, data any) error {
	return p.Send(ctx, chatID, p.fmt.Text(key, data), nil)
}

func (p *Presenter) Send(ctx context.Context, chatID int64, text string, markup *tgfast.InlineKeyboardMarkup) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := p.out.SendMessage(ctx, chatID, util.ClampMessage(text, util.TelegramMessageLimit), tgfast.SendOptions{Markup: markup})
	return err
}

// Ack answers a button press; a non-empty text is shown to the presser only.
func (p *Presenter) Ack(ctx context.Context, callbackID, text string) error {
	return p.out.AnswerCallbackQuery(ctx, callbackID, text)
}

func (p *Presenter) Delete(ctx context.Context, chatID int64, messageID int) error {
	return p.out.DeleteMessage(ctx, chatID, messageID)
}

func (p *Presenter) Lobby(ctx context.Context, room domain.Room, s domain.ChatSettings) (int, error) {
	text, markup := p.fmt.Lobby(room, s)
	if room.OnboardingMessageID != nil {
		id := *room.OnboardingMessageID
		err := p.out.EditMessageText(ctx, room.ChatID, id, text, markup)
		if err == nil {
			return id, nil
		}
		p.logger.Warn("lobby_edit_failed", obslog.Chat(room.ChatID), zap.Error(err))
	}
	m, err := p.out.SendMessage(ctx, room.ChatID, text, tgfast.SendOptions{Markup: markup})
	if err != nil {
		return 0, err
	}
	return m.MessageID, nil
}

func (p *Presenter) LobbyClosed(ctx context.Context, chatID int64, messageID int) error {
	return p.out.DeleteMessage(ctx, chatID, messageID)
}

func (p *Presenter) Started(ctx context.Context, room domain.Room, first domain.Player) error {
	if err := p.Reply(ctx, room.ChatID, "game.welcome", map[string]any{"MaxWords": room.MaxWordsPerHint}); err != nil {
		return err
	}
	msg, err := p.announceWord(ctx, room)
	if err != nil {
		return err
	}
	if err := p.out.PinChatMessage(ctx, room.ChatID, msg.MessageID); err != nil {
		p.logger.Warn("pin_failed", obslog.Chat(room.ChatID), zap.Error(err))
	}
	return p.Reply(ctx, room.ChatID, "game.first_player", map[string]any{"Mention": Mention(first)})
}

// announceWord sends the secret as a card when enabled and drawable, else as text.
func (p *Presenter) announceWord(ctx context.Context, room domain.Room) (*tgfast.Message, error) {
	text := p.fmt.Text("game.word", map[string]any{"Phrase": room.Phrase.Text()})
	if p.wordCard && CardSupported(room.Phrase.Text()) {
		card, err := RenderCard("", room.Phrase)
		if err == nil {
			return p.out.SendPhoto(ctx, room.ChatID, card, util.ClampMessage(text, util.TelegramCaptionLimit), tgfast.SendOptions{DisableNotification: true})
		}
		p.logger.Warn("card_render_failed", obslog.Chat(room.ChatID), zap.Error(err))
	}
	return p.out.SendMessage(ctx, room.ChatID, text, tgfast.SendOptions{})
}

func (p *Presenter) HintRejected(ctx context.Context, chatID int64, r game.Rejection) error {
	switch {
	case r.Empty:
		return p.Reply(ctx, chatID, "game.hint_empty", map[string]any{"MaxWords": r.MaxWords})
	case r.TooLong:
		return p.Reply(ctx, chatID, "game.hint_too_long", map[string]any{"MaxWords": r.MaxWords})
	case strings.TrimSpace(r.Reason) != "":
		return p.Reply(ctx, chatID, "game.hint_invalid", map[string]any{"Reason": r.Reason})
	default:
		return p.Reply(ctx, chatID, "game.hint_invalid_plain", nil)
	}
}

func (p *Presenter) TurnPlayed(ctx context.Context, t game.TurnReport) error {
	chatID := t.Room.ChatID
	if err := p.Send(ctx, chatID, p.fmt.Turn(t.Guess, t.Room.Phrase, t.TriesLeft, t.Next), nil); err != nil {
		return err
	}
	if t.OfferControls {
		return p.Send(ctx, chatID, p.fmt.Text("game.controls", nil), p.fmt.ControlsKeyboard())
	}
	return nil
}

func (p *Presenter) Won(ctx context.Context, room domain.Room, winner domain.Player, guess string, standings []stats.Standing) error {
	lines := []string{
		p.fmt.Text("game.guess", map[string]any{"Guess": guess}),
		p.fmt.Text("game.won", map[string]any{"Mention": Mention(winner)}),
		p.fmt.Text("game.word_found", map[string]any{"Phrase": room.Phrase.Text()}),
		"",
		p.fmt.Leaderboard(standings),
	}
	if err := p.Send(ctx, room.ChatID, strings.Join(lines, "\n"), nil); err != nil {
		return err
	}
	return p.ended(ctx, room.ChatID)
}

func (p *Presenter) TimedOut(ctx context.Context, room domain.Room, guess string) error {
	lines := []string{
		p.fmt.Text("game.guess", map[string]any{"Guess": guess}),
		p.fmt.Text("game.timed_out", map[string]any{"Phrase": room.Phrase.Text()}),
	}
	if err := p.Send(ctx, room.ChatID, strings.Join(lines, "\n"), nil); err != nil {
		return err
	}
	return p.ended(ctx, room.ChatID)
}

func (p *Presenter) Cancelled(ctx context.Context, chatID int64) error {
	p.unpin(ctx, chatID)
	return p.Send(ctx, chatID, p.fmt.Text("game.cancelled", nil), p.fmt.NewGameKeyboard())
}

func (p *Presenter) ended(ctx context.Context, chatID int64) error {
	p.unpin(ctx, chatID)
	return p.Send(ctx, chatID, p.fmt.Text("game.ended", nil), p.fmt.NewGameKeyboard())
}

// unpin drops the pinned word announcement; a missing pin is not an error worth a reply.
func (p *Presenter) unpin(ctx context.Context, chatID int64) {
	if err := p.out.UnpinChatMessage(ctx, chatID, 0); err != nil {
		p.logger.Debug("unpin_failed", obslog.Chat(chatID), zap.Error(err))
	}
}

func (p *Presenter) WordReminder(ctx context.Context, room domain.Room) error {
	text := p.fmt.Text("game.reminder", map[string]any{"Phrase": room.Phrase.Text(), "Tries": room.History.Guesses()})
	if p.wordCard && CardSupported(room.Phrase.Text()) {
		if card, err := RenderCard(room.Phrase.Mask(), room.Phrase); err == nil {
			_, err = p.out.SendPhoto(ctx, room.ChatID, card, util.ClampMessage(text, util.TelegramCaptionLimit), tgfast.SendOptions{})
			return err
		}
	}
	return p.Send(ctx, room.ChatID, text, nil)
}

func (p *Presenter) Typing(ctx context.Context, chatID int64) error {
	return p.out.SendChatAction(ctx, chatID, "typing")
}
