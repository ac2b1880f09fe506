package tgfast

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Egress is every outbound call the bot makes while playing. Client implements it.
type Egress interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (*Message, error)
	SendPhoto(ctx context.Context, chatID int64, png []byte, caption string, opts SendOptions) (*Message, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *InlineKeyboardMarkup) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	PinChatMessage(ctx context.Context, chatID int64, messageID int) error
	UnpinChatMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

var _ Egress = (*Client)(nil)

// NewEgress returns c, or a logging stand-in when dryrun is set.
func NewEgress(c *Client, dryrun bool, logger *zap.Logger) Egress {
	if !dryrun {
		return c
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dryRunEgress{logger: logger}
}

// dryRunEgress logs outbound calls and hands out increasing message ids.
type dryRunEgress struct {
	logger *zap.Logger
	nextID atomic.Int64
}

func (d *dryRunEgress) message(chatID int64) *Message {
	return &Message{MessageID: int(d.nextID.Add(1)), Chat: Chat{ID: chatID}}
}

func (d *dryRunEgress) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (*Message, error) {
	m := d.message(chatID)
	d.logger.Info("egress_dryrun", zap.String("method", "sendMessage"), zap.Int64("chat_id", chatID),
		zap.Int("message_id", m.MessageID), zap.String("text", text), zap.Bool("markup", opts.Markup != nil))
	return m, nil
}

func (d *dryRunEgress) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string, opts SendOptions) (*Message, error) {
	m := d.message(chatID)
	d.logger.Info("egress_dryrun", zap.String("method", "sendPhoto"), zap.Int64("chat_id", chatID),
		zap.Int("message_id", m.MessageID), zap.Int("bytes", len(png)), zap.String("caption", caption))
	return m, nil
}

func (d *dryRunEgress) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *InlineKeyboardMarkup) error {
	d.logger.Info("egress_dryrun", zap.String("method", "editMessageText"), zap.Int64("chat_id", chatID),
		zap.Int("message_id", messageID), zap.String("text", text))
	return nil
}

func (d *dryRunEgress) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	d.logger.Info("egress_dryrun", zap.String("method", "deleteMessage"), zap.Int64("chat_id", chatID), zap.Int("message_id", messageID))
	return nil
}

func (d *dryRunEgress) PinChatMessage(ctx context.Context, chatID int64, messageID int) error {
	d.logger.Info("egress_dryrun", zap.String("method", "pinChatMessage"), zap.Int64("chat_id", chatID), zap.Int("message_id", messageID))
	return nil
}

func (d *dryRunEgress) UnpinChatMessage(ctx context.Context, chatID int64, messageID int) error {
	d.logger.Info("egress_dryrun", zap.String("method", "unpinChatMessage"), zap.Int64("chat_id", chatID))
	return nil
}

func (d *dryRunEgress) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	d.logger.Info("egress_dryrun", zap.String("method", "answerCallbackQuery"), zap.String("callback_id", callbackID), zap.String("text", text))
	return nil
}

func (d *dryRunEgress) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return nil
}
