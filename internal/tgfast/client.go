package tgfast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const DefaultAPIURL = "https://api.telegram.org"

// Client calls the Telegram Bot API over fasthttp.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// NewClient targets apiURL/bot<token>/. An empty apiURL means the public Bot API.
func NewClient(apiURL, token string, opts ...Option) *Client {
	if strings.TrimSpace(apiURL) == "" {
		apiURL = DefaultAPIURL
	}
	c := &Client{
		baseURL:        strings.TrimRight(apiURL, "/") + "/bot" + token,
		http:           &fasthttp.Client{ReadTimeout: 70 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendOptions are the optional parts of sendMessage and sendPhoto.
type SendOptions struct {
	Markup              *InlineKeyboardMarkup
	DisableNotification bool
}

type sendMessageRequest struct {
	ChatID              int64                 `json:"chat_id"`
	Text                string                `json:"text"`
	ParseMode           string                `json:"parse_mode,omitempty"`
	ReplyMarkup         *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
	DisableNotification bool                  `json:"disable_notification,omitempty"`
}

type editMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int                   `json:"message_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type messageRef struct {
	ChatID              int64 `json:"chat_id"`
	MessageID           int   `json:"message_id,omitempty"`
	DisableNotification bool  `json:"disable_notification,omitempty"`
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := c.call(ctx, "getMe", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SendMessage sends HTML formatted text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (*Message, error) {
	req := sendMessageRequest{
		ChatID:              chatID,
		Text:                text,
		ParseMode:           "HTML",
		ReplyMarkup:         opts.Markup,
		DisableNotification: opts.DisableNotification,
	}
	var m Message
	if err := c.call(ctx, "sendMessage", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// EditMessageText replaces text and keyboard. Editing to identical content is not an error.
func (c *Client) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *InlineKeyboardMarkup) error {
	req := editMessageRequest{ChatID: chatID, MessageID: messageID, Text: text, ParseMode: "HTML", ReplyMarkup: markup}
	err := c.call(ctx, "editMessageText", req, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.NotModified() {
		return nil
	}
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return c.call(ctx, "deleteMessage", messageRef{ChatID: chatID, MessageID: messageID}, nil)
}

func (c *Client) PinChatMessage(ctx context.Context, chatID int64, messageID int) error {
	return c.call(ctx, "pinChatMessage", messageRef{ChatID: chatID, MessageID: messageID, DisableNotification: true}, nil)
}

func (c *Client) UnpinChatMessage(ctx context.Context, chatID int64, messageID int) error {
	return c.call(ctx, "unpinChatMessage", messageRef{ChatID: chatID, MessageID: messageID}, nil)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	req := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		req["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", req, nil)
}

func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.call(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": action}, nil)
}

// SendPhoto uploads a PNG with an optional HTML caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string, opts SendOptions) (*Message, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if caption != "" {
		fields["caption"] = caption
		fields["parse_mode"] = "HTML"
	}
	if opts.DisableNotification {
		fields["disable_notification"] = "true"
	}
	if opts.Markup != nil {
		raw, err := json.Marshal(opts.Markup)
		if err != nil {
			return nil, fmt.Errorf("marshal markup: %w", err)
		}
		fields["reply_markup"] = string(raw)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("photo", "card.png")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(png); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var m Message
	if err := c.do(ctx, "sendPhoto", w.FormDataContentType(), body.Bytes(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetUpdates long-polls for at most timeout seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	req := map[string]any{
		"offset":          offset,
		"timeout":         timeout,
		"allowed_updates": []string{"message", "callback_query"},
	}
	var out []Update
	if err := c.callWithin(ctx, "getUpdates", req, &out, time.Duration(timeout)*time.Second+c.defaultTimeout); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetWebhookInfo(ctx context.Context) (*WebhookInfo, error) {
	var info WebhookInfo
	if err := c.call(ctx, "getWebhookInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) SetWebhook(ctx context.Context, url string) error {
	req := map[string]any{"url": url, "allowed_updates": []string{"message", "callback_query"}}
	return c.call(ctx, "setWebhook", req, nil)
}

// DeleteWebhook is required before getUpdates works on a bot that had a webhook.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": false}, nil)
}

func (c *Client) call(ctx context.Context, method string, in any, out any) error {
	return c.callWithin(ctx, method, in, out, c.defaultTimeout)
}

func (c *Client) callWithin(ctx context.Context, method string, in any, out any, timeout time.Duration) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", method, err)
		}
		payload = b
	}
	return c.doWithin(ctx, method, "application/json", payload, out, timeout)
}

func (c *Client) do(ctx context.Context, method, contentType string, body []byte, out any) error {
	return c.doWithin(ctx, method, contentType, body, out, c.defaultTimeout)
}

func (c *Client) doWithin(ctx context.Context, method, contentType string, body []byte, out any, timeout time.Duration) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/" + method)
	req.Header.SetContentType(contentType)
	if body != nil {
		req.SetBody(body)
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, computeDeadline(ctx, timeout)); err != nil {
			lastErr = fmt.Errorf("%s request failed: %w", method, err)
			if attempt == attempts || ctx.Err() != nil {
				return lastErr
			}
			if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
				return lastErr
			}
			continue
		}

		var env apiResponse
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			return fmt.Errorf("%s: decode response (status=%d): %w", method, resp.StatusCode(), err)
		}
		if env.OK {
			if out != nil && len(env.Result) > 0 {
				if err := json.Unmarshal(env.Result, out); err != nil {
					return fmt.Errorf("%s: decode result: %w", method, err)
				}
			}
			return nil
		}

		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		lastErr = apiErr
		if attempt == attempts || !shouldRetryStatus(apiErr.Code) {
			return apiErr
		}
		wait := backoffDuration(attempt)
		if apiErr.RetryAfter > 0 {
			wait = time.Duration(apiErr.RetryAfter) * time.Second
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func computeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	clientDL := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
