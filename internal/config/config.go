package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	TelegramToken  string
	TelegramAPIURL string

	IngressMode   string // webhook | poll | ws
	WebhookListen string
	WebhookPath   string
	RelayWSURL    string
	RelayToken    string

	RedisURL    string
	DatabaseURL string

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	GameMode      string // two | single
	GlobalAdminID int64
	LockMode      string // local | redis

	MessagesDir string
	WordCard    bool
	DryRun      bool // log outbound calls instead of sending

	Defaults SettingsDefaults
}

// SettingsDefaults seed the settings of newly registered chats.
type SettingsDefaults struct {
	Language          string
	MaxWordsHint      int
	MinPlayersToStart int
	MaxPlayersToPlay  int
	MaxTurns          int
}

const (
	IngressWebhook = "webhook"
	IngressPoll    = "poll"
	IngressWS      = "ws"
)

func Load() (*AppConfig, error) {
	// .env는 선택 사항
	_ = godotenv.Load()

	cfg := &AppConfig{
		TelegramAPIURL: "https://api.telegram.org",
		IngressMode:    IngressWebhook,
		WebhookListen:  ":8080",
		WebhookPath:    "/api/tg/webhook",
		LLMBaseURL:     "https://api.openai.com/v1",
		LLMModel:       "gpt-4o-mini",
		LLMTimeout:     60 * time.Second,
		GameMode:       "two",
		LockMode:       "local",
		Defaults: SettingsDefaults{
			Language:          "English",
			MaxWordsHint:      10,
			MinPlayersToStart: 2,
			MaxPlayersToPlay:  5,
			MaxTurns:          15,
		},
	}

	cfg.TelegramToken = env("TELEGRAM_BOT_TOKEN")
	if v := env("TELEGRAM_API_URL"); v != "" {
		cfg.TelegramAPIURL = strings.TrimRight(v, "/")
	}
	if v := strings.ToLower(env("INGRESS_MODE")); v != "" {
		cfg.IngressMode = v
	}
	if v := env("WEBHOOK_LISTEN"); v != "" {
		cfg.WebhookListen = v
	}
	if v := env("WEBHOOK_PATH"); v != "" {
		cfg.WebhookPath = v
	}
	cfg.RelayWSURL = env("RELAY_WS_URL")
	cfg.RelayToken = env("RELAY_TOKEN")

	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")

	if v := env("LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = strings.TrimRight(v, "/")
	}
	cfg.LLMAPIKey = env("LLM_API_KEY")
	if v := env("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := env("LLM_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLMTimeout = time.Duration(n) * time.Second
		}
	}

	if v := strings.ToLower(env("GAME_MODE")); v != "" {
		cfg.GameMode = v
	}
	if v := env("GLOBAL_ADMIN_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.New("GLOBAL_ADMIN_ID must be an integer")
		}
		cfg.GlobalAdminID = n
	}
	if v := strings.ToLower(env("LOCK_MODE")); v != "" {
		cfg.LockMode = v
	}

	cfg.MessagesDir = env("MESSAGES_DIR")
	if v := env("WORD_CARD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WordCard = b
		}
	}
	if v := env("DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = b
		}
	}

	if v := env("DEFAULT_LANGUAGE"); v != "" {
		cfg.Defaults.Language = v
	}
	positiveInt("DEFAULT_MAX_WORDS_HINT", &cfg.Defaults.MaxWordsHint)
	positiveInt("DEFAULT_MIN_PLAYERS", &cfg.Defaults.MinPlayersToStart)
	positiveInt("DEFAULT_MAX_PLAYERS", &cfg.Defaults.MaxPlayersToPlay)
	positiveInt("DEFAULT_MAX_TURNS", &cfg.Defaults.MaxTurns)

	if cfg.TelegramToken == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.LLMAPIKey == "" {
		return nil, errors.New("LLM_API_KEY is required")
	}
	switch cfg.IngressMode {
	case IngressWebhook, IngressPoll:
	case IngressWS:
		if cfg.RelayWSURL == "" {
			return nil, errors.New("RELAY_WS_URL is required when INGRESS_MODE=ws")
		}
	default:
		return nil, errors.New("INGRESS_MODE must be webhook, poll or ws")
	}
	if cfg.GameMode != "two" && cfg.GameMode != "single" {
		return nil, errors.New("GAME_MODE must be two or single")
	}
	if cfg.LockMode != "local" && cfg.LockMode != "redis" {
		return nil, errors.New("LOCK_MODE must be local or redis")
	}
	if cfg.Defaults.MinPlayersToStart > cfg.Defaults.MaxPlayersToPlay {
		return nil, errors.New("DEFAULT_MIN_PLAYERS must not exceed DEFAULT_MAX_PLAYERS")
	}

	return cfg, nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func positiveInt(k string, dst *int) {
	if v := env(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
