package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/adapter/gamepresenter"
	"github.com/park285/guessword-bot/internal/bot"
	"github.com/park285/guessword-bot/internal/chatlock"
	"github.com/park285/guessword-bot/internal/chatstate"
	appcfg "github.com/park285/guessword-bot/internal/config"
	"github.com/park285/guessword-bot/internal/game"
	"github.com/park285/guessword-bot/internal/judge"
	"github.com/park285/guessword-bot/internal/levels"
	"github.com/park285/guessword-bot/internal/llm"
	"github.com/park285/guessword-bot/internal/msgcat"
	"github.com/park285/guessword-bot/internal/obslog"
	"github.com/park285/guessword-bot/internal/settings"
	"github.com/park285/guessword-bot/internal/stats"
	"github.com/park285/guessword-bot/internal/storage"
	"github.com/park285/guessword-bot/internal/tgfast"
	"github.com/park285/guessword-bot/internal/webhook"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := chatstate.Open(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis_init_failed", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()
	store := chatstate.NewStore(rdb)

	statsRepo, settingsRepo, closeDB := openRepositories(ctx, cfg, logger)
	defer closeDB()

	sp := settings.NewProvider(settingsRepo, settings.Defaults{
		Language:          cfg.Defaults.Language,
		MaxWordsHint:      cfg.Defaults.MaxWordsHint,
		MinPlayersToStart: cfg.Defaults.MinPlayersToStart,
		MaxPlayersToPlay:  cfg.Defaults.MaxPlayersToPlay,
		MaxTurns:          cfg.Defaults.MaxTurns,
	}, cfg.GlobalAdminID)

	model := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, llm.WithTimeout(cfg.LLMTimeout), llm.WithRetry(3))
	j, words, err := judge.New(judge.Mode(cfg.GameMode), model, store, logger.Named("judge"))
	if err != nil {
		logger.Fatal("judge_init_failed", zap.Error(err))
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_init_failed", zap.Error(err))
	}
	tg := tgfast.NewClient(cfg.TelegramAPIURL, cfg.TelegramToken, tgfast.WithRetry(3))
	me, err := tg.GetMe(ctx)
	if err != nil {
		logger.Fatal("telegram_getme_failed", zap.Error(err))
	}
	egress := tgfast.NewEgress(tg, cfg.DryRun, logger.Named("egress"))
	presenter := gamepresenter.NewPresenter(egress, gamepresenter.NewFormatter(cat), cfg.WordCard, logger.Named("presenter"))

	levelMgr := levels.NewManager(store, chatstate.ErrNotFound, chatstate.ErrExists)
	engine := game.New(game.Deps{
		Rooms:    store,
		Levels:   levelMgr,
		Settings: sp,
		Stats:    stats.NewRecorder(statsRepo),
		Judge:    j,
		Words:    words,
		Notifier: presenter,
		Locks:    newLocker(cfg, rdb),
		Logger:   logger.Named("engine"),
	})

	registry := levels.NewRegistry(levelMgr)
	bot.NewHandlers(engine, sp, levelMgr, statsRepo, presenter, logger.Named("handlers")).Register(registry)
	dispatcher := bot.NewDispatcher(registry, sp, presenter, me.ID, logger.Named("dispatch"))

	logger.Info("bot_start",
		zap.String("username", me.Username),
		zap.String("ingress", cfg.IngressMode),
		zap.String("game_mode", cfg.GameMode),
		zap.String("lock_mode", cfg.LockMode))

	if err := serve(ctx, cfg, tg, dispatcher.Handle, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingress_stopped", zap.Error(err))
	}
	logger.Info("bot_stop")
}

// openRepositories uses SQL when DATABASE_URL is set and in-memory stores otherwise.
func openRepositories(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) (stats.Repository, settings.Repository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn("database_disabled", zap.String("reason", "DATABASE_URL not set; stats and settings are kept in memory"))
		return stats.NewMemoryRepository(), settings.NewMemoryRepository(), func() {}
	}
	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database_init_failed", zap.Error(err))
	}
	logger.Info("database_ready", zap.String("dialect", string(db.Dialect)))
	return stats.NewSQLRepository(db), settings.NewSQLRepository(db), func() { _ = db.Close() }
}

func newLocker(cfg *appcfg.AppConfig, rdb *redis.Client) chatlock.Locker {
	if cfg.LockMode == "redis" {
		return chatlock.NewRedis(rdb, time.Minute)
	}
	return chatlock.NewLocal()
}

func serve(ctx context.Context, cfg *appcfg.AppConfig, tg *tgfast.Client, handle tgfast.UpdateHandler, logger *zap.Logger) error {
	switch cfg.IngressMode {
	case appcfg.IngressPoll:
		return tgfast.NewPoller(tg, handle, logger.Named("poller")).Run(ctx)
	case appcfg.IngressWS:
		relay := tgfast.NewRelay(cfg.RelayWSURL, 10, logger.Named("relay"))
		relay.SetHeader("Authorization", cfg.RelayToken)
		relay.OnStateChange(func(state tgfast.RelayState) {
			logger.Info("relay_state", zap.String("state", string(state)))
		})
		relay.OnUpdate(handle)
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := relay.Connect(cctx)
		cancel()
		if err != nil {
			return err
		}
		<-ctx.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer closeCancel()
		return relay.Close(closeCtx)
	default:
		return webhook.New(cfg.WebhookPath, handle, logger.Named("webhook")).ListenAndServe(ctx, cfg.WebhookListen)
	}
}
