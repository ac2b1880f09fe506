package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/obslog"
)

const (
	typingInterval = 5 * time.Second
	typingCeiling  = time.Minute
)

// keepTyping sends the typing action until stop is called or the ceiling passes.
// It never touches game state.
func (e *Engine) keepTyping(ctx context.Context, chatID int64) (stop func()) {
	if e.typingInterval <= 0 {
		return func() {}
	}
	tctx, cancel := context.WithTimeout(ctx, e.typingCeiling)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.typingInterval)
		defer ticker.Stop()
		for {
			if err := e.notify.Typing(tctx, chatID); err != nil && tctx.Err() == nil {
				e.logger.Debug("typing_failed", obslog.Chat(chatID), zap.Error(err))
			}
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
