package tgfast

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// UpdateHandler processes one update. It is called from its own goroutine.
type UpdateHandler func(ctx context.Context, u Update)

// Poller drives getUpdates long polling for local runs without a public webhook.
type Poller struct {
	client  *Client
	handle  UpdateHandler
	timeout int
	logger  *zap.Logger
}

func NewPoller(c *Client, handle UpdateHandler, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{client: c, handle: handle, timeout: 30, logger: logger}
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.client.DeleteWebhook(ctx); err != nil {
		p.logger.Warn("delete_webhook_failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	var offset int64
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			p.logger.Warn("poll_failed", zap.Int("failures", failures), zap.Error(err))
			if sleepWithContext(ctx, backoffDuration(failures)) != nil {
				return nil
			}
			continue
		}
		failures = 0
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			wg.Add(1)
			go func(u Update) {
				defer wg.Done()
				p.handle(ctx, u)
			}(u)
		}
	}
}
