package chatlock

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work per chat. Unlock must be called exactly once per successful Lock.
type Locker interface {
	Lock(ctx context.Context, chatID int64) (unlock func(), err error)
}

// Local is an in-process keyed mutex; entries are dropped when nobody holds or waits.
type Local struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local { return &Local{entries: make(map[int64]*entry)} }

func (l *Local) Lock(ctx context.Context, chatID int64) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[chatID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[chatID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(chatID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(chatID, e)
		})
	}, nil
}

func (l *Local) release(chatID int64, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, chatID)
	}
	l.mu.Unlock()
}

func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// 토큰이 일치할 때만 삭제
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// 토큰이 일치할 때만 연장
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a SetNX lease lock for deployments running several bot instances. The lease
// is renewed every ttl/3 while held, so a slow turn keeps the chat; ttl only bounds how
// long a crashed holder blocks it.
type Redis struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration
	renew time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{rdb: rdb, ttl: ttl, retry: 50 * time.Millisecond, renew: ttl / 3}
}

func lockKey(chatID int64) string { return "gw:lock:" + strconv.FormatInt(chatID, 10) }

func (r *Redis) Lock(ctx context.Context, chatID int64) (func(), error) {
	key := lockKey(chatID)
	token := uuid.NewString()
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		t := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, r.rdb, []string{key}, token).Err()
		})
	}, nil
}

// keepAlive extends the lease until stop closes or the token is no longer ours.
func (r *Redis) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(r.renew)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.renew)
		n, err := renewScript.Run(ctx, r.rdb, []string{key}, token, r.ttl.Milliseconds()).Int()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}
