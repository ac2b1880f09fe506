package tgfast

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type RelayState string

const (
	RelayDisconnected RelayState = "disconnected"
	RelayConnecting   RelayState = "connecting"
	RelayConnected    RelayState = "connected"
	RelayReconnecting RelayState = "reconnecting"
	RelayFailed       RelayState = "failed"
)

type StateCallback func(state RelayState)

// Relay receives updates from a websocket relay that forwards raw Bot API update JSON,
// one update per text frame. It reconnects with backoff and pings to detect dead links.
type Relay struct {
	url    string
	header http.Header
	logger *zap.Logger

	connM sync.Mutex
	conn  *websocket.Conn
	state RelayState

	onUpdate UpdateHandler
	onState  []StateCallback
	cbM      sync.RWMutex

	maxReconnectAttempts int
	pingInterval         time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewRelay(url string, maxReconnectAttempts int, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		url:                  url,
		header:               http.Header{},
		logger:               logger,
		state:                RelayDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
	}
}

// SetHeader adds a handshake header, e.g. a relay access token.
func (r *Relay) SetHeader(k, v string) {
	if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
		r.header.Set(k, v)
	}
}

func (r *Relay) OnUpdate(h UpdateHandler) {
	r.cbM.Lock()
	r.onUpdate = h
	r.cbM.Unlock()
}

func (r *Relay) OnStateChange(cb StateCallback) {
	r.cbM.Lock()
	r.onState = append(r.onState, cb)
	r.cbM.Unlock()
}

func (r *Relay) State() RelayState {
	r.connM.Lock()
	defer r.connM.Unlock()
	return r.state
}

func (r *Relay) Connect(ctx context.Context) error {
	r.connM.Lock()
	if r.state == RelayConnected || r.state == RelayConnecting {
		r.connM.Unlock()
		return nil
	}
	r.connM.Unlock()

	r.rootCtx, r.rootCancel = context.WithCancel(context.Background())
	r.setState(RelayConnecting)
	if err := r.dial(ctx); err != nil {
		r.setState(RelayFailed)
		r.scheduleReconnect()
		return err
	}
	return nil
}

func (r *Relay) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, r.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      r.header.Clone(),
	})
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)

	r.connM.Lock()
	r.conn = conn
	r.connM.Unlock()
	r.setState(RelayConnected)

	r.wg.Add(2)
	go r.listen(conn)
	go r.pingLoop(conn)
	return nil
}

func (r *Relay) listen(conn *websocket.Conn) {
	defer r.wg.Done()
	for {
		_, data, err := conn.Read(r.rootCtx)
		if err != nil {
			if r.isStopping() {
				return
			}
			r.logger.Warn("relay_read_failed", zap.Error(err))
			r.drop(conn, "reconnect")
			return
		}
		var u Update
		if err := json.Unmarshal(data, &u); err != nil {
			r.logger.Warn("relay_bad_frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		r.cbM.RLock()
		h := r.onUpdate
		r.cbM.RUnlock()
		if h != nil {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				h(r.rootCtx, u)
			}()
		}
	}
}

func (r *Relay) pingLoop(conn *websocket.Conn) {
	defer r.wg.Done()
	t := time.NewTicker(r.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.rootCtx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(r.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if !r.isStopping() {
					r.drop(conn, "ping failure")
				}
				return
			}
		}
	}
}

// drop closes conn once and starts reconnecting if it is still the active connection.
func (r *Relay) drop(conn *websocket.Conn, reason string) {
	r.connM.Lock()
	active := r.conn == conn
	if active {
		r.conn = nil
	}
	r.connM.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, reason)
	if !active {
		return
	}
	r.setState(RelayDisconnected)
	r.scheduleReconnect()
}

func (r *Relay) scheduleReconnect() {
	if r.maxReconnectAttempts <= 0 || r.isStopping() {
		return
	}
	r.setState(RelayReconnecting)
	go func() {
		for attempt := 1; attempt <= r.maxReconnectAttempts; attempt++ {
			select {
			case <-r.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			if err := r.dial(r.rootCtx); err == nil {
				r.logger.Info("relay_reconnected", zap.Int("attempt", attempt))
				return
			}
		}
		r.setState(RelayFailed)
	}()
}

func (r *Relay) setState(state RelayState) {
	r.connM.Lock()
	r.state = state
	r.connM.Unlock()

	r.cbM.RLock()
	callbacks := append([]StateCallback(nil), r.onState...)
	r.cbM.RUnlock()
	for _, cb := range callbacks {
		cb(state)
	}
}

// Close stops reconnects, closes the link and waits for readers and handlers.
func (r *Relay) Close(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.connM.Lock()
	conn := r.conn
	r.conn = nil
	r.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	defer func() {
		if r.rootCancel != nil {
			r.rootCancel()
		}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		r.setState(RelayDisconnected)
		return nil
	}
}

func (r *Relay) isStopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}
