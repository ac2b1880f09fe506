package tgfast

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"nhooyr.io/websocket"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	c := NewClient("http://tg.test", "123:abc", WithRetry(3))
	c.http.Dial = func(addr string) (net.Conn, error) { return ln.Dial() }
	return c
}

func method(ctx *fasthttp.RequestCtx) string {
	p := string(ctx.Path())
	return p[strings.LastIndex(p, "/")+1:]
}

func TestSendMessageUsesHTMLAndKeyboard(t *testing.T) {
	var got map[string]any
	var path string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		path = string(ctx.Path())
		_ = json.Unmarshal(ctx.PostBody(), &got)
		ctx.SetBodyString(`{"ok":true,"result":{"message_id":42,"chat":{"id":-5,"type":"group"}}}`)
	})

	m, err := c.SendMessage(context.Background(), -5, "<b>hi</b>", SendOptions{Markup: Keyboard([]InlineKeyboardButton{Button("Join", "/join")})})
	if err != nil { t.Fatalf("SendMessage: %v", err) }
	if m.MessageID != 42 || m.Chat.ID != -5 { t.Fatalf("message: %+v", m) }
	if path != "/bot123:abc/sendMessage" { t.Fatalf("path: %s", path) }
	if got["parse_mode"] != "HTML" || got["text"] != "<b>hi</b>" { t.Fatalf("request: %v", got) }
	kb := got["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	if len(kb) != 1 { t.Fatalf("keyboard: %v", kb) }
}

func TestAPIErrorIsTyped(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(400)
		ctx.SetBodyString(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	})
	err := c.DeleteMessage(context.Background(), 1, 2)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 400 || apiErr.Method != "deleteMessage" { t.Fatalf("error: %v", err) }
	if calls != 1 { t.Fatalf("client error retried: %d", calls) }
}

func TestEditNotModifiedIsNil(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(400)
		ctx.SetBodyString(`{"ok":false,"error_code":400,"description":"Bad Request: message is not modified: specified new message content and reply markup are exactly the same"}`)
	})
	if err := c.EditMessageText(context.Background(), 1, 2, "same", nil); err != nil { t.Fatalf("EditMessageText: %v", err) }
}

func TestServerErrorsRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&calls, 1) < 3 {
			ctx.SetStatusCode(502)
			ctx.SetBodyString(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`)
			return
		}
		ctx.SetBodyString(`{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"Guess","username":"guess_bot"}}`)
	})
	u, err := c.GetMe(context.Background())
	if err != nil { t.Fatalf("GetMe: %v", err) }
	if u.Username != "guess_bot" || atomic.LoadInt32(&calls) != 3 { t.Fatalf("user=%+v calls=%d", u, calls) }
}

func TestSendPhotoMultipart(t *testing.T) {
	var chatID, caption string
	var size int
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		form, err := ctx.MultipartForm()
		if err != nil {
			ctx.SetStatusCode(400)
			return
		}
		chatID = form.Value["chat_id"][0]
		caption = form.Value["caption"][0]
		size = int(form.File["photo"][0].Size)
		ctx.SetBodyString(`{"ok":true,"result":{"message_id":9,"chat":{"id":-5}}}`)
	})
	m, err := c.SendPhoto(context.Background(), -5, []byte("\x89PNG fake"), "word", SendOptions{})
	if err != nil { t.Fatalf("SendPhoto: %v", err) }
	if m.MessageID != 9 || chatID != "-5" || caption != "word" || size != 9 { t.Fatalf("chat=%s caption=%s size=%d", chatID, caption, size) }
}

func TestPollerDeliversAndAdvancesOffset(t *testing.T) {
	var mu sync.Mutex
	var offsets []float64
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if method(ctx) != "getUpdates" {
			ctx.SetBodyString(`{"ok":true,"result":true}`)
			return
		}
		var req map[string]any
		_ = json.Unmarshal(ctx.PostBody(), &req)
		mu.Lock()
		offsets = append(offsets, req["offset"].(float64))
		first := len(offsets) == 1
		mu.Unlock()
		if first {
			ctx.SetBodyString(`{"ok":true,"result":[{"update_id":10,"message":{"message_id":1,"chat":{"id":1},"text":"a"}},{"update_id":11,"message":{"message_id":2,"chat":{"id":1},"text":"b"}}]}`)
			return
		}
		time.Sleep(5 * time.Millisecond)
		ctx.SetBodyString(`{"ok":true,"result":[]}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	var got int32
	p := NewPoller(c, func(ctx context.Context, u Update) {
		if atomic.AddInt32(&got, 1) == 2 {
			cancel()
		}
	}, nil)
	p.timeout = 0

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil { t.Fatalf("Run: %v", err) }
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("poller did not stop")
	}
	if atomic.LoadInt32(&got) != 2 { t.Fatalf("handled %d updates", got) }
	mu.Lock()
	defer mu.Unlock()
	if len(offsets) > 1 && offsets[1] != 12 { t.Fatalf("offsets: %v", offsets) }
}

func TestRelayDeliversFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_ = conn.Write(r.Context(), websocket.MessageText, []byte("not json"))
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"update_id":5,"message":{"message_id":3,"chat":{"id":-1},"text":"/new"}}`))
		_, _, _ = conn.Read(context.Background())
	}))
	defer srv.Close()

	relay := NewRelay("ws"+strings.TrimPrefix(srv.URL, "http"), 0, nil)
	got := make(chan Update, 1)
	relay.OnUpdate(func(ctx context.Context, u Update) { got <- u })
	if err := relay.Connect(context.Background()); err != nil { t.Fatalf("Connect: %v", err) }
	if relay.State() != RelayConnected { t.Fatalf("state: %s", relay.State()) }

	select {
	case u := <-got:
		if u.UpdateID != 5 || u.Message.Text != "/new" { t.Fatalf("update: %+v", u) }
	case <-time.After(5 * time.Second):
		t.Fatalf("no update received")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := relay.Close(ctx); err != nil { t.Fatalf("Close: %v", err) }
}
