package bot

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/guessword-bot/internal/adapter/gamepresenter"
	"github.com/park285/guessword-bot/internal/chatstate"
	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/game"
	"github.com/park285/guessword-bot/internal/judge"
	"github.com/park285/guessword-bot/internal/levels"
	"github.com/park285/guessword-bot/internal/msgcat"
	"github.com/park285/guessword-bot/internal/settings"
	"github.com/park285/guessword-bot/internal/stats"
	"github.com/park285/guessword-bot/internal/tgfast"
)

const (
	chat        = int64(-42)
	botID       = int64(500)
	globalAdmin = int64(99)
)

type outbound struct {
	kind      string
	chatID    int64
	messageID int
	text      string
}

type fakeMessenger struct {
	mu     sync.Mutex
	nextID int
	log    []outbound
}

func (f *fakeMessenger) add(o outbound) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if o.messageID == 0 {
		o.messageID = f.nextID
	}
	f.log = append(f.log, o)
	return o.messageID
}

func (f *fakeMessenger) SendMessage(ctx context.Context, chatID int64, text string, opts tgfast.SendOptions) (*tgfast.Message, error) {
	return &tgfast.Message{MessageID: f.add(outbound{kind: "send", chatID: chatID, text: text})}, nil
}

func (f *fakeMessenger) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string, opts tgfast.SendOptions) (*tgfast.Message, error) {
	return &tgfast.Message{MessageID: f.add(outbound{kind: "photo", chatID: chatID, text: caption})}, nil
}

func (f *fakeMessenger) EditMessageText(ctx context.Context, chatID int64, messageID int, text string, markup *tgfast.InlineKeyboardMarkup) error {
	f.add(outbound{kind: "edit", chatID: chatID, messageID: messageID, text: text})
	return nil
}

func (f *fakeMessenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	f.add(outbound{kind: "delete", chatID: chatID, messageID: messageID})
	return nil
}

func (f *fakeMessenger) PinChatMessage(ctx context.Context, chatID int64, messageID int) error {
	f.add(outbound{kind: "pin", chatID: chatID, messageID: messageID})
	return nil
}

func (f *fakeMessenger) UnpinChatMessage(ctx context.Context, chatID int64, messageID int) error {
	f.add(outbound{kind: "unpin", chatID: chatID, messageID: -1})
	return nil
}

func (f *fakeMessenger) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	f.add(outbound{kind: "ack", text: text})
	return nil
}

func (f *fakeMessenger) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return nil
}

func (f *fakeMessenger) reset() {
	f.mu.Lock()
	f.log = nil
	f.mu.Unlock()
}

func (f *fakeMessenger) of(kind string) []outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbound
	for _, o := range f.log {
		if o.kind == kind {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeMessenger) sentText() string {
	var b strings.Builder
	for _, o := range f.of("send") {
		b.WriteString(o.text)
		b.WriteString("\n")
	}
	return b.String()
}

// echoJudge accepts every hint and guesses whatever was scripted, else "nothing".
type echoJudge struct {
	mu      sync.Mutex
	guesses []string
}

func (j *echoJudge) ValidateHint(ctx context.Context, hint string, secret domain.Phrase) (judge.HintVerdict, error) {
	return judge.HintVerdict{Valid: true}, nil
}

func (j *echoJudge) ValidateGuess(ctx context.Context, guess string, secret domain.Phrase) ([]judge.WordVerdict, error) {
	out := make([]judge.WordVerdict, len(secret))
	for i, w := range secret {
		out[i] = judge.WordVerdict{Word: w.Text, Correct: w.Revealed || strings.Contains(strings.ToLower(guess), strings.ToLower(w.Text))}
	}
	return out, nil
}

func (j *echoJudge) GuessTheWord(ctx context.Context, history domain.History, language string, secret domain.Phrase) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.guesses) == 0 {
		return "nothing", nil
	}
	g := j.guesses[0]
	j.guesses = j.guesses[1:]
	return g, nil
}

type fixedPhrase string

func (p fixedPhrase) NewPhrase(ctx context.Context, language string) (string, error) {
	return string(p), nil
}

type testBot struct {
	d        *Dispatcher
	reg      *levels.Registry
	out      *fakeMessenger
	store    *chatstate.Store
	levels   *levels.Manager
	settings *settings.Provider
	stats    stats.Repository
	judge    *echoJudge
	updateID int64
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := chatstate.NewStore(rdb)
	mgr := levels.NewManager(store, chatstate.ErrNotFound, chatstate.ErrExists)
	sp := settings.NewProvider(settings.NewMemoryRepository(), settings.Defaults{
		Language: "English", MaxWordsHint: 4, MinPlayersToStart: 2, MaxPlayersToPlay: 3, MaxTurns: 15,
	}, globalAdmin)
	statsRepo := stats.NewMemoryRepository()

	cat, err := msgcat.New("")
	if err != nil { t.Fatalf("catalog: %v", err) }
	out := &fakeMessenger{}
	pres := gamepresenter.NewPresenter(out, gamepresenter.NewFormatter(cat), false, nil)
	j := &echoJudge{}
	engine := game.New(game.Deps{
		Rooms:    store,
		Levels:   mgr,
		Settings: sp,
		Stats:    stats.NewRecorder(statsRepo),
		Judge:    j,
		Words:    fixedPhrase("red apple"),
		Notifier: pres,
	})

	reg := levels.NewRegistry(mgr)
	NewHandlers(engine, sp, mgr, statsRepo, pres, nil).Register(reg)
	return &testBot{
		d:        NewDispatcher(reg, sp, pres, botID, nil),
		reg:      reg,
		out:      out,
		store:    store,
		levels:   mgr,
		settings: sp,
		stats:    statsRepo,
		judge:    j,
	}
}

func (b *testBot) register(t *testing.T) {
	t.Helper()
	if _, err := b.settings.Register(context.Background(), chat, 0); err != nil { t.Fatalf("Register: %v", err) }
}

// say delivers a text message; every word starting with '/' becomes a bot_command entity.
func (b *testBot) say(userID int64, name, text string) {
	var entities []tgfast.MessageEntity
	offset := 0
	for _, f := range strings.Split(text, " ") {
		if strings.HasPrefix(f, "/") {
			entities = append(entities, tgfast.MessageEntity{Type: "bot_command", Offset: offset, Length: len(f)})
		}
		offset += len(f) + 1
	}
	b.updateID++
	b.d.Handle(context.Background(), tgfast.Update{UpdateID: b.updateID, Message: &tgfast.Message{
		MessageID: int(1000 + b.updateID),
		From:      &tgfast.User{ID: userID, FirstName: name},
		Chat:      tgfast.Chat{ID: chat, Type: "group"},
		Text:      text,
		Entities:  entities,
	}})
}

func (b *testBot) press(userID int64, name, data string, messageID int) {
	b.updateID++
	b.d.Handle(context.Background(), tgfast.Update{UpdateID: b.updateID, CallbackQuery: &tgfast.CallbackQuery{
		ID:      "cb" + name,
		From:    tgfast.User{ID: userID, FirstName: name},
		Message: &tgfast.Message{MessageID: messageID, Chat: tgfast.Chat{ID: chat}},
		Data:    data,
	}})
}

func (b *testBot) level(t *testing.T) string {
	t.Helper()
	st, err := b.levels.Current(context.Background(), chat)
	if err != nil { t.Fatalf("Current: %v", err) }
	return st.Level
}

func TestParseCommands(t *testing.T) {
	text := "/settings@guess_bot maxTurns 20"
	got := ParseCommands(&tgfast.Message{Text: text, Entities: []tgfast.MessageEntity{{Type: "bot_command", Offset: 0, Length: 19}}})
	want := []ParsedCommand{{Name: "settings", Params: []string{"maxTurns", "20"}, Body: "maxTurns 20"}}
	if !reflect.DeepEqual(got, want) { t.Fatalf("got %+v", got) }

	// 이모지는 UTF-16 두 칸
	text = "héllo 😀 /JOIN_now"
	got = ParseCommands(&tgfast.Message{Text: text, Entities: []tgfast.MessageEntity{
		{Type: "mention", Offset: 0, Length: 5},
		{Type: "bot_command", Offset: 9, Length: 9},
	}})
	want = []ParsedCommand{{Name: "join", Params: []string{"now"}, Body: ""}}
	if !reflect.DeepEqual(got, want) { t.Fatalf("utf16: %+v", got) }

	if got := ParseCommands(&tgfast.Message{Text: "/x", Entities: []tgfast.MessageEntity{{Type: "bot_command", Offset: 1, Length: 5}}}); got != nil { t.Fatalf("out of range entity: %+v", got) }
}

func TestCallbackCommand(t *testing.T) {
	p, ok := CallbackCommand("/register_123")
	if !ok || p.Name != "register" || !reflect.DeepEqual(p.Params, []string{"123"}) { t.Fatalf("got %+v %v", p, ok) }
	if _, ok := CallbackCommand("join"); ok { t.Fatalf("expected slash-less data to be rejected") }
}

func TestUnregisteredChatIsDenied(t *testing.T) {
	b := newTestBot(t)
	b.say(1, "ann", "/new")
	if got := b.out.sentText(); !strings.Contains(got, "not whitelisted") { t.Fatalf("reply: %s", got) }
	if len(b.out.of("send")) != 1 { t.Fatalf("replies: %d", len(b.out.of("send"))) }
	if _, err := b.store.GetRoom(context.Background(), chat); err == nil { t.Fatalf("room created in unregistered chat") }
}

func TestGlobalAdminRegistersChat(t *testing.T) {
	b := newTestBot(t)
	b.say(1, "ann", "/register")
	if got := b.out.sentText(); !strings.Contains(got, "not whitelisted") { t.Fatalf("non admin reply: %s", got) }

	b.out.reset()
	b.say(globalAdmin, "root", "/register")
	if got := b.out.sentText(); !strings.Contains(got, "Chat registered") { t.Fatalf("admin reply: %s", got) }

	b.out.reset()
	b.say(1, "ann", "/new")
	if lvl := b.level(t); lvl != game.LevelOnboarding { t.Fatalf("level: %q", lvl) }

	b.say(1, "ann", "/register")
	if got := b.out.sentText(); !strings.Contains(got, "Unknown command: register") { t.Fatalf("register outside base level: %s", got) }
}

func TestUnknownCommandsReplyOnce(t *testing.T) {
	b := newTestBot(t)
	b.register(t)
	b.say(1, "ann", "/foo /bar")
	sends := b.out.of("send")
	if len(sends) != 1 || !strings.Contains(sends[0].text, "Unknown command: foo, bar") { t.Fatalf("sends: %+v", sends) }
}

func TestFirstResolvableCommandRuns(t *testing.T) {
	b := newTestBot(t)
	b.register(t)
	b.say(1, "ann", "/join /new /help")
	if lvl := b.level(t); lvl != game.LevelOnboarding { t.Fatalf("level: %q", lvl) }
	if got := b.out.sentText(); strings.Contains(got, "Unknown command") || strings.Contains(got, "/top") { t.Fatalf("extra replies: %s", got) }
}

func TestTextOutsideGameIsIgnored(t *testing.T) {
	b := newTestBot(t)
	b.register(t)
	b.say(1, "ann", "hello there")
	if len(b.out.log) != 0 { t.Fatalf("unexpected output: %+v", b.out.log) }
}

func TestDenialsProduceOneReply(t *testing.T) {
	b := newTestBot(t)
	b.register(t)
	b.say(1, "ann", "/new")
	b.out.reset()

	b.say(2, "bob", "/new")
	sends := b.out.of("send")
	if len(sends) != 1 || !strings.Contains(sends[0].text, "Unknown command: new") { t.Fatalf("new during onboarding: %+v", sends) }

	b.out.reset()
	b.press(1, "ann", "/join", 5)
	if len(b.out.of("send")) != 0 { t.Fatalf("callback denial went to the chat: %s", b.out.sentText()) }
	acks := b.out.of("ack")
	if len(acks) != 1 || !strings.Contains(acks[0].text, "already in the game") { t.Fatalf("acks: %+v", acks) }

	b.out.reset()
	b.say(1, "ann", "/run")
	sends = b.out.of("send")
	if len(sends) != 1 || !strings.Contains(sends[0].text, "at least 2 players") { t.Fatalf("run denial: %+v", sends) }
}

func TestGameThroughDispatcher(t *testing.T) {
	b := newTestBot(t)
	b.register(t)
	ctx := context.Background()

	b.say(1, "ann", "/new")
	b.press(2, "bob", "/join", 0)
	b.press(2, "bob", "/run", 0)
	if lvl := b.level(t); lvl != game.LevelPlaying { t.Fatalf("level after run: %q", lvl) }
	if n := len(b.out.of("ack")); n != 2 { t.Fatalf("acks: %d", n) }
	if len(b.out.of("pin")) != 1 { t.Fatalf("word announcement not pinned") }

	room, err := b.store.GetRoom(ctx, chat)
	if err != nil { t.Fatalf("GetRoom: %v", err) }
	current, _ := room.CurrentPlayer()
	other := room.Players[1-room.Round%2]

	b.out.reset()
	b.say(other.ID, other.Name, "not my turn")
	if len(b.out.log) != 0 { t.Fatalf("out of turn text produced output: %+v", b.out.log) }

	b.say(current.ID, current.Name, "far too many words in this")
	if got := b.out.sentText(); !strings.Contains(got, "from 1 to 4 words") { t.Fatalf("long hint reply: %s", got) }

	b.out.reset()
	b.judge.guesses = []string{"red apple"}
	b.say(current.ID, current.Name, "fruit color")
	got := b.out.sentText()
	for _, want := range []string{"win!", "Word found", "1. <b>" + current.Name + "</b>: 1 points (1 games)", "2. <b>" + other.Name + "</b>: 0 points (1 games)"} {
		if !strings.Contains(got, want) { t.Fatalf("missing %q in %s", want, got) }
	}
	if lvl := b.level(t); lvl != levels.BaseLevel { t.Fatalf("level after win: %q", lvl) }

	b.out.reset()
	b.say(current.ID, current.Name, "/me")
	if got := b.out.sentText(); !strings.Contains(got, "1 points (1 games)") { t.Fatalf("me: %s", got) }
	b.out.reset()
	b.say(other.ID, other.Name, "/top")
	if got := b.out.sentText(); !strings.Contains(got, "Leaderboard") { t.Fatalf("top: %s", got) }
}

func TestNewGameButtonDeletesEndMessage(t *testing.T) {
	b := newTestBot(t)
	b.register(t)
	b.press(1, "ann", "/new", 77)
	dels := b.out.of("delete")
	if len(dels) != 1 || dels[0].messageID != 77 { t.Fatalf("deletes: %+v", dels) }
}

func TestSettingsCommand(t *testing.T) {
	b := newTestBot(t)
	b.register(t)
	ctx := context.Background()

	b.say(1, "ann", "/settings")
	if got := b.out.sentText(); !strings.Contains(got, "Only the chat admin") { t.Fatalf("non admin: %s", got) }

	b.out.reset()
	b.say(globalAdmin, "root", "/settings")
	if got := b.out.sentText(); !strings.Contains(got, "maxTurns: 15") || !strings.Contains(got, "level: base") { t.Fatalf("show: %s", got) }

	b.out.reset()
	b.say(globalAdmin, "root", "/settings maxTurns 20")
	s, _, err := b.settings.Get(ctx, chat)
	if err != nil { t.Fatalf("Get: %v", err) }
	if s.MaxTurns != 20 { t.Fatalf("maxTurns: %d (%s)", s.MaxTurns, b.out.sentText()) }

	b.out.reset()
	b.say(globalAdmin, "root", "/settings minPlayers 9")
	if got := b.out.sentText(); !strings.Contains(got, "Cannot set minPlayers") { t.Fatalf("invalid: %s", got) }
	if s, _, _ := b.settings.Get(ctx, chat); s.MinPlayersToStart != 2 { t.Fatalf("invalid value stored: %d", s.MinPlayersToStart) }
}

func TestPinnedNoticeDeleted(t *testing.T) {
	b := newTestBot(t)
	b.d.Handle(context.Background(), tgfast.Update{Message: &tgfast.Message{
		MessageID:     31,
		From:          &tgfast.User{ID: botID, IsBot: true},
		Chat:          tgfast.Chat{ID: chat},
		PinnedMessage: &tgfast.Message{MessageID: 30},
	}})
	dels := b.out.of("delete")
	if len(dels) != 1 || dels[0].messageID != 31 { t.Fatalf("deletes: %+v", dels) }
}

func TestUnknownLevelRepliesOops(t *testing.T) {
	b := newTestBot(t)
	b.register(t)
	if err := b.levels.Set(context.Background(), chat, "retired_level"); err != nil { t.Fatalf("Set: %v", err) }
	b.say(1, "ann", "/help")
	sends := b.out.of("send")
	if len(sends) != 1 || !strings.Contains(sends[0].text, "Oops") { t.Fatalf("sends: %+v", sends) }
}

func TestPanickingActionStillReplies(t *testing.T) {
	b := newTestBot(t)
	b.register(t)
	b.reg.Register(levels.HandlerFunc(func(ctx context.Context, cmd levels.Command) error {
		panic("nil room")
	}), levels.On("explode", levels.AllLevels))

	b.say(1, "ann", "/explode")
	sends := b.out.of("send")
	if len(sends) != 1 || !strings.Contains(sends[0].text, "Oops") { t.Fatalf("message panic sends: %+v", sends) }

	b.out.reset()
	b.press(1, "ann", "/explode", 40)
	if acks := b.out.of("ack"); len(acks) != 1 { t.Fatalf("callback acks: %+v", acks) }
	sends = b.out.of("send")
	if len(sends) != 1 || !strings.Contains(sends[0].text, "Oops") { t.Fatalf("callback panic sends: %+v", sends) }
}
