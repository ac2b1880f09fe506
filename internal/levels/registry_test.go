package levels

import (
	"context"
	"errors"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/guessword-bot/internal/chatstate"
)

func newTestRegistry(t *testing.T) (*Registry, *Manager) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil { t.Fatalf("miniredis: %v", err) }
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mgr := NewManager(chatstate.NewStore(rdb), chatstate.ErrNotFound, chatstate.ErrExists)
	return NewRegistry(mgr), mgr
}

func named(name string) HandlerFunc {
	return func(ctx context.Context, cmd Command) error { return errors.New(name) }
}

func handlerName(h Handler) string {
	return h.Handle(context.Background(), Command{}).Error()
}

func TestResolveTotality(t *testing.T) {
	reg, mgr := newTestRegistry(t)
	ctx := context.Background()

	reg.Register(named("new"), On("new", BaseLevel))
	reg.Register(named("join"), On("join", "onboarding"))
	reg.Register(named("cancel"), On("cancel", "onboarding"), On("cancel", "game"))
	reg.Register(named("text"), On(TextAction, "game"))
	reg.Register(named("help"), On("help", AllLevels))

	cases := []struct {
		level  string
		action string
		want   string
	}{
		{BaseLevel, "new", "new"},
		{BaseLevel, "HELP", "help"},
		{"onboarding", "join", "join"},
		{"onboarding", "Cancel", "cancel"},
		{"onboarding", "help", "help"},
		{"game", "cancel", "cancel"},
		{"game", TextAction, "text"},
		{"game", "help", "help"},
	}
	for _, c := range cases {
		if err := mgr.Set(ctx, 1, c.level); err != nil { t.Fatalf("Set: %v", err) }
		h, name, err := reg.Resolve(ctx, 1, c.action)
		if err != nil { t.Fatalf("Resolve(%q,%q): %v", c.level, c.action, err) }
		if handlerName(h) != c.want { t.Fatalf("Resolve(%q,%q) = %s", c.level, c.action, handlerName(h)) }
		if !strings.EqualFold(name, c.action) { t.Fatalf("canonical name %q for %q", name, c.action) }
	}

	notFound := []struct{ level, action string }{
		{BaseLevel, "join"},
		{"onboarding", "new"},
		{"game", "join"},
		{BaseLevel, TextAction},
	}
	for _, c := range notFound {
		if err := mgr.Set(ctx, 1, c.level); err != nil { t.Fatalf("Set: %v", err) }
		if _, _, err := reg.Resolve(ctx, 1, c.action); !errors.Is(err, ErrNoHandler) {
			t.Fatalf("Resolve(%q,%q): expected ErrNoHandler, got %v", c.level, c.action, err)
		}
	}
}

func TestResolveReturnsCanonicalName(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Register(named("me"), On("me", AllLevels))
	reg.Register(named("noop"), On("noop", BaseLevel))
	_, name, err := reg.Resolve(context.Background(), 9, "ME")
	if err != nil { t.Fatalf("Resolve: %v", err) }
	if name != "me" { t.Fatalf("name: %q", name) }
}

func TestResolveUnknownLevel(t *testing.T) {
	reg, mgr := newTestRegistry(t)
	ctx := context.Background()
	reg.Register(named("help"), On("help", AllLevels))
	reg.Register(named("new"), On("new", BaseLevel))

	if err := mgr.Set(ctx, 2, "removed_level"); err != nil { t.Fatalf("Set: %v", err) }
	if _, _, err := reg.Resolve(ctx, 2, "help"); !errors.Is(err, ErrUnknownLevel) {
		t.Fatalf("expected ErrUnknownLevel, got %v", err)
	}
}

func TestFirstRegistrationWins(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Register(named("first"), On("go", BaseLevel))
	reg.Register(named("second"), On("go", BaseLevel))
	h, _, err := reg.Resolve(context.Background(), 3, "go")
	if err != nil { t.Fatalf("Resolve: %v", err) }
	if handlerName(h) != "first" { t.Fatalf("got %s", handlerName(h)) }
}

func TestManagerLazyCreateAndReset(t *testing.T) {
	_, mgr := newTestRegistry(t)
	ctx := context.Background()

	st, err := mgr.Current(ctx, 4)
	if err != nil { t.Fatalf("Current: %v", err) }
	if st.Level != BaseLevel || st.ChatID != 4 { t.Fatalf("state: %+v", st) }

	if err := mgr.Set(ctx, 4, "word_game"); err != nil { t.Fatalf("Set: %v", err) }
	st, _ = mgr.Current(ctx, 4)
	if st.Level != "word_game" { t.Fatalf("level after Set: %q", st.Level) }

	if err := mgr.SetBaseLevel(ctx, 4); err != nil { t.Fatalf("SetBaseLevel: %v", err) }
	st, _ = mgr.Current(ctx, 4)
	if st.Level != BaseLevel { t.Fatalf("level after reset: %q", st.Level) }
}
