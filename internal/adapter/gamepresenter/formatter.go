package gamepresenter

import (
	"fmt"
	"html"
	"strings"

	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/msgcat"
	"github.com/park285/guessword-bot/internal/stats"
	"github.com/park285/guessword-bot/internal/tgfast"
)

// Callback data carried by buttons; the dispatcher resolves them like typed commands.
const (
	CallbackNew    = "/new"
	CallbackJoin   = "/join"
	CallbackStart  = "/run"
	CallbackCancel = "/cancel"
	CallbackWord   = "/word"
)

// Formatter turns game values into message text and keyboards.
type Formatter struct {
	cat *msgcat.Catalog
}

func NewFormatter(cat *msgcat.Catalog) *Formatter { return &Formatter{cat: cat} }

func (f *Formatter) Text(key string, data any) string { return f.cat.Text(key, data) }

// Mention links a player by id so the mention works without a username.
func Mention(p domain.Player) string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = fmt.Sprintf("player %d", p.ID)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, p.ID, html.EscapeString(name))
}

func (f *Formatter) Lobby(room domain.Room, s domain.ChatSettings) (string, *tgfast.InlineKeyboardMarkup) {
	names := make([]string, len(room.Players))
	for i, p := range room.Players {
		names[i] = p.Name
	}
	count := len(room.Players)

	var b strings.Builder
	b.WriteString(f.cat.Text("lobby.created", nil))
	b.WriteString("\n\n")
	b.WriteString(f.cat.Text("lobby.players", map[string]any{"Count": count, "Max": s.MaxPlayersToPlay, "Players": names}))
	if count >= s.MinPlayersToStart {
		b.WriteString(f.cat.Text("lobby.ready", nil))
	} else {
		b.WriteString(f.cat.Text("lobby.need_more", map[string]any{"Min": s.MinPlayersToStart}))
	}

	var row []tgfast.InlineKeyboardButton
	if count < s.MaxPlayersToPlay {
		row = append(row, tgfast.Button(f.cat.Text("buttons.join", nil), CallbackJoin))
	}
	if count >= s.MinPlayersToStart {
		row = append(row, tgfast.Button(f.cat.Text("buttons.start", nil), CallbackStart))
	}
	cancel := []tgfast.InlineKeyboardButton{tgfast.Button(f.cat.Text("buttons.cancel", nil), CallbackCancel)}
	return b.String(), tgfast.Keyboard(row, cancel)
}

func (f *Formatter) NewGameKeyboard() *tgfast.InlineKeyboardMarkup {
	return tgfast.Keyboard([]tgfast.InlineKeyboardButton{tgfast.Button(f.cat.Text("buttons.new_game", nil), CallbackNew)})
}

func (f *Formatter) ControlsKeyboard() *tgfast.InlineKeyboardMarkup {
	return tgfast.Keyboard([]tgfast.InlineKeyboardButton{
		tgfast.Button(f.cat.Text("buttons.remind", nil), CallbackWord),
		tgfast.Button(f.cat.Text("buttons.stop", nil), CallbackCancel),
	})
}

// Turn renders a completed round: the guess, the found words, an optional warning and
// who plays next.
func (f *Formatter) Turn(guess string, phrase domain.Phrase, triesLeft int, next domain.Player) string {
	lines := []string{f.cat.Text("game.guess", map[string]any{"Guess": guess})}
	if len(phrase.RevealedWords()) > 0 {
		lines = append(lines, f.cat.Text("game.revealed", map[string]any{"Mask": phrase.Mask()}))
	}
	if triesLeft > 0 {
		lines = append(lines, f.cat.Text("game.tries_left", map[string]any{"Count": triesLeft}))
	}
	lines = append(lines, "", f.cat.Text("game.next_player", map[string]any{"Mention": Mention(next)}))
	return strings.Join(lines, "\n")
}

// Leaderboard renders standings; tied scores share the position number.
func (f *Formatter) Leaderboard(standings []stats.Standing) string {
	if len(standings) == 0 {
		return f.cat.Text("leaderboard.empty", nil)
	}
	lines := []string{f.cat.Text("leaderboard.title", nil)}
	for _, s := range standings {
		lines = append(lines, f.LeaderboardLine(s))
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) LeaderboardLine(s stats.Standing) string {
	return f.cat.Text("leaderboard.line", map[string]any{
		"Position": s.Position,
		"Name":     s.Stats.UserName,
		"Score":    s.Stats.Score,
		"Games":    s.Stats.PlayedGames,
	})
}

func (f *Formatter) PlayerStats(name string, ps *domain.PlayerStats) string {
	if ps == nil {
		return f.cat.Text("leaderboard.me_empty", nil)
	}
	if ps.UserName != "" {
		name = ps.UserName
	}
	return f.cat.Text("leaderboard.me", map[string]any{"Name": name, "Score": ps.Score, "Games": ps.PlayedGames})
}

func (f *Formatter) Settings(s domain.ChatSettings, level string, fields []string) string {
	return f.cat.Text("settings.show", map[string]any{
		"Language":   s.Language,
		"MaxWords":   s.MaxWordsHint,
		"MinPlayers": s.MinPlayersToStart,
		"MaxPlayers": s.MaxPlayersToPlay,
		"MaxTurns":   s.MaxTurns,
		"Admin":      s.AdminID,
		"Level":      level,
		"Fields":     strings.Join(fields, ", "),
	})
}
