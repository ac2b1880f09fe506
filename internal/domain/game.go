package domain

import (
	"math/rand"
	"strings"
	"time"
)

// MaskPlaceholder replaces words the guesser has not found yet.
const MaskPlaceholder = "_"

type HistoryKind string

const (
	KindHint  HistoryKind = "hint"
	KindGuess HistoryKind = "guess"
)

type Player struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

type Word struct {
	Text     string `json:"text"`
	Revealed bool   `json:"revealed"`
}

// Phrase is the secret in word order.
type Phrase []Word

func NewPhrase(text string) Phrase {
	parts := strings.Fields(text)
	p := make(Phrase, 0, len(parts))
	for _, w := range parts {
		p = append(p, Word{Text: w})
	}
	return p
}

func (p Phrase) Text() string {
	words := make([]string, len(p))
	for i, w := range p {
		words[i] = w.Text
	}
	return strings.Join(words, " ")
}

// Mask shows revealed words verbatim and the placeholder for the rest.
func (p Phrase) Mask() string {
	words := make([]string, len(p))
	for i, w := range p {
		if w.Revealed {
			words[i] = w.Text
		} else {
			words[i] = MaskPlaceholder
		}
	}
	return strings.Join(words, " ")
}

func (p Phrase) AllRevealed() bool {
	if len(p) == 0 {
		return false
	}
	for _, w := range p {
		if !w.Revealed {
			return false
		}
	}
	return true
}

// Reveal returns a copy with every word in found flipped to revealed. Words match
// case-insensitively; revealed words never flip back.
func (p Phrase) Reveal(found []string) Phrase {
	out := make(Phrase, len(p))
	copy(out, p)
	for i := range out {
		if out[i].Revealed {
			continue
		}
		for _, f := range found {
			if strings.EqualFold(strings.TrimSpace(f), out[i].Text) {
				out[i].Revealed = true
				break
			}
		}
	}
	return out
}

func (p Phrase) RevealedWords() []string {
	var out []string
	for _, w := range p {
		if w.Revealed {
			out = append(out, w.Text)
		}
	}
	return out
}

type HistoryEntry struct {
	Text string      `json:"text"`
	Kind HistoryKind `json:"kind"`
}

type History []HistoryEntry

// Contains reports whether text equals any entry, ignoring case and surrounding space.
func (h History) Contains(text string) bool {
	text = strings.TrimSpace(text)
	for _, e := range h {
		if strings.EqualFold(strings.TrimSpace(e.Text), text) {
			return true
		}
	}
	return false
}

func (h History) With(text string, kind HistoryKind) History {
	out := make(History, len(h), len(h)+1)
	copy(out, h)
	return append(out, HistoryEntry{Text: text, Kind: kind})
}

// Guesses counts adjudicated guesses.
func (h History) Guesses() int {
	n := 0
	for _, e := range h {
		if e.Kind == KindGuess {
			n++
		}
	}
	return n
}

// Room is stored whole under the chat id. Mutators return a modified copy.
type Room struct {
	ChatID              int64     `json:"chat_id"`
	SessionID           string    `json:"session_id"`
	CreatorID           int64     `json:"creator_id"`
	CreatedAt           time.Time `json:"created_at"`
	Players             []Player  `json:"players"`
	Phrase              Phrase    `json:"phrase,omitempty"`
	History             History   `json:"history,omitempty"`
	Round               int       `json:"round"`
	RandomSeed          int64     `json:"random_seed"`
	MaxWordsPerHint     int       `json:"max_words_per_hint"`
	OnboardingMessageID *int      `json:"onboarding_message_id,omitempty"`
	IsRunning           bool      `json:"is_running"`
}

func (r Room) clone() Room {
	c := r
	c.Players = append([]Player(nil), r.Players...)
	c.Phrase = append(Phrase(nil), r.Phrase...)
	c.History = append(History(nil), r.History...)
	if r.OnboardingMessageID != nil {
		id := *r.OnboardingMessageID
		c.OnboardingMessageID = &id
	}
	return c
}

func (r Room) HasPlayer(id int64) bool {
	for _, p := range r.Players {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (r Room) WithPlayer(p Player) Room {
	c := r.clone()
	c.Players = append(c.Players, p)
	return c
}

func (r Room) WithOnboardingMessage(id *int) Room {
	c := r.clone()
	if id == nil {
		c.OnboardingMessageID = nil
		return c
	}
	v := *id
	c.OnboardingMessageID = &v
	return c
}

// WithStarted applies the start transition: turn order, fresh phrase, round zero.
func (r Room) WithStarted(order []Player, phrase Phrase, maxWords int) Room {
	c := r.clone()
	c.Players = append([]Player(nil), order...)
	c.Phrase = make(Phrase, len(phrase))
	for i, w := range phrase {
		c.Phrase[i] = Word{Text: w.Text}
	}
	c.History = nil
	c.Round = 0
	c.MaxWordsPerHint = maxWords
	c.IsRunning = true
	return c
}

func (r Room) WithTurn(round int, history History, phrase Phrase) Room {
	c := r.clone()
	c.Round = round
	c.History = append(History(nil), history...)
	c.Phrase = append(Phrase(nil), phrase...)
	return c
}

// CurrentPlayer is Players[Round mod len(Players)].
func (r Room) CurrentPlayer() (Player, bool) {
	if len(r.Players) == 0 {
		return Player{}, false
	}
	return r.Players[r.Round%len(r.Players)], true
}

// TurnOrder shuffles players with a generator seeded by seed; the same seed always
// yields the same permutation of the input order.
func TurnOrder(players []Player, seed int64) []Player {
	out := append([]Player(nil), players...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// ChatLevelState stores the phase a chat is in.
type ChatLevelState struct {
	ChatID    int64     `json:"chat_id"`
	Level     string    `json:"level"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PlayerStats struct {
	UserID      int64     `json:"user_id"`
	UserName    string    `json:"user_name"`
	Score       int       `json:"score"`
	PlayedGames int       `json:"played_games"`
	LastGameAt  time.Time `json:"last_game_at"`
}

type ChatSettings struct {
	ChatID            int64  `json:"chat_id"`
	Language          string `json:"language"`
	MaxWordsHint      int    `json:"max_words_hint"`
	MinPlayersToStart int    `json:"min_players_to_start"`
	MaxPlayersToPlay  int    `json:"max_players_to_play"`
	MaxTurns          int    `json:"max_turns"`
	AdminID           int64  `json:"admin_id"`
}
