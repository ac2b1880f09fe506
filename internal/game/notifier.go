package game

import (
	"context"

	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/stats"
)

// Notifier renders engine events into chat messages. Implementations own the wording;
// the engine only reports what happened.
type Notifier interface {
	// Lobby posts the onboarding message, or edits it when room.OnboardingMessageID is set,
	// and returns the id of the message now carrying the lobby.
	Lobby(ctx context.Context, room domain.Room, s domain.ChatSettings) (int, error)
	LobbyClosed(ctx context.Context, chatID int64, messageID int) error
	Started(ctx context.Context, room domain.Room, first domain.Player) error
	HintRejected(ctx context.Context, chatID int64, r Rejection) error
	TurnPlayed(ctx context.Context, t TurnReport) error
	Won(ctx context.Context, room domain.Room, winner domain.Player, guess string, standings []stats.Standing) error
	TimedOut(ctx context.Context, room domain.Room, guess string) error
	Cancelled(ctx context.Context, chatID int64) error
	WordReminder(ctx context.Context, room domain.Room) error
	Typing(ctx context.Context, chatID int64) error
}

// Rejection explains why a hint did not count. Empty and TooLong rejections never reach
// the judge.
type Rejection struct {
	Empty    bool
	TooLong  bool
	MaxWords int
	Reason   string
}

// TurnReport describes a completed round that did not end the game.
type TurnReport struct {
	Room          domain.Room
	Guess         string
	Revealed      []string
	Next          domain.Player
	TriesLeft     int // 0 = no warning
	OfferControls bool
}
