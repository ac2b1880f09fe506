package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/judge"
	"github.com/park285/guessword-bot/internal/obslog"
	"github.com/park285/guessword-bot/internal/stats"
)

const (
	lowTurnsThreshold  = 3
	controlsEvery      = 10
	duplicateDirective = "Guess was already made, avoid repeating."
)

type TurnOutcome int

const (
	TurnIgnored TurnOutcome = iota
	TurnRejected
	TurnContinued
	TurnWon
	TurnTimedOut
)

func (o TurnOutcome) String() string {
	switch o {
	case TurnRejected:
		return "rejected"
	case TurnContinued:
		return "continued"
	case TurnWon:
		return "won"
	case TurnTimedOut:
		return "timed_out"
	default:
		return "ignored"
	}
}

type TurnResult struct {
	Outcome  TurnOutcome
	Guess    string
	Revealed []string
}

// ProcessTurnText plays one round with text as the acting player's hint. Messages from
// anyone but the current player, or outside a running game, are ignored. Judge and store
// failures leave the room untouched.
func (e *Engine) ProcessTurnText(ctx context.Context, chatID int64, author domain.Player, text string) (TurnResult, error) {
	unlock, err := e.locks.Lock(ctx, chatID)
	if err != nil {
		return TurnResult{}, err
	}
	defer unlock()

	room, err := e.loadRoom(ctx, chatID)
	if errors.Is(err, ErrNoRoom) {
		return TurnResult{Outcome: TurnIgnored}, nil
	}
	if err != nil {
		return TurnResult{}, err
	}
	current, ok := room.CurrentPlayer()
	if !room.IsRunning || len(room.Phrase) == 0 || !ok || current.ID != author.ID {
		return TurnResult{Outcome: TurnIgnored}, nil
	}
	if author.Name == "" {
		author.Name = current.Name
	}
	s, err := e.chatSettings(ctx, chatID)
	if err != nil {
		return TurnResult{}, err
	}

	hint := strings.TrimSpace(text)
	switch n := len(judge.SplitHint(hint)); {
	case n == 0:
		return TurnResult{Outcome: TurnRejected}, e.notify.HintRejected(ctx, chatID, Rejection{Empty: true, MaxWords: room.MaxWordsPerHint})
	case n > room.MaxWordsPerHint:
		return TurnResult{Outcome: TurnRejected}, e.notify.HintRejected(ctx, chatID, Rejection{TooLong: true, MaxWords: room.MaxWordsPerHint})
	}

	stop := e.keepTyping(ctx, chatID)
	defer stop()

	verdict, err := e.judge.ValidateHint(ctx, hint, room.Phrase)
	if err != nil {
		return TurnResult{}, fmt.Errorf("validate hint: %w", err)
	}
	if !verdict.Valid {
		stop()
		return TurnResult{Outcome: TurnRejected}, e.notify.HintRejected(ctx, chatID, Rejection{Reason: verdict.Reason})
	}

	history := room.History.With(hint, domain.KindHint)
	guess, err := e.guess(ctx, history, s.Language, room.Phrase)
	if err != nil {
		return TurnResult{}, err
	}

	verdicts, err := e.judge.ValidateGuess(ctx, guess, room.Phrase)
	if err != nil {
		return TurnResult{}, fmt.Errorf("validate guess: %w", err)
	}
	var correct []string
	for _, v := range verdicts {
		if v.Correct {
			correct = append(correct, v.Word)
		}
	}
	phrase := room.Phrase.Reveal(correct)
	revealed := phrase.RevealedWords()
	stop()

	e.logger.Info("turn_adjudicated", obslog.Chat(chatID), obslog.User(author.ID),
		zap.Int("round", room.Round), zap.Int("revealed", len(revealed)), zap.Int("words", len(phrase)))

	final := room.WithTurn(room.Round, history, phrase)
	if phrase.AllRevealed() {
		updated, err := e.settle(ctx, room, author.ID)
		if err != nil {
			return TurnResult{}, err
		}
		if err := e.finish(ctx, final, stats.OutcomeWon); err != nil {
			return TurnResult{}, err
		}
		e.warnNotify("won", chatID, e.notify.Won(ctx, final, author, guess, stats.Rank(updated)))
		return TurnResult{Outcome: TurnWon, Guess: guess, Revealed: revealed}, nil
	}

	nextRound := room.Round + 1
	if nextRound > s.MaxTurns {
		if _, err := e.settle(ctx, room, 0); err != nil {
			return TurnResult{}, err
		}
		if err := e.finish(ctx, final, stats.OutcomeTimedOut); err != nil {
			return TurnResult{}, err
		}
		e.warnNotify("timed_out", chatID, e.notify.TimedOut(ctx, final, guess))
		return TurnResult{Outcome: TurnTimedOut, Guess: guess, Revealed: revealed}, nil
	}

	next := room.WithTurn(nextRound, history.With(guess, domain.KindGuess), phrase)
	if err := e.rooms.ReplaceRoom(ctx, next); err != nil {
		return TurnResult{}, fmt.Errorf("replace room: %w", err)
	}
	report := TurnReport{
		Room:          next,
		Guess:         guess,
		Revealed:      revealed,
		OfferControls: nextRound%controlsEvery == controlsEvery-1,
	}
	report.Next, _ = next.CurrentPlayer()
	if left := s.MaxTurns - nextRound; left <= lowTurnsThreshold {
		report.TriesLeft = left + 1
	}
	e.warnNotify("turn", chatID, e.notify.TurnPlayed(ctx, report))
	return TurnResult{Outcome: TurnContinued, Guess: guess, Revealed: revealed}, nil
}

// guess asks for a guess and, when it repeats anything already said, asks once more
// with an explicit directive. The second answer is taken as is.
func (e *Engine) guess(ctx context.Context, history domain.History, language string, phrase domain.Phrase) (string, error) {
	guess, err := e.judge.GuessTheWord(ctx, history, language, phrase)
	if err != nil {
		return "", fmt.Errorf("guess: %w", err)
	}
	if !history.Contains(guess) {
		return guess, nil
	}
	e.logger.Info("guess_repeated", zap.String("guess", guess))
	retry := history.With(guess, domain.KindGuess).With(duplicateDirective, domain.KindHint)
	guess, err = e.judge.GuessTheWord(ctx, retry, language, phrase)
	if err != nil {
		return "", fmt.Errorf("guess retry: %w", err)
	}
	return guess, nil
}
