package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/llm"
)

type Mode string

const (
	ModeSingleWord Mode = "single"
	ModeTwoWords   Mode = "two"
)

var (
	ErrMalformedVerdict = errors.New("judge returned an unparsable verdict")
	ErrEmptyPhrase      = errors.New("word generator returned an empty phrase")
)

// Completer is the model call the judge depends on.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

type HintVerdict struct {
	Valid  bool
	Reason string
}

type WordVerdict struct {
	Word    string
	Correct bool
}

// Judge validates hints, adjudicates guesses and produces guesses.
type Judge interface {
	ValidateHint(ctx context.Context, hint string, secret domain.Phrase) (HintVerdict, error)
	ValidateGuess(ctx context.Context, guess string, secret domain.Phrase) ([]WordVerdict, error)
	GuessTheWord(ctx context.Context, history domain.History, language string, secret domain.Phrase) (string, error)
}

// WordGenerator hands out fresh secrets, avoiding its recent history.
type WordGenerator interface {
	NewPhrase(ctx context.Context, language string) (string, error)
}

// PhraseHistory is the rolling list of recently used secrets per mode.
type PhraseHistory interface {
	RecentPhrases(ctx context.Context, mode string) ([]string, error)
	RememberPhrase(ctx context.Context, mode, phrase string) error
}

// New returns the judge and generator for mode. The mode is fixed for the process.
func New(mode Mode, model Completer, history PhraseHistory, logger *zap.Logger) (Judge, WordGenerator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gen := &generator{mode: mode, model: model, history: history, logger: logger}
	switch mode {
	case ModeSingleWord:
		return &SingleWord{model: model, logger: logger}, gen, nil
	case ModeTwoWords:
		return &TwoWords{model: model, logger: logger}, gen, nil
	default:
		return nil, nil, fmt.Errorf("unknown game mode %q", mode)
	}
}

// SplitHint breaks a hint into words on whitespace and - . _ separators.
func SplitHint(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '.' || r == '_'
	})
}

// exactHint covers the checks that never need the model.
func exactHint(hint string, secret domain.Phrase) (HintVerdict, bool) {
	h := strings.ToLower(strings.TrimSpace(hint))
	if h == "" {
		return HintVerdict{Valid: false, Reason: "The hint is empty."}, true
	}
	if h == strings.ToLower(secret.Text()) {
		return HintVerdict{Valid: false, Reason: "The hint is the secret itself."}, true
	}
	return HintVerdict{}, false
}

// exactGuess reports all words correct when the guess is the phrase itself.
func exactGuess(guess string, secret domain.Phrase) ([]WordVerdict, bool) {
	if !strings.EqualFold(normalizePhrase(guess), secret.Text()) {
		return nil, false
	}
	out := make([]WordVerdict, len(secret))
	for i, w := range secret {
		out[i] = WordVerdict{Word: w.Text, Correct: true}
	}
	return out, true
}

// CleanAnswer strips quotes, markdown and trailing punctuation models like to add.
func CleanAnswer(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '`' || (unicode.IsPunct(r) && r != '-')
	})
}

func normalizePhrase(s string) string {
	return strings.Join(strings.Fields(CleanAnswer(s)), " ")
}

// verdictWord reads a one-word answer such as "valid" or "Incorrect.".
func verdictWord(raw string, yes, no string) (bool, error) {
	fields := strings.Fields(strings.ToLower(CleanAnswer(raw)))
	if len(fields) == 0 {
		return false, fmt.Errorf("%w: empty answer", ErrMalformedVerdict)
	}
	switch strings.TrimFunc(fields[0], unicode.IsPunct) {
	case yes:
		return true, nil
	case no:
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrMalformedVerdict, truncate(raw, 80))
}

func temperature(v float64) *float64 { return &v }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
