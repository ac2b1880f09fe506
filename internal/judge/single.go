package judge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/llm"
)

// SingleWord plays with a one-word secret and free-text verdicts.
type SingleWord struct {
	model  Completer
	logger *zap.Logger
}

func (j *SingleWord) ValidateHint(ctx context.Context, hint string, secret domain.Phrase) (HintVerdict, error) {
	if v, ok := exactHint(hint, secret); ok {
		return v, nil
	}
	raw, err := j.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: singleHintSystem},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Secret word: %s\nHint: %s", secret.Text(), hint)},
		},
		Temperature: temperature(0),
	})
	if err != nil {
		return HintVerdict{}, fmt.Errorf("validate hint: %w", err)
	}
	ok, err := verdictWord(raw, "valid", "invalid")
	if err != nil {
		return HintVerdict{}, err
	}
	if !ok {
		return HintVerdict{Valid: false, Reason: "The hint contains the secret word or a form of it."}, nil
	}
	return HintVerdict{Valid: true}, nil
}

// ValidateGuess answers once for the whole phrase.
func (j *SingleWord) ValidateGuess(ctx context.Context, guess string, secret domain.Phrase) ([]WordVerdict, error) {
	if v, ok := exactGuess(guess, secret); ok {
		return v, nil
	}
	raw, err := j.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: singleGuessSystem},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Secret word: %s\nGuess: %s", secret.Text(), guess)},
		},
		Temperature: temperature(0),
	})
	if err != nil {
		return nil, fmt.Errorf("validate guess: %w", err)
	}
	correct, err := verdictWord(raw, "correct", "incorrect")
	if err != nil {
		return nil, err
	}
	out := make([]WordVerdict, len(secret))
	for i, w := range secret {
		out[i] = WordVerdict{Word: w.Text, Correct: correct}
	}
	return out, nil
}

func (j *SingleWord) GuessTheWord(ctx context.Context, history domain.History, language string, secret domain.Phrase) (string, error) {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: fmt.Sprintf(singleGuesserSystem, language)}}
	firstHint := true
	for _, e := range history {
		switch e.Kind {
		case domain.KindHint:
			prefix := "No, this is incorrect, one more hint:"
			if firstHint {
				prefix = "My first hint is:"
				firstHint = false
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("%s `%s`", prefix, e.Text)})
		case domain.KindGuess:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: e.Text})
		}
	}
	raw, err := j.model.Complete(ctx, llm.Request{Messages: msgs, Temperature: temperature(0.7)})
	if err != nil {
		return "", fmt.Errorf("guess: %w", err)
	}
	fields := strings.Fields(CleanAnswer(raw))
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty guess", ErrMalformedVerdict)
	}
	return strings.ToLower(CleanAnswer(fields[0])), nil
}

const (
	singleHintSystem = "You referee a word guessing game. Players describe a secret word without naming it. " +
		"A hint is invalid when it contains the secret word, a grammatical form of it or a word with the same root. " +
		"Reply with exactly one word: valid or invalid."
	singleGuessSystem = "You referee a word guessing game. Decide whether the guess names the secret word. " +
		"Synonyms do not count, grammatical forms of the same word do. " +
		"Reply with exactly one word: correct or incorrect."
	singleGuesserSystem = "We play a word guessing game in %s. I give you hints about a secret word, you answer " +
		"with a single word: your guess. Never repeat a guess. Reply with the word only."
)
