package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/llm"
)

// TwoWords plays with an adjective+noun secret and structured verdicts.
type TwoWords struct {
	model  Completer
	logger *zap.Logger
}

type hintAnswer struct {
	IsValid *bool  `json:"isValid"`
	Reason  string `json:"reason"`
}

type guessAnswer struct {
	Words []struct {
		Word      string `json:"word"`
		IsCorrect *bool  `json:"isCorrect"`
	} `json:"words"`
}

var hintSchema = &llm.Schema{
	Name:   "hint_verdict",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"isValid": map[string]any{"type": "boolean"},
			"reason":  map[string]any{"type": "string"},
		},
		"required":             []string{"isValid", "reason"},
		"additionalProperties": false,
	},
}

var guessSchema = &llm.Schema{
	Name:   "guess_verdict",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"words": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"word":      map[string]any{"type": "string"},
						"isCorrect": map[string]any{"type": "boolean"},
					},
					"required":             []string{"word", "isCorrect"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"words"},
		"additionalProperties": false,
	},
}

func (j *TwoWords) ValidateHint(ctx context.Context, hint string, secret domain.Phrase) (HintVerdict, error) {
	if v, ok := exactHint(hint, secret); ok {
		return v, nil
	}
	raw, err := j.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: twoHintSystem},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Secret phrase: %s\nHint: %s", secret.Text(), hint)},
		},
		Schema:      hintSchema,
		Temperature: temperature(0),
	})
	if err != nil {
		return HintVerdict{}, fmt.Errorf("validate hint: %w", err)
	}
	var ans hintAnswer
	if err := json.Unmarshal([]byte(stripFence(raw)), &ans); err != nil || ans.IsValid == nil {
		return HintVerdict{}, fmt.Errorf("%w: %q", ErrMalformedVerdict, truncate(raw, 120))
	}
	return HintVerdict{Valid: *ans.IsValid, Reason: strings.TrimSpace(ans.Reason)}, nil
}

// ValidateGuess judges every secret word independently of word order in the guess.
// Words already revealed stay correct.
func (j *TwoWords) ValidateGuess(ctx context.Context, guess string, secret domain.Phrase) ([]WordVerdict, error) {
	if v, ok := exactGuess(guess, secret); ok {
		return v, nil
	}
	raw, err := j.model.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: twoGuessSystem},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Secret phrase: %s\nGuess: %s", secret.Text(), guess)},
		},
		Schema:      guessSchema,
		Temperature: temperature(0),
	})
	if err != nil {
		return nil, fmt.Errorf("validate guess: %w", err)
	}
	var ans guessAnswer
	if err := json.Unmarshal([]byte(stripFence(raw)), &ans); err != nil || len(ans.Words) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedVerdict, truncate(raw, 120))
	}

	out := make([]WordVerdict, len(secret))
	for i, w := range secret {
		v := WordVerdict{Word: w.Text, Correct: w.Revealed}
		matched := false
		for _, a := range ans.Words {
			if a.IsCorrect != nil && strings.EqualFold(strings.TrimSpace(a.Word), w.Text) {
				v.Correct = v.Correct || *a.IsCorrect
				matched = true
				break
			}
		}
		if !matched {
			// 모델이 정답 단어 대신 추측 단어를 돌려준 경우 순서로 매칭
			if len(ans.Words) != len(secret) || ans.Words[i].IsCorrect == nil {
				return nil, fmt.Errorf("%w: no verdict for %q", ErrMalformedVerdict, w.Text)
			}
			v.Correct = v.Correct || *ans.Words[i].IsCorrect
		}
		out[i] = v
	}
	return out, nil
}

func (j *TwoWords) GuessTheWord(ctx context.Context, history domain.History, language string, secret domain.Phrase) (string, error) {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: fmt.Sprintf(twoGuesserSystem, language, secret.Mask(), domain.MaskPlaceholder)}}
	for _, e := range history {
		switch e.Kind {
		case domain.KindHint:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: e.Text})
		case domain.KindGuess:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: e.Text})
		}
	}
	raw, err := j.model.Complete(ctx, llm.Request{Messages: msgs, Temperature: temperature(0.7)})
	if err != nil {
		return "", fmt.Errorf("guess: %w", err)
	}
	guess := strings.ToLower(normalizePhrase(raw))
	if guess == "" {
		return "", fmt.Errorf("%w: empty guess", ErrMalformedVerdict)
	}
	return guess, nil
}

// stripFence removes a ```json fence some models wrap around structured output.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

const (
	twoHintSystem = "You referee a word guessing game with a secret adjective+noun phrase. " +
		"A hint is invalid when it contains either secret word, a grammatical form of it or a word with the same root. " +
		"Answer in JSON with isValid and a short reason."
	twoGuessSystem = "You referee a word guessing game with a secret adjective+noun phrase. " +
		"For every word of the secret phrase decide whether the guess contains it, in any order and any grammatical form. " +
		"Answer in JSON: words is a list with one entry per secret word, word echoes the secret word."
	twoGuesserSystem = "We play a word guessing game in %s. The secret is an adjective followed by a noun. " +
		"What you know so far: %s (%s marks a word you have not found). I give you hints, you answer with " +
		"a two-word phrase: your guess. Keep the words you already found. Never repeat a guess. Reply with the phrase only."
)
