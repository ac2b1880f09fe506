package judge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/guessword-bot/internal/llm"
)

type generator struct {
	mode    Mode
	model   Completer
	history PhraseHistory
	logger  *zap.Logger
}

// NewPhrase asks the model for a secret that is not in the recent history and records it.
func (g *generator) NewPhrase(ctx context.Context, language string) (string, error) {
	recent, err := g.history.RecentPhrases(ctx, string(g.mode))
	if err != nil {
		return "", fmt.Errorf("recent phrases: %w", err)
	}

	var prompt string
	if g.mode == ModeSingleWord {
		prompt = fmt.Sprintf(singleWordPrompt, language)
	} else {
		prompt = fmt.Sprintf(twoWordsPrompt, language)
	}
	if len(recent) > 0 {
		prompt += " Do not use any of these: " + strings.Join(recent, ", ") + "."
	}

	raw, err := g.model.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: temperature(1),
	})
	if err != nil {
		return "", fmt.Errorf("generate phrase: %w", err)
	}

	words := strings.Fields(strings.ToLower(CleanAnswer(raw)))
	for i := range words {
		words[i] = CleanAnswer(words[i])
	}
	words = nonEmpty(words)
	if len(words) == 0 {
		return "", ErrEmptyPhrase
	}

	var phrase string
	if g.mode == ModeSingleWord {
		phrase = words[0]
	} else {
		if len(words) != 2 {
			g.logger.Warn("phrase_word_count", zap.String("phrase", strings.Join(words, " ")), zap.Int("words", len(words)))
		}
		phrase = strings.Join(words, " ")
	}

	if err := g.history.RememberPhrase(ctx, string(g.mode), phrase); err != nil {
		return "", fmt.Errorf("remember phrase: %w", err)
	}
	g.logger.Info("phrase_generated", zap.String("mode", string(g.mode)), zap.Int("recent", len(recent)))
	return phrase, nil
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

const (
	singleWordPrompt = "Think of one random, commonly known noun in %s for a guessing game. Reply with the word only, in lowercase."
	twoWordsPrompt   = "Think of a random, commonly known phrase in %s made of an adjective and a noun, for a guessing game. " +
		"Reply with the two words only, in lowercase."
)
