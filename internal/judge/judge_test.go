package judge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/park285/guessword-bot/internal/domain"
	"github.com/park285/guessword-bot/internal/llm"
)

type fakeModel struct {
	mu      sync.Mutex
	answers []string
	err     error
	calls   []llm.Request
}

func (f *fakeModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.answers) == 0 {
		return "", errors.New("no scripted answer")
	}
	a := f.answers[0]
	f.answers = f.answers[1:]
	return a, nil
}

type memHistory struct {
	byMode map[string][]string
}

func (m *memHistory) RecentPhrases(ctx context.Context, mode string) ([]string, error) {
	return m.byMode[mode], nil
}

func (m *memHistory) RememberPhrase(ctx context.Context, mode, phrase string) error {
	if m.byMode == nil {
		m.byMode = map[string][]string{}
	}
	m.byMode[mode] = append(m.byMode[mode], phrase)
	return nil
}

func newTestJudge(t *testing.T, mode Mode, answers ...string) (Judge, *fakeModel) {
	t.Helper()
	m := &fakeModel{answers: answers}
	j, _, err := New(mode, m, &memHistory{}, nil)
	if err != nil { t.Fatalf("New: %v", err) }
	return j, m
}

func TestSplitHint(t *testing.T) {
	got := SplitHint("  big-red  fruit_on.tree ")
	want := []string{"big", "red", "fruit", "on", "tree"}
	if strings.Join(got, ",") != strings.Join(want, ",") { t.Fatalf("SplitHint: %v", got) }
	if len(SplitHint(" - . _ ")) != 0 { t.Fatalf("separators only should be empty") }
}

func TestValidateHintShortCircuits(t *testing.T) {
	for _, mode := range []Mode{ModeSingleWord, ModeTwoWords} {
		j, m := newTestJudge(t, mode)
		secret := domain.NewPhrase("red apple")
		for _, hint := range []string{"   ", "Red Apple"} {
			v, err := j.ValidateHint(context.Background(), hint, secret)
			if err != nil { t.Fatalf("%s ValidateHint(%q): %v", mode, hint, err) }
			if v.Valid { t.Fatalf("%s: hint %q accepted", mode, hint) }
		}
		if len(m.calls) != 0 { t.Fatalf("%s: model called %d times", mode, len(m.calls)) }
	}
}

func TestSingleValidateHint(t *testing.T) {
	j, _ := newTestJudge(t, ModeSingleWord, "Invalid.", "valid", "perhaps")
	secret := domain.NewPhrase("apple")
	ctx := context.Background()

	v, err := j.ValidateHint(ctx, "apples grow", secret)
	if err != nil || v.Valid { t.Fatalf("expected invalid: %+v %v", v, err) }
	v, err = j.ValidateHint(ctx, "fruit", secret)
	if err != nil || !v.Valid { t.Fatalf("expected valid: %+v %v", v, err) }
	if _, err := j.ValidateHint(ctx, "tree", secret); !errors.Is(err, ErrMalformedVerdict) { t.Fatalf("expected malformed, got %v", err) }
}

func TestSingleValidateGuess(t *testing.T) {
	j, m := newTestJudge(t, ModeSingleWord, "incorrect", "Correct")
	secret := domain.NewPhrase("apple")
	ctx := context.Background()

	v, err := j.ValidateGuess(ctx, "APPLE.", secret)
	if err != nil || !v[0].Correct { t.Fatalf("exact guess: %+v %v", v, err) }
	if len(m.calls) != 0 { t.Fatalf("exact guess called model") }

	v, err = j.ValidateGuess(ctx, "pear", secret)
	if err != nil || v[0].Correct { t.Fatalf("pear: %+v %v", v, err) }
	v, err = j.ValidateGuess(ctx, "apples", secret)
	if err != nil || !v[0].Correct { t.Fatalf("apples: %+v %v", v, err) }
}

func TestTwoValidateGuessOrderIndependent(t *testing.T) {
	j, _ := newTestJudge(t, ModeTwoWords,
		`{"words":[{"word":"apple","isCorrect":true},{"word":"red","isCorrect":false}]}`)
	v, err := j.ValidateGuess(context.Background(), "apple green", domain.NewPhrase("red apple"))
	if err != nil { t.Fatalf("ValidateGuess: %v", err) }
	if v[0].Word != "red" || v[0].Correct { t.Fatalf("adjective: %+v", v[0]) }
	if v[1].Word != "apple" || !v[1].Correct { t.Fatalf("noun: %+v", v[1]) }
}

func TestTwoValidateGuessKeepsRevealed(t *testing.T) {
	j, _ := newTestJudge(t, ModeTwoWords,
		"```json\n{\"words\":[{\"word\":\"red\",\"isCorrect\":false},{\"word\":\"apple\",\"isCorrect\":false}]}\n```")
	secret := domain.NewPhrase("red apple").Reveal([]string{"apple"})
	v, err := j.ValidateGuess(context.Background(), "blue pear", secret)
	if err != nil { t.Fatalf("ValidateGuess: %v", err) }
	if !v[1].Correct || v[0].Correct { t.Fatalf("verdicts: %+v", v) }
}

func TestTwoMalformedOutputIsError(t *testing.T) {
	j, _ := newTestJudge(t, ModeTwoWords, "not json", `{"words":[{"word":"x","isCorrect":true}]}`, `{"reason":"no flag"}`)
	ctx := context.Background()
	secret := domain.NewPhrase("red apple")
	if _, err := j.ValidateGuess(ctx, "blue pear", secret); !errors.Is(err, ErrMalformedVerdict) { t.Fatalf("garbage: %v", err) }
	if _, err := j.ValidateGuess(ctx, "blue pear", secret); !errors.Is(err, ErrMalformedVerdict) { t.Fatalf("unmatched word: %v", err) }
	if _, err := j.ValidateHint(ctx, "fruit", secret); !errors.Is(err, ErrMalformedVerdict) { t.Fatalf("hint without flag: %v", err) }
}

func TestTwoGuessUsesMaskAndHistory(t *testing.T) {
	j, m := newTestJudge(t, ModeTwoWords, `"Green Apple."`)
	secret := domain.NewPhrase("crimson apple").Reveal([]string{"apple"})
	history := domain.History{}.With("a fruit", domain.KindHint).With("green pear", domain.KindGuess).With("color of blood", domain.KindHint)

	guess, err := j.GuessTheWord(context.Background(), history, "English", secret)
	if err != nil { t.Fatalf("GuessTheWord: %v", err) }
	if guess != "green apple" { t.Fatalf("guess: %q", guess) }

	msgs := m.calls[0].Messages
	if !strings.Contains(msgs[0].Content, "_ apple") { t.Fatalf("mask missing from system prompt: %q", msgs[0].Content) }
	if strings.Contains(msgs[0].Content, "crimson") { t.Fatalf("secret leaked into guesser prompt") }
	if len(msgs) != 4 || msgs[1].Role != llm.RoleUser || msgs[2].Role != llm.RoleAssistant { t.Fatalf("roles: %+v", msgs) }
}

func TestSingleGuessFramesHints(t *testing.T) {
	j, m := newTestJudge(t, ModeSingleWord, "Banana!")
	history := domain.History{}.With("yellow", domain.KindHint).With("lemon", domain.KindGuess).With("monkeys", domain.KindHint)
	guess, err := j.GuessTheWord(context.Background(), history, "English", domain.NewPhrase("banana"))
	if err != nil { t.Fatalf("GuessTheWord: %v", err) }
	if guess != "banana" { t.Fatalf("guess: %q", guess) }
	msgs := m.calls[0].Messages
	if !strings.HasPrefix(msgs[1].Content, "My first hint is:") { t.Fatalf("first hint: %q", msgs[1].Content) }
	if !strings.HasPrefix(msgs[3].Content, "No, this is incorrect") { t.Fatalf("next hint: %q", msgs[3].Content) }
}

func TestGeneratorAvoidsRecentAndRemembers(t *testing.T) {
	m := &fakeModel{answers: []string{"Shiny Star.", "  "}}
	hist := &memHistory{byMode: map[string][]string{"two": {"red apple"}}}
	_, gen, err := New(ModeTwoWords, m, hist, nil)
	if err != nil { t.Fatalf("New: %v", err) }

	phrase, err := gen.NewPhrase(context.Background(), "English")
	if err != nil { t.Fatalf("NewPhrase: %v", err) }
	if phrase != "shiny star" { t.Fatalf("phrase: %q", phrase) }
	if !strings.Contains(m.calls[0].Messages[0].Content, "red apple") { t.Fatalf("recent phrases not excluded") }
	if got := hist.byMode["two"]; got[len(got)-1] != "shiny star" { t.Fatalf("not remembered: %v", got) }

	if _, err := gen.NewPhrase(context.Background(), "English"); !errors.Is(err, ErrEmptyPhrase) { t.Fatalf("expected ErrEmptyPhrase, got %v", err) }
}

func TestGeneratorSingleTakesFirstToken(t *testing.T) {
	m := &fakeModel{answers: []string{"Lighthouse - a tower"}}
	_, gen, err := New(ModeSingleWord, m, &memHistory{}, nil)
	if err != nil { t.Fatalf("New: %v", err) }
	phrase, err := gen.NewPhrase(context.Background(), "English")
	if err != nil || phrase != "lighthouse" { t.Fatalf("phrase: %q %v", phrase, err) }
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, _, err := New("three", &fakeModel{}, &memHistory{}, nil); err == nil { t.Fatalf("expected error") }
}
