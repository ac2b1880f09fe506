package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/park285/guessword-bot/internal/domain"
)

// Standing is a leaderboard line; tied scores share Position.
type Standing struct {
	Position int
	Stats    domain.PlayerStats
}

// less orders by score desc, played games desc, then name asc.
func less(a, b domain.PlayerStats) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.PlayedGames != b.PlayedGames {
		return a.PlayedGames > b.PlayedGames
	}
	return a.UserName < b.UserName
}

// Rank groups entries by score; the n-th distinct score gets position n.
func Rank(entries []domain.PlayerStats) []Standing {
	items := append([]domain.PlayerStats(nil), entries...)
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })

	out := make([]Standing, 0, len(items))
	pos := 0
	for i, ps := range items {
		if i == 0 || ps.Score != items[i-1].Score {
			pos++
		}
		out = append(out, Standing{Position: pos, Stats: ps})
	}
	return out
}

// Outcome says how a room resolved.
type Outcome string

const (
	OutcomeWon       Outcome = "won"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
)

// Recorder applies room outcomes to player stats in one repository call.
type Recorder struct {
	repo Repository
	now  func() time.Time
}

func NewRecorder(repo Repository) *Recorder { return &Recorder{repo: repo, now: time.Now} }

// Record bumps played games for every player and, when winnerID is non-zero, the
// winner's score. It returns the updated entries of the given players.
func (r *Recorder) Record(ctx context.Context, players []domain.Player, winnerID int64) ([]domain.PlayerStats, error) {
	now := r.now().UTC()
	results := make([]Result, len(players))
	for i, p := range players {
		results[i] = Result{
			UserID:   p.ID,
			UserName: strings.TrimSpace(p.Name),
			Won:      winnerID != 0 && p.ID == winnerID,
			At:       now,
		}
	}
	updated, err := r.repo.Apply(ctx, results)
	if err != nil {
		return nil, fmt.Errorf("apply stats: %w", err)
	}
	return updated, nil
}

// Current returns the stored entries of players without changing them; unknown players
// come back zeroed under their display name.
func (r *Recorder) Current(ctx context.Context, players []domain.Player) ([]domain.PlayerStats, error) {
	ids := make([]int64, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	stored, err := r.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	out := make([]domain.PlayerStats, 0, len(players))
	for _, p := range players {
		ps, ok := stored[p.ID]
		if !ok {
			ps = domain.PlayerStats{UserID: p.ID, UserName: p.Name}
		}
		out = append(out, ps)
	}
	return out, nil
}
