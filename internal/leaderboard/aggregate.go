// Package leaderboard turns stored round records into ranked player totals.
//
// Round records carry running totals for the match, so every aggregation
// first collapses a player's rounds in a match down to the last one and
// only then sums across matches.
package leaderboard

import (
	"cmp"
	"math"
	"slices"

	"github.com/ernie/roundtally/internal/domain"
)

// MatchFinal is a player's final line for one match
type MatchFinal struct {
	domain.RoundRecord
}

type matchKey struct {
	accountID int64
	matchID   string
}

// CollapseFinalRounds keeps the highest-numbered round of each
// (player, match) pair. Results are ordered by match number then account.
func CollapseFinalRounds(records []domain.RoundRecord) []MatchFinal {
	index := make(map[matchKey]int)
	var finals []MatchFinal

	for _, r := range records {
		key := matchKey{r.AccountID, r.MatchID}
		i, ok := index[key]
		if !ok {
			index[key] = len(finals)
			finals = append(finals, MatchFinal{r})
			continue
		}
		if r.RoundNumber > finals[i].RoundNumber {
			finals[i] = MatchFinal{r}
		}
	}

	slices.SortFunc(finals, func(a, b MatchFinal) int {
		return cmp.Or(
			cmp.Compare(a.MatchNumber, b.MatchNumber),
			cmp.Compare(a.AccountID, b.AccountID),
		)
	})
	return finals
}

// Totals sums each player's final lines across matches. The final round
// number of a match counts as the rounds played in it.
func Totals(finals []MatchFinal) []domain.PlayerTotals {
	byPlayer := make(map[int64]*domain.PlayerTotals)
	matches := make(map[int64]map[string]struct{})
	var order []int64

	for _, f := range finals {
		t, ok := byPlayer[f.AccountID]
		if !ok {
			t = &domain.PlayerTotals{AccountID: f.AccountID}
			byPlayer[f.AccountID] = t
			matches[f.AccountID] = make(map[string]struct{})
			order = append(order, f.AccountID)
		}
		t.Kills += f.Kills
		t.Deaths += f.Deaths
		t.Assists += f.Assists
		t.Damage += f.Damage
		t.MVPs += f.MVPs
		t.RoundsPlayed += f.RoundNumber
		matches[f.AccountID][f.MatchID] = struct{}{}
	}

	out := make([]domain.PlayerTotals, 0, len(order))
	for _, id := range order {
		t := byPlayer[id]
		t.MatchesPlayed = len(matches[id])
		derive(t)
		out = append(out, *t)
	}
	return out
}

// NaiveTotals sums every stored round as if rounds held per-round deltas.
// The result overcounts; it exists to show what final-round selection
// corrects.
func NaiveTotals(records []domain.RoundRecord) []domain.PlayerTotals {
	byPlayer := make(map[int64]*domain.PlayerTotals)
	matches := make(map[int64]map[string]struct{})
	var order []int64

	for _, r := range records {
		t, ok := byPlayer[r.AccountID]
		if !ok {
			t = &domain.PlayerTotals{AccountID: r.AccountID}
			byPlayer[r.AccountID] = t
			matches[r.AccountID] = make(map[string]struct{})
			order = append(order, r.AccountID)
		}
		t.Kills += r.Kills
		t.Deaths += r.Deaths
		t.Assists += r.Assists
		t.Damage += r.Damage
		t.MVPs += r.MVPs
		t.RoundsPlayed++
		matches[r.AccountID][r.MatchID] = struct{}{}
	}

	out := make([]domain.PlayerTotals, 0, len(order))
	for _, id := range order {
		t := byPlayer[id]
		t.MatchesPlayed = len(matches[id])
		derive(t)
		out = append(out, *t)
	}
	return out
}

// KDR is kills over deaths, or plain kills for a player who never died
func KDR(kills, deaths int) float64 {
	if deaths == 0 {
		return float64(kills)
	}
	return round2(float64(kills) / float64(deaths))
}

func derive(t *domain.PlayerTotals) {
	t.KDR = KDR(t.Kills, t.Deaths)
	if t.MatchesPlayed > 0 {
		t.KillsPerMatch = round2(float64(t.Kills) / float64(t.MatchesPlayed))
	}
	if t.RoundsPlayed > 0 {
		t.DamagePerRound = round2(float64(t.Damage) / float64(t.RoundsPlayed))
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Rank sorts totals best first: most kills, then best KDR, then lowest
// account id so equal players always come out in the same order.
func Rank(totals []domain.PlayerTotals) {
	slices.SortFunc(totals, func(a, b domain.PlayerTotals) int {
		return cmp.Or(
			cmp.Compare(b.Kills, a.Kills),
			cmp.Compare(b.KDR, a.KDR),
			cmp.Compare(a.AccountID, b.AccountID),
		)
	})
}
