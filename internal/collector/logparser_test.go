package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/roundtally/internal/domain"
)

var ingestTime = time.Date(2026, 10, 19, 21, 0, 0, 0, time.UTC)

func parseAll(t *testing.T, lines []string, resume *domain.MatchCursor) *ParseResult {
	t.Helper()
	p := NewLogParser(1, &countingAlloc{}, resume, ingestTime, nil)
	res, err := p.Parse(context.Background(), lines)
	require.NoError(t, err)
	assert.Equal(t, StateOutsideBlock, p.State())
	return res
}

func TestStripPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`L 10/19/2026 - 20:15:01: JSON_BEGIN{`, `JSON_BEGIN{`},
		{`10/19/2026 - 20:15:01.123 - Loading map "de_nuke"`, `Loading map "de_nuke"`},
		{`  "round_number" : "3",  `, `"round_number" : "3",`},
		{`no prefix here`, `no prefix here`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripPrefix(tt.in))
	}
}

func TestParserSkipsWarmupAndBots(t *testing.T) {
	res := parseAll(t, oneMatchFixture(), nil)

	require.Len(t, res.Records, 6)
	assert.Equal(t, 1, res.MatchesStarted)
	assert.Equal(t, "de_dust2", res.Map)
	assert.Zero(t, res.Skipped)
	// 2 warm-up rows and 3 bot rows
	assert.Equal(t, 5, res.Discarded)

	for _, r := range res.Records {
		assert.NotZero(t, r.AccountID)
		assert.NotZero(t, r.RoundNumber)
		assert.Equal(t, "match-1", r.MatchID)
		assert.Equal(t, int64(1), r.MatchNumber)
		assert.Equal(t, "de_dust2", r.Map)
		assert.Equal(t, "2026-10-19", r.MatchDate)
		assert.Equal(t, ingestTime, r.MatchDateTime)
		assert.Equal(t, int64(1), r.ServerID)
	}

	last := res.Records[4]
	assert.Equal(t, int64(100), last.AccountID)
	assert.Equal(t, 3, last.RoundNumber)
	assert.Equal(t, domain.TeamT, last.Team)
	assert.Equal(t, 5, last.Kills)
	assert.Equal(t, 2, last.Deaths)
	assert.Equal(t, 1, last.Assists)
	assert.Equal(t, 520, last.Damage)
	assert.Equal(t, 2, last.MVPs)
	assert.InDelta(t, 2.5, last.KDR, 0.001)
}

func TestParserDetectsMatchBoundary(t *testing.T) {
	lines := join(
		[]string{mapLoad("de_dust2")},
		statsBlock(1, statRow(100, 2, 1, 0, 0, 100, 0)),
		statsBlock(2, statRow(100, 2, 2, 0, 0, 200, 0)),
		statsBlock(3, statRow(100, 2, 3, 0, 0, 300, 0)),
		[]string{mapLoad("de_mirage")},
		statsBlock(1, statRow(100, 2, 0, 1, 0, 0, 0)),
		statsBlock(2, statRow(100, 2, 1, 1, 0, 90, 0)),
	)
	res := parseAll(t, lines, nil)

	require.Len(t, res.Records, 5)
	assert.Equal(t, 2, res.MatchesStarted)
	for _, r := range res.Records[:3] {
		assert.Equal(t, "match-1", r.MatchID)
		assert.Equal(t, "de_dust2", r.Map)
	}
	for _, r := range res.Records[3:] {
		assert.Equal(t, "match-2", r.MatchID)
		assert.Equal(t, int64(2), r.MatchNumber)
		assert.Equal(t, "de_mirage", r.Map)
	}
	assert.Equal(t, "de_mirage", res.Map)
}

func TestParserSuppressesRepeatedRowsInRun(t *testing.T) {
	block := statsBlock(1, statRow(100, 2, 1, 0, 0, 100, 0), statRow(200, 3, 0, 1, 0, 0, 0))
	res := parseAll(t, join(block, block), nil)

	assert.Len(t, res.Records, 2)
	assert.Equal(t, 2, res.DuplicatesInRun)
	assert.Equal(t, 1, res.MatchesStarted, "repeating round 1 is not a new match")
}

func TestParserDropsMalformedRows(t *testing.T) {
	lines := statsBlock(1,
		statRow(100, 2, 1, 0, 0, 100, 0),
		"not, a, row",
		"abc, 2, 800, 1, 0, 0, 100, 50.00, 1.00, 100, 0",
		statRow(200, 3, 0, 1, 0, 0, 0),
	)
	res := parseAll(t, lines, nil)

	assert.Len(t, res.Records, 2)
	assert.Equal(t, 2, res.Skipped)
}

func TestParserDiscardsRowsWithoutRound(t *testing.T) {
	lines := []string{
		logPrefix + "JSON_BEGIN{",
		logPrefix + `"player_0" : "` + statRow(100, 2, 1, 0, 0, 100, 0) + `",`,
		logPrefix + "}}JSON_END",
	}
	res := parseAll(t, lines, nil)

	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Discarded)
	assert.Zero(t, res.MatchesStarted)
}

func TestParserIgnoresRowsOutsideBlock(t *testing.T) {
	lines := join(
		statsBlock(1, statRow(100, 2, 1, 0, 0, 100, 0)),
		[]string{logPrefix + `"player_0" : "` + statRow(300, 2, 9, 0, 0, 900, 0) + `",`},
	)
	res := parseAll(t, lines, nil)

	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(100), res.Records[0].AccountID)
}

func TestParserClosesUnterminatedBlock(t *testing.T) {
	block := statsBlock(1, statRow(100, 2, 1, 0, 0, 100, 0))
	lines := block[:len(block)-1]

	p := NewLogParser(1, &countingAlloc{}, nil, ingestTime, nil)
	for _, line := range lines {
		require.NoError(t, p.Feed(context.Background(), line))
	}
	assert.Equal(t, StateInsideBlock, p.State())

	res := p.Finish()
	assert.Equal(t, StateOutsideBlock, p.State())
	assert.True(t, res.Unterminated)
	assert.Len(t, res.Records, 1)
}

func TestParserDefaultLayoutWithoutHeader(t *testing.T) {
	lines := []string{
		logPrefix + "JSON_BEGIN{",
		logPrefix + `"round_number" : "4",`,
		logPrefix + `"map" : "de_ancient",`,
		logPrefix + `"player_0" : "` + statRow(100, 3, 7, 3, 2, 640, 3) + `",`,
		logPrefix + "}}JSON_END",
	}
	res := parseAll(t, lines, nil)

	require.Len(t, res.Records, 1)
	r := res.Records[0]
	assert.Equal(t, domain.TeamCT, r.Team)
	assert.Equal(t, 7, r.Kills)
	assert.Equal(t, 3, r.Deaths)
	assert.Equal(t, 2, r.Assists)
	assert.Equal(t, 640, r.Damage)
	assert.Equal(t, 3, r.MVPs)
	assert.Equal(t, "de_ancient", r.Map)
}

func TestParserHeaderReordersColumns(t *testing.T) {
	lines := []string{
		logPrefix + "JSON_BEGIN{",
		logPrefix + `"round_number" : "1",`,
		logPrefix + `"fields" : "team, accountid, kills, deaths, assists, dmg, kdr, mvp",`,
		logPrefix + `"player_0" : "2, 555, 4, 2, 1, 300, 2.00, 1",`,
		logPrefix + "}}JSON_END",
	}
	res := parseAll(t, lines, nil)

	require.Len(t, res.Records, 1)
	assert.Equal(t, int64(555), res.Records[0].AccountID)
	assert.Equal(t, domain.TeamT, res.Records[0].Team)
	assert.Equal(t, 4, res.Records[0].Kills)
}

func TestParserResumesStoredMatch(t *testing.T) {
	cursor := &domain.MatchCursor{MatchID: "stored", MatchNumber: 7, Map: "de_inferno", RoundNumber: 4}
	lines := join(
		statsBlock(5, statRow(100, 2, 9, 4, 0, 900, 2)),
		statsBlock(6, statRow(100, 2, 10, 4, 0, 1000, 2)),
	)
	res := parseAll(t, lines, cursor)

	require.Len(t, res.Records, 2)
	assert.Zero(t, res.MatchesStarted)
	for _, r := range res.Records {
		assert.Equal(t, "stored", r.MatchID)
		assert.Equal(t, int64(7), r.MatchNumber)
		assert.Equal(t, "de_inferno", r.Map)
	}
}

func TestParserDoesNotResumeOnRoundOne(t *testing.T) {
	cursor := &domain.MatchCursor{MatchID: "stored", MatchNumber: 7, Map: "de_inferno", RoundNumber: 4}
	res := parseAll(t, statsBlock(1, statRow(100, 2, 1, 0, 0, 100, 0)), cursor)

	require.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.MatchesStarted)
	assert.Equal(t, "match-1", res.Records[0].MatchID)
}

func TestParserFlagsAnomalousReset(t *testing.T) {
	lines := join(
		statsBlock(5, statRow(100, 2, 5, 0, 0, 500, 0)),
		statsBlock(3, statRow(100, 2, 2, 0, 0, 200, 0)),
	)
	res := parseAll(t, lines, nil)

	assert.Equal(t, 1, res.AnomalousResets)
	assert.Equal(t, 2, res.MatchesStarted)
	require.Len(t, res.Records, 2)
	assert.NotEqual(t, res.Records[0].MatchID, res.Records[1].MatchID)
}

func TestParserAllocatorFailure(t *testing.T) {
	p := NewLogParser(1, &countingAlloc{err: errors.New("db gone")}, nil, ingestTime, nil)
	_, err := p.Parse(context.Background(), statsBlock(1, statRow(100, 2, 1, 0, 0, 100, 0)))
	assert.Error(t, err)
}

func TestParserHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewLogParser(1, &countingAlloc{}, nil, ingestTime, nil)
	_, err := p.Parse(ctx, oneMatchFixture())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionSet(t *testing.T) {
	s := NewSessionSet()
	k := domain.RoundKey{AccountID: 1, MatchID: "m", RoundNumber: 1}
	assert.False(t, s.Seen(k))
	assert.True(t, s.Seen(k))
	assert.Equal(t, 1, s.Len())
	s.Reset()
	assert.False(t, s.Seen(k))
}
