package collector

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	logPrefix    = "L 10/19/2026 - 20:15:01: "
	fieldsHeader = "             accountid,   team,  money,  kills, deaths,assists,    dmg,    hsp,    kdr,    adr,    mvp,     ef,     ud,     3k,     4k,     5k,clutchk, firstk,pistolk,sniperk, blindk,  bombk,firedmg,uniquek,  dinks,chickenk"
)

// statRow renders a player row in the default server column layout
func statRow(account int64, team, kills, deaths, assists, dmg, mvp int) string {
	kdr := float64(kills)
	if deaths > 0 {
		kdr = float64(kills) / float64(deaths)
	}
	return fmt.Sprintf("%14d, %6d, %6d, %6d, %6d, %6d, %6d, %6.2f, %6.2f, %6d, %6d,      0,      0,      0,      0,      0,      0,      0,      0,      0,      0,      0,      0,      0,      0,      0",
		account, team, 800, kills, deaths, assists, dmg, 50.0, kdr, dmg, mvp)
}

// statsBlock renders a round stats block as the server logs it
func statsBlock(round int, rows ...string) []string {
	lines := []string{
		logPrefix + "JSON_BEGIN{",
		logPrefix + `"name": "round_stats",`,
		logPrefix + fmt.Sprintf(`"round_number" : "%d",`, round),
		logPrefix + `"score_t" : "0",`,
		logPrefix + `"score_ct" : "0",`,
		logPrefix + fmt.Sprintf(`"fields" : "%s",`, fieldsHeader),
		logPrefix + `"players" : {`,
	}
	for i, r := range rows {
		lines = append(lines, logPrefix+fmt.Sprintf(`"player_%d" : "%s",`, i, r))
	}
	return append(lines, logPrefix+"}}JSON_END")
}

func mapLoad(name string) string {
	return logPrefix + fmt.Sprintf(`Loading map "%s"`, name)
}

// join concatenates line groups
func join(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func writeLog(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

func appendLog(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
}

// countingAlloc hands out predictable match identities
type countingAlloc struct {
	n   int64
	err error
}

func (a *countingAlloc) Next(_ context.Context, _ string) (string, int64, error) {
	if a.err != nil {
		return "", 0, a.err
	}
	a.n++
	return fmt.Sprintf("match-%d", a.n), a.n, nil
}

// oneMatchFixture is a warm-up round followed by a three-round match
// between two players, with a bot in every round
func oneMatchFixture() []string {
	return join(
		[]string{logPrefix + "Log file started", mapLoad("de_dust2")},
		statsBlock(0, statRow(100, 2, 1, 0, 0, 90, 0), statRow(200, 3, 0, 1, 0, 10, 0)),
		statsBlock(1, statRow(100, 2, 2, 0, 0, 200, 1), statRow(200, 3, 0, 1, 0, 40, 0), statRow(0, 3, 1, 1, 0, 100, 0)),
		statsBlock(2, statRow(100, 2, 3, 1, 1, 310, 1), statRow(200, 3, 1, 2, 0, 150, 1), statRow(0, 3, 1, 2, 0, 100, 0)),
		statsBlock(3, statRow(100, 2, 5, 2, 1, 520, 2), statRow(200, 3, 3, 3, 1, 330, 1), statRow(0, 3, 2, 3, 0, 100, 0)),
	)
}
