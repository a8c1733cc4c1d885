package collector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/roundtally/internal/domain"
)

// ParserState is the log parser's position relative to a round stats block
type ParserState int

const (
	StateOutsideBlock ParserState = iota
	StateInsideBlock
)

func (s ParserState) String() string {
	if s == StateInsideBlock {
		return "inside_block"
	}
	return "outside_block"
}

// Log line patterns. Server log lines carry an "L MM/DD/YYYY - HH:MM:SS: "
// prefix which is stripped before matching.
var (
	prefixRegex      = regexp.MustCompile(`^(?:L )?\d{2}/\d{2}/\d{4} - \d{2}:\d{2}:\d{2}(?:\.\d+)?(?::| -) ?`)
	mapLoadRegex     = regexp.MustCompile(`^(?:Loading|Started) map "([^"]+)"`)
	blockStartRegex  = regexp.MustCompile(`^JSON_BEGIN\{\s*$`)
	blockEndRegex    = regexp.MustCompile(`^\}*\s*JSON_END\s*$`)
	roundNumberRegex = regexp.MustCompile(`^"round_number"\s*:\s*"?(-?\d+)"?\s*,?\s*$`)
	blockMapRegex    = regexp.MustCompile(`^"map"\s*:\s*"([^"]*)"\s*,?\s*$`)
	fieldsRegex      = regexp.MustCompile(`^"fields"\s*:\s*"([^"]*)"\s*,?\s*$`)
	playerRowRegex   = regexp.MustCompile(`^"player_\d+"\s*:\s*"([^"]*)"\s*,?\s*$`)
)

// Column names used in the "fields" header of a round stats block
const (
	colAccountID = "accountid"
	colTeam      = "team"
	colKills     = "kills"
	colDeaths    = "deaths"
	colAssists   = "assists"
	colDamage    = "dmg"
	colKDR       = "kdr"
	colMVP       = "mvp"
)

var requiredColumns = []string{colAccountID, colTeam, colKills, colDeaths, colAssists, colDamage, colKDR, colMVP}

// defaultColumns is the layout servers emit when no header has been seen
var defaultColumns = map[string]int{
	colAccountID: 0,
	colTeam:      1,
	colKills:     3,
	colDeaths:    4,
	colAssists:   5,
	colDamage:    6,
	colKDR:       8,
	colMVP:       10,
}

// parseFieldsHeader maps column names to positions. Headers missing a
// required column are rejected so the default layout stays in effect.
func parseFieldsHeader(header string) (map[string]int, error) {
	cols := make(map[string]int)
	for i, name := range strings.Split(header, ",") {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("fields header missing %q", name)
		}
	}
	return cols, nil
}

// stripPrefix removes the server timestamp prefix from a log line
func stripPrefix(line string) string {
	if loc := prefixRegex.FindStringIndex(line); loc != nil {
		line = line[loc[1]:]
	}
	return strings.TrimSpace(line)
}

// MatchAllocator hands out identities for newly detected matches
type MatchAllocator interface {
	Next(ctx context.Context, mapName string) (matchID string, matchNumber int64, err error)
}

// ParseResult is everything a parser pass produced
type ParseResult struct {
	Records         []domain.RoundRecord
	Map             string
	MatchesStarted  int
	DuplicatesInRun int
	Skipped         int // malformed rows
	Discarded       int // rows with no match, warm-up rows and bots
	AnomalousResets int
	Unterminated    bool
}

// LogParser turns log lines into round records. It is a two-state machine:
// outside a round stats block only map loads matter, inside one the round
// number, column header and player rows are read.
type LogParser struct {
	serverID int64
	alloc    MatchAllocator
	logger   *zap.Logger
	seen     *SessionSet

	ingestedAt time.Time
	matchDate  string

	state       ParserState
	mapName     string
	matchID     string
	matchNumber int64
	lastRound   int // last round number seen in the current match, 0 if none
	blockRound  int // round number of the current block, 0 until seen
	warmup      bool
	columns     map[string]int
	resume      *domain.MatchCursor

	result ParseResult
}

// NewLogParser creates a parser for one ingestion run. resume, if set, is
// where the server's last stored match left off; a run that begins in the
// middle of that match continues it instead of starting a new one.
func NewLogParser(serverID int64, alloc MatchAllocator, resume *domain.MatchCursor, ingestedAt time.Time, logger *zap.Logger) *LogParser {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &LogParser{
		serverID:   serverID,
		alloc:      alloc,
		logger:     logger.With(zap.Int64("server_id", serverID)),
		seen:       NewSessionSet(),
		ingestedAt: ingestedAt.UTC(),
		matchDate:  ingestedAt.UTC().Format("2006-01-02"),
		columns:    defaultColumns,
		resume:     resume,
	}
	if resume != nil {
		p.mapName = resume.Map
	}
	return p
}

// State returns the current state
func (p *LogParser) State() ParserState {
	return p.state
}

// Parse feeds every line and closes any open block at end of input
func (p *LogParser) Parse(ctx context.Context, lines []string) (*ParseResult, error) {
	for i, line := range lines {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := p.Feed(ctx, line); err != nil {
			return nil, err
		}
	}
	return p.Finish(), nil
}

// Feed processes one line. The only errors are failures to allocate a
// match identity, which are fatal to the run.
func (p *LogParser) Feed(ctx context.Context, line string) error {
	content := stripPrefix(line)
	if content == "" {
		return nil
	}

	if m := mapLoadRegex.FindStringSubmatch(content); m != nil {
		p.setMap(m[1])
		return nil
	}

	switch p.state {
	case StateOutsideBlock:
		if blockStartRegex.MatchString(content) {
			p.state = StateInsideBlock
			p.blockRound = 0
			p.columns = defaultColumns
		}
		return nil

	case StateInsideBlock:
		if blockEndRegex.MatchString(content) {
			p.closeBlock()
			return nil
		}
		if m := roundNumberRegex.FindStringSubmatch(content); m != nil {
			n, _ := strconv.Atoi(m[1])
			return p.handleRound(ctx, n)
		}
		if m := playerRowRegex.FindStringSubmatch(content); m != nil {
			p.handlePlayerRow(m[1])
			return nil
		}
		if m := fieldsRegex.FindStringSubmatch(content); m != nil {
			cols, err := parseFieldsHeader(m[1])
			if err != nil {
				p.logger.Warn("ignoring fields header", zap.Error(err))
				return nil
			}
			p.columns = cols
			return nil
		}
		if m := blockMapRegex.FindStringSubmatch(content); m != nil {
			if m[1] != "" {
				p.setMap(m[1])
			}
			return nil
		}
		if blockStartRegex.MatchString(content) {
			// A new block without an end marker closes the previous one
			p.closeBlock()
			p.state = StateInsideBlock
		}
	}
	return nil
}

// Finish closes an unterminated block and returns the result
func (p *LogParser) Finish() *ParseResult {
	if p.state == StateInsideBlock {
		p.logger.Debug("closing unterminated stats block at end of input")
		p.result.Unterminated = true
		p.closeBlock()
	}
	p.result.Map = p.mapName
	return &p.result
}

func (p *LogParser) setMap(name string) {
	if name != p.mapName {
		p.logger.Debug("map loaded", zap.String("map", name))
	}
	p.mapName = name
}

func (p *LogParser) closeBlock() {
	p.state = StateOutsideBlock
	p.blockRound = 0
	p.columns = defaultColumns
}

func (p *LogParser) handleRound(ctx context.Context, n int) error {
	if n <= 0 {
		// Warm-up: rows are dropped until a real round is announced
		p.warmup = true
		p.blockRound = 0
		return nil
	}
	p.warmup = false

	switch {
	case p.matchID == "":
		if c := p.resume; c != nil && n > 1 && n >= c.RoundNumber {
			p.matchID = c.MatchID
			p.matchNumber = c.MatchNumber
			if p.mapName == "" {
				p.mapName = c.Map
			}
			p.logger.Info("resuming match",
				zap.String("match_id", c.MatchID),
				zap.Int64("match_number", c.MatchNumber),
				zap.Int("stored_round", c.RoundNumber),
				zap.Int("round", n))
		} else if err := p.startMatch(ctx); err != nil {
			return err
		}
	case n == 1 && p.lastRound > 1:
		if err := p.startMatch(ctx); err != nil {
			return err
		}
	case n < p.lastRound && n != 1:
		p.result.AnomalousResets++
		p.logger.Warn("round number went backwards without a reset to round 1, starting a new match",
			zap.String("match_id", p.matchID),
			zap.Int("previous_round", p.lastRound),
			zap.Int("round", n))
		if err := p.startMatch(ctx); err != nil {
			return err
		}
	}
	p.resume = nil

	p.lastRound = n
	p.blockRound = n
	return nil
}

func (p *LogParser) startMatch(ctx context.Context) error {
	id, number, err := p.alloc.Next(ctx, p.mapName)
	if err != nil {
		return fmt.Errorf("allocating match identity: %w", err)
	}
	p.seen.Reset()
	p.matchID = id
	p.matchNumber = number
	p.lastRound = 0
	p.result.MatchesStarted++
	p.logger.Info("new match detected",
		zap.String("match_id", id),
		zap.Int64("match_number", number),
		zap.String("map", p.mapName))
	return nil
}

func (p *LogParser) handlePlayerRow(row string) {
	if p.warmup || p.matchID == "" || p.blockRound == 0 {
		p.result.Discarded++
		return
	}

	rec, err := p.parseRow(row)
	if err != nil {
		p.result.Skipped++
		p.logger.Warn("skipping malformed player row",
			zap.Int("round", p.blockRound),
			zap.String("row", row),
			zap.Error(err))
		return
	}
	if rec.AccountID == 0 {
		// Bots and empty slots
		p.result.Discarded++
		return
	}
	if p.seen.Seen(rec.Key()) {
		p.result.DuplicatesInRun++
		return
	}
	p.result.Records = append(p.result.Records, rec)
}

func (p *LogParser) parseRow(row string) (domain.RoundRecord, error) {
	fields := strings.Split(row, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	intAt := func(name string) (int, error) {
		idx := p.columns[name]
		if idx >= len(fields) {
			return 0, fmt.Errorf("missing column %s", name)
		}
		v, err := strconv.Atoi(fields[idx])
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return v, nil
	}

	var rec domain.RoundRecord
	idx := p.columns[colAccountID]
	if idx >= len(fields) {
		return rec, fmt.Errorf("missing column %s", colAccountID)
	}
	accountID, err := strconv.ParseInt(fields[idx], 10, 64)
	if err != nil || accountID < 0 {
		return rec, fmt.Errorf("column %s: invalid account id %q", colAccountID, fields[idx])
	}

	team, err := intAt(colTeam)
	if err != nil {
		return rec, err
	}
	kills, err := intAt(colKills)
	if err != nil {
		return rec, err
	}
	deaths, err := intAt(colDeaths)
	if err != nil {
		return rec, err
	}
	assists, err := intAt(colAssists)
	if err != nil {
		return rec, err
	}
	damage, err := intAt(colDamage)
	if err != nil {
		return rec, err
	}
	mvps, err := intAt(colMVP)
	if err != nil {
		return rec, err
	}

	kdrIdx := p.columns[colKDR]
	if kdrIdx >= len(fields) {
		return rec, fmt.Errorf("missing column %s", colKDR)
	}
	kdr, err := strconv.ParseFloat(fields[kdrIdx], 64)
	if err != nil {
		return rec, fmt.Errorf("column %s: %w", colKDR, err)
	}

	return domain.RoundRecord{
		AccountID:     accountID,
		Team:          domain.TeamFromCode(team),
		Kills:         kills,
		Deaths:        deaths,
		Assists:       assists,
		Damage:        damage,
		KDR:           kdr,
		MVPs:          mvps,
		Map:           p.mapName,
		RoundNumber:   p.blockRound,
		MatchID:       p.matchID,
		MatchNumber:   p.matchNumber,
		MatchDate:     p.matchDate,
		MatchDateTime: p.ingestedAt,
		ServerID:      p.serverID,
	}, nil
}
