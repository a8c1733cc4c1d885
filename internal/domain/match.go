package domain

import "time"

// Team is the side a player was on when a round's stats were logged
type Team string

const (
	TeamNone      Team = "NONE"
	TeamSpectator Team = "SPEC"
	TeamT         Team = "T"
	TeamCT        Team = "CT"
)

// TeamFromCode maps the numeric team code used in server logs
func TeamFromCode(code int) Team {
	switch code {
	case 1:
		return TeamSpectator
	case 2:
		return TeamT
	case 3:
		return TeamCT
	default:
		return TeamNone
	}
}

// RoundRecord is one player's cumulative stats as of the end of one round.
// Stats are running totals for the match, so the record with the highest
// round number in a match holds the player's final line.
type RoundRecord struct {
	AccountID     int64     `json:"account_id"`
	Team          Team      `json:"team"`
	Kills         int       `json:"kills"`
	Deaths        int       `json:"deaths"`
	Assists       int       `json:"assists"`
	Damage        int       `json:"damage"`
	KDR           float64   `json:"kdr"`
	MVPs          int       `json:"mvps"`
	Map           string    `json:"map"`
	RoundNumber   int       `json:"round_number"`
	MatchID       string    `json:"match_id"`
	MatchNumber   int64     `json:"match_number"`
	MatchDate     string    `json:"match_date"`
	MatchDateTime time.Time `json:"match_datetime"`
	ServerID      int64     `json:"server_id"`
}

// RoundKey identifies a (player, match, round) triple
type RoundKey struct {
	AccountID   int64
	MatchID     string
	RoundNumber int
}

// Key returns the record's uniqueness key
func (r RoundRecord) Key() RoundKey {
	return RoundKey{AccountID: r.AccountID, MatchID: r.MatchID, RoundNumber: r.RoundNumber}
}

// MatchCursor is the latest stored position of a server's most recent match
type MatchCursor struct {
	MatchID     string `json:"match_id"`
	MatchNumber int64  `json:"match_number"`
	Map         string `json:"map"`
	RoundNumber int    `json:"round_number"`
}

// MatchHistoryEntry is a player's final line for one match
type MatchHistoryEntry struct {
	MatchID       string    `json:"match_id"`
	MatchNumber   int64     `json:"match_number"`
	Map           string    `json:"map"`
	ServerID      int64     `json:"server_id"`
	MatchDate     string    `json:"match_date"`
	MatchDateTime time.Time `json:"match_datetime"`
	Rounds        int       `json:"rounds"`
	Team          Team      `json:"team"`
	Kills         int       `json:"kills"`
	Deaths        int       `json:"deaths"`
	Assists       int       `json:"assists"`
	Damage        int       `json:"damage"`
	MVPs          int       `json:"mvps"`
	KDR           float64   `json:"kdr"`
}

// GlobalStats summarises everything stored, using final-round values
type GlobalStats struct {
	TotalMatches  int        `json:"total_matches"`
	TotalRounds   int        `json:"total_rounds"`
	TotalKills    int        `json:"total_kills"`
	TotalDeaths   int        `json:"total_deaths"`
	TotalAssists  int        `json:"total_assists"`
	UniquePlayers int        `json:"unique_players"`
	UniqueMaps    int        `json:"unique_maps"`
	LatestMatchAt *time.Time `json:"latest_match_at,omitempty"`
	MostPlayedMap string     `json:"most_played_map,omitempty"`
}
