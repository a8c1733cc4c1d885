package storage

import (
	"database/sql"
	"time"

	"github.com/ernie/roundtally/internal/domain"
)

// Null scanner helpers

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// scanNullTimestamp parses an aggregate timestamp, which SQLite returns as
// text rather than a typed column value
func scanNullTimestamp(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, ns.String); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

const roundColumns = `account_id, team, kills, deaths, assists, damage, kdr, mvps,
	map, round_number, match_id, match_number, match_date, match_datetime, server_id`

// scanRoundRecord scans the columns listed in roundColumns
func scanRoundRecord(s scanner) (*domain.RoundRecord, error) {
	var r domain.RoundRecord
	var team string
	err := s.Scan(&r.AccountID, &team, &r.Kills, &r.Deaths, &r.Assists, &r.Damage, &r.KDR, &r.MVPs,
		&r.Map, &r.RoundNumber, &r.MatchID, &r.MatchNumber, &r.MatchDate, &r.MatchDateTime, &r.ServerID)
	if err != nil {
		return nil, err
	}
	r.Team = domain.Team(team)
	r.MatchDateTime = r.MatchDateTime.UTC()
	return &r, nil
}

// scanPlatformUser scans a platform_users row
func scanPlatformUser(s scanner) (*domain.PlatformUser, error) {
	var u domain.PlatformUser
	var displayName, avatarURL sql.NullString
	if err := s.Scan(&u.ID, &u.Username, &u.ExternalID, &displayName, &avatarURL); err != nil {
		return nil, err
	}
	u.DisplayName = scanNullStringValue(displayName)
	u.AvatarURL = scanNullStringValue(avatarURL)
	return &u, nil
}
