package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/ernie/roundtally/internal/domain"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Round records ---

// InsertOutcome is the result of inserting one round record
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	SkippedDuplicate
)

func (o InsertOutcome) String() string {
	if o == SkippedDuplicate {
		return "skipped_duplicate"
	}
	return "inserted"
}

// InsertStats counts the outcomes of a batch insert
type InsertStats struct {
	Inserted   int
	Duplicates int
}

const insertRoundSQL = `
	INSERT INTO round_stats (` + roundColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func roundArgs(r domain.RoundRecord) []any {
	return []any{r.AccountID, string(r.Team), r.Kills, r.Deaths, r.Assists, r.Damage, r.KDR, r.MVPs,
		r.Map, r.RoundNumber, r.MatchID, r.MatchNumber, r.MatchDate, formatTimestamp(r.MatchDateTime), r.ServerID}
}

// InsertRound stores one record. An existing (account, match, round) row is
// left untouched and reported as SkippedDuplicate.
func (s *Store) InsertRound(ctx context.Context, r domain.RoundRecord) (InsertOutcome, error) {
	_, err := s.db.ExecContext(ctx, insertRoundSQL, roundArgs(r)...)
	if isUniqueViolation(err) {
		return SkippedDuplicate, nil
	}
	if err != nil {
		return Inserted, fmt.Errorf("inserting round record: %w", err)
	}
	return Inserted, nil
}

// InsertRounds stores a batch in a single transaction. Uniqueness conflicts
// are counted as duplicates; any other error rolls the whole batch back.
func (s *Store) InsertRounds(ctx context.Context, records []domain.RoundRecord) (InsertStats, error) {
	var stats InsertStats
	if len(records) == 0 {
		return stats, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertStats{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertRoundSQL)
	if err != nil {
		return InsertStats{}, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx, roundArgs(r)...)
		if isUniqueViolation(err) {
			stats.Duplicates++
			continue
		}
		if err != nil {
			return InsertStats{}, fmt.Errorf("inserting round %d for account %d: %w", r.RoundNumber, r.AccountID, err)
		}
		stats.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return InsertStats{}, fmt.Errorf("committing rounds: %w", err)
	}
	return stats, nil
}

// MaxMatchNumber returns the highest stored match number, or 0
func (s *Store) MaxMatchNumber(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(match_number) FROM round_stats`).Scan(&n); err != nil {
		return 0, fmt.Errorf("querying max match number: %w", err)
	}
	return n.Int64, nil
}

// LatestMatch returns where the server's most recent match left off, or
// nil if the server has no stored rounds.
func (s *Store) LatestMatch(ctx context.Context, serverID int64) (*domain.MatchCursor, error) {
	var c domain.MatchCursor
	err := s.db.QueryRowContext(ctx, `
		SELECT match_id, match_number, map, round_number
		FROM round_stats
		WHERE server_id = ?
		ORDER BY match_number DESC, round_number DESC
		LIMIT 1
	`, serverID).Scan(&c.MatchID, &c.MatchNumber, &c.Map, &c.RoundNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest match: %w", err)
	}
	return &c, nil
}

// RoundFilter restricts which round records a query sees. Dates are
// inclusive YYYY-MM-DD strings; empty means unbounded.
type RoundFilter struct {
	ServerID   *int64
	From       string
	To         string
	AccountIDs []int64
}

func (f RoundFilter) where() sq.And {
	conds := sq.And{}
	if f.ServerID != nil {
		conds = append(conds, sq.Eq{"server_id": *f.ServerID})
	}
	if f.From != "" {
		conds = append(conds, sq.GtOrEq{"match_date": f.From})
	}
	if f.To != "" {
		conds = append(conds, sq.LtOrEq{"match_date": f.To})
	}
	if f.AccountIDs != nil {
		conds = append(conds, sq.Eq{"account_id": f.AccountIDs})
	}
	return conds
}

// RoundRecords returns every record matching the filter, oldest match first
func (s *Store) RoundRecords(ctx context.Context, filter RoundFilter) ([]domain.RoundRecord, error) {
	query, args, err := sq.Select(roundColumns).
		From("round_stats").
		Where(filter.where()).
		OrderBy("match_number", "account_id", "round_number").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building round query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rounds: %w", err)
	}
	defer rows.Close()

	var records []domain.RoundRecord
	for rows.Next() {
		r, err := scanRoundRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// CountRounds returns the number of stored round records
func (s *Store) CountRounds(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM round_stats`).Scan(&n)
	return n, err
}

// GlobalStats summarises the filtered records. Kill, death and assist
// totals only count each player's final round in each match, since every
// round carries running totals.
func (s *Store) GlobalStats(ctx context.Context, filter RoundFilter) (*domain.GlobalStats, error) {
	whereSQL, args, err := filter.where().ToSql()
	if err != nil {
		return nil, fmt.Errorf("building filter: %w", err)
	}

	query := `
		WITH filtered AS (
			SELECT * FROM round_stats WHERE ` + whereSQL + `
		),
		finals AS (
			SELECT kills, deaths, assists,
				ROW_NUMBER() OVER (PARTITION BY account_id, match_id ORDER BY round_number DESC) AS rn
			FROM filtered
		)
		SELECT
			(SELECT COUNT(DISTINCT match_id) FROM filtered),
			(SELECT COUNT(*) FROM (SELECT DISTINCT match_id, round_number FROM filtered)),
			(SELECT COALESCE(SUM(kills), 0) FROM finals WHERE rn = 1),
			(SELECT COALESCE(SUM(deaths), 0) FROM finals WHERE rn = 1),
			(SELECT COALESCE(SUM(assists), 0) FROM finals WHERE rn = 1),
			(SELECT COUNT(DISTINCT account_id) FROM filtered),
			(SELECT COUNT(DISTINCT map) FROM filtered),
			(SELECT MAX(match_datetime) FROM filtered),
			(SELECT map FROM filtered GROUP BY map ORDER BY COUNT(DISTINCT match_id) DESC, map LIMIT 1)`

	var gs domain.GlobalStats
	var latest, topMap sql.NullString
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&gs.TotalMatches, &gs.TotalRounds, &gs.TotalKills, &gs.TotalDeaths, &gs.TotalAssists,
		&gs.UniquePlayers, &gs.UniqueMaps, &latest, &topMap)
	if err != nil {
		return nil, fmt.Errorf("querying global stats: %w", err)
	}
	gs.LatestMatchAt = scanNullTimestamp(latest)
	gs.MostPlayedMap = scanNullStringValue(topMap)
	return &gs, nil
}

// --- Platform users ---

// CreatePlatformUser inserts a platform user and sets its ID
func (s *Store) CreatePlatformUser(ctx context.Context, u *domain.PlatformUser) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_users (username, external_id, display_name, avatar_url)
		VALUES (?, ?, ?, ?)
	`, u.Username, u.ExternalID, u.DisplayName, u.AvatarURL)
	if isUniqueViolation(err) {
		return fmt.Errorf("username %q already exists", u.Username)
	}
	if err != nil {
		return fmt.Errorf("creating platform user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// GetPlatformUser returns a platform user by ID
func (s *Store) GetPlatformUser(ctx context.Context, id int64) (*domain.PlatformUser, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, external_id, display_name, avatar_url FROM platform_users WHERE id = ?
	`, id)
	u, err := scanPlatformUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return u, err
}

// ListPlatformUsers returns all platform users
func (s *Store) ListPlatformUsers(ctx context.Context) ([]domain.PlatformUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, external_id, display_name, avatar_url FROM platform_users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.PlatformUser
	for rows.Next() {
		u, err := scanPlatformUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdatePlatformUserExternalID changes the game id a user is linked to
func (s *Store) UpdatePlatformUserExternalID(ctx context.Context, username, externalID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE platform_users SET external_id = ? WHERE username = ?`, externalID, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user not found: %s", username)
	}
	return nil
}

// DeletePlatformUser removes a platform user by username
func (s *Store) DeletePlatformUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM platform_users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user not found: %s", username)
	}
	return nil
}
