// Package identity converts between the id formats a player can be known by
// and resolves display identities for leaderboard rows.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/leighmacdonald/steamid/v4/steamid"

	"github.com/ernie/roundtally/internal/domain"
)

// Steam64Base is the offset between a 32-bit account id and its Steam64 id
const Steam64Base int64 = 76561197960265728

// ErrUnknownFormat is returned when an external id matches no known format
var ErrUnknownFormat = errors.New("unrecognised player id format")

// Format identifies which representation an external id was given in
type Format int

const (
	FormatAccountID Format = iota
	FormatSteam64
	FormatLegacy
	FormatSteam3
)

func (f Format) String() string {
	switch f {
	case FormatSteam64:
		return "steam64"
	case FormatLegacy:
		return "legacy"
	case FormatSteam3:
		return "steam3"
	default:
		return "account"
	}
}

var legacyRegex = regexp.MustCompile(`^STEAM_([0-5]):([01]):(\d+)$`)

// AccountIDToSteam64 converts a 32-bit account id to a Steam64 id
func AccountIDToSteam64(accountID int64) int64 {
	return Steam64Base + accountID
}

// LegacyToAccountID converts STEAM_X:Y:Z to the account id Z*2+Y
func LegacyToAccountID(legacy string) (int64, error) {
	m := legacyRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(legacy)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, legacy)
	}
	y, _ := strconv.ParseInt(m[2], 10, 64)
	z, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("legacy id %q: %w", legacy, err)
	}
	return z*2 + y, nil
}

// Converter carries the configuration needed for conversions that are not
// pure arithmetic.
type Converter struct {
	overrides map[int64]int64
	universe  int
}

// NewConverter creates a Converter. overrides maps Steam64 ids to account
// ids and takes precedence over the base offset. universe is the X in the
// legacy STEAM_X:Y:Z rendering.
func NewConverter(overrides map[int64]int64, universe int) *Converter {
	if overrides == nil {
		overrides = map[int64]int64{}
	}
	return &Converter{overrides: overrides, universe: universe}
}

// Steam64ToAccountID converts a Steam64 id back to an account id
func (c *Converter) Steam64ToAccountID(steam64 int64) int64 {
	if id, ok := c.overrides[steam64]; ok {
		return id
	}
	return steam64 - Steam64Base
}

// AccountIDToLegacy renders an account id as STEAM_X:Y:Z
func (c *Converter) AccountIDToLegacy(accountID int64) string {
	return fmt.Sprintf("STEAM_%d:%d:%d", c.universe, accountID%2, accountID/2)
}

// ParseExternalID detects the format of an id stored by an external
// identity provider and returns the account id it refers to.
func (c *Converter) ParseExternalID(raw string) (int64, Format, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return 0, 0, fmt.Errorf("%w: empty id", ErrUnknownFormat)
	case strings.HasPrefix(strings.ToUpper(s), "STEAM_"):
		id, err := LegacyToAccountID(s)
		return id, FormatLegacy, err
	case strings.HasPrefix(s, "["):
		sid := steamid.New(s)
		if !sid.Valid() {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
		}
		return c.Steam64ToAccountID(sid.Int64()), FormatSteam3, nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
	if id, ok := c.overrides[n]; ok {
		return id, FormatSteam64, nil
	}
	if n >= Steam64Base {
		if sid := steamid.New(n); !sid.Valid() {
			return 0, 0, fmt.Errorf("%w: invalid steam64 %q", ErrUnknownFormat, raw)
		}
		return c.Steam64ToAccountID(n), FormatSteam64, nil
	}
	if n <= 0xFFFFFFFF {
		return n, FormatAccountID, nil
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
}

// Base returns the identity fields derivable from the account id alone,
// with a placeholder display name.
func (c *Converter) Base(accountID int64) domain.PlayerIdentity {
	return domain.PlayerIdentity{
		AccountID:   accountID,
		Steam64ID:   strconv.FormatInt(AccountIDToSteam64(accountID), 10),
		LegacyID:    c.AccountIDToLegacy(accountID),
		DisplayName: PlaceholderName(accountID),
		Source:      domain.IdentitySourcePlaceholder,
	}
}

// PlaceholderName is the display name used when no profile is known
func PlaceholderName(accountID int64) string {
	return fmt.Sprintf("Player %d", accountID)
}
