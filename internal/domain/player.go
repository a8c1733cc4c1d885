package domain

// Identity sources, in order of preference
const (
	IdentitySourcePlatform    = "platform"
	IdentitySourceProfile     = "profile"
	IdentitySourcePlaceholder = "placeholder"
)

// PlayerIdentity is a player's resolved identity across id formats
type PlayerIdentity struct {
	AccountID      int64  `json:"account_id"`
	Steam64ID      string `json:"steam64_id"`
	LegacyID       string `json:"legacy_id"`
	PlatformUserID *int64 `json:"platform_user_id,omitempty"`
	Username       string `json:"username,omitempty"`
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	Linked         bool   `json:"linked"`
	Source         string `json:"source"`
}

// PlayerTotals is a player's stats summed over final-round lines
type PlayerTotals struct {
	AccountID      int64   `json:"account_id"`
	Kills          int     `json:"kills"`
	Deaths         int     `json:"deaths"`
	Assists        int     `json:"assists"`
	Damage         int     `json:"damage"`
	MVPs           int     `json:"mvps"`
	RoundsPlayed   int     `json:"rounds_played"`
	MatchesPlayed  int     `json:"matches_played"`
	KDR            float64 `json:"kdr"`
	KillsPerMatch  float64 `json:"kills_per_match"`
	DamagePerRound float64 `json:"damage_per_round"`
}

// LeaderboardEntry is one ranked leaderboard row
type LeaderboardEntry struct {
	Rank               int            `json:"rank"`
	Player             PlayerIdentity `json:"player"`
	HasPlatformProfile bool           `json:"has_platform_profile"`
	PlayerTotals
}

// LeaderboardResponse wraps a leaderboard with the filters that produced it
type LeaderboardResponse struct {
	ServerID   *int64             `json:"server_id,omitempty"`
	From       string             `json:"from,omitempty"`
	To         string             `json:"to,omitempty"`
	LinkedOnly bool               `json:"linked_only"`
	Naive      bool               `json:"naive,omitempty"`
	Entries    []LeaderboardEntry `json:"entries"`
}

// PlatformUser is a web-platform account that may be linked to a game id
type PlatformUser struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// PlayerDetailResponse is the per-player view for a platform user
type PlayerDetailResponse struct {
	User    PlatformUser        `json:"user"`
	Player  PlayerIdentity      `json:"player"`
	Totals  PlayerTotals        `json:"totals"`
	Matches []MatchHistoryEntry `json:"matches"`
}
