package identity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/roundtally/internal/domain"
)

// Profile is a public profile returned by an external lookup
type Profile struct {
	Steam64   int64
	Name      string
	AvatarURL string
}

// ProfileLookup fetches public profiles for a batch of Steam64 ids.
// Ids with no profile are simply absent from the result. A non-nil error
// may come with the profiles that were found before the failure.
type ProfileLookup interface {
	Summaries(ctx context.Context, steam64IDs []int64) (map[int64]Profile, error)
}

// PlatformUserSource lists platform users that may carry an external id
type PlatformUserSource interface {
	ListPlatformUsers(ctx context.Context) ([]domain.PlatformUser, error)
}

// Resolver joins account ids to platform users and external profiles
type Resolver struct {
	conv     *Converter
	users    PlatformUserSource
	profiles ProfileLookup
	timeout  time.Duration
	logger   *zap.Logger
}

// NewResolver creates a Resolver. profiles may be nil, in which case
// unlinked players get placeholder names.
func NewResolver(conv *Converter, users PlatformUserSource, profiles ProfileLookup, timeout time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{conv: conv, users: users, profiles: profiles, timeout: timeout, logger: logger}
}

// Converter returns the resolver's id converter
func (r *Resolver) Converter() *Converter {
	return r.conv
}

// LinkedAccounts maps account ids to the platform users linked to them.
// Users whose external id cannot be parsed are skipped with a warning.
func (r *Resolver) LinkedAccounts(ctx context.Context) (map[int64]domain.PlatformUser, error) {
	users, err := r.users.ListPlatformUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing platform users: %w", err)
	}

	linked := make(map[int64]domain.PlatformUser, len(users))
	for _, u := range users {
		if u.ExternalID == "" {
			continue
		}
		accountID, format, err := r.conv.ParseExternalID(u.ExternalID)
		if err != nil {
			r.logger.Warn("skipping platform user with unparsable external id",
				zap.Int64("user_id", u.ID),
				zap.String("external_id", u.ExternalID),
				zap.Error(err))
			continue
		}
		r.logger.Debug("linked platform user",
			zap.Int64("user_id", u.ID),
			zap.Int64("account_id", accountID),
			zap.Stringer("format", format))
		linked[accountID] = u
	}
	return linked, nil
}

// AccountIDForUser returns the account id a platform user is linked to
func (r *Resolver) AccountIDForUser(u domain.PlatformUser) (int64, error) {
	id, _, err := r.conv.ParseExternalID(u.ExternalID)
	return id, err
}

// Resolve returns an identity for every requested account id. Linked
// platform users win; the rest are looked up in one best-effort batch and
// fall back to placeholder names when the lookup fails.
func (r *Resolver) Resolve(ctx context.Context, accountIDs []int64) (map[int64]domain.PlayerIdentity, error) {
	linked, err := r.LinkedAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return r.ResolveWith(ctx, accountIDs, linked), nil
}

// ResolveWith is Resolve with an already loaded set of linked accounts
func (r *Resolver) ResolveWith(ctx context.Context, accountIDs []int64, linked map[int64]domain.PlatformUser) map[int64]domain.PlayerIdentity {
	out := make(map[int64]domain.PlayerIdentity, len(accountIDs))
	var lookup []int64
	// steam64 asked for -> account it was built from; overrides make the
	// reverse conversion lossy
	requested := make(map[int64]int64)

	for _, id := range accountIDs {
		ident := r.conv.Base(id)
		if u, ok := linked[id]; ok {
			userID := u.ID
			ident.PlatformUserID = &userID
			ident.Username = u.Username
			ident.Linked = true
			ident.Source = domain.IdentitySourcePlatform
			ident.AvatarURL = u.AvatarURL
			if u.DisplayName != "" {
				ident.DisplayName = u.DisplayName
			} else {
				ident.DisplayName = u.Username
			}
		} else {
			steam64 := AccountIDToSteam64(id)
			requested[steam64] = id
			lookup = append(lookup, steam64)
		}
		out[id] = ident
	}

	if len(lookup) == 0 || r.profiles == nil {
		return out
	}

	lookupCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	profiles, err := r.profiles.Summaries(lookupCtx, lookup)
	if err != nil {
		r.logger.Warn("profile lookup incomplete, using placeholder names for missing players",
			zap.Int("players", len(lookup)),
			zap.Int("found", len(profiles)),
			zap.Error(err))
	}

	for steam64, p := range profiles {
		id, ok := requested[steam64]
		if !ok {
			continue
		}
		ident, ok := out[id]
		if !ok || ident.Linked || p.Name == "" {
			continue
		}
		ident.DisplayName = p.Name
		ident.AvatarURL = p.AvatarURL
		ident.Source = domain.IdentitySourceProfile
		ident.Steam64ID = strconv.FormatInt(steam64, 10)
		out[id] = ident
	}
	return out
}
