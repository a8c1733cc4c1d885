package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/roundtally/internal/domain"
	"github.com/ernie/roundtally/internal/identity"
	"github.com/ernie/roundtally/internal/storage"
)

// RoundSource is the read side of the round store
type RoundSource interface {
	RoundRecords(ctx context.Context, filter storage.RoundFilter) ([]domain.RoundRecord, error)
	GlobalStats(ctx context.Context, filter storage.RoundFilter) (*domain.GlobalStats, error)
	GetPlatformUser(ctx context.Context, id int64) (*domain.PlatformUser, error)
}

// Query selects and shapes a leaderboard
type Query struct {
	ServerID   *int64
	From       string
	To         string
	Limit      int
	LinkedOnly bool
	Naive      bool
}

func (q Query) filter() storage.RoundFilter {
	return storage.RoundFilter{ServerID: q.ServerID, From: q.From, To: q.To}
}

func (q Query) cacheKey(generation uint64) string {
	server := "all"
	if q.ServerID != nil {
		server = fmt.Sprint(*q.ServerID)
	}
	return fmt.Sprintf("leaderboard:%d:%s:%s:%s:%d:%t:%t",
		generation, server, q.From, q.To, q.Limit, q.LinkedOnly, q.Naive)
}

// Service answers leaderboard, player and global stats queries
type Service struct {
	store    RoundSource
	resolver *identity.Resolver
	cache    Cache
	ttl      time.Duration
	logger   *zap.Logger

	// generation is bumped whenever new rounds land, orphaning older cache keys
	generation atomic.Uint64
}

// NewService creates a Service. A nil cache or zero ttl disables caching.
func NewService(store RoundSource, resolver *identity.Resolver, cache Cache, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		cache = nil
	}
	return &Service{store: store, resolver: resolver, cache: cache, ttl: ttl, logger: logger}
}

// PublishRun invalidates cached results once a run has stored new rounds
func (s *Service) PublishRun(summary domain.RunSummary) {
	if summary.Inserted > 0 {
		s.generation.Add(1)
	}
}

// Leaderboard ranks players by their totals over final-round lines
func (s *Service) Leaderboard(ctx context.Context, q Query) (*domain.LeaderboardResponse, error) {
	key := q.cacheKey(s.generation.Load())
	var cached domain.LeaderboardResponse
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	records, err := s.store.RoundRecords(ctx, q.filter())
	if err != nil {
		return nil, err
	}
	linked, err := s.resolver.LinkedAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var totals []domain.PlayerTotals
	if q.Naive {
		totals = NaiveTotals(records)
	} else {
		totals = Totals(CollapseFinalRounds(records))
	}
	if q.LinkedOnly {
		totals = slices.DeleteFunc(totals, func(t domain.PlayerTotals) bool {
			_, ok := linked[t.AccountID]
			return !ok
		})
	}
	Rank(totals)
	if q.Limit > 0 && len(totals) > q.Limit {
		totals = totals[:q.Limit]
	}

	ids := make([]int64, len(totals))
	for i, t := range totals {
		ids[i] = t.AccountID
	}
	identities := s.resolver.ResolveWith(ctx, ids, linked)

	resp := &domain.LeaderboardResponse{
		ServerID:   q.ServerID,
		From:       q.From,
		To:         q.To,
		LinkedOnly: q.LinkedOnly,
		Naive:      q.Naive,
		Entries:    make([]domain.LeaderboardEntry, len(totals)),
	}
	for i, t := range totals {
		ident := identities[t.AccountID]
		resp.Entries[i] = domain.LeaderboardEntry{
			Rank:               i + 1,
			Player:             ident,
			HasPlatformProfile: ident.Source == domain.IdentitySourcePlatform,
			PlayerTotals:       t,
		}
	}

	s.cacheSet(ctx, key, resp)
	return resp, nil
}

// PlayerDetail returns a platform user's totals and their most recent
// matches, newest first. Returns storage.ErrNotFound for an unknown user.
func (s *Service) PlayerDetail(ctx context.Context, platformUserID int64, historyLimit int) (*domain.PlayerDetailResponse, error) {
	user, err := s.store.GetPlatformUser(ctx, platformUserID)
	if err != nil {
		return nil, err
	}
	accountID, err := s.resolver.AccountIDForUser(*user)
	if err != nil {
		return nil, fmt.Errorf("user %d has no usable game id: %w", user.ID, err)
	}

	records, err := s.store.RoundRecords(ctx, storage.RoundFilter{AccountIDs: []int64{accountID}})
	if err != nil {
		return nil, err
	}
	finals := CollapseFinalRounds(records)

	resp := &domain.PlayerDetailResponse{
		User:    *user,
		Totals:  domain.PlayerTotals{AccountID: accountID},
		Matches: []domain.MatchHistoryEntry{},
	}
	if totals := Totals(finals); len(totals) == 1 {
		resp.Totals = totals[0]
	}

	slices.Reverse(finals)
	if historyLimit > 0 && len(finals) > historyLimit {
		finals = finals[:historyLimit]
	}
	for _, f := range finals {
		resp.Matches = append(resp.Matches, domain.MatchHistoryEntry{
			MatchID:       f.MatchID,
			MatchNumber:   f.MatchNumber,
			Map:           f.Map,
			ServerID:      f.ServerID,
			MatchDate:     f.MatchDate,
			MatchDateTime: f.MatchDateTime,
			Rounds:        f.RoundNumber,
			Team:          f.Team,
			Kills:         f.Kills,
			Deaths:        f.Deaths,
			Assists:       f.Assists,
			Damage:        f.Damage,
			MVPs:          f.MVPs,
			KDR:           KDR(f.Kills, f.Deaths),
		})
	}

	identities := s.resolver.ResolveWith(ctx, []int64{accountID}, map[int64]domain.PlatformUser{accountID: *user})
	resp.Player = identities[accountID]
	return resp, nil
}

// GlobalStats summarises all stored data matching the filter
func (s *Service) GlobalStats(ctx context.Context, filter storage.RoundFilter) (*domain.GlobalStats, error) {
	server := "all"
	if filter.ServerID != nil {
		server = fmt.Sprint(*filter.ServerID)
	}
	key := fmt.Sprintf("global:%d:%s:%s:%s", s.generation.Load(), server, filter.From, filter.To)

	var cached domain.GlobalStats
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}
	stats, err := s.store.GlobalStats(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, stats)
	return stats, nil
}

// cacheGet and cacheSet treat the cache as best-effort; failures are
// logged and the query runs against the store.
func (s *Service) cacheGet(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("encoding cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
