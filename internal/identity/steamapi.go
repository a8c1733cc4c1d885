package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultSteamAPIURL = "https://api.steampowered.com"
	// GetPlayerSummaries accepts at most 100 ids per call
	summariesBatchSize = 100
)

// SteamClient looks up public profiles through the Steam Web API
type SteamClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	limiter    *rate.Limiter
}

// NewSteamClient creates a client limited to rps requests per second
func NewSteamClient(apiKey string, rps float64, timeout time.Duration) *SteamClient {
	return &SteamClient{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		baseURL:    defaultSteamAPIURL,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// WithBaseURL points the client at a different API host
func (c *SteamClient) WithBaseURL(base string) *SteamClient {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

type playerSummariesResponse struct {
	Response struct {
		Players []struct {
			SteamID     string `json:"steamid"`
			PersonaName string `json:"personaname"`
			AvatarFull  string `json:"avatarfull"`
		} `json:"players"`
	} `json:"response"`
}

// Summaries fetches profiles in batches. A failed batch does not discard
// the others: the profiles gathered so far are returned along with the
// joined batch errors. A cancelled context stops the remaining batches.
func (c *SteamClient) Summaries(ctx context.Context, steam64IDs []int64) (map[int64]Profile, error) {
	out := make(map[int64]Profile, len(steam64IDs))
	var errs []error
	for start := 0; start < len(steam64IDs); start += summariesBatchSize {
		end := min(start+summariesBatchSize, len(steam64IDs))
		if err := c.fetchBatch(ctx, steam64IDs[start:end], out); err != nil {
			errs = append(errs, fmt.Errorf("batch %d-%d: %w", start, end-1, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return out, errors.Join(errs...)
}

func (c *SteamClient) fetchBatch(ctx context.Context, ids []int64, out map[int64]Profile) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.FormatInt(id, 10)
	}
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("steamids", strings.Join(strIDs, ","))
	endpoint := c.baseURL + "/ISteamUser/GetPlayerSummaries/v2/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building profile request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("profile request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var decoded playerSummariesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decoding profile response: %w", err)
	}

	for _, p := range decoded.Response.Players {
		id, err := strconv.ParseInt(p.SteamID, 10, 64)
		if err != nil {
			continue
		}
		out[id] = Profile{Steam64: id, Name: p.PersonaName, AvatarURL: p.AvatarFull}
	}
	return nil
}
