package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/roundtally/internal/auth"
	"github.com/ernie/roundtally/internal/checkpoint"
	"github.com/ernie/roundtally/internal/collector"
	"github.com/ernie/roundtally/internal/domain"
	"github.com/ernie/roundtally/internal/identity"
	"github.com/ernie/roundtally/internal/leaderboard"
	"github.com/ernie/roundtally/internal/storage"
)

const prefix = "L 10/19/2026 - 20:15:01: "

func statsBlock(round int, rows ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%sJSON_BEGIN{\n", prefix)
	fmt.Fprintf(&b, "%s\"round_number\" : \"%d\",\n", prefix, round)
	fmt.Fprintf(&b, "%s\"fields\" : \"accountid, team, money, kills, deaths, assists, dmg, hsp, kdr, adr, mvp\",\n", prefix)
	for i, r := range rows {
		fmt.Fprintf(&b, "%s\"player_%d\" : \"%s\",\n", prefix, i, r)
	}
	fmt.Fprintf(&b, "%s}}JSON_END\n", prefix)
	return b.String()
}

func row(account int64, kills, deaths int) string {
	return fmt.Sprintf("%d, 2, 800, %d, %d, 0, %d, 50.00, 1.00, 100, 0", account, kills, deaths, kills*100)
}

// sampleLog is one three-round match between two players. Player 100
// finishes on 5 kills and player 200 on 2.
func sampleLog() string {
	return prefix + "Loading map \"de_nuke\"\n" +
		statsBlock(1, row(100, 1, 0), row(200, 0, 1)) +
		statsBlock(2, row(100, 3, 1), row(200, 1, 2)) +
		statsBlock(3, row(100, 5, 1), row(200, 2, 3))
}

type apiEnv struct {
	store  *storage.Store
	router *Router
	auth   *auth.Service
}

func newAPIEnv(t *testing.T, jwtSecret string) *apiEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cps, err := checkpoint.NewFileStore(filepath.Join(dir, "checkpoints"), nil)
	require.NoError(t, err)
	logs, err := collector.NewLogFiles(filepath.Join(dir, "logs"))
	require.NoError(t, err)

	runner := collector.NewRunner(logs, cps, store, collector.NewSequencer(store), nil)
	scheduler := collector.NewScheduler(runner, collector.SchedulerConfig{
		ServerIDs:  []int64{1},
		RunTimeout: time.Minute,
	}, nil)

	resolver := identity.NewResolver(identity.NewConverter(nil, 1), store, nil, 0, nil)
	board := leaderboard.NewService(store, resolver, nil, 0, nil)
	scheduler.AddSink(board)

	authService := auth.NewService(jwtSecret, time.Hour)
	router := NewRouter(Options{
		Scheduler:   scheduler,
		Leaderboard: board,
		Auth:        authService,
		Health:      store,
		Servers:     []domain.Server{{ID: 1, Name: "Retake #1"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	router.StartWebSocketHub(ctx)

	return &apiEnv{store: store, router: router, auth: authService}
}

func (e *apiEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) upload(t *testing.T, serverID string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/servers/"+serverID+"/logs", strings.NewReader(body))
	return e.do(t, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUploadRunsIngestion(t *testing.T) {
	env := newAPIEnv(t, "")

	rec := env.upload(t, "1", sampleLog())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[domain.RunSummary](t, rec)
	assert.Equal(t, collector.RunCompleted, summary.Status)
	assert.Equal(t, 6, summary.Inserted)
	assert.Equal(t, "de_nuke", summary.Map)
	assert.Equal(t, 19, summary.LinesProcessed)

	// Re-uploading the same snapshot finds nothing new
	rec = env.upload(t, "1", sampleLog())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusUpToDate, decode[domain.RunSummary](t, rec).Status)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/servers/1/ingest-status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[domain.ServerStatus](t, rec)
	assert.Equal(t, domain.StatusUpToDate, status.Status)
	assert.Equal(t, 19, status.Checkpoint)
	assert.False(t, status.Running)
}

func TestUploadCompressed(t *testing.T) {
	env := newAPIEnv(t, "")

	// Multipart with a gzipped file part
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte(sampleLog()))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	require.NoError(t, mw.WriteField("note", "nightly"))
	part, err := mw.CreateFormFile("file", "server.log.gz")
	require.NoError(t, err)
	_, err = part.Write(gz.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/servers/1/logs", &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 6, decode[domain.RunSummary](t, rec).Inserted)

	// Raw zstd body for another server
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll([]byte(sampleLog()), nil)
	require.NoError(t, enc.Close())

	req = httptest.NewRequest(http.MethodPost, "/api/servers/2/logs", bytes.NewReader(compressed))
	req.Header.Set("Content-Encoding", "zstd")
	rec = env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 6, decode[domain.RunSummary](t, rec).Inserted)
}

func TestUploadRejectsBadRequests(t *testing.T) {
	env := newAPIEnv(t, "")

	tests := []struct {
		name     string
		serverID string
		body     string
		encoding string
	}{
		{"empty body", "1", "", ""},
		{"non numeric id", "abc", sampleLog(), ""},
		{"zero id", "0", sampleLog(), ""},
		{"bad gzip", "1", "not gzip", "gzip"},
		{"unknown encoding", "1", sampleLog(), "br"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/servers/"+tt.serverID+"/logs", strings.NewReader(tt.body))
			if tt.encoding != "" {
				req.Header.Set("Content-Encoding", tt.encoding)
			}
			rec := env.do(t, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	// Nothing was stored or ingested
	n, err := env.store.CountRounds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMultipartWithoutFilePart(t *testing.T) {
	env := newAPIEnv(t, "")

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	require.NoError(t, mw.WriteField("note", "no file"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/servers/1/logs", &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerWithoutLog(t *testing.T) {
	env := newAPIEnv(t, "")

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/servers/7/ingest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusNoLogFile, decode[domain.RunSummary](t, rec).Status)
}

func TestResetCheckpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	require.Equal(t, http.StatusOK, env.upload(t, "1", sampleLog()).Code)

	for range 2 {
		rec := env.do(t, httptest.NewRequest(http.MethodDelete, "/api/servers/1/checkpoint", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/servers/1/ingest-status", nil))
	status := decode[domain.ServerStatus](t, rec)
	assert.Equal(t, domain.StatusPendingProcessing, status.Status)
	assert.Equal(t, 19, status.PendingLines)

	// Reprocessing stores the file again under a new match identity
	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/servers/1/ingest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, decode[domain.RunSummary](t, rec).Inserted)
}

func TestWriteRunResultConflict(t *testing.T) {
	env := newAPIEnv(t, "")
	rec := httptest.NewRecorder()
	env.router.writeRunResult(rec, domain.RunSummary{ServerID: 1, Status: collector.RunRefused}, collector.ErrRunInProgress)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	env.router.writeRunResult(rec, domain.RunSummary{ServerID: 1, Status: collector.RunFailed, Error: "disk full"}, fmt.Errorf("disk full"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "disk full", decode[domain.RunSummary](t, rec).Error)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := newAPIEnv(t, "test-secret")

	rec := env.upload(t, "1", sampleLog())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	userToken, err := env.auth.GenerateToken("viewer", false)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/servers/1/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	assert.Equal(t, http.StatusForbidden, env.do(t, req).Code)

	adminToken, err := env.auth.GenerateToken("uploader", true)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/servers/1/logs", strings.NewReader(sampleLog()))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusOK, env.do(t, req).Code)

	// Reads stay public
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLeaderboardEndpoints(t *testing.T) {
	env := newAPIEnv(t, "")
	require.Equal(t, http.StatusOK, env.upload(t, "1", sampleLog()).Code)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/leaderboard?server_id=1&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[domain.LeaderboardResponse](t, rec)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, int64(100), resp.Entries[0].AccountID)
	assert.Equal(t, 5, resp.Entries[0].Kills)
	assert.Equal(t, 3, resp.Entries[0].RoundsPlayed)
	assert.Equal(t, "Player 100", resp.Entries[0].Player.DisplayName)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/leaderboard/naive", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	naive := decode[domain.LeaderboardResponse](t, rec)
	assert.True(t, naive.Naive)
	assert.Equal(t, 9, naive.Entries[0].Kills)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/leaderboard?linked_only=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.LeaderboardResponse](t, rec).Entries)

	for _, bad := range []string{
		"/api/leaderboard?from=19-10-2026",
		"/api/leaderboard?from=2026-10-20&to=2026-10-19",
		"/api/leaderboard?server_id=x",
		"/api/leaderboard?linked_only=maybe",
	} {
		rec = env.do(t, httptest.NewRequest(http.MethodGet, bad, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestPlayerEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	require.Equal(t, http.StatusOK, env.upload(t, "1", sampleLog()).Code)

	u := &domain.PlatformUser{Username: "alice", ExternalID: "[U:1:100]"}
	require.NoError(t, env.store.CreatePlatformUser(context.Background(), u))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/players/%d", u.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detail := decode[domain.PlayerDetailResponse](t, rec)
	assert.Equal(t, int64(100), detail.Player.AccountID)
	assert.Equal(t, 5, detail.Totals.Kills)
	require.Len(t, detail.Matches, 1)
	assert.Equal(t, "de_nuke", detail.Matches[0].Map)

	assert.Equal(t, http.StatusNotFound, env.do(t, httptest.NewRequest(http.MethodGet, "/api/players/999", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, httptest.NewRequest(http.MethodGet, "/api/players/abc", nil)).Code)

	bad := &domain.PlatformUser{Username: "mallory", ExternalID: "not-an-id"}
	require.NoError(t, env.store.CreatePlatformUser(context.Background(), bad))
	rec = env.do(t, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/players/%d", bad.ID), nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGlobalStatsEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	require.Equal(t, http.StatusOK, env.upload(t, "1", sampleLog()).Code)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/stats/global", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[domain.GlobalStats](t, rec)
	assert.Equal(t, 1, stats.TotalMatches)
	assert.Equal(t, 3, stats.TotalRounds)
	assert.Equal(t, 7, stats.TotalKills)
	assert.Equal(t, 4, stats.TotalDeaths)
	assert.Equal(t, 2, stats.UniquePlayers)
	assert.Equal(t, 1, stats.UniqueMaps)
	assert.NotNil(t, stats.LatestMatchAt)
}

func TestServersAndLogTail(t *testing.T) {
	env := newAPIEnv(t, "")

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/servers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	servers := decode[[]domain.Server](t, rec)
	require.Len(t, servers, 1)
	assert.Equal(t, "Retake #1", servers[0].Name)

	assert.Equal(t, http.StatusNotFound, env.do(t, httptest.NewRequest(http.MethodGet, "/api/servers/1/log-tail", nil)).Code)

	require.Equal(t, http.StatusOK, env.upload(t, "1", sampleLog()).Code)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/servers/1/log-tail?lines=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var tail struct {
		Lines []string `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tail))
	require.Len(t, tail.Lines, 2)
	assert.Contains(t, tail.Lines[1], "}}JSON_END")
}

func TestHealthAndMetrics(t *testing.T) {
	env := newAPIEnv(t, "")

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	require.Equal(t, http.StatusOK, env.upload(t, "1", sampleLog()).Code)
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "roundtally_ingest_runs_total")

	require.NoError(t, env.store.Close())
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newAPIEnv(t, "secret")
	rec := env.do(t, httptest.NewRequest(http.MethodOptions, "/api/servers/1/logs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketReceivesRunSummary(t *testing.T) {
	env := newAPIEnv(t, "")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.router.wsHub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/servers/1/logs", "text/plain", strings.NewReader(sampleLog()))
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Event    string            `json:"event"`
		ServerID int64             `json:"server_id"`
		Data     domain.RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, domain.EventIngestRun, ev.Event)
	assert.Equal(t, int64(1), ev.ServerID)
	assert.Equal(t, 6, ev.Data.Inserted)
}
