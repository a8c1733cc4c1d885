package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ernie/roundtally/internal/auth"
	"github.com/ernie/roundtally/internal/domain"
)

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addCLIFlags(fs)
	serverID := fs.Int64("server", 0, "only show this server")
	fs.Parse(args)
	cf.load()

	servers, err := targetServers(*serverID)
	if err != nil {
		fatal(err)
	}

	statuses := make([]domain.ServerStatus, 0, len(servers))
	for _, srv := range servers {
		var status domain.ServerStatus
		if err := getJSON(fmt.Sprintf("/api/servers/%d/ingest-status", srv.ID), &status); err != nil {
			fatal(err)
		}
		statuses = append(statuses, status)
	}

	if cf.wantJSON() {
		printJSON(statuses)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tNAME\tSTATUS\tCHECKPOINT\tLINES\tPENDING\tSIZE\tRUNNING")
	fmt.Fprintln(w, "------\t----\t------\t----------\t-----\t-------\t----\t-------")
	for i, st := range statuses {
		running := "no"
		if st.Running {
			running = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			st.ServerID, servers[i].Name, st.Status, st.Checkpoint, st.TotalLines, st.PendingLines, formatBytes(st.SizeBytes), running)
	}
	w.Flush()
}

// targetServers returns the one requested server or every configured one
func targetServers(serverID int64) ([]domain.Server, error) {
	var servers []domain.Server
	if err := getJSON("/api/servers", &servers); err != nil {
		return nil, err
	}
	if serverID == 0 {
		return servers, nil
	}
	for _, s := range servers {
		if s.ID == serverID {
			return []domain.Server{s}, nil
		}
	}
	return []domain.Server{{ID: serverID, Name: "-"}}, nil
}

func cmdIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cf := addCLIFlags(fs)
	serverID := fs.Int64("server", 0, "only ingest this server")
	fs.Parse(args)
	cf.load()

	servers, err := targetServers(*serverID)
	if err != nil {
		fatal(err)
	}

	var summaries []domain.RunSummary
	failed := false
	for _, srv := range servers {
		var summary domain.RunSummary
		if err := doJSON(http.MethodPost, fmt.Sprintf("/api/servers/%d/ingest", srv.ID), nil, "", &summary); err != nil {
			fmt.Fprintf(os.Stderr, "server %d: %v\n", srv.ID, err)
			failed = true
			if summary.ServerID == 0 {
				continue
			}
		}
		summaries = append(summaries, summary)
	}

	printSummaries(summaries, cf.wantJSON())
	if failed {
		os.Exit(1)
	}
}

func printSummaries(summaries []domain.RunSummary, asJSON bool) {
	if asJSON {
		printJSON(summaries)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tSTATUS\tLINES\tINSERTED\tDUPLICATES\tMATCHES\tMAP\tDURATION")
	fmt.Fprintln(w, "------\t------\t-----\t--------\t----------\t-------\t---\t--------")
	for _, s := range summaries {
		mapName := s.Map
		if mapName == "" {
			mapName = "-"
		}
		duration := "-"
		if !s.FinishedAt.IsZero() {
			duration = s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String()
		}
		status := s.Status
		if s.RestartDetected {
			status += " (restart)"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.ServerID, status, s.LinesProcessed, s.Inserted, s.SkippedDuplicates, s.MatchesStarted, mapName, duration)
	}
	w.Flush()
}

func cmdReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	cf := addCLIFlags(fs)
	serverID := fs.Int64("server", 0, "server whose checkpoint to reset")
	fs.Parse(args)
	cf.load()

	if *serverID <= 0 {
		fatal(errors.New("usage: roundtally reset --server N"))
	}
	if err := doJSON(http.MethodDelete, fmt.Sprintf("/api/servers/%d/checkpoint", *serverID), nil, "", nil); err != nil {
		fatal(err)
	}
	fmt.Printf("Checkpoint for server %d reset; the whole log is reprocessed on the next run\n", *serverID)
}

func cmdUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	cf := addCLIFlags(fs)
	serverID := fs.Int64("server", 0, "server the log belongs to")
	fs.Parse(args)
	cf.load()

	if *serverID <= 0 || fs.NArg() != 1 {
		fatal(errors.New("usage: roundtally upload --server N <file>"))
	}
	path := fs.Arg(0)

	f, err := os.Open(path)
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	encoding := ""
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		encoding = "gzip"
	case ".zst":
		encoding = "zstd"
	}

	var summary domain.RunSummary
	err = doJSON(http.MethodPost, fmt.Sprintf("/api/servers/%d/logs", *serverID), f, encoding, &summary)
	if err != nil && summary.ServerID == 0 {
		fatal(err)
	}
	printSummaries([]domain.RunSummary{summary}, cf.wantJSON())
	if err != nil {
		fatal(err)
	}
}

func cmdLeaderboard(args []string) {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	cf := addCLIFlags(fs)
	limit := fs.Int("top", 20, "number of top players to show")
	serverID := fs.Int64("server", 0, "only count matches on this server")
	from := fs.String("from", "", "first match date (YYYY-MM-DD)")
	to := fs.String("to", "", "last match date (YYYY-MM-DD)")
	linked := fs.Bool("linked", false, "only players linked to a platform user")
	naive := fs.Bool("naive", false, "sum every round line instead of final rounds")
	fs.Parse(args)
	cf.load()

	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	if *serverID > 0 {
		q.Set("server_id", strconv.FormatInt(*serverID, 10))
	}
	if *from != "" {
		q.Set("from", *from)
	}
	if *to != "" {
		q.Set("to", *to)
	}
	if *linked {
		q.Set("linked_only", "true")
	}
	path := "/api/leaderboard"
	if *naive {
		path = "/api/leaderboard/naive"
	}

	var response domain.LeaderboardResponse
	if err := getJSON(path+"?"+q.Encode(), &response); err != nil {
		fatal(err)
	}

	if cf.wantJSON() {
		printJSON(response)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tKILLS\tDEATHS\tK/D\tASSISTS\tMATCHES\tROUNDS")
	fmt.Fprintln(w, "----\t------\t-----\t------\t---\t-------\t-------\t------")
	for _, e := range response.Entries {
		name := e.Player.DisplayName
		if e.HasPlatformProfile {
			name += " *"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%.2f\t%d\t%d\t%d\n",
			e.Rank, name, e.Kills, e.Deaths, e.KDR, e.Assists, e.MatchesPlayed, e.RoundsPlayed)
	}
	w.Flush()
}

func cmdGlobal(args []string) {
	fs := flag.NewFlagSet("global", flag.ExitOnError)
	cf := addCLIFlags(fs)
	serverID := fs.Int64("server", 0, "only count matches on this server")
	fs.Parse(args)
	cf.load()

	path := "/api/stats/global"
	if *serverID > 0 {
		path += fmt.Sprintf("?server_id=%d", *serverID)
	}
	var stats domain.GlobalStats
	if err := getJSON(path, &stats); err != nil {
		fatal(err)
	}

	if cf.wantJSON() {
		printJSON(stats)
		return
	}

	latest := "never"
	if stats.LatestMatchAt != nil {
		latest = stats.LatestMatchAt.Local().Format("2006-01-02 15:04")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Matches:\t%d\n", stats.TotalMatches)
	fmt.Fprintf(w, "Rounds:\t%d\n", stats.TotalRounds)
	fmt.Fprintf(w, "Kills:\t%d\n", stats.TotalKills)
	fmt.Fprintf(w, "Deaths:\t%d\n", stats.TotalDeaths)
	fmt.Fprintf(w, "Assists:\t%d\n", stats.TotalAssists)
	fmt.Fprintf(w, "Players:\t%d\n", stats.UniquePlayers)
	fmt.Fprintf(w, "Maps:\t%d\n", stats.UniqueMaps)
	if stats.MostPlayedMap != "" {
		fmt.Fprintf(w, "Most played:\t%s\n", stats.MostPlayedMap)
	}
	fmt.Fprintf(w, "Latest match:\t%s\n", latest)
	w.Flush()
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	subject := fs.String("subject", "", "who the token is issued to")
	admin := fs.Bool("admin", false, "allow admin routes")
	duration := fs.Duration("duration", 0, "token lifetime (default from config)")
	fs.Parse(args)

	cfg := loadCLIConfigFromFlags(*configPath, "")
	if cfg == nil {
		os.Exit(1)
	}
	if *subject == "" {
		fatal(errors.New("usage: roundtally token --subject NAME [--admin] [--duration D]"))
	}

	ttl := cfg.Auth.TokenDuration
	if *duration > 0 {
		ttl = *duration
	}
	token, err := auth.NewService(cfg.Auth.JWTSecret, ttl).GenerateToken(*subject, *admin)
	if err != nil {
		fatal(err)
	}
	fmt.Println(token)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
