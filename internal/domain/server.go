package domain

import "time"

// Ingestion status values reported for a server's log
const (
	StatusNoLogFile         = "no-log-file"
	StatusUpToDate          = "up-to-date"
	StatusPendingProcessing = "pending-processing"
)

// Server is a configured game server
type Server struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ServerStatus describes how far ingestion has progressed through a
// server's log file
type ServerStatus struct {
	ServerID     int64      `json:"server_id"`
	LogExists    bool       `json:"log_exists"`
	SizeBytes    int64      `json:"size_bytes"`
	ModifiedAt   *time.Time `json:"modified_at,omitempty"`
	TotalLines   int        `json:"total_lines"`
	Checkpoint   int        `json:"checkpoint"`
	PendingLines int        `json:"pending_lines"`
	Status       string     `json:"status"`
	Running      bool       `json:"running"`
}

// RunSummary is the outcome of one ingestion run
type RunSummary struct {
	ServerID          int64     `json:"server_id"`
	Status            string    `json:"status"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	StartOffset       int       `json:"start_offset"`
	EndOffset         int       `json:"end_offset"`
	LinesProcessed    int       `json:"lines_processed"`
	Inserted          int       `json:"inserted"`
	SkippedDuplicates int       `json:"skipped_duplicates"`
	ParseSkipped      int       `json:"parse_skipped"`
	MatchesStarted    int       `json:"matches_started"`
	AnomalousResets   int       `json:"anomalous_resets,omitempty"`
	RestartDetected   bool      `json:"restart_detected"`
	Map               string    `json:"map,omitempty"`
	Error             string    `json:"error,omitempty"`
}
