package domain

import "time"

// Event types for WebSocket and bus notifications
const (
	EventIngestRun       = "ingest_run"
	EventCheckpointReset = "checkpoint_reset"
)

// Event represents a notification about ingestion activity
type Event struct {
	Type      string      `json:"event"`
	ServerID  int64       `json:"server_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}
