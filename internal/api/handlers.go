package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ernie/roundtally/internal/collector"
	"github.com/ernie/roundtally/internal/domain"
	"github.com/ernie/roundtally/internal/identity"
	"github.com/ernie/roundtally/internal/leaderboard"
	"github.com/ernie/roundtally/internal/storage"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeRunResult reports an ingestion run. A refused run is a conflict and
// any other failure is a server error; the summary is the body either way.
func (r *Router) writeRunResult(w http.ResponseWriter, summary domain.RunSummary, err error) {
	switch {
	case errors.Is(err, collector.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, summary)
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, summary)
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

// handleGetServers returns the configured servers
func (r *Router) handleGetServers(w http.ResponseWriter, req *http.Request) {
	servers := r.servers
	if servers == nil {
		servers = []domain.Server{}
	}
	writeJSON(w, http.StatusOK, servers)
}

// handleIngestStatus reports a server's log and checkpoint state
func (r *Router) handleIngestStatus(w http.ResponseWriter, req *http.Request) {
	id, err := parseServerID(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := r.runner.Status(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status.Running = r.scheduler.Running(id)
	writeJSON(w, http.StatusOK, status)
}

// handleTriggerIngest runs ingestion for a server whose log is already in place
func (r *Router) handleTriggerIngest(w http.ResponseWriter, req *http.Request) {
	id, err := parseServerID(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := r.scheduler.Trigger(req.Context(), id)
	r.writeRunResult(w, summary, err)
}

// handleResetCheckpoint forces the next run to reprocess the whole log
func (r *Router) handleResetCheckpoint(w http.ResponseWriter, req *http.Request) {
	id, err := parseServerID(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.runner.ResetCheckpoint(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, sink := range r.resetSinks {
		sink.PublishCheckpointReset(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"server_id": id, "message": "checkpoint reset"})
}

// handleLogTail returns the last lines of a server's raw log
func (r *Router) handleLogTail(w http.ResponseWriter, req *http.Request) {
	id, err := parseServerID(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := r.runner.Logs().Info(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.Exists {
		writeError(w, http.StatusNotFound, "no log file for server")
		return
	}

	lines, err := collector.ReadLastNLines(r.runner.Logs().Path(id), parseLimit(req, "lines", 100, 2000))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"server_id": id, "lines": lines})
}

func (r *Router) parseLeaderboardQuery(req *http.Request) (leaderboard.Query, error) {
	var q leaderboard.Query
	var err error
	if q.ServerID, err = parseOptionalServerID(req); err != nil {
		return q, err
	}
	if q.From, q.To, err = parseDateRange(req); err != nil {
		return q, err
	}
	if q.LinkedOnly, err = parseBool(req, "linked_only"); err != nil {
		return q, err
	}
	q.Limit = parseLimit(req, "limit", 50, 500)
	return q, nil
}

// handleGetLeaderboard returns players ranked by final-round totals
func (r *Router) handleGetLeaderboard(w http.ResponseWriter, req *http.Request) {
	q, err := r.parseLeaderboardQuery(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.serveLeaderboard(w, req, q)
}

// handleGetNaiveLeaderboard returns the diagnostic leaderboard that sums
// every round instead of each match's final round
func (r *Router) handleGetNaiveLeaderboard(w http.ResponseWriter, req *http.Request) {
	q, err := r.parseLeaderboardQuery(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.Naive = true
	r.serveLeaderboard(w, req, q)
}

func (r *Router) serveLeaderboard(w http.ResponseWriter, req *http.Request, q leaderboard.Query) {
	resp, err := r.board.Leaderboard(req.Context(), q)
	if err != nil {
		r.logger.Error("leaderboard query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetPlayer returns a platform user's totals and match history
func (r *Router) handleGetPlayer(w http.ResponseWriter, req *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(req, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	detail, err := r.board.PlayerDetail(req.Context(), userID, parseLimit(req, "history", 20, 200))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, identity.ErrUnknownFormat):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, detail)
	}
}

// handleGetGlobalStats returns totals across all ingested data
func (r *Router) handleGetGlobalStats(w http.ResponseWriter, req *http.Request) {
	serverID, err := parseOptionalServerID(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to, err := parseDateRange(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := r.board.GlobalStats(req.Context(), storage.RoundFilter{ServerID: serverID, From: from, To: to})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleHealth returns a simple health check response
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if r.health != nil {
		if err := r.health.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
