package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/roundtally/internal/checkpoint"
	"github.com/ernie/roundtally/internal/domain"
	"github.com/ernie/roundtally/internal/storage"
)

// Run outcomes reported in RunSummary.Status, alongside the log states
// domain.StatusNoLogFile and domain.StatusUpToDate
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RoundWriter is the storage an ingestion run needs
type RoundWriter interface {
	InsertRounds(ctx context.Context, records []domain.RoundRecord) (storage.InsertStats, error)
	LatestMatch(ctx context.Context, serverID int64) (*domain.MatchCursor, error)
}

// Runner performs single ingestion runs: read the checkpoint, parse the new
// lines, store the records, then advance the checkpoint.
type Runner struct {
	logs        *LogFiles
	checkpoints checkpoint.Store
	store       RoundWriter
	alloc       MatchAllocator
	logger      *zap.Logger
	now         func() time.Time
}

// NewRunner creates a Runner. alloc should be shared by every Runner in the
// process.
func NewRunner(logs *LogFiles, checkpoints checkpoint.Store, store RoundWriter, alloc MatchAllocator, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logs:        logs,
		checkpoints: checkpoints,
		store:       store,
		alloc:       alloc,
		logger:      logger,
		now:         time.Now,
	}
}

// Logs returns the runner's log file locator
func (r *Runner) Logs() *LogFiles {
	return r.logs
}

// Run ingests everything appended to the server's log since the last
// checkpoint. A missing log is reported in the summary, not as an error.
// On any error the checkpoint is left where it was, so the same lines are
// retried next time. A failure before the rows are committed is retried
// cleanly. If the commit succeeded but the checkpoint write failed, the
// retry allocates new match ids and stores the same rounds a second time.
func (r *Runner) Run(ctx context.Context, serverID int64) (domain.RunSummary, error) {
	start := r.now()
	summary := domain.RunSummary{ServerID: serverID, StartedAt: start.UTC()}
	logger := r.logger.With(zap.Int64("server_id", serverID))

	fail := func(err error) (domain.RunSummary, error) {
		summary.Status = RunFailed
		summary.Error = err.Error()
		summary.FinishedAt = r.now().UTC()
		runsTotal.WithLabelValues(RunFailed).Inc()
		runDurationHistogram.Observe(time.Since(start).Seconds())
		logger.Error("ingestion run failed", zap.Error(err))
		return summary, err
	}

	lines, err := ReadLines(r.logs.Path(serverID))
	if errors.Is(err, os.ErrNotExist) {
		summary.Status = domain.StatusNoLogFile
		summary.FinishedAt = r.now().UTC()
		runsTotal.WithLabelValues(domain.StatusNoLogFile).Inc()
		logger.Debug("no log file to ingest")
		return summary, nil
	}
	if err != nil {
		return fail(fmt.Errorf("reading log: %w", err))
	}

	stored, err := r.checkpoints.Read(serverID)
	if err != nil {
		return fail(err)
	}
	offset, restarted := checkpoint.Reconcile(logger, serverID, stored, len(lines))
	summary.StartOffset = offset
	summary.EndOffset = offset
	summary.RestartDetected = restarted
	if restarted {
		restartsDetectedTotal.Inc()
	}

	if offset == len(lines) && !restarted {
		summary.Status = domain.StatusUpToDate
		summary.FinishedAt = r.now().UTC()
		runsTotal.WithLabelValues(domain.StatusUpToDate).Inc()
		return summary, nil
	}

	cursor, err := r.store.LatestMatch(ctx, serverID)
	if err != nil {
		return fail(err)
	}

	parser := NewLogParser(serverID, r.alloc, cursor, start, logger)
	result, err := parser.Parse(ctx, lines[offset:])
	if err != nil {
		return fail(fmt.Errorf("parsing log: %w", err))
	}
	summary.LinesProcessed = len(lines) - offset
	summary.Map = result.Map
	summary.MatchesStarted = result.MatchesStarted
	summary.ParseSkipped = result.Skipped
	summary.AnomalousResets = result.AnomalousResets

	stats, err := r.store.InsertRounds(ctx, result.Records)
	if err != nil {
		return fail(err)
	}
	summary.Inserted = stats.Inserted
	summary.SkippedDuplicates = stats.Duplicates + result.DuplicatesInRun

	if err := r.checkpoints.Write(serverID, len(lines)); err != nil {
		return fail(err)
	}
	summary.EndOffset = len(lines)
	summary.Status = RunCompleted
	summary.FinishedAt = r.now().UTC()

	runsTotal.WithLabelValues(RunCompleted).Inc()
	roundsInsertedTotal.Add(float64(stats.Inserted))
	roundsDuplicateTotal.Add(float64(summary.SkippedDuplicates))
	rowsSkippedTotal.Add(float64(result.Skipped))
	runDurationHistogram.Observe(time.Since(start).Seconds())

	logger.Info("ingestion run complete",
		zap.Int("lines", summary.LinesProcessed),
		zap.Int("inserted", summary.Inserted),
		zap.Int("duplicates", summary.SkippedDuplicates),
		zap.Int("parse_skipped", summary.ParseSkipped),
		zap.Int("matches_started", summary.MatchesStarted),
		zap.String("map", summary.Map))
	return summary, nil
}

// Status reports how far ingestion has progressed through a server's log
func (r *Runner) Status(serverID int64) (domain.ServerStatus, error) {
	status := domain.ServerStatus{ServerID: serverID}

	info, err := r.logs.Info(serverID)
	if err != nil {
		return status, err
	}
	cp, err := r.checkpoints.Read(serverID)
	if err != nil {
		return status, err
	}
	status.Checkpoint = cp

	if !info.Exists {
		status.Status = domain.StatusNoLogFile
		return status, nil
	}

	modified := info.ModifiedAt.UTC()
	status.LogExists = true
	status.SizeBytes = info.Size
	status.ModifiedAt = &modified
	status.TotalLines = info.Lines

	switch {
	case cp > info.Lines:
		// The next run will detect the restart and start over
		status.PendingLines = info.Lines
		status.Status = domain.StatusPendingProcessing
	case cp < info.Lines:
		status.PendingLines = info.Lines - cp
		status.Status = domain.StatusPendingProcessing
	default:
		status.Status = domain.StatusUpToDate
	}
	return status, nil
}

// ResetCheckpoint forgets a server's progress so its whole log is
// reprocessed on the next run
func (r *Runner) ResetCheckpoint(serverID int64) error {
	if err := r.checkpoints.Delete(serverID); err != nil {
		return err
	}
	r.logger.Info("checkpoint reset", zap.Int64("server_id", serverID))
	return nil
}
