package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ernie/roundtally/internal/domain"
)

// ErrRunInProgress is returned when a server already has a run in flight
var ErrRunInProgress = errors.New("ingestion already running for server")

// RunRefused is the summary status of a run that was never started
const RunRefused = "refused"

// RunSink receives the summary of every finished run
type RunSink interface {
	PublishRun(summary domain.RunSummary)
}

// SchedulerConfig controls when and how runs happen
type SchedulerConfig struct {
	ServerIDs     []int64
	Interval      time.Duration
	RunTimeout    time.Duration
	StaleAfter    time.Duration
	InterRunDelay time.Duration
	MaxConcurrent int
}

type inflightRun struct {
	startedAt time.Time
	token     uint64
}

// Scheduler runs ingestion on an interval and on demand, allowing at most
// one run per server at a time
type Scheduler struct {
	runner *Runner
	cfg    SchedulerConfig
	pacer  *rate.Limiter
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	inflight  map[int64]inflightRun
	nextToken uint64
	sinks     []RunSink

	done chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler. Call Start to begin interval runs.
func NewScheduler(runner *Runner, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.InterRunDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.InterRunDelay), 1)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Scheduler{
		runner:   runner,
		cfg:      cfg,
		pacer:    pacer,
		logger:   logger,
		now:      time.Now,
		inflight: make(map[int64]inflightRun),
		done:     make(chan struct{}),
	}
}

// Runner returns the scheduler's runner
func (s *Scheduler) Runner() *Runner {
	return s.runner
}

// ServerIDs returns the servers run on the interval
func (s *Scheduler) ServerIDs() []int64 {
	return s.cfg.ServerIDs
}

// AddSink registers a receiver for run summaries
func (s *Scheduler) AddSink(sink RunSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Running reports whether the server has a run in flight
func (s *Scheduler) Running(serverID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[serverID]
	return ok
}

// acquire takes the server's in-flight lock. A lock held longer than
// StaleAfter belongs to a run that hung past its timeout and is taken over.
func (s *Scheduler) acquire(serverID int64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if held, ok := s.inflight[serverID]; ok {
		age := now.Sub(held.startedAt)
		if s.cfg.StaleAfter <= 0 || age < s.cfg.StaleAfter {
			return 0, false
		}
		s.logger.Warn("reclaiming stale ingestion lock",
			zap.Int64("server_id", serverID),
			zap.Duration("held_for", age))
	}
	s.nextToken++
	s.inflight[serverID] = inflightRun{startedAt: now, token: s.nextToken}
	return s.nextToken, true
}

// release drops the lock only if it is still ours; a reclaimed lock now
// belongs to a newer run
func (s *Scheduler) release(serverID int64, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.inflight[serverID]; ok && held.token == token {
		delete(s.inflight, serverID)
	}
}

// Trigger runs ingestion for one server now, bounded by the run timeout.
// It returns ErrRunInProgress without running if the server is busy.
func (s *Scheduler) Trigger(ctx context.Context, serverID int64) (domain.RunSummary, error) {
	token, ok := s.acquire(serverID)
	if !ok {
		runsRefusedTotal.Inc()
		return domain.RunSummary{
			ServerID:  serverID,
			Status:    RunRefused,
			StartedAt: s.now().UTC(),
			Error:     ErrRunInProgress.Error(),
		}, ErrRunInProgress
	}
	defer s.release(serverID, token)

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	summary, err := s.runner.Run(runCtx, serverID)
	s.publish(summary)
	return summary, err
}

func (s *Scheduler) publish(summary domain.RunSummary) {
	s.mu.Lock()
	sinks := append([]RunSink(nil), s.sinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		sink.PublishRun(summary)
	}
}

// RunAll runs every configured server, several at a time, with run starts
// spaced by the inter-run delay. Failures are reported per server and do
// not stop the others.
func (s *Scheduler) RunAll(ctx context.Context) []domain.RunSummary {
	summaries := make([]domain.RunSummary, len(s.cfg.ServerIDs))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrent)
	for i, id := range s.cfg.ServerIDs {
		g.Go(func() error {
			if err := s.pacer.Wait(ctx); err != nil {
				summaries[i] = domain.RunSummary{ServerID: id, Status: RunRefused, Error: err.Error()}
				return nil
			}
			summary, err := s.Trigger(ctx, id)
			if errors.Is(err, ErrRunInProgress) {
				s.logger.Debug("skipping scheduled run, already in flight", zap.Int64("server_id", id))
			}
			summaries[i] = summary
			return nil
		})
	}
	_ = g.Wait()
	return summaries
}

// Start begins interval runs in the background
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		s.logger.Warn("ingest interval not set, scheduled runs disabled")
		return
	}
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Initial run
	s.RunAll(ctx)

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// Stop ends interval runs and waits for the current batch to finish
func (s *Scheduler) Stop() {
	s.logger.Info("scheduler stopping")
	close(s.done)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
