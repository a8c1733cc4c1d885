package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roundtally_ingest_runs_total",
		Help: "Ingestion runs by outcome",
	}, []string{"status"})

	roundsInsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roundtally_rounds_inserted_total",
		Help: "Round records written to the store",
	})

	roundsDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roundtally_rounds_duplicate_total",
		Help: "Round records skipped as duplicates, in-run or by the store",
	})

	rowsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roundtally_rows_skipped_total",
		Help: "Malformed player rows dropped by the parser",
	})

	restartsDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roundtally_log_restarts_total",
		Help: "Checkpoints found past the end of their log file",
	})

	runsRefusedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roundtally_ingest_runs_refused_total",
		Help: "Run requests refused because the server was already in flight",
	})

	runDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roundtally_ingest_run_duration_seconds",
		Help:    "Time taken by one ingestion run",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)
