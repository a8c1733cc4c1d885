package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ernie/roundtally/internal/auth"
	"github.com/ernie/roundtally/internal/collector"
	"github.com/ernie/roundtally/internal/domain"
	"github.com/ernie/roundtally/internal/leaderboard"
)

// Pinger reports whether storage is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// ResetSink is told when a server's checkpoint is reset
type ResetSink interface {
	PublishCheckpointReset(serverID int64)
}

// Options are the router's dependencies
type Options struct {
	Scheduler   *collector.Scheduler
	Leaderboard *leaderboard.Service
	Auth        *auth.Service
	Health      Pinger
	Servers     []domain.Server
	ResetSinks  []ResetSink
	Logger      *zap.Logger
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux        *chi.Mux
	scheduler  *collector.Scheduler
	runner     *collector.Runner
	board      *leaderboard.Service
	auth       *auth.Service
	health     Pinger
	servers    []domain.Server
	resetSinks []ResetSink
	wsHub      *WebSocketHub
	logger     *zap.Logger
}

// NewRouter creates a new HTTP router. The router's WebSocket hub is
// registered with the scheduler so run summaries reach connected clients.
func NewRouter(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	authService := opts.Auth
	if authService == nil {
		authService = auth.NewService("", 0)
	}
	if !authService.Enabled() {
		logger.Warn("no jwt secret configured, ingestion admin routes are unauthenticated")
	}

	r := &Router{
		mux:        chi.NewRouter(),
		scheduler:  opts.Scheduler,
		runner:     opts.Scheduler.Runner(),
		board:      opts.Leaderboard,
		auth:       authService,
		health:     opts.Health,
		servers:    opts.Servers,
		resetSinks: opts.ResetSinks,
		wsHub:      NewWebSocketHub(logger),
		logger:     logger,
	}
	r.scheduler.AddSink(r.wsHub)
	r.resetSinks = append(r.resetSinks, r.wsHub)

	r.mux.Use(middleware.RequestID, middleware.RealIP, r.requestLogger, middleware.Recoverer, cors)

	r.mux.Route("/api", func(api chi.Router) {
		api.Get("/servers", r.handleGetServers)
		api.Get("/servers/{id}/ingest-status", r.handleIngestStatus)

		// Admin routes
		api.Group(func(admin chi.Router) {
			admin.Use(r.requireAdmin)
			admin.Post("/servers/{id}/logs", r.handleUploadLog)
			admin.Post("/servers/{id}/ingest", r.handleTriggerIngest)
			admin.Delete("/servers/{id}/checkpoint", r.handleResetCheckpoint)
			admin.Get("/servers/{id}/log-tail", r.handleLogTail)
		})

		api.Get("/leaderboard", r.handleGetLeaderboard)
		api.Get("/leaderboard/naive", r.handleGetNaiveLeaderboard)
		api.Get("/players/{userID}", r.handleGetPlayer)
		api.Get("/stats/global", r.handleGetGlobalStats)
	})

	r.mux.Get("/ws", r.handleWebSocket)
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.Get("/health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// StartWebSocketHub runs the hub until ctx is cancelled
func (r *Router) StartWebSocketHub(ctx context.Context) {
	go r.wsHub.Run(ctx)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding, Authorization")

		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		r.logger.Debug("http request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(req.Context())))
	})
}
