// Package api exposes the attendance service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/SirClappington/rollcall/internal/attendance"
	"github.com/SirClappington/rollcall/internal/domain"
	"github.com/SirClappington/rollcall/internal/queue"
)

const defaultMaxBody = 64 << 10

// Attendance is the subset of *attendance.Service the handlers use.
type Attendance interface {
	Submit(ctx context.Context, sub attendance.Submission) error
	CreateSession(ctx context.Context, in attendance.NewSession) (*domain.Session, error)
	Session(ctx context.Context, id string) (*domain.Session, error)
	Records(ctx context.Context, sessionID string) ([]domain.AttendanceRecord, error)
}

// QueueReporter is satisfied by *queue.Keyed.
type QueueReporter interface {
	Name() string
	Stats() queue.Stats
}

type StatsProvider interface {
	Stats(ctx context.Context) (domain.StoreStats, error)
}

type Options struct {
	Service      Attendance
	Queues       []QueueReporter
	Store        StatsProvider
	Logger       *zap.Logger
	MaxBodyBytes int64
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// friends. Only enable it behind a proxy that overwrites them; the address
	// feeds the duplicate-device check.
	TrustProxyHeaders bool
	// DisableReqLogs turns off per-request logging, mostly for tests.
	DisableReqLogs bool
}

type server struct {
	svc     Attendance
	queues  []QueueReporter
	store   StatsProvider
	log     *zap.Logger
	maxBody int64
}

func NewRouter(opts Options) http.Handler {
	s := &server{
		svc:     opts.Service,
		queues:  opts.Queues,
		store:   opts.Store,
		log:     opts.Logger,
		maxBody: opts.MaxBodyBytes,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBody
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	if !opts.DisableReqLogs {
		r.Use(requestLogger(s.log))
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/healthz", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/attendance", s.submitAttendance)
		r.Post("/sessions", s.createSession)
		r.Get("/sessions/{id}", s.getSession)
		r.Get("/sessions/{id}/records", s.sessionRecords)
	})
	return r
}

// NewServer wraps the router in an http.Server with conservative timeouts.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
