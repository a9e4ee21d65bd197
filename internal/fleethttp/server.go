// Package fleethttp implements the fleet server's chi router: middleware
// stack, security headers, and every route handler in spec §4.6, plus the
// two supplemented routes in SPEC_FULL.md §12.
package fleethttp

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlasfleet/atlas/internal/auth"
	"github.com/atlasfleet/atlas/internal/certmgr"
	"github.com/atlasfleet/atlas/internal/domain"
	"github.com/atlasfleet/atlas/internal/fleetlog"
	"github.com/atlasfleet/atlas/internal/store"
)

// handlerTimeout bounds every request, spec §5 "every HTTP handler has a
// 10s deadline."
const handlerTimeout = 10 * time.Second

// maxInFlightPerMachine is the per-machine backpressure ceiling, spec §5:
// above this many concurrent ingests for one machine_id, the server
// responds 429 and the agent treats it like a 5xx.
const maxInFlightPerMachine = 8

// Server holds everything the route handlers need.
type Server struct {
	Store          *store.Store
	Auth           *auth.Authenticator
	Certs          *certmgr.Manager // nil when TLS is not configured
	Log            *fleetlog.Logger
	Thresholds     domain.Thresholds
	AgentInterval  time.Duration
	SessionTTL     time.Duration
	EncryptionKey  []byte // nil when the server is not keyed
	Strict         bool   // reject unencrypted reports when server is keyed
	AllowedOrigins map[string]bool
	BindAddr       string
	StartedAt      time.Time

	inflight   map[string]int
	inflightMu sync.Mutex
}

// New builds a Server. EncryptionKey may be nil.
func New(st *store.Store, authn *auth.Authenticator, certs *certmgr.Manager, log *fleetlog.Logger,
	thresholds domain.Thresholds, agentInterval, sessionTTL time.Duration, encryptionKey []byte, strict bool,
	allowedOrigins []string, bindAddr string) *Server {

	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Server{
		Store:          st,
		Auth:           authn,
		Certs:          certs,
		Log:            log,
		Thresholds:     thresholds,
		AgentInterval:  agentInterval,
		SessionTTL:     sessionTTL,
		EncryptionKey:  encryptionKey,
		Strict:         strict,
		AllowedOrigins: origins,
		BindAddr:       bindAddr,
		StartedAt:      time.Now(),
		inflight:       make(map[string]int),
	}
}

// Handler returns the fully mounted chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(handlerTimeout))
	r.Use(s.corsMiddleware)
	r.Use(s.securityHeaders)

	r.Route("/api/fleet", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Post("/report", s.handleReport)
			r.Post("/commands/{id}/result", s.handleCommandResult)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/machines", s.handleListMachines)
			r.Get("/machines/{id}", s.handleGetMachine)
			r.Post("/machines/{id}/commands", s.handleEnqueueCommand)
			r.Get("/summary", s.handleSummary)
			r.Get("/server-resources", s.handleServerResources)
			r.Get("/speedtest/recent20", s.handleSpeedtestRecent20)
			r.Get("/speedtest/summary", s.handleSpeedtestSummary)
			r.Get("/speedtest/comparison", s.handleSpeedtestComparison)
			r.Get("/speedtest/anomalies", s.handleSpeedtestAnomalies)
		})
	})

	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.Get("/dashboard", s.handleDashboard)
	r.Get("/", s.handleDashboard)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) acquireSlot(machineID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight[machineID] >= maxInFlightPerMachine {
		return false
	}
	s.inflight[machineID]++
	return true
}

func (s *Server) releaseSlot(machineID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	s.inflight[machineID]--
	if s.inflight[machineID] <= 0 {
		delete(s.inflight, machineID)
	}
}
