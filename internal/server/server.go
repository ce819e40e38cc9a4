// Package server exposes the approval engine to the application layer
// over HTTP.
package server

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quorumgate/quorumgate/internal/coordinator"
	"github.com/quorumgate/quorumgate/internal/gateway"
	"github.com/quorumgate/quorumgate/internal/ledger"
)

// Options configures the HTTP server.
type Options struct {
	AuthRequired bool
	AuthSecret   string
	// LogLimit caps GET /v1/logs responses (0 = unlimited).
	LogLimit int
}

// Server wires the coordinator, ledger, and gateway behind the HTTP
// API.
type Server struct {
	coord  *coordinator.Coordinator
	ledger *ledger.Ledger
	gw     gateway.Gateway
	logger *log.Logger
	opts   Options
}

// New constructs a Server.
func New(coord *coordinator.Coordinator, l *ledger.Ledger, gw gateway.Gateway, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{coord: coord, ledger: l, gw: gw, logger: logger, opts: opts}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/v1", func(api chi.Router) {
		api.Use(authMiddleware(s.opts.AuthSecret, s.opts.AuthRequired))

		api.Get("/requests", s.handleListPending)
		api.Post("/requests", s.handleMutateRequests)
		api.Delete("/requests", s.handleDeleteRequest)
		api.Post("/requests/initialize", s.handleInitialize)
		api.Post("/ceremony", s.handleCeremony)
		api.Get("/policies", s.handleGetPolicy)
		api.Get("/logs", s.handleListLogs)
		api.Get("/stats", s.handleStats)
	})
	return r
}
