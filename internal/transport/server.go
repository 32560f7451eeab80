// Package transport implements the §6 external interfaces — the REST and
// WebSocket surface consuming the core engine — as a thin layer with no
// business logic of its own, per SPEC_FULL.md's note that this is a
// net/http + gorilla/websocket package wrapping chatengine/scheduler/
// agentpool/router/roundtable.
//
// Grounded on nexus's internal/web (the http.ServeMux + JSON-handler
// convention) and internal/gateway/ws_control_plane.go (the
// gorilla/websocket upgrader and typed-frame read/write loop).
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/conclave-run/conclave/internal/agentpool"
	"github.com/conclave-run/conclave/internal/chatengine"
	"github.com/conclave-run/conclave/internal/observability"
	"github.com/conclave-run/conclave/internal/roundtable"
	"github.com/conclave-run/conclave/internal/router"
	"github.com/conclave-run/conclave/internal/scheduler"
	"github.com/conclave-run/conclave/internal/sessions"
)

// Server wires the core engine's components behind an HTTP/WS surface.
type Server struct {
	mux      *http.ServeMux
	verifier *TokenVerifier

	engine     *chatengine.Engine
	store      sessions.Store
	sched      *scheduler.Scheduler
	jobs       scheduler.JobStore
	history    scheduler.ExecutionStore
	agents     *agentpool.Store
	pool       *agentpool.Pool
	router     *router.Router
	roundtable *roundtable.Roundtable
	logger     *observability.Logger
}

// Config wires a Server together. Engine and Store are required; the
// rest are optional — omitting a collaborator simply drops the routes
// that need it (e.g. no Scheduler means no /cron routes).
type Config struct {
	Engine        *chatengine.Engine
	Store         sessions.Store
	Scheduler     *scheduler.Scheduler
	Jobs          scheduler.JobStore
	History       scheduler.ExecutionStore
	Agents        *agentpool.Store
	Pool          *agentpool.Pool
	Router        *router.Router
	Roundtable    *roundtable.Roundtable
	Logger        *observability.Logger
	JWTSigningKey string
}

// New builds a Server and registers all routes.
func New(cfg Config) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		verifier:   NewTokenVerifier(cfg.JWTSigningKey),
		engine:     cfg.Engine,
		store:      cfg.Store,
		sched:      cfg.Scheduler,
		jobs:       cfg.Jobs,
		history:    cfg.History,
		agents:     cfg.Agents,
		pool:       cfg.Pool,
		router:     cfg.Router,
		roundtable: cfg.Roundtable,
		logger:     cfg.Logger,
	}
	s.routes()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/sessions", requireBearer(s.verifier, s.handleSessions))
	s.mux.HandleFunc("/sessions/", requireBearer(s.verifier, s.handleSessionSubroutes))
	s.mux.HandleFunc("/ws/chat/", requireBearer(s.verifier, s.handleWSChat))
	s.mux.HandleFunc("/agents/metrics", requireBearer(s.verifier, s.handleAgentMetrics))

	if s.sched != nil && s.jobs != nil {
		s.mux.HandleFunc("/cron", requireBearer(s.verifier, s.handleCronCollection))
		s.mux.HandleFunc("/cron/", requireBearer(s.verifier, s.handleCronItemRoutes))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
