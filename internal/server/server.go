// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tagentic/gateway/internal/chat"
	"github.com/tagentic/gateway/internal/directory"
	"github.com/tagentic/gateway/internal/store"
)

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router chi.Router
	log    zerolog.Logger
	store  store.Store
	dir    *directory.Directory
	cache  *directory.InfoCache
	orch   *chat.Orchestrator
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(log zerolog.Logger, st store.Store, dir *directory.Directory, cache *directory.InfoCache, orch *chat.Orchestrator, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		log:   log.With().Str("component", "server").Logger(),
		store: st,
		dir:   dir,
		cache: cache,
		orch:  orch,
	}
	s.routes(gatherer)
	return s
}

// routes builds the chi router with all middleware and route definitions,
// gathered in one method so the routing table is easy to scan.
func (s *Server) routes(gatherer prometheus.Gatherer) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/agent/list", s.handleAgentList)

	r.Route("/chat", func(r chi.Router) {
		// Outside the account middleware: share links are readable
		// anonymously, so the handler checks the header itself on the
		// ConversationId branch.
		r.Get("/messages", s.handleChatMessages)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAccount)
			r.Post("/message", s.handleChatMessage)
			r.Get("/conversations", s.handleConversations)
			r.Post("/share", s.handleShare)
			r.Post("/rate", s.handleRate)
		})
	})

	r.Route("/file", func(r chi.Router) {
		r.Use(s.requireAccount)
		r.Post("/upload", s.handleUpload)
	})

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLog emits one structured line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
