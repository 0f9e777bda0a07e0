// Package server is the inbound HTTP surface: the streaming ask endpoint, the
// birth chart endpoint, health and metrics.
package server

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wuxing-advisor/server/internal/advisor/bazi"
	"github.com/wuxing-advisor/server/internal/advisor/llm"
	"github.com/wuxing-advisor/server/internal/advisor/model"
	"github.com/wuxing-advisor/server/internal/metrics"
)

// Responder streams the answer to one question. *graph.Orchestrator satisfies it.
type Responder interface {
	Respond(ctx context.Context, in model.TurnInput) iter.Seq[model.Event]
}

// ChartService computes birth charts. *bazi.Oracle satisfies it.
type ChartService interface {
	Chart(ctx context.Context, req bazi.Request) (*bazi.Chart, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Advisor Responder
	// Charts and Gateway are optional; /api/bazi answers 503 without Charts.
	Charts  ChartService
	Gateway llm.Gateway
	Checks  map[string]Pinger
	Metrics *metrics.Collector
	// Mount attaches extra routes such as the IM bridge.
	Mount func(chi.Router)
}

// NewRouter wires middleware and routes.
func NewRouter(cfg model.HTTPConfig, deps Deps) http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(deps.Metrics))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "X-Session-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Session-ID"},
		MaxAge:         300,
	}))

	router.Get("/health", newHealthHandler(deps.Checks).ServeHTTP)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler())
	}

	router.Route("/api", func(r chi.Router) {
		r.Post("/ask", newAskHandler(deps.Advisor, cfg.MaxQueryLength).ServeHTTP)
		r.Post("/bazi", newBaziHandler(deps.Charts, deps.Gateway).ServeHTTP)
	})

	if deps.Mount != nil {
		deps.Mount(router)
	}
	return router
}

// New builds the http.Server. Write timeouts are left unset so answer streams are not cut.
func New(cfg model.HTTPConfig, handler http.Handler) *http.Server {
	read := cfg.ReadTimeout
	if read <= 0 {
		read = 15 * time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: read,
		ReadTimeout:       read,
		IdleTimeout:       2 * time.Minute,
	}
}
