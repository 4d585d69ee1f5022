// Package httptransport wires the gateway's HTTP surface: the synchronous
// assistant endpoint, the channel activity endpoint, the public client
// configuration, and the operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	assistanthandler "fabricobo/internal/assistant/handler"
	bothandler "fabricobo/internal/bot/handler"
	"fabricobo/internal/platform/health"
	"fabricobo/internal/platform/middleware"
)

// Deps carries the wired handlers the router mounts.
type Deps struct {
	Assistant *assistanthandler.Handler
	Bot       *bothandler.Handler
	Health    *health.Handler
	Registry  *prometheus.Registry
	CORS      []string
}

// NewRouter assembles the middleware stack and mounts all endpoints.
func NewRouter(deps Deps, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(deps.CORS))

	// No per-request timeout middleware here: agent invocations run for
	// minutes and carry their own deadline.
	r.Post("/api/agent", deps.Assistant.HandleAsk)
	r.Get("/api/config", deps.Assistant.HandleConfig)
	r.Post("/api/messages", deps.Bot.HandleActivity)

	deps.Health.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	return r
}
