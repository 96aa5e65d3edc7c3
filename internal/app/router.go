package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/meridian-agents/meridian/internal/confirm"
	"github.com/meridian-agents/meridian/internal/observability"
	"github.com/meridian-agents/meridian/internal/platform/httpx"
	"github.com/meridian-agents/meridian/internal/shared"
)

// StatsProvider reports confirmation aggregates for the ops surface.
type StatsProvider interface {
	Statistics(ctx context.Context) (confirm.Statistics, error)
}

// JobsMounter attaches background-job observability routes.
type JobsMounter interface {
	MountRoutes(r chi.Router)
}

// RouterParams groups dependencies for building the ops HTTP router. The
// decision API itself is in-process; this surface only serves health,
// statistics and metrics probes.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	Probes  map[string]shared.HealthProbe
	Stats   StatsProvider
	Jobs    JobsMounter
}

// NewRouter constructs the chi.Router for the ops endpoints.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		IsDevelopment:      !params.Config.IsProduction(),
	})
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if err := secureMiddleware.Process(w, req); err != nil {
				params.Logger.Warn("secure headers blocked request", slog.Any("error", err))
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Use(httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		overall := shared.StatusHealthy
		probes := make(map[string]shared.Health, len(params.Probes))
		for name, probe := range params.Probes {
			h := probe.Health(req.Context())
			probes[name] = h
			if h.Status != shared.StatusHealthy {
				overall = shared.StatusUnhealthy
			}
		}
		status := http.StatusOK
		if overall != shared.StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, map[string]any{
			"status":   overall,
			"services": probes,
		})
	})

	if params.Stats != nil {
		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			stats, err := params.Stats.Statistics(req.Context())
			if err != nil {
				params.Logger.Warn("confirmation statistics", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			httpx.JSON(w, http.StatusOK, stats)
		})
	}

	if params.Jobs != nil {
		r.Route("/jobs", func(jr chi.Router) {
			params.Jobs.MountRoutes(jr)
		})
	}

	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	return r
}
