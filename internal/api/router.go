package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/davisbuilds/agentmonitor/internal/runtime"
)

// NewRouter builds the full chi.Router AgentMonitor serves, one handler per
// spec route, bound to the shared AppState.
func NewRouter(state *runtime.AppState) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(state.Log))
	r.Use(chimw.Timeout(30 * time.Second))

	h := &handlers{state: state}

	r.Get("/api/health", h.health)
	r.Post("/api/events", h.ingestSingle)
	r.Post("/api/events/batch", h.ingestBatch)
	r.Get("/api/stats", h.stats)
	r.Get("/api/stats/tools", h.statsTools)
	r.Get("/api/stats/cost", h.statsCost)
	r.Get("/api/stats/usage-monitor", h.usageMonitor)
	r.Get("/api/sessions", h.sessionsList)
	r.Get("/api/sessions/{id}", h.sessionDetail)
	r.Get("/api/sessions/{id}/transcript", h.sessionTranscript)
	r.Get("/api/filter-options", h.filterOptions)
	r.Get("/api/stream", h.stream)
	r.Post("/api/otel/v1/logs", h.otelLogs)
	r.Post("/api/otel/v1/metrics", h.otelMetrics)
	r.Post("/api/otel/v1/traces", h.otelTraces)

	return r
}

type handlers struct {
	state *runtime.AppState
}

// requestLogger emits one structured line per request at debug level, the
// same low-noise level the teacher's daemon reserves for routine HTTP
// traffic.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("component", "api").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}
