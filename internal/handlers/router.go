// internal/handlers/router.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/panenka/internal/buzzer"
	"github.com/jason-s-yu/panenka/internal/metrics"
	"github.com/jason-s-yu/panenka/internal/middleware"
)

// RouterConfig carries what NewRouter wires together.
type RouterConfig struct {
	Logger         logrus.FieldLogger
	Engine         *buzzer.Engine
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer // served on /metrics when set
	AllowedOrigins []string
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	logger, e := cfg.Logger, cfg.Engine

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LogMiddleware(logger))
	r.Use(middleware.MetricsMiddleware(cfg.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", hostTokenHeader, playerIDHeader},
		AllowCredentials: !allowsAny(cfg.AllowedOrigins),
		MaxAge:           300,
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/lobbies", func(r chi.Router) {
		r.Post("/", CreateLobbyHandler(logger, e))
		r.Route("/{code}", func(r chi.Router) {
			r.Post("/join", JoinLobbyHandler(logger, e))
			r.Get("/state", StateHandler(logger, e))
			r.Post("/buzz", BuzzHandler(logger, e))
			r.Post("/leave", LeaveHandler(logger, e))

			r.Post("/lock", LockHandler(logger, e))
			r.Post("/unlock", UnlockHandler(logger, e))
			r.Post("/reset", ResetHandler(logger, e))
			r.Post("/close", CloseLobbyHandler(logger, e))
			r.Post("/question", SetQuestionHandler(logger, e))
			r.Post("/confirm", ConfirmHandler(logger, e))
			r.Post("/resolve", ResolveHandler(logger, e))
		})
	})
	return r
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return len(origins) == 0
}
