// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LobbiesCreated prometheus.Counter
	PlayersJoined  prometheus.Counter
	Buzzes         *prometheus.CounterVec // by outcome
	Resolutions    *prometheus.CounterVec // by action
	Evictions      *prometheus.CounterVec // "lobby" or "player"

	TxRetries prometheus.Counter
	TxFailed  prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panenka_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panenka_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "route"},
		),
		LobbiesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "panenka_lobbies_created_total",
			Help: "Total lobbies created",
		}),
		PlayersJoined: f.NewCounter(prometheus.CounterOpts{
			Name: "panenka_players_joined_total",
			Help: "Total players joined",
		}),
		Buzzes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panenka_buzzes_total",
				Help: "Buzz attempts by outcome",
			},
			[]string{"outcome"},
		),
		Resolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panenka_resolutions_total",
				Help: "Host resolutions by action",
			},
			[]string{"action"},
		),
		Evictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panenka_evictions_total",
				Help: "Records removed by the reaper",
			},
			[]string{"kind"},
		),
		TxRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "panenka_store_tx_retries_total",
			Help: "Lobby transactions retried after contention",
		}),
		TxFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "panenka_store_tx_failed_total",
			Help: "Lobby transactions that exhausted their retries",
		}),
	}
}

func (m *Metrics) LobbyCreated() {
	if m != nil {
		m.LobbiesCreated.Inc()
	}
}

func (m *Metrics) PlayerJoined() {
	if m != nil {
		m.PlayersJoined.Inc()
	}
}

func (m *Metrics) Buzz(outcome string) {
	if m != nil {
		m.Buzzes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Resolution(action string) {
	if m != nil {
		m.Resolutions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) Evicted(kind string, n int) {
	if m != nil && n > 0 {
		m.Evictions.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *Metrics) Retried() {
	if m != nil {
		m.TxRetries.Inc()
	}
}

func (m *Metrics) Failed() {
	if m != nil {
		m.TxFailed.Inc()
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
