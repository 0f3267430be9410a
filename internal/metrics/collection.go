package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type prometheusMetrics struct {
	matchesOpened      *prometheus.CounterVec
	setsRecorded       *prometheus.CounterVec
	setsRejected       *prometheus.CounterVec
	matchesFinished    *prometheus.CounterVec
	ratingApplications *prometheus.HistogramVec
	challenges         *prometheus.CounterVec
	candidates         *prometheus.HistogramVec
	broadcastFailures  *prometheus.CounterVec
	wsConnections      prometheus.Gauge
}

func setupPrometheusMetrics(registry *prometheus.Registry) prometheusMetrics {
	factory := promauto.With(registry)

	return prometheusMetrics{
		matchesOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "match_engine_matches_opened_total",
			Help: "Matches opened by kind",
		}, []string{"kind"}),
		setsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "match_engine_sets_recorded_total",
			Help: "Set submissions accepted by outcome",
		}, []string{"outcome"}),
		setsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "match_engine_sets_rejected_total",
			Help: "Set submissions rejected by error code",
		}, []string{"code"}),
		matchesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "match_engine_matches_finished_total",
			Help: "Matches that reached a terminal status",
		}, []string{"status"}),
		ratingApplications: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "match_engine_rating_application_ms",
			Help:    "Elapsed time of rating application attempts in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"result"}),
		challenges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "match_engine_challenges_resolved_total",
			Help: "Challenges by final status",
		}, []string{"status"}),
		candidates: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "match_engine_candidates_served",
			Help:    "Number of candidates returned per search",
			Buckets: prometheus.LinearBuckets(0, 5, 11),
		}, []string{"fallback"}),
		broadcastFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "match_engine_broadcast_failures_total",
			Help: "Best-effort event deliveries that failed",
		}, []string{"sink"}),
		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "match_engine_websocket_connections",
			Help: "Currently connected websocket clients",
		}),
	}
}

func (m prometheusMetrics) MatchOpened(kind string) {
	m.matchesOpened.With(prometheus.Labels{"kind": kind}).Inc()
}

func (m prometheusMetrics) SetRecorded(outcome string) {
	m.setsRecorded.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (m prometheusMetrics) SetRejected(code string) {
	m.setsRejected.With(prometheus.Labels{"code": code}).Inc()
}

func (m prometheusMetrics) MatchFinished(status string) {
	m.matchesFinished.With(prometheus.Labels{"status": status}).Inc()
}

func (m prometheusMetrics) RatingApplication(result string, elapsed time.Duration) {
	m.ratingApplications.With(prometheus.Labels{"result": result}).Observe(float64(elapsed.Milliseconds()))
}

func (m prometheusMetrics) ChallengeResolved(status string) {
	m.challenges.With(prometheus.Labels{"status": status}).Inc()
}

func (m prometheusMetrics) CandidatesServed(count int, fallback bool) {
	m.candidates.With(prometheus.Labels{"fallback": strconv.FormatBool(fallback)}).Observe(float64(count))
}

func (m prometheusMetrics) BroadcastFailed(sink string) {
	m.broadcastFailures.With(prometheus.Labels{"sink": sink}).Inc()
}

func (m prometheusMetrics) WebsocketConnections(n int) {
	m.wsConnections.Set(float64(n))
}
