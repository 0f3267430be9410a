package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MatchMetrics records engine activity
type MatchMetrics interface {
	MatchOpened(kind string)
	SetRecorded(outcome string)
	SetRejected(code string)
	MatchFinished(status string)
	RatingApplication(result string, elapsed time.Duration)
	ChallengeResolved(status string)
	CandidatesServed(count int, fallback bool)
	BroadcastFailed(sink string)
	WebsocketConnections(n int)
}

// NewMetrics registers the engine collectors on registry.
func NewMetrics(registry *prometheus.Registry) MatchMetrics {
	return setupPrometheusMetrics(registry)
}

// NewNoop returns metrics that record nothing.
func NewNoop() MatchMetrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) MatchOpened(string)                      {}
func (noopMetrics) SetRecorded(string)                      {}
func (noopMetrics) SetRejected(string)                      {}
func (noopMetrics) MatchFinished(string)                    {}
func (noopMetrics) RatingApplication(string, time.Duration) {}
func (noopMetrics) ChallengeResolved(string)                {}
func (noopMetrics) CandidatesServed(int, bool)              {}
func (noopMetrics) BroadcastFailed(string)                  {}
func (noopMetrics) WebsocketConnections(int)                {}
