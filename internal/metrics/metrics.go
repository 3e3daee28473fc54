// Package metrics exposes Prometheus collectors for the engine, the keeper
// and the HTTP API.
package metrics

import (
	"context"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alanyoungcy/conviction/internal/domain"
)

var (
	// Engine metrics
	EventsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conviction_events_committed_total",
			Help: "Total number of committed engine events",
		},
		[]string{"type"},
	)

	StakeVolume = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conviction_stake_volume_wei_total",
			Help: "Net stake recorded, in wei (float approximation)",
		},
		[]string{"outcome"}, // A, B
	)

	FeesCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conviction_fees_collected_wei_total",
			Help: "Protocol fees deducted from stakes, in wei (float approximation)",
		},
	)

	RewardsPaid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conviction_rewards_paid_wei_total",
			Help: "Rewards paid to winning positions, in wei (float approximation)",
		},
	)

	LastEventSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conviction_last_event_seq",
			Help: "Sequence number of the last committed event",
		},
	)

	// Keeper metrics
	KeeperRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conviction_keeper_runs_total",
			Help: "Total number of keeper cycles",
		},
		[]string{"phase", "status"}, // scan/resolve, success/error
	)

	KeeperDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conviction_keeper_duration_seconds",
			Help:    "Duration of keeper cycles",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"phase"},
	)

	ResolveAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conviction_resolve_attempts_total",
			Help: "Resolution attempts by result",
		},
		[]string{"result"}, // resolved, pending, dropped, locked
	)

	// API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conviction_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conviction_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Sink health
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conviction_sink_errors_total",
			Help: "Event sink failures",
		},
		[]string{"sink"},
	)
)

// RecordKeeperRun records one keeper cycle.
func RecordKeeperRun(phase string, duration time.Duration, err error) {
	KeeperRuns.WithLabelValues(phase, status(err)).Inc()
	KeeperDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method string, code int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, statusClass(code)).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Sink is an engine event sink that feeds the engine collectors.
type Sink struct{}

// Handle implements domain.EventSink.
func (Sink) Handle(_ context.Context, events []domain.Event) error {
	for _, ev := range events {
		EventsCommitted.WithLabelValues(string(ev.Type)).Inc()
		LastEventSeq.Set(float64(ev.Seq))

		switch ev.Type {
		case domain.EventStakeRecorded:
			StakeVolume.WithLabelValues(ev.Outcome.String()).Add(toFloat(ev.Amount))
			FeesCollected.Add(toFloat(ev.Fee))
		case domain.EventRewardClaimed:
			RewardsPaid.Add(toFloat(ev.Amount))
		}
	}
	return nil
}

func toFloat(v *big.Int) float64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Compile-time interface check.
var _ domain.EventSink = Sink{}
