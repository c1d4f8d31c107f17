package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "replay_jobs_submitted_total", Help: "Replay jobs accepted"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "replay_jobs_completed_total", Help: "Replay jobs that reached done"})
	JobsErrored      = prometheus.NewCounter(prometheus.CounterOpts{Name: "replay_jobs_errored_total", Help: "Replay jobs that halted with an error"})
	JobsRunning      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "replay_jobs_running", Help: "Replay jobs between start and a terminal state"})
	ItemsAcked       = prometheus.NewCounter(prometheus.CounterOpts{Name: "replay_items_acked_total", Help: "Messages acknowledged by the broker"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "replay_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	StreamsSaved     = prometheus.NewCounter(prometheus.CounterOpts{Name: "replay_streams_saved_total", Help: "Stream definitions written to the store"})
	SendDuration     = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "replay_send_duration_seconds",
		Help:    "Time from produce to delivery report",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsErrored,
			JobsRunning,
			ItemsAcked,
			RateLimitRejects,
			StreamsSaved,
			SendDuration,
		)
	})
	return promhttp.Handler()
}
