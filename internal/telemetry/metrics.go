package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "content_jobs_enqueued_total", Help: "Jobs inserted by the API"}, []string{"job_type"})
	JobsClaimed      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "content_jobs_claimed_total", Help: "Jobs claimed by a dispatcher"}, []string{"job_type"})
	JobsCompleted    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "content_jobs_completed_total", Help: "Jobs finalized as COMPLETED"}, []string{"job_type"})
	JobsFailed       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "content_jobs_failed_total", Help: "Jobs finalized as FAILED"}, []string{"job_type"})
	ClaimConflicts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_job_claim_conflicts_total", Help: "Claims lost to another dispatcher"})
	PollErrors       = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_poll_errors_total", Help: "Failed poll queries"})
	Selections       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "content_product_selections_total", Help: "Product selections by decision"}, []string{"decision"})
	PostsPublished   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "content_posts_published_total", Help: "Successful channel publishes"}, []string{"channel"})
	FeedbackResults  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "content_feedback_posts_total", Help: "Per-post feedback outcomes"}, []string{"result"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "content_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "content_jobs_inflight", Help: "Jobs currently being handled by this process"})
)

// Register adds all collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsClaimed,
			JobsCompleted,
			JobsFailed,
			ClaimConflicts,
			PollErrors,
			Selections,
			PostsPublished,
			FeedbackResults,
			RateLimitRejects,
			InFlightGauge,
		)
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
