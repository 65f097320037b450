package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	JobsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "docsync_jobs_dispatched_total", Help: "Jobs handed to an executor"},
		[]string{"kind"},
	)
	JobOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "docsync_job_outcomes_total", Help: "Job settlement outcomes"},
		[]string{"kind", "outcome"},
	)
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "docsync_job_duration_seconds", Help: "Executor run time"},
	)
	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "docsync_jobs_in_flight", Help: "Jobs currently running"},
	)
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "docsync_webhook_deliveries_total", Help: "Inbound webhook deliveries"},
		[]string{"provider", "result"},
	)
	MediaFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "docsync_media_fetches_total", Help: "Attachment fetch outcomes"},
		[]string{"provider", "result"},
	)
	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "docsync_documents_ingested_total", Help: "Documents created from provider media"},
		[]string{"provider"},
	)
	OAuthRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "docsync_oauth_refresh_total", Help: "Token refresh outcomes"},
		[]string{"provider", "result"},
	)
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "docsync_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		JobsDispatched, JobOutcomes, JobDuration, JobsInFlight,
		WebhookDeliveries, MediaFetches, DocumentsIngested,
		OAuthRefreshes, APIRequests,
	)
}
