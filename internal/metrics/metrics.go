// Package metrics exposes Prometheus collectors for the scraping pipeline.
// All helper methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors on a dedicated registry.
type Metrics struct {
	Registry        *prometheus.Registry
	JobsTotal       *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	PagesTotal      *prometheus.CounterVec
	ItemsScraped    prometheus.Counter
	DuplicatesTotal prometheus.Counter
	UpsertsTotal    *prometheus.CounterVec
	DetailsTotal    *prometheus.CounterVec
	QueueJobs       *prometheus.GaugeVec
}

// New constructs and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adtrail_jobs_total",
			Help: "Jobs finished per queue and outcome.",
		},
		[]string{"queue", "outcome"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adtrail_job_duration_seconds",
			Help:    "Wall time spent in a stage worker.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"queue"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adtrail_listing_pages_total",
			Help: "Listing pages visited by outcome.",
		},
		[]string{"outcome"},
	)
	items := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adtrail_items_scraped_total",
			Help: "Unique listing items accepted by the crawler.",
		},
	)
	dups := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adtrail_items_duplicate_total",
			Help: "Listing items dropped as duplicates.",
		},
	)
	upserts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adtrail_upserts_total",
			Help: "Product upserts by result.",
		},
		[]string{"result"},
	)
	details := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adtrail_details_total",
			Help: "Detail page updates by outcome.",
		},
		[]string{"outcome"},
	)
	queueJobs := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adtrail_queue_jobs",
			Help: "Jobs currently held by the broker per queue and status.",
		},
		[]string{"queue", "status"},
	)

	registry.MustRegister(jobs, jobDuration, pages, items, dups, upserts, details, queueJobs)

	return &Metrics{
		Registry:        registry,
		JobsTotal:       jobs,
		JobDuration:     jobDuration,
		PagesTotal:      pages,
		ItemsScraped:    items,
		DuplicatesTotal: dups,
		UpsertsTotal:    upserts,
		DetailsTotal:    details,
		QueueJobs:       queueJobs,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// IncJob counts a finished job.
func (m *Metrics) IncJob(queue, outcome string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(queue, outcome).Inc()
}

// ObserveJob records how long a worker ran.
func (m *Metrics) ObserveJob(queue string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// IncPage counts a visited listing page.
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}

// AddItems counts accepted and duplicate listing items.
func (m *Metrics) AddItems(accepted, duplicates int) {
	if m == nil {
		return
	}
	m.ItemsScraped.Add(float64(accepted))
	m.DuplicatesTotal.Add(float64(duplicates))
}

// AddUpserts counts upsert results.
func (m *Metrics) AddUpserts(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.UpsertsTotal.WithLabelValues(result).Add(float64(n))
}

// IncDetail counts a detail update outcome.
func (m *Metrics) IncDetail(outcome string) {
	if m == nil {
		return
	}
	m.DetailsTotal.WithLabelValues(outcome).Inc()
}

// SetQueueJobs records broker occupancy.
func (m *Metrics) SetQueueJobs(queue, status string, n int) {
	if m == nil {
		return
	}
	m.QueueJobs.WithLabelValues(queue, status).Set(float64(n))
}
