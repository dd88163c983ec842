package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_jobs_processed_total",
			Help: "Provisioning jobs handled by workers, by outcome",
		},
		[]string{"outcome"},
	)

	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "provisioning_workers_active",
			Help: "Number of provisioning jobs currently running",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current RabbitMQ queue depth",
		},
		[]string{"queue"},
	)

	ProvisioningDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioning_duration_seconds",
			Help:    "Duration of a single provisioning attempt",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)

	StaleTenants = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provisioning_stale_tenants_total",
			Help: "Tenants marked failed by the stale sweep",
		},
	)

	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_resolutions_total",
			Help: "Host resolutions by result (central, tenant, not_found, inactive, error)",
		},
		[]string{"result"},
	)

	SessionRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_recoveries_total",
			Help: "Sessions flushed because they were bound to another context",
		},
		[]string{"reason"},
	)
)

var once sync.Once

// Init registers metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			JobsProcessed,
			WorkersActive,
			QueueDepth,
			ProvisioningDuration,
			StaleTenants,
			Resolutions,
			SessionRecoveries,
		)
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
