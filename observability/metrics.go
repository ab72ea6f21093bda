package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RemoteCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorhub_remote_calls_total",
		Help: "Remote station calls by command and outcome.",
	}, []string{"command", "status"})

	RemoteCallSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sensorhub_remote_call_seconds",
		Help:    "Latency of completed remote station calls.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"command"})

	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorhub_jobs_total",
		Help: "Sensor Control job runs by kind and outcome.",
	}, []string{"kind", "outcome"})

	JobsRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sensorhub_jobs_running",
		Help: "Sensor Control jobs currently running, by kind.",
	}, []string{"kind"})

	ReadingsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorhub_readings_recorded_total",
		Help: "Readings written to the local database, by kind.",
	}, []string{"kind"})

	TelemetryPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorhub_telemetry_publish_total",
		Help: "Telemetry deliveries by sink and outcome.",
	}, []string{"sink", "outcome"})
)

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
