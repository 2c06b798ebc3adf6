package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsStarted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_runs_started_total", Help: "Import runs created"})
	RunsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_runs_failed_total", Help: "Import runs that failed at fetch or parse"})
	RunsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_runs_completed_total", Help: "Import runs fully accounted for"})
	RecordsEnqueued   = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_records_enqueued_total", Help: "Candidate records placed on the queue"})
	RecordsNew        = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_records_new_total", Help: "Records inserted as new jobs"})
	RecordsUpdated    = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_records_updated_total", Help: "Records merged into existing jobs"})
	RecordsInvalid    = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_records_invalid_total", Help: "Records rejected by validation"})
	RecordsRetried    = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_records_retried_total", Help: "Record deliveries scheduled for retry"})
	RecordsDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_records_dead_letter_total", Help: "Records abandoned after exhausting attempts"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "import_queue_depth", Help: "Ready queue depth"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "import_records_inflight", Help: "Records currently leased by workers"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RunsStarted,
			RunsFailed,
			RunsCompleted,
			RecordsEnqueued,
			RecordsNew,
			RecordsUpdated,
			RecordsInvalid,
			RecordsRetried,
			RecordsDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
