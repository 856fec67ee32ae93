package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/earthrise-media/forestloss/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	registerOnce sync.Once

	// Registry holds only this service's collectors so a push carries the
	// batch results and nothing else.
	Registry = prometheus.NewRegistry()

	regionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "forestloss",
			Subsystem: "pipeline",
			Name:      "regions_total",
			Help:      "Regions handled by a pipeline stage, by outcome.",
		},
		[]string{"stage", "outcome"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "forestloss",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of a pipeline stage.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"stage"},
	)
	lastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "forestloss",
			Subsystem: "pipeline",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time a stage last finished without failed regions.",
		},
		[]string{"stage"},
	)
	lossRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forestloss",
			Subsystem: "aggregate",
			Name:      "records_upserted_total",
			Help:      "Loss records written to the statistics store.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		Registry.MustRegister(regionOutcomes, stageDuration, lastSuccess, lossRecords)
	})
}

// RegisterRuntime adds process and Go runtime collectors for long-running servers.
func RegisterRuntime() {
	RegisterMetrics()
	Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func RecordSummary(s model.Summary, d time.Duration) {
	RegisterMetrics()
	regionOutcomes.WithLabelValues(s.Stage, "processed").Add(float64(len(s.Processed)))
	regionOutcomes.WithLabelValues(s.Stage, "skipped").Add(float64(len(s.Skipped)))
	regionOutcomes.WithLabelValues(s.Stage, "failed").Add(float64(len(s.Failed)))
	stageDuration.WithLabelValues(s.Stage).Observe(d.Seconds())
	if len(s.Failed) == 0 {
		lastSuccess.WithLabelValues(s.Stage).SetToCurrentTime()
	}
}

func RecordUpserted(n int) {
	RegisterMetrics()
	lossRecords.Add(float64(n))
}

// Push sends the batch metrics to a Pushgateway.
func Push(url, job string) error {
	RegisterMetrics()
	return push.New(url, job).Gatherer(Registry).Push()
}

func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
