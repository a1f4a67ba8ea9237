package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	variantsTotal        *prometheus.CounterVec
	variantsSkippedTotal prometheus.Counter
	compressionRatio     prometheus.Histogram
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	bytesGrownTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelprep_worker_jobs_total",
			Help: "Total responsive-set jobs by source type and final status.",
		}, []string{"source_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelprep_worker_job_duration_seconds",
			Help:    "Total processing duration for each responsive-set job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelprep_worker_active_jobs",
			Help: "Current number of active jobs in the worker.",
		}),
		variantsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelprep_worker_variants_total",
			Help: "Variants emitted by output format.",
		}, []string{"format"}),
		variantsSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelprep_worker_variants_skipped_total",
			Help: "Responsive targets that failed and were left out of their set.",
		}),
		compressionRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelprep_worker_compression_ratio_percent",
			Help:    "Per-variant compression ratio; negative when the variant is larger than its source.",
			Buckets: []float64{-50, -10, 0, 25, 50, 75, 90, 95, 99},
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelprep_usage_pixels_processed_total",
			Help: "Total output pixels across all successful jobs.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelprep_usage_bytes_saved_total",
			Help: "Total bytes saved by jobs whose outputs were smaller than their source.",
		}),
		bytesGrownTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelprep_usage_bytes_grown_total",
			Help: "Total bytes added by jobs whose outputs outweighed their source.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelprep_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.variantsTotal,
		m.variantsSkippedTotal,
		m.compressionRatio,
		m.pixelsProcessedTotal,
		m.bytesSavedTotal,
		m.bytesGrownTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
