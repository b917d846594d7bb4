package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	storeDuration    *prometheus.HistogramVec
	storeCorruptions *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec

	searchDuration  prometheus.Histogram
	searchErrors    prometheus.Counter
	assemblyTotal   *prometheus.CounterVec
	acceptedChunks  prometheus.Histogram
	imageMatches    prometheus.Histogram
	indexInitTotal  *prometheus.CounterVec
	indexedChunks   prometheus.Gauge
	catalogImages   prometheus.Gauge
	generationTotal *prometheus.CounterVec
	generationTime  prometheus.Histogram

	sweepTotal    *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepDeleted  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			storeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "endochat_store_duration_seconds",
					Help:    "Record store operation duration in seconds by record kind and operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"record", "op"},
			),
			storeCorruptions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "endochat_store_corruptions_total",
					Help: "Record files that could not be decoded, by record kind.",
				},
				[]string{"record"},
			),
			storeErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "endochat_store_errors_total",
					Help: "Record store I/O failures by record kind and operation.",
				},
				[]string{"record", "op"},
			),
			searchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "endochat_search_duration_seconds",
					Help:    "Similarity search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			searchErrors: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "endochat_search_errors_total",
					Help: "Similarity searches that failed.",
				},
			),
			assemblyTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "endochat_prompt_assembly_total",
					Help: "Prompt assemblies by outcome (grounded, general, greeting, fallback).",
				},
				[]string{"outcome"},
			),
			acceptedChunks: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "endochat_accepted_chunks",
					Help:    "Chunks passing the distance gate per request.",
					Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
				},
			),
			imageMatches: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "endochat_image_matches",
					Help:    "Relevant images per request.",
					Buckets: []float64{0, 1, 2, 3, 5, 10},
				},
			),
			indexInitTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "endochat_index_init_total",
					Help: "Search index initializations by status.",
				},
				[]string{"status"},
			),
			indexedChunks: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "endochat_indexed_chunks",
					Help: "Chunks written by the last indexing run.",
				},
			),
			catalogImages: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "endochat_catalog_images",
					Help: "Images currently loaded in the image catalog.",
				},
			),
			generationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "endochat_generation_total",
					Help: "Language model calls by status.",
				},
				[]string{"status"},
			),
			generationTime: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "endochat_generation_duration_seconds",
					Help:    "Language model call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sweepTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "endochat_retention_sweeps_total",
					Help: "Retention sweeps by status.",
				},
				[]string{"status"},
			),
			sweepDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "endochat_retention_sweep_duration_seconds",
					Help:    "Retention sweep duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sweepDeleted: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "endochat_retention_deleted_total",
					Help: "Record files deleted by the retention sweeper, by record kind and reason.",
				},
				[]string{"record", "reason"},
			),
		}
		prometheus.MustRegister(
			m.storeDuration,
			m.storeCorruptions,
			m.storeErrors,
			m.searchDuration,
			m.searchErrors,
			m.assemblyTotal,
			m.acceptedChunks,
			m.imageMatches,
			m.indexInitTotal,
			m.indexedChunks,
			m.catalogImages,
			m.generationTotal,
			m.generationTime,
			m.sweepTotal,
			m.sweepDuration,
			m.sweepDeleted,
		)
		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordStoreOp(record, op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.storeDuration.WithLabelValues(record, op).Observe(duration.Seconds())
	if !success {
		m.storeErrors.WithLabelValues(record, op).Inc()
	}
}

func RecordStoreCorruption(record string) {
	getMetrics().storeCorruptions.WithLabelValues(record).Inc()
}

func RecordSearch(duration time.Duration, success bool) {
	m := getMetrics()
	m.searchDuration.Observe(duration.Seconds())
	if !success {
		m.searchErrors.Inc()
	}
}

// RecordAssembly counts one prompt assembly and the evidence it used.
func RecordAssembly(outcome string, accepted, images int) {
	m := getMetrics()
	m.assemblyTotal.WithLabelValues(outcome).Inc()
	m.acceptedChunks.Observe(float64(accepted))
	m.imageMatches.Observe(float64(images))
}

func RecordIndexInit(success bool) {
	getMetrics().indexInitTotal.WithLabelValues(statusLabel(success)).Inc()
}

func SetIndexedChunks(n int) {
	getMetrics().indexedChunks.Set(float64(n))
}

func SetCatalogImages(n int) {
	getMetrics().catalogImages.Set(float64(n))
}

func RecordGeneration(duration time.Duration, success bool) {
	m := getMetrics()
	m.generationTotal.WithLabelValues(statusLabel(success)).Inc()
	m.generationTime.Observe(duration.Seconds())
}

func RecordSweep(duration time.Duration, success bool) {
	m := getMetrics()
	m.sweepTotal.WithLabelValues(statusLabel(success)).Inc()
	m.sweepDuration.Observe(duration.Seconds())
}

func RecordSweepDeletion(record, reason string) {
	getMetrics().sweepDeleted.WithLabelValues(record, reason).Inc()
}
