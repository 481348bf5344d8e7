package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Completion metrics
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_request_duration_seconds",
		Help:    "Duration of chat completion requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_requests_total",
		Help: "Total number of chat completion requests",
	}, []string{"model", "status"})

	streamFragments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_stream_fragments_total",
		Help: "Total number of streamed response fragments received",
	})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_cache_hits_total",
		Help: "Total number of response cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_cache_misses_total",
		Help: "Total number of response cache misses",
	})

	// Batch metrics
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_batch_size",
		Help:    "Number of messages drained per batch",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_queue_depth",
		Help: "Number of pending queued requests",
	})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_storage_operations_total",
		Help: "Total number of history storage operations",
	}, []string{"operation", "status"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRequest records a completion request
func (m *Metrics) RecordRequest(model, status string, duration time.Duration) {
	requestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	requestsTotal.WithLabelValues(model, status).Inc()
}

// RecordStreamFragment records one received stream fragment
func (m *Metrics) RecordStreamFragment() {
	streamFragments.Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordBatchSize records the size of a drained batch
func (m *Metrics) RecordBatchSize(size int) {
	batchSize.Observe(float64(size))
}

// SetQueueDepth sets the pending queue depth gauge
func (m *Metrics) SetQueueDepth(depth float64) {
	queueDepth.Set(depth)
}

// RecordStorageOperation records a history storage operation
func (m *Metrics) RecordStorageOperation(operation, status string) {
	storageOperations.WithLabelValues(operation, status).Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
