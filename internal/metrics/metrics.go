package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Metrics for the funding rate collection service
var (
	// HTTP fetch layer metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funding_http_request_duration_seconds",
			Help:    "Time to complete one upstream HTTP request, retries included",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"host"},
	)

	HTTPRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_http_request_errors_total",
			Help: "Total number of upstream requests that failed after all retries",
		},
		[]string{"host"},
	)

	HTTPRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_http_retries_total",
			Help: "Total number of upstream request retries",
		},
		[]string{"host"},
	)

	// Contract registry metrics
	ContractsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "funding_contracts_active",
			Help: "Number of active contracts discovered in the last registration",
		},
		[]string{"exchange"},
	)

	ContractsDeprecated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_contracts_deprecated_total",
			Help: "Total number of contracts marked deprecated",
		},
		[]string{"exchange"},
	)

	// Collection metrics
	PointsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_points_inserted_total",
			Help: "Total number of funding points handed to the database",
		},
		[]string{"exchange", "table"},
	)

	ContractFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_contract_failures_total",
			Help: "Total number of per-contract collection failures",
		},
		[]string{"exchange", "op"},
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funding_cycle_duration_seconds",
			Help:    "Duration of one full per-exchange collection cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"exchange"},
	)

	CycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_cycle_errors_total",
			Help: "Total number of whole-cycle failures",
		},
		[]string{"exchange"},
	)

	LiveCollectDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funding_live_collect_duration_seconds",
			Help:    "Duration of one live-rate collection pass",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"exchange"},
	)

	LiveBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "funding_live_breaker_state",
			Help: "Live-path circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"exchange"},
	)

	// Materialized view metrics
	MVRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "funding_mv_refreshes_total",
			Help: "Total number of contract_enriched refreshes",
		},
	)

	MVRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "funding_mv_refresh_failures_total",
			Help: "Total number of failed contract_enriched refreshes",
		},
	)

	// Redis metrics
	RedisPublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funding_redis_publish_duration_seconds",
			Help:    "Time to publish live rates to Redis",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
		[]string{"channel"},
	)

	RedisPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funding_redis_publish_errors_total",
			Help: "Total number of Redis publish errors",
		},
		[]string{"channel"},
	)
)

// RecordBreakerState records a live-path breaker transition.
func RecordBreakerState(exchange string, state gobreaker.State) {
	LiveBreakerState.WithLabelValues(exchange).Set(float64(state))
}

// Timer is a helper for measuring operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram
func (t *Timer) ObserveDuration(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Server starts the Prometheus metrics HTTP server
type Server struct {
	addr   string
	server *http.Server
}

// NewServer creates a new metrics server
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the metrics server
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("Starting metrics server")
	return s.server.ListenAndServe()
}

// Stop stops the metrics server gracefully
func (s *Server) Stop() error {
	return s.server.Close()
}
