// Package metrics provides Prometheus metrics for the API Gateway.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	requestsInFlight    prometheus.Gauge
	responseSize        *prometheus.HistogramVec
	grpcRequestsTotal   *prometheus.CounterVec
	grpcRequestDuration *prometheus.HistogramVec
	grpcErrors          *prometheus.CounterVec
	routeAttempts       *prometheus.CounterVec
	routeFailures       *prometheus.CounterVec
	ringRenewals        *prometheus.CounterVec
	ringNodes           *prometheus.GaugeVec
	healthStatus        prometheus.Gauge
}

// NewMetrics creates Prometheus metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_gateway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"method", "route", "status"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "api_gateway_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		responseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_gateway_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 1000000},
			},
			[]string{"method", "route"},
		),
		grpcRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_gateway_grpc_requests_total",
				Help: "Total number of gRPC requests to coordinators and storage nodes",
			},
			[]string{"method", "status"},
		),
		grpcRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_gateway_grpc_request_duration_seconds",
				Help:    "gRPC request duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"method"},
		),
		grpcErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_gateway_grpc_errors_total",
				Help: "Total number of gRPC errors",
			},
			[]string{"method", "code"},
		),
		routeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_gateway_route_attempts_total",
				Help: "Replica attempts made by the router, by retry offset",
			},
			[]string{"op", "offset"},
		),
		routeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_gateway_route_failures_total",
				Help: "Requests the router gave up on",
			},
			[]string{"op", "reason"},
		),
		ringRenewals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_gateway_ring_renewals_total",
				Help: "Hash space renewals from the coordinators",
			},
			[]string{"trigger", "result"},
		),
		ringNodes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "api_gateway_ring_nodes",
				Help: "Number of nodes on the routing rings",
			},
			[]string{"ring", "state"},
		),
		healthStatus: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "api_gateway_health_status",
				Help: "Health status of the API Gateway (1 = healthy, 0 = unhealthy)",
			},
		),
	}
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// RecordResponseSize records the response size.
func (m *Metrics) RecordResponseSize(method, route string, size int) {
	m.responseSize.WithLabelValues(method, route).Observe(float64(size))
}

// IncRequestsInFlight increments the in-flight requests counter.
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests counter.
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// RecordGRPCRequest records metrics for a gRPC request.
func (m *Metrics) RecordGRPCRequest(method, status string, duration time.Duration) {
	m.grpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.grpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordGRPCError records a gRPC error.
func (m *Metrics) RecordGRPCError(method, code string) {
	m.grpcErrors.WithLabelValues(method, code).Inc()
}

// RecordRouteAttempt counts one replica attempt at the given offset.
func (m *Metrics) RecordRouteAttempt(op string, offset int) {
	m.routeAttempts.WithLabelValues(op, strconv.Itoa(offset)).Inc()
}

// RecordRouteFailure counts a request the router gave up on.
func (m *Metrics) RecordRouteFailure(op, reason string) {
	m.routeFailures.WithLabelValues(op, reason).Inc()
}

// RecordRingRenewal counts a hash space renewal.
func (m *Metrics) RecordRingRenewal(trigger string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ringRenewals.WithLabelValues(trigger, result).Inc()
}

// SetRingNodes publishes the active and faulty node counts of a ring.
func (m *Metrics) SetRingNodes(ring string, active, faulty int) {
	m.ringNodes.WithLabelValues(ring, "active").Set(float64(active))
	m.ringNodes.WithLabelValues(ring, "faulty").Set(float64(faulty))
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server exposing gatherer on path.
func NewMetricsServer(port int, path string, gatherer prometheus.Gatherer, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics server.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// MetricsMiddleware creates middleware that records HTTP metrics. Requests
// are labeled by their route template so key names never become labels.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.IncRequestsInFlight()
			defer m.DecRequestsInFlight()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			m.RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
			m.RecordResponseSize(r.Method, route, rw.size)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// metricsResponseWriter wraps http.ResponseWriter to capture metrics.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}
