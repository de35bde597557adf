package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsAreIsolatedPerRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordGRPCRequest("Get", "OK", 10*time.Millisecond)
	m.RecordGRPCError("Get", "Unavailable")
	m.RecordRouteAttempt("read", 1)
	m.RecordRouteFailure("write", "exhausted")
	m.RecordRingRenewal("periodic", nil)
	m.RecordRingRenewal("periodic", errors.New("down"))
	m.SetRingNodes("read", 3, 1)
	m.SetHealthStatus(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.grpcRequestsTotal.WithLabelValues("Get", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grpcErrors.WithLabelValues("Get", "Unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routeAttempts.WithLabelValues("read", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routeFailures.WithLabelValues("write", "exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ringRenewals.WithLabelValues("periodic", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ringRenewals.WithLabelValues("periodic", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ringNodes.WithLabelValues("read", "active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ringNodes.WithLabelValues("read", "faulty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.healthStatus))
}

func TestMetricsMiddlewareLabelsByRoute(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	r := mux.NewRouter()
	r.Use(MetricsMiddleware(m))
	r.HandleFunc("/v1/keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello"))
	})

	for _, key := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/keys/"+key, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodGet, "/v1/keys/{key}", "201")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsInFlight))
}
