// Package health provides health check endpoints for the API Gateway.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RingSource reports whether routing information is available.
type RingSource interface {
	Ready() bool
}

// CoordinatorChecker probes the coordinators.
type CoordinatorChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck manages health check functionality.
type HealthCheck struct {
	ring          RingSource
	coordinator   CoordinatorChecker
	logger        *zap.Logger
	mu            sync.RWMutex
	coordinatorOK bool
	lastErr       string
	lastCheck     time.Time
	checkInterval time.Duration
	checkTimeout  time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewHealthCheck creates a new HealthCheck instance.
func NewHealthCheck(ring RingSource, coordinator CoordinatorChecker, checkInterval time.Duration, logger *zap.Logger) *HealthCheck {
	if checkInterval <= 0 {
		checkInterval = 5 * time.Second
	}
	return &HealthCheck{
		ring:          ring,
		coordinator:   coordinator,
		logger:        logger,
		checkInterval: checkInterval,
		checkTimeout:  5 * time.Second,
		stop:          make(chan struct{}),
	}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests.
// Returns 200 OK once a hash space is known. A coordinator outage is reported
// but does not fail readiness; routing continues on the last known rings.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hc.mu.RLock()
	coordinatorOK, lastErr := hc.coordinatorOK, hc.lastErr
	hc.mu.RUnlock()

	checks := map[string]string{
		"hash_space":  "unknown",
		"coordinator": "unhealthy",
	}
	if coordinatorOK {
		checks["coordinator"] = "healthy"
	}

	if !hc.ring.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
			Status: "not_ready",
			Checks: checks,
			Error:  lastErr,
		})
		return
	}

	checks["hash_space"] = "known"
	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: checks, Error: lastErr})
}

// Start runs a first check and then checks periodically.
func (hc *HealthCheck) Start() {
	hc.Check()

	hc.wg.Add(1)
	go hc.backgroundCheck()
}

// Stop ends the background checks.
func (hc *HealthCheck) Stop() {
	hc.stopOnce.Do(func() { close(hc.stop) })
	hc.wg.Wait()
}

// backgroundCheck performs periodic health checks.
func (hc *HealthCheck) backgroundCheck() {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.stop:
			return
		case <-ticker.C:
			hc.Check()
		}
	}
}

// Check probes the coordinators once and records the outcome.
func (hc *HealthCheck) Check() {
	ctx, cancel := context.WithTimeout(context.Background(), hc.checkTimeout)
	err := hc.coordinator.HealthCheck(ctx)
	cancel()

	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastCheck = time.Now()
	if err != nil {
		hc.coordinatorOK = false
		hc.lastErr = err.Error()
		hc.logger.Warn("health check failed", zap.Error(err))
		return
	}
	hc.coordinatorOK = true
	hc.lastErr = ""
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	return hc.ring.Ready()
}

// CoordinatorHealthy reports the outcome of the last coordinator probe.
func (hc *HealthCheck) CoordinatorHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.coordinatorOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
