package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/pairdb/coordinator/internal/service"
	"github.com/devrev/pairdb/coordinator/internal/store"
	"go.uber.org/zap"
)

// StatusSource reports the replace manager state
type StatusSource interface {
	Status() service.Status
}

// HealthChecker provides health check endpoints
type HealthChecker struct {
	seeds   store.SeedStore
	manager StatusSource
	logger  *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(seeds store.SeedStore, manager StatusSource, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		seeds:   seeds,
		manager: manager,
		logger:  logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	})
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.seeds.Ping(ctx); err != nil {
		h.logger.Error("Seed store health check failed", zap.Error(err))
		checks["seed_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["seed_store"] = "healthy"
	}

	st := h.manager.Status()
	checks["phase"] = st.Phase.String()
	checks["write_ring"] = fmt.Sprintf("%d nodes", len(st.Write.Nodes))

	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}
	code := http.StatusOK
	if !allHealthy {
		status.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
