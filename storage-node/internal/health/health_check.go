package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/pkg/hashring"
	"github.com/devrev/pairdb/storage-node/internal/model"
	"github.com/devrev/pairdb/storage-node/internal/service"
)

// Check statuses
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// RingSource exposes the node's ring snapshots
type RingSource interface {
	Rings() (write, read *hashring.Ring)
}

// ContactSource reports when a coordinator last answered
type ContactSource interface {
	LastContact() time.Time
}

// TableSource exposes memtable statistics
type TableSource interface {
	Stats() service.MemTableStats
}

// HealthChecker performs health checks for the storage node
type HealthChecker struct {
	cfg         HealthCheckConfig
	rings       RingSource
	contact     ContactSource
	table       TableSource
	logger      *zap.Logger
	now         func() time.Time
	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.NodeStatus
	metrics     model.HealthMetrics
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID         string
	Addr           string // address the node is known by in the ring
	Interval       time.Duration
	ContactTimeout time.Duration // coordinator silence tolerated before degrading
	TombstoneLimit int64         // tombstone memory budget
	MemoryLimit    uint64        // heap size that marks the node unready, 0 disables
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(cfg HealthCheckConfig, rings RingSource, contact ContactSource, table TableSource, logger *zap.Logger) *HealthChecker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &HealthChecker{
		cfg:         cfg,
		rings:       rings,
		contact:     contact,
		table:       table,
		logger:      logger,
		now:         time.Now,
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: false,
		status:      model.NodeStatusUnhealthy,
	}
}

// Start runs the checks every interval until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.RunChecks()

	for {
		select {
		case <-ticker.C:
			h.RunChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every check and updates the node status
func (h *HealthChecker) RunChecks() {
	now := h.now()
	stats := h.table.Stats()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	results := []CheckResult{
		h.checkRing(now),
		h.checkCoordinatorContact(now),
		h.checkTombstoneBudget(now, stats),
		h.checkMemory(now, mem.HeapAlloc),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = now
	allHealthy, allReady := true, true
	for _, result := range results {
		h.checks[result.Name] = result
		if result.Status != StatusHealthy {
			allHealthy = false
			if result.Status == StatusCritical {
				allReady = false
			}
		}
	}

	switch {
	case allHealthy:
		h.status = model.NodeStatusHealthy
	case allReady:
		h.status = model.NodeStatusDegraded
	default:
		h.status = model.NodeStatusUnhealthy
	}

	write, _ := h.rings.Rings()
	h.metrics = model.HealthMetrics{
		Entries:        stats.Entries,
		Tombstones:     stats.Tombstones,
		TombstoneBytes: stats.TombstoneBytes,
		HeapBytes:      mem.HeapAlloc,
		RingNodes:      write.Len(),
	}
	h.livenessOK = true
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("readiness", h.readinessOK))
}

// checkRing fails until the node learned a write ring that contains it
func (h *HealthChecker) checkRing(now time.Time) CheckResult {
	write, _ := h.rings.Rings()
	if write.Empty() {
		return CheckResult{Name: "ring_known", Status: StatusCritical, Message: "no hash space received yet", Timestamp: now}
	}
	if _, ok := write.Node(h.cfg.Addr); !ok {
		return CheckResult{
			Name:      "ring_known",
			Status:    StatusWarning,
			Message:   fmt.Sprintf("node not in write ring of %d nodes, waiting for rebalance", write.Len()),
			Timestamp: now,
		}
	}
	return CheckResult{Name: "ring_known", Status: StatusHealthy, Message: fmt.Sprintf("write ring has %d nodes", write.Len()), Timestamp: now}
}

func (h *HealthChecker) checkCoordinatorContact(now time.Time) CheckResult {
	last := h.contact.LastContact()
	switch {
	case last.IsZero():
		return CheckResult{Name: "coordinator_contact", Status: StatusWarning, Message: "no coordinator reached yet", Timestamp: now}
	case h.cfg.ContactTimeout > 0 && now.Sub(last) > h.cfg.ContactTimeout:
		return CheckResult{
			Name:      "coordinator_contact",
			Status:    StatusWarning,
			Message:   fmt.Sprintf("last coordinator contact %s ago", now.Sub(last).Round(time.Second)),
			Timestamp: now,
		}
	}
	return CheckResult{Name: "coordinator_contact", Status: StatusHealthy, Message: "coordinator reachable", Timestamp: now}
}

func (h *HealthChecker) checkTombstoneBudget(now time.Time, stats service.MemTableStats) CheckResult {
	if h.cfg.TombstoneLimit > 0 && stats.TombstoneBytes > h.cfg.TombstoneLimit {
		return CheckResult{
			Name:      "tombstone_budget",
			Status:    StatusWarning,
			Message:   fmt.Sprintf("tombstones use %d bytes, budget %d", stats.TombstoneBytes, h.cfg.TombstoneLimit),
			Timestamp: now,
		}
	}
	return CheckResult{
		Name:      "tombstone_budget",
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("%d tombstones, %d bytes", stats.Tombstones, stats.TombstoneBytes),
		Timestamp: now,
	}
}

func (h *HealthChecker) checkMemory(now time.Time, heap uint64) CheckResult {
	if h.cfg.MemoryLimit > 0 && heap > h.cfg.MemoryLimit {
		return CheckResult{
			Name:      "memory",
			Status:    StatusCritical,
			Message:   fmt.Sprintf("heap %d bytes over limit %d", heap, h.cfg.MemoryLimit),
			Timestamp: now,
		}
	}
	return CheckResult{Name: "memory", Status: StatusHealthy, Message: fmt.Sprintf("heap %d bytes", heap), Timestamp: now}
}

// IsLive returns whether the node is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the node is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return model.HealthStatus{
		NodeID:    h.cfg.NodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Metrics:   h.metrics,
	}
}

// GetChecks returns all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := h.IsLive()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": live,
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":   ready,
		"status":  status.Status,
		"metrics": status.Metrics,
		"checks":  h.GetChecks(),
	})
}

// Handler returns the probe routes
func (h *HealthChecker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", h.LivenessHandler)
	mux.HandleFunc("/health/ready", h.ReadinessHandler)
	return mux
}
