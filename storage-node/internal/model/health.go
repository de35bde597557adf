package model

// HealthStatus represents the health state of a storage node
type HealthStatus struct {
	NodeID    string        `json:"node_id"`
	Status    NodeStatus    `json:"status"`
	Timestamp int64         `json:"timestamp"`
	Metrics   HealthMetrics `json:"metrics"`
}

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// HealthMetrics contains the figures the last health check saw
type HealthMetrics struct {
	Entries        int    `json:"entries"`
	Tombstones     int    `json:"tombstones"`
	TombstoneBytes int64  `json:"tombstone_bytes"`
	HeapBytes      uint64 `json:"heap_bytes"`
	RingNodes      int    `json:"ring_nodes"`
}
