package model

import (
	"encoding/json"
	"time"
)

type Node struct {
	ID         string          `json:"id" db:"id"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	PoolID     *string         `json:"pool_id,omitempty" db:"pool_id"`
	Name       string          `json:"name" db:"name"`
	Status     string          `json:"status" db:"status"`
	LastSeenAt *time.Time      `json:"last_seen_at,omitempty" db:"last_seen_at"`
	Capacity   NodeCapacity    `json:"capacity" db:"capacity"`
	Runtime    NodeRuntime     `json:"runtime" db:"runtime"`
	SystemInfo json.RawMessage `json:"system_info,omitempty" db:"system_info"`
	EgressIP   *string         `json:"egress_ip,omitempty" db:"egress_ip"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// NodeCapacity is the capability metadata an operator assigns to a node.
// Zero means "not limited".
type NodeCapacity struct {
	MaxInbounds      int     `json:"max_inbounds,omitempty"`
	MaxPrincipals    int     `json:"max_principals,omitempty"`
	MaxConnections   int     `json:"max_connections,omitempty"`
	MaxBandwidthMbps float64 `json:"max_bandwidth_mbps,omitempty"`
}

// SlotLimit returns the configured capacity for a slot category.
func (c NodeCapacity) SlotLimit(category string) int {
	switch category {
	case SlotCategoryInbound:
		return c.MaxInbounds
	case SlotCategoryPrincipal:
		return c.MaxPrincipals
	}
	return 0
}

// NodeRuntime is the last runtime snapshot reported by a node's agent.
// Percentages are in the 0-100 range.
type NodeRuntime struct {
	CPU         float64   `json:"cpu"`
	Memory      float64   `json:"mem"`
	Disk        float64   `json:"disk"`
	Connections int       `json:"connections"`
	Uptime      int64     `json:"uptime,omitempty"`
	ReportedAt  time.Time `json:"reported_at"`
}

// AgentInfo is the system information an agent sends when registering.
type AgentInfo struct {
	Version     string `json:"version"`
	CoreVersion string `json:"core_version,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
	OS          string `json:"os,omitempty"`
	Arch        string `json:"arch,omitempty"`
	CPUCores    int    `json:"cpu_cores,omitempty"`
	MemoryTotal uint64 `json:"memory_total,omitempty"`
}

// PollIntervals is the polling cadence contract returned to agents at
// registration. Values are in seconds.
type PollIntervals struct {
	ConfigPoll    int `json:"config_poll_interval"`
	UsersPoll     int `json:"users_poll_interval"`
	TrafficReport int `json:"traffic_report_interval"`
	StatusReport  int `json:"status_report_interval"`
	AlivePoll     int `json:"alive_poll_interval"`
}

// Registration is the acknowledgement sent back to a registering agent.
type Registration struct {
	NodeID    string        `json:"node_id"`
	Intervals PollIntervals `json:"intervals"`
}
