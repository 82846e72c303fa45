package request

import (
	"time"

	"github.com/edvin/relayfleet/internal/model"
)

type RegisterNode struct {
	Version     string `json:"version" validate:"required"`
	CoreVersion string `json:"core_version"`
	Hostname    string `json:"hostname"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	CPUCores    int    `json:"cpu_cores" validate:"gte=0"`
	MemoryTotal uint64 `json:"memory_total"`
}

func (r RegisterNode) AgentInfo() model.AgentInfo {
	return model.AgentInfo{
		Version:     r.Version,
		CoreVersion: r.CoreVersion,
		Hostname:    r.Hostname,
		OS:          r.OS,
		Arch:        r.Arch,
		CPUCores:    r.CPUCores,
		MemoryTotal: r.MemoryTotal,
	}
}

type ReportTraffic struct {
	Samples []model.TrafficSample `json:"samples" validate:"dive"`
}

type ReportStatus struct {
	CPU         float64   `json:"cpu" validate:"gte=0,lte=100"`
	Memory      float64   `json:"mem" validate:"gte=0,lte=100"`
	Disk        float64   `json:"disk" validate:"gte=0,lte=100"`
	Connections int       `json:"connections" validate:"gte=0"`
	Uptime      int64     `json:"uptime" validate:"gte=0"`
	ReportedAt  time.Time `json:"reported_at"`
}

func (r ReportStatus) Runtime() model.NodeRuntime {
	return model.NodeRuntime{
		CPU:         r.CPU,
		Memory:      r.Memory,
		Disk:        r.Disk,
		Connections: r.Connections,
		Uptime:      r.Uptime,
		ReportedAt:  r.ReportedAt,
	}
}

type ReportPresence struct {
	Entries []model.PresenceEntry `json:"entries" validate:"dive"`
}

type ReportEgressIP struct {
	IP string `json:"ip" validate:"required,ip"`
}

type SelectNode struct {
	ExcludeNodeIDs []string `json:"exclude_node_ids"`
	SlotCategory   string   `json:"slot_category" validate:"omitempty,oneof=inbound principal"`
	ClientIP       string   `json:"client_ip" validate:"omitempty,ip"`
}
