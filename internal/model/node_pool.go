package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type NodePool struct {
	ID        string     `json:"id" db:"id"`
	TenantID  string     `json:"tenant_id" db:"tenant_id"`
	Name      string     `json:"name" db:"name"`
	Strategy  string     `json:"strategy" db:"strategy"`
	Policy    PoolPolicy `json:"policy" db:"settings"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// PoolPolicy is the policy-settings blob stored with a pool. Unknown keys
// are ignored on decode; zero values fall back to the defaults below.
type PoolPolicy struct {
	Health              HealthPolicy    `json:"health"`
	Thresholds          Thresholds      `json:"thresholds"`
	LoadWeights         LoadWeights     `json:"load_weights"`
	Weights             WeightedWeights `json:"weights"`
	DefaultSlotCategory string          `json:"default_slot_category,omitempty"`
}

// HealthPolicy drives the health monitor's hysteresis. Resource ceilings
// are percentages; zero disables the check.
type HealthPolicy struct {
	TimeoutSeconds     int     `json:"timeout_seconds,omitempty"`
	UnhealthyThreshold int     `json:"unhealthy_threshold,omitempty"`
	HealthyThreshold   int     `json:"healthy_threshold,omitempty"`
	MaxCPU             float64 `json:"max_cpu,omitempty"`
	MaxMemory          float64 `json:"max_memory,omitempty"`
	MaxSlotUsage       float64 `json:"max_slot_usage,omitempty"`
}

// Thresholds are the selector's hard filters, as percentages.
type Thresholds struct {
	MaxCPU            float64 `json:"max_cpu,omitempty"`
	MaxMemory         float64 `json:"max_memory,omitempty"`
	MaxSlotUsage      float64 `json:"max_slot_usage,omitempty"`
	MaxBandwidthUsage float64 `json:"max_bandwidth_usage,omitempty"`
}

// LoadWeights configure the least_load score.
type LoadWeights struct {
	CPU         *float64 `json:"cpu,omitempty"`
	Memory      *float64 `json:"mem,omitempty"`
	Connections *float64 `json:"connections,omitempty"`
}

// WeightedWeights configure the six-factor weighted score.
type WeightedWeights struct {
	CPU            *float64 `json:"cpu,omitempty"`
	Memory         *float64 `json:"mem,omitempty"`
	Connections    *float64 `json:"connections,omitempty"`
	InboundSlots   *float64 `json:"inbound_slots,omitempty"`
	PrincipalSlots *float64 `json:"principal_slots,omitempty"`
	Bandwidth      *float64 `json:"bandwidth,omitempty"`
}

const (
	DefaultNodeTimeoutSeconds = 90
	DefaultUnhealthyThreshold = 3
	DefaultHealthyThreshold   = 2
	DefaultMaxThreshold       = 90.0
)

// ParsePoolPolicy decodes a settings blob. Empty or null input yields the
// zero policy, which resolves to defaults.
func ParsePoolPolicy(raw []byte) (PoolPolicy, error) {
	var p PoolPolicy
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return PoolPolicy{}, fmt.Errorf("decode pool policy: %w", err)
	}
	return p, nil
}

func (h HealthPolicy) Timeout() time.Duration {
	if h.TimeoutSeconds <= 0 {
		return DefaultNodeTimeoutSeconds * time.Second
	}
	return time.Duration(h.TimeoutSeconds) * time.Second
}

func (h HealthPolicy) Unhealthy() int {
	if h.UnhealthyThreshold <= 0 {
		return DefaultUnhealthyThreshold
	}
	return h.UnhealthyThreshold
}

func (h HealthPolicy) Healthy() int {
	if h.HealthyThreshold <= 0 {
		return DefaultHealthyThreshold
	}
	return h.HealthyThreshold
}

func (t Thresholds) CPU() float64 { return orDefault(t.MaxCPU, DefaultMaxThreshold) }

func (t Thresholds) Memory() float64 { return orDefault(t.MaxMemory, DefaultMaxThreshold) }

func (t Thresholds) SlotUsage() float64 { return orDefault(t.MaxSlotUsage, DefaultMaxThreshold) }

func (t Thresholds) BandwidthUsage() float64 {
	return orDefault(t.MaxBandwidthUsage, DefaultMaxThreshold)
}

// Resolved returns the least_load weights with defaults 0.3/0.3/0.4.
func (w LoadWeights) Resolved() (cpu, mem, conn float64) {
	return weight(w.CPU, 0.3), weight(w.Memory, 0.3), weight(w.Connections, 0.4)
}

// ResolvedWeights is WeightedWeights with every default applied.
type ResolvedWeights struct {
	CPU, Memory, Connections, InboundSlots, PrincipalSlots, Bandwidth float64
}

func (w WeightedWeights) Resolved() ResolvedWeights {
	return ResolvedWeights{
		CPU:            weight(w.CPU, 0.2),
		Memory:         weight(w.Memory, 0.2),
		Connections:    weight(w.Connections, 0.15),
		InboundSlots:   weight(w.InboundSlots, 0.15),
		PrincipalSlots: weight(w.PrincipalSlots, 0.15),
		Bandwidth:      weight(w.Bandwidth, 0.15),
	}
}

// SlotCategory returns the pool's default slot category.
func (p PoolPolicy) SlotCategory() string {
	if p.DefaultSlotCategory == "" {
		return SlotCategoryInbound
	}
	return p.DefaultSlotCategory
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func weight(v *float64, def float64) float64 {
	if v == nil || *v < 0 {
		return def
	}
	return *v
}
