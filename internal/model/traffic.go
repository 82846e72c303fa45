package model

import "time"

// TrafficSample is one principal's traffic delta as reported by an agent.
type TrafficSample struct {
	Principal string `json:"principal" validate:"required"`
	Upload    int64  `json:"upload" validate:"gte=0"`
	Download  int64  `json:"download" validate:"gte=0"`
	InboundID string `json:"inbound_id,omitempty"`
}

// TimeseriesBucket is a time-aligned up/down total for one entity.
type TimeseriesBucket struct {
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	BucketTime time.Time `json:"bucket_time" db:"bucket_time"`
	Up         int64     `json:"up" db:"up"`
	Down       int64     `json:"down" db:"down"`
}

// TrafficHistory is a cumulative row used by long-range dashboards.
type TrafficHistory struct {
	ID         string    `json:"id" db:"id"`
	EntityType string    `json:"entity_type" db:"entity_type"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	Up         int64     `json:"up" db:"up"`
	Down       int64     `json:"down" db:"down"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// BandwidthStats are average byte rates over the sampling window.
type BandwidthStats struct {
	UpBps   float64 `json:"up_bps"`
	DownBps float64 `json:"down_bps"`
	Samples int     `json:"samples"`
}

// PresenceEntry reports a principal currently connected to a node.
type PresenceEntry struct {
	Principal string `json:"principal" validate:"required"`
	IP        string `json:"ip" validate:"omitempty,ip"`
	DeviceID  string `json:"device_id,omitempty"`
}

// Fingerprint identifies the device behind an entry: the device id when the
// agent supplies one, the source address otherwise.
func (e PresenceEntry) Fingerprint() string {
	if e.DeviceID != "" {
		return e.DeviceID
	}
	return e.IP
}

// OnlinePrincipal is a presence record that is still fresh.
type OnlinePrincipal struct {
	Principal string    `json:"principal"`
	LastSeen  time.Time `json:"last_seen"`
}
