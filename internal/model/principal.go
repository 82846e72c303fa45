package model

import "time"

// Principal is an entitled end-user credential authorized to use one or
// more inbounds on a node.
type Principal struct {
	ID            string   `json:"id" db:"id"`
	Identifier    string   `json:"identifier" db:"identifier"`
	UUID          string   `json:"uuid,omitempty" db:"uuid"`
	Password      string   `json:"password,omitempty" db:"password"`
	Flow          string   `json:"flow,omitempty" db:"flow"`
	ExpiresAt     int64    `json:"expires_at" db:"expires_at"` // unix ms, 0 = never
	TotalQuota    int64    `json:"total_quota" db:"total_quota"`
	UsedQuota     int64    `json:"used_quota" db:"used_quota"`
	UploadLimit   int64    `json:"upload_limit" db:"upload_limit"`     // bytes per second
	DownloadLimit int64    `json:"download_limit" db:"download_limit"` // bytes per second
	DeviceLimit   int      `json:"device_limit" db:"device_limit"`
	InboundIDs    []string `json:"inbound_ids" db:"inbound_ids"`
}

// Expired reports whether the principal has a positive expiry in the past.
func (p Principal) Expired(now time.Time) bool {
	return p.ExpiresAt > 0 && p.ExpiresAt < now.UnixMilli()
}

// QuotaExhausted reports whether a positive total quota is fully consumed.
func (p Principal) QuotaExhausted() bool {
	return p.TotalQuota > 0 && p.UsedQuota >= p.TotalQuota
}

// Entitled reports whether the principal may be served right now.
func (p Principal) Entitled(now time.Time) bool {
	return !p.Expired(now) && !p.QuotaExhausted()
}

// HasInbound reports whether the principal is tagged for the inbound.
func (p Principal) HasInbound(inboundID string) bool {
	for _, id := range p.InboundIDs {
		if id == inboundID {
			return true
		}
	}
	return false
}

// RateLimit is a per-principal bandwidth cap in bytes per second.
type RateLimit struct {
	Principal string `json:"principal"`
	Upload    int64  `json:"upload"`
	Download  int64  `json:"download"`
}

// DesiredUser is the principal view sent to agents that hot-reload users.
type DesiredUser struct {
	Identifier string   `json:"identifier"`
	UUID       string   `json:"uuid,omitempty"`
	Password   string   `json:"password,omitempty"`
	Flow       string   `json:"flow,omitempty"`
	InboundIDs []string `json:"inbound_ids"`
}
