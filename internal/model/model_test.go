package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoolPolicy_Empty(t *testing.T) {
	p, err := ParsePoolPolicy(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Health.Unhealthy())
	assert.Equal(t, 2, p.Health.Healthy())
	assert.Equal(t, 90*time.Second, p.Health.Timeout())
	assert.Equal(t, 90.0, p.Thresholds.CPU())
	assert.Equal(t, SlotCategoryInbound, p.SlotCategory())

	p, err = ParsePoolPolicy([]byte("null"))
	require.NoError(t, err)
	assert.Equal(t, 90.0, p.Thresholds.BandwidthUsage())
}

func TestParsePoolPolicy_IgnoresUnknownKeys(t *testing.T) {
	raw := []byte(`{"thresholds":{"max_cpu":50,"legacy_field":true},"geo_db":"x","health":{"unhealthy_threshold":5}}`)
	p, err := ParsePoolPolicy(raw)
	require.NoError(t, err)
	assert.Equal(t, 50.0, p.Thresholds.CPU())
	assert.Equal(t, 90.0, p.Thresholds.Memory())
	assert.Equal(t, 5, p.Health.Unhealthy())
}

func TestParsePoolPolicy_Invalid(t *testing.T) {
	_, err := ParsePoolPolicy([]byte(`{"thresholds":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode pool policy")
}

func TestLoadWeights_ExplicitZero(t *testing.T) {
	zero := 0.0
	cpu, mem, conn := LoadWeights{Connections: &zero}.Resolved()
	assert.Equal(t, 0.3, cpu)
	assert.Equal(t, 0.3, mem)
	assert.Equal(t, 0.0, conn)
}

func TestWeightedWeights_Defaults(t *testing.T) {
	w := WeightedWeights{}.Resolved()
	assert.InDelta(t, 1.0, w.CPU+w.Memory+w.Connections+w.InboundSlots+w.PrincipalSlots+w.Bandwidth, 1e-9)
}

func TestPrincipal_Entitled(t *testing.T) {
	now := time.Now()

	assert.True(t, Principal{}.Entitled(now))
	assert.False(t, Principal{ExpiresAt: now.Add(-time.Minute).UnixMilli()}.Entitled(now))
	assert.True(t, Principal{ExpiresAt: now.Add(time.Hour).UnixMilli()}.Entitled(now))
	assert.False(t, Principal{TotalQuota: 100, UsedQuota: 100}.Entitled(now))
	assert.True(t, Principal{TotalQuota: 100, UsedQuota: 99}.Entitled(now))
	assert.True(t, Principal{TotalQuota: 0, UsedQuota: 1 << 40}.Entitled(now))
}

func TestNodeCapacity_SlotLimit(t *testing.T) {
	c := NodeCapacity{MaxInbounds: 10, MaxPrincipals: 200}
	assert.Equal(t, 10, c.SlotLimit(SlotCategoryInbound))
	assert.Equal(t, 200, c.SlotLimit(SlotCategoryPrincipal))
	assert.Equal(t, 0, c.SlotLimit("unknown"))
}

func TestPresenceEntry_Fingerprint(t *testing.T) {
	assert.Equal(t, "dev-1", PresenceEntry{IP: "1.2.3.4", DeviceID: "dev-1"}.Fingerprint())
	assert.Equal(t, "1.2.3.4", PresenceEntry{IP: "1.2.3.4"}.Fingerprint())
}
