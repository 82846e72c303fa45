package kv

import "strings"

// Directions of a traffic counter.
const (
	DirUp   = "up"
	DirDown = "down"
)

// InvalidateChannel carries node ids whose cached state was invalidated.
const InvalidateChannel = "fleet:invalidate"

func TokenKey(nodeID, resource string) string {
	return "sync:token:" + nodeID + ":" + resource
}

func RuntimeKey(nodeID string) string {
	return "node:runtime:" + nodeID
}

// TrafficPrefix is the scan prefix for one counter family.
func TrafficPrefix(entity string) string {
	return "traffic:" + entity + ":"
}

func TrafficKey(entity, id, dir string) string {
	return TrafficPrefix(entity) + id + ":" + dir
}

// ParseTrafficKey splits a counter key produced by TrafficKey. The entity
// id may itself contain colons; the direction is always the last segment.
func ParseTrafficKey(entity, key string) (id, dir string, ok bool) {
	rest, found := strings.CutPrefix(key, TrafficPrefix(entity))
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", "", false
	}
	id, dir = rest[:i], rest[i+1:]
	if dir != DirUp && dir != DirDown {
		return "", "", false
	}
	return id, dir, true
}

func RawReportsKey(nodeID string) string {
	return "traffic-raw:" + nodeID
}

func BandwidthKey(entity, id string) string {
	return "bw:" + entity + ":" + id
}

func PresenceKey(nodeID string) string {
	return "presence:" + nodeID
}

func DevicesKey(principal string) string {
	return "devices:" + principal
}

func UnhealthyStrikeKey(nodeID string) string {
	return "health:unhealthy:" + nodeID
}

func RecoveryStrikeKey(nodeID string) string {
	return "health:recovery:" + nodeID
}

func RoundRobinKey(poolID string) string {
	return "lb:rr:" + poolID
}
