// Package kv is the shared key-value layer every fleet component talks to:
// TTL'd cache slots for change tokens, atomic traffic counters, sorted-set
// sliding windows, set-based device presence, capped lists and pub/sub.
//
// Only the store's native atomic primitives are used for coordination.
// Nothing in this package takes an application-level lock that spans I/O.
package kv

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrWrongType is returned when a key holds a value of another kind.
var ErrWrongType = errors.New("kv: operation against a key holding the wrong kind of value")

// ScoredMember is one sorted-set entry.
type ScoredMember struct {
	Member string
	Score  float64
}

// Cache is a TTL'd scalar slot store.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Counters are atomic integer counters. GetAndDelete reads and clears in a
// single atomic step so a drain never double counts.
type Counters interface {
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	IncrMany(ctx context.Context, deltas map[string]int64, ttl time.Duration) error
	GetAndDelete(ctx context.Context, key string) (string, bool, error)
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
}

// SortedSets back sliding windows and last-seen presence.
type SortedSets interface {
	ZAdd(ctx context.Context, key, member string, score float64, ttl time.Duration) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ScoredMember, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
}

// Sets back device fingerprints. SAdd returns the cardinality after the add.
type Sets interface {
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Lists back the raw report buffer. RPushCapped keeps only the newest max
// entries.
type Lists interface {
	RPushCapped(ctx context.Context, key string, max int64, ttl time.Duration, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
}

// PubSub carries invalidation signals between replicas. The returned
// channel is closed when ctx is done.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
}

// Store is the full surface used by the fleet components.
type Store interface {
	Cache
	Counters
	SortedSets
	Sets
	Lists
	PubSub
	Ping(ctx context.Context) error
}

// ParseInt64 converts a stored counter value. Malformed values count as zero.
func ParseInt64(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
