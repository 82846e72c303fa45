package kv

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memKind int

const (
	kindString memKind = iota
	kindZSet
	kindSet
	kindList
)

type memEntry struct {
	kind      memKind
	str       string
	zset      map[string]float64
	set       map[string]struct{}
	list      []string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-instance deployments and
// tests. Every operation holds the mutex only for in-memory work.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]*memEntry
	subscribers map[string][]chan string
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:     make(map[string]*memEntry),
		subscribers: make(map[string][]chan string),
		now:         time.Now,
	}
}

// SetClock replaces the clock used for TTL expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(key, kindString)
	if err != nil || e == nil {
		return "", false, err
	}
	return e.str, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &memEntry{kind: kindString, str: value}
	m.expire(e, ttl)
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *MemoryStore) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incr(key, delta, ttl)
}

func (m *MemoryStore) IncrMany(_ context.Context, deltas map[string]int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, delta := range deltas {
		if _, err := m.incr(key, delta, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) incr(key string, delta int64, ttl time.Duration) (int64, error) {
	e, err := m.lookup(key, kindString)
	if err != nil {
		return 0, err
	}
	if e == nil {
		e = &memEntry{kind: kindString, str: "0"}
		m.entries[key] = e
	}
	cur, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, ErrWrongType
	}
	cur += delta
	e.str = strconv.FormatInt(cur, 10)
	m.expire(e, ttl)
	return cur, nil
}

func (m *MemoryStore) GetAndDelete(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(key, kindString)
	if err != nil || e == nil {
		return "", false, err
	}
	delete(m.entries, key)
	return e.str, true, nil
}

func (m *MemoryStore) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var keys []string
	for key, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key, member string, score float64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(key, kindZSet)
	if err != nil {
		return err
	}
	if e == nil {
		e = &memEntry{kind: kindZSet, zset: make(map[string]float64)}
		m.entries[key] = e
	}
	e.zset[member] = score
	m.expire(e, ttl)
	return nil
}

func (m *MemoryStore) ZRangeByScore(_ context.Context, key string, min, max float64) ([]ScoredMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(key, kindZSet)
	if err != nil || e == nil {
		return nil, err
	}
	var out []ScoredMember
	for member, score := range e.zset {
		if score >= min && score <= max {
			out = append(out, ScoredMember{Member: member, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Member < out[j].Member
		}
		return out[i].Score < out[j].Score
	})
	return out, nil
}

func (m *MemoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(key, kindZSet)
	if err != nil || e == nil {
		return 0, err
	}
	var removed int64
	for member, score := range e.zset {
		if score >= min && score <= max {
			delete(e.zset, member)
			removed++
		}
	}
	if len(e.zset) == 0 {
		delete(m.entries, key)
	}
	return removed, nil
}

func (m *MemoryStore) SAdd(_ context.Context, key string, ttl time.Duration, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(key, kindSet)
	if err != nil {
		return 0, err
	}
	if e == nil {
		if len(members) == 0 {
			return 0, nil
		}
		e = &memEntry{kind: kindSet, set: make(map[string]struct{})}
		m.entries[key] = e
	}
	for _, member := range members {
		e.set[member] = struct{}{}
	}
	m.expire(e, ttl)
	return int64(len(e.set)), nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(key, kindSet)
	if err != nil || e == nil {
		return nil, err
	}
	out := make([]string, 0, len(e.set))
	for member := range e.set {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) RPushCapped(_ context.Context, key string, max int64, ttl time.Duration, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(key, kindList)
	if err != nil {
		return err
	}
	if e == nil {
		e = &memEntry{kind: kindList}
		m.entries[key] = e
	}
	e.list = append(e.list, values...)
	if max > 0 && int64(len(e.list)) > max {
		e.list = append([]string(nil), e.list[int64(len(e.list))-max:]...)
	}
	m.expire(e, ttl)
	return nil
}

func (m *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(key, kindList)
	if err != nil || e == nil {
		return nil, err
	}
	n := int64(len(e.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	return append([]string(nil), e.list[start:stop+1]...), nil
}

func (m *MemoryStore) Publish(_ context.Context, channel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subscribers[channel] {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	ch := make(chan string, 64)
	m.mu.Lock()
	m.subscribers[channel] = append(m.subscribers[channel], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		subs := m.subscribers[channel]
		for i, c := range subs {
			if c == ch {
				m.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// lookup returns the live entry for key, nil when absent or expired.
func (m *MemoryStore) lookup(key string, kind memKind) (*memEntry, error) {
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if m.expired(e, m.now()) {
		delete(m.entries, key)
		return nil, nil
	}
	if e.kind != kind {
		return nil, ErrWrongType
	}
	return e, nil
}

func (m *MemoryStore) expired(e *memEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (m *MemoryStore) expire(e *memEntry, ttl time.Duration) {
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
}
