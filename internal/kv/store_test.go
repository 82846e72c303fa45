package kv

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("cache slot", func(t *testing.T) {
		_, ok, err := s.Get(ctx, "tok:a")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Set(ctx, "tok:a", "abc", time.Minute))
		v, ok, err := s.Get(ctx, "tok:a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "abc", v)

		require.NoError(t, s.Delete(ctx, "tok:a", "tok:missing"))
		_, ok, err = s.Get(ctx, "tok:a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("counters drain atomically", func(t *testing.T) {
		n, err := s.IncrBy(ctx, TrafficKey("node", "n1", DirUp), 10, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(10), n)

		require.NoError(t, s.IncrMany(ctx, map[string]int64{
			TrafficKey("node", "n1", DirUp):   5,
			TrafficKey("node", "n1", DirDown): 7,
		}, time.Hour))

		keys, err := s.ScanPrefix(ctx, TrafficPrefix("node"))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			TrafficKey("node", "n1", DirUp),
			TrafficKey("node", "n1", DirDown),
		}, keys)

		v, ok, err := s.GetAndDelete(ctx, TrafficKey("node", "n1", DirUp))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(15), ParseInt64(v))

		_, ok, err = s.GetAndDelete(ctx, TrafficKey("node", "n1", DirUp))
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, s.Delete(ctx, TrafficKey("node", "n1", DirDown)))
	})

	t.Run("sorted set window", func(t *testing.T) {
		key := BandwidthKey("node", "n1")
		require.NoError(t, s.ZAdd(ctx, key, "a", 100, time.Hour))
		require.NoError(t, s.ZAdd(ctx, key, "b", 200, time.Hour))
		require.NoError(t, s.ZAdd(ctx, key, "c", 300, time.Hour))

		removed, err := s.ZRemRangeByScore(ctx, key, math.Inf(-1), 150)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		members, err := s.ZRangeByScore(ctx, key, 150, math.Inf(1))
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "b", members[0].Member)
		assert.Equal(t, 300.0, members[1].Score)
		require.NoError(t, s.Delete(ctx, key))
	})

	t.Run("set cardinality", func(t *testing.T) {
		key := DevicesKey("alice")
		card, err := s.SAdd(ctx, key, time.Hour, "d1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), card)
		card, err = s.SAdd(ctx, key, time.Hour, "d1", "d2")
		require.NoError(t, err)
		assert.Equal(t, int64(2), card)

		members, err := s.SMembers(ctx, key)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"d1", "d2"}, members)
		require.NoError(t, s.Delete(ctx, key))
	})

	t.Run("capped list", func(t *testing.T) {
		key := RawReportsKey("n1")
		require.NoError(t, s.RPushCapped(ctx, key, 3, time.Hour, "1", "2"))
		require.NoError(t, s.RPushCapped(ctx, key, 3, time.Hour, "3", "4"))
		values, err := s.LRange(ctx, key, 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "3", "4"}, values)
		require.NoError(t, s.Delete(ctx, key))
	})

	t.Run("pubsub", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch, err := s.Subscribe(subCtx, InvalidateChannel)
		require.NoError(t, err)

		require.NoError(t, s.Publish(ctx, InvalidateChannel, "n1"))
		select {
		case msg := <-ch:
			assert.Equal(t, "n1", msg)
		case <-time.After(2 * time.Second):
			t.Fatal("expected invalidation message")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Second))
	_, err := s.IncrBy(ctx, "c", 1, time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.IncrBy(ctx, "c", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "expired counter starts a fresh lifecycle")
}

func TestMemoryStore_WrongType(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.SAdd(ctx, "k", 0, "x")
	require.NoError(t, err)

	_, _, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestMemoryStore_ConcurrentIncr(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.IncrBy(ctx, "c", 3, time.Minute)
		}()
	}
	wg.Wait()

	v, ok, err := s.GetAndDelete(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(150), ParseInt64(v))
}

func TestParseInt64(t *testing.T) {
	assert.Equal(t, int64(42), ParseInt64("42"))
	assert.Equal(t, int64(42), ParseInt64(" 42\n"))
	assert.Equal(t, int64(0), ParseInt64("NaN"))
	assert.Equal(t, int64(0), ParseInt64(""))
}

func TestParseTrafficKey(t *testing.T) {
	id, dir, ok := ParseTrafficKey("principal", TrafficKey("principal", "user:1", DirDown))
	require.True(t, ok)
	assert.Equal(t, "user:1", id)
	assert.Equal(t, DirDown, dir)

	_, _, ok = ParseTrafficKey("principal", "traffic:principal:u1:sideways")
	assert.False(t, ok)
	_, _, ok = ParseTrafficKey("node", TrafficKey("principal", "u1", DirUp))
	assert.False(t, ok)
}
