package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RejectsNonPositiveInterval(t *testing.T) {
	r := NewRunner(zerolog.Nop(), Task{Name: "bad", Run: func(context.Context) error { return nil }})
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job bad")
}

func TestRunner_ImmediateAndPeriodic(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(zerolog.Nop(), Task{
		Name:      "tick",
		Interval:  10 * time.Millisecond,
		Immediate: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_FailingAndSlowTasksDoNotBlockOthers(t *testing.T) {
	var fast atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(zerolog.Nop(),
		Task{
			Name:      "slow",
			Interval:  time.Hour,
			Immediate: true,
			Run: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
		Task{
			Name:      "failing",
			Interval:  5 * time.Millisecond,
			Immediate: true,
			Run:       func(context.Context) error { return errors.New("boom") },
		},
		Task{
			Name:      "panicking",
			Interval:  5 * time.Millisecond,
			Immediate: true,
			Run:       func(context.Context) error { panic("unexpected") },
		},
		Task{
			Name:     "fast",
			Interval: 5 * time.Millisecond,
			Run: func(context.Context) error {
				fast.Add(1)
				return nil
			},
		},
	)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return fast.Load() >= 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestRunner_RunIsBoundedByInterval(t *testing.T) {
	deadlines := make(chan time.Duration, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(zerolog.Nop(), Task{
		Name:      "bounded",
		Interval:  time.Minute,
		Immediate: true,
		Run: func(ctx context.Context) error {
			dl, ok := ctx.Deadline()
			if ok {
				select {
				case deadlines <- time.Until(dl):
				default:
				}
			}
			return nil
		},
	})
	go r.Run(ctx)

	select {
	case d := <-deadlines:
		assert.LessOrEqual(t, d, time.Minute)
		assert.Greater(t, d, 50*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}
