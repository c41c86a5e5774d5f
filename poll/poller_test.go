package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerFetchesImmediatelyAndRepeats(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var results []int32

	p := &Poller[int32]{
		Interval: 10 * time.Millisecond,
		Jitter:   5 * time.Millisecond,
		Fetch: func(context.Context) (int32, error) {
			return calls.Add(1), nil
		},
		OnResult: func(v int32) {
			mu.Lock()
			results = append(results, v)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, results)
}

func TestPollerDropsStaleResponses(t *testing.T) {
	p := &Poller[string]{}
	var applied []string
	p.OnResult = func(v string) { applied = append(applied, v) }

	slow := make(chan struct{})
	p.Fetch = func(ctx context.Context) (string, error) {
		if ctx.Value(seqKey{}) == uint64(1) {
			<-slow
			return "old", nil
		}
		return "new", nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.fetch(context.WithValue(context.Background(), seqKey{}, uint64(1)), 1)
	}()
	p.fetch(context.WithValue(context.Background(), seqKey{}, uint64(2)), 2)
	close(slow)
	wg.Wait()

	assert.Equal(t, []string{"new"}, applied)
}

type seqKey struct{}

func TestPollerCountsConsecutiveErrors(t *testing.T) {
	fail := true
	var counts []int
	p := &Poller[int]{
		Fetch: func(context.Context) (int, error) {
			if fail {
				return 0, errors.New("timeout")
			}
			return 1, nil
		},
		OnError:  func(_ error, n int) { counts = append(counts, n) },
		OnResult: func(int) {},
	}

	ctx := context.Background()
	p.fetch(ctx, 1)
	p.fetch(ctx, 2)
	fail = false
	p.fetch(ctx, 3)
	fail = true
	p.fetch(ctx, 4)

	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestPollerWaitsForInFlightOnCancel(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	started := make(chan struct{}, 1)

	p := &Poller[int]{
		Interval: time.Hour,
		Fetch: func(context.Context) (int, error) {
			started <- struct{}{}
			<-release
			finished.Store(true)
			return 0, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-started
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned before the in-flight fetch finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-done)
	assert.True(t, finished.Load())
}

func TestPollerDefaultsNonPositiveInterval(t *testing.T) {
	var calls atomic.Int32
	p := &Poller[int32]{
		Fetch: func(context.Context) (int32, error) {
			return calls.Add(1), nil
		},
	}
	assert.Equal(t, DefaultInterval, p.next())

	p.Interval = -time.Second
	assert.Equal(t, DefaultInterval, p.next())

	p.Interval = 0
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, calls.Load(), "zero interval must not spin")
}
