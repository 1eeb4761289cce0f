package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"convo-lab/errors"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newCache() *QueryCache[string, int] {
	return NewQueryCache[string, int]("test", logs.GetLoggerFromLevel(slog.LevelDebug))
}

func TestQueryCache_Hit_Does_Not_Fetch_Again(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	c := newCache()
	var fetches atomic.Int32
	fetch := func(context.Context) (int, error) { return int(fetches.Add(1)), nil }

	first, err := c.Read(ctx, "alice", fetch)
	req.NoError(err)
	second, err := c.Read(ctx, "alice", fetch)
	req.NoError(err)

	req.Equal(first, second)
	req.Equal(int32(1), fetches.Load())
	req.Equal(Stats{Hits: 1, Fetches: 1}, c.Stats("alice"))
}

func TestQueryCache_Concurrent_Reads_Share_One_Fetch(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	c := newCache()
	release := make(chan struct{})
	var fetches atomic.Int32
	fetch := func(context.Context) (int, error) {
		fetches.Add(1)
		<-release
		return 42, nil
	}

	// Given 20 readers waiting on the same missing key
	var wg sync.WaitGroup
	results := make(chan int, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Read(ctx, "alice", fetch)
			if err == nil {
				results <- v
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	// Then a single fetch served all of them
	req.Equal(int32(1), fetches.Load())
	count := 0
	for v := range results {
		req.Equal(42, v)
		count++
	}
	req.Equal(20, count)
}

func TestQueryCache_Invalidate_Is_Lazy(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	c := newCache()
	var fetches atomic.Int32
	fetch := func(context.Context) (int, error) { return int(fetches.Add(1)), nil }

	_, err := c.Read(ctx, "alice", fetch)
	req.NoError(err)

	// When the key is invalidated several times
	c.Invalidate("alice")
	c.Invalidate("alice")
	c.Invalidate("unknown")

	// Then nothing is fetched until the next read
	req.Equal(int32(1), fetches.Load())
	_, fresh, ok := c.Peek("alice")
	req.True(ok)
	req.False(fresh)

	v, err := c.Read(ctx, "alice", fetch)
	req.NoError(err)
	req.Equal(2, v)
	req.Equal(int32(2), fetches.Load())
}

func TestQueryCache_Stale_Result_Discarded_Then_One_More_Fetch(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	c := newCache()
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var fetches atomic.Int32
	fetch := func(context.Context) (int, error) {
		n := fetches.Add(1)
		started <- struct{}{}
		if n == 1 {
			<-release
		}
		return int(n), nil
	}

	done := make(chan int)
	go func() {
		v, _ := c.Read(ctx, "alice", fetch)
		done <- v
	}()

	// Given a fetch in flight
	<-started
	// When the key is invalidated before it returns
	c.Invalidate("alice")
	close(release)

	// Then the first result is discarded and the follow-up value is delivered
	req.Equal(2, <-done)
	req.Equal(int32(2), fetches.Load())
	stats := c.Stats("alice")
	req.Equal(1, stats.Discarded)
	v, fresh, _ := c.Peek("alice")
	req.Equal(2, v)
	req.True(fresh)
}

func TestQueryCache_Invalidated_During_Follow_Up_Stays_Stale(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	c := newCache()
	started := make(chan int32, 3)
	gates := []chan struct{}{make(chan struct{}), make(chan struct{}), make(chan struct{})}
	var fetches atomic.Int32
	fetch := func(context.Context) (int, error) {
		n := fetches.Add(1)
		started <- n
		<-gates[n-1]
		return int(n), nil
	}

	done := make(chan int)
	go func() {
		v, _ := c.Read(ctx, "alice", fetch)
		done <- v
	}()

	<-started
	c.Invalidate("alice")
	close(gates[0])
	<-started
	c.Invalidate("alice")
	close(gates[1])

	// Then the follow-up is delivered without a cascade of fetches
	req.Equal(2, <-done)
	req.Equal(int32(2), fetches.Load())

	// And the next read refetches lazily
	close(gates[2])
	v, err := c.Read(ctx, "alice", fetch)
	req.NoError(err)
	req.Equal(3, v)
}

func TestQueryCache_Error_Leaves_Entries_Untouched(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	c := newCache()
	boom := errors.Transient(fmt.Errorf("network down"))

	_, err := c.Read(ctx, "alice", func(context.Context) (int, error) { return 1, nil })
	req.NoError(err)
	_, err = c.Read(ctx, "bob", func(context.Context) (int, error) { return 7, nil })
	req.NoError(err)
	c.Invalidate("alice")

	// When the refetch of alice fails
	_, err = c.Read(ctx, "alice", func(context.Context) (int, error) { return 0, boom })
	req.ErrorIs(err, errors.ErrTransientIO)
	req.True(errors.IsRetryable(err))

	// Then alice keeps its old stale value and bob is not affected
	v, fresh, ok := c.Peek("alice")
	req.True(ok)
	req.False(fresh)
	req.Equal(1, v)
	v, fresh, _ = c.Peek("bob")
	req.True(fresh)
	req.Equal(7, v)
	req.Equal(1, c.Stats("alice").Failures)
}

func TestQueryCache_Panicking_Fetch_Is_An_Error(t *testing.T) {
	req := require.New(t)
	c := newCache()

	_, err := c.Read(context.Background(), "alice", func(context.Context) (int, error) { panic("boom") })

	req.ErrorIs(err, errors.ErrWorkerPanic)
	_, _, ok := c.Peek("alice")
	req.False(ok)
}

func TestQueryCache_Canceled_Caller_Does_Not_Cancel_Fetch(t *testing.T) {
	req := require.New(t)
	c := newCache()
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		<-release
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 5, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error)
	go func() {
		_, err := c.Read(ctx, "alice", fetch)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// When the only caller gives up
	cancel()
	err := <-errs
	req.ErrorIs(err, context.Canceled)

	// Then the fetch still completes and fills the cache
	close(release)
	req.Eventually(func() bool {
		v, fresh, ok := c.Peek("alice")
		return ok && fresh && v == 5
	}, time.Second, 10*time.Millisecond)
}

func TestQueryCache_Purge(t *testing.T) {
	req := require.New(t)
	c := newCache()
	_, err := c.Read(context.Background(), "alice", func(context.Context) (int, error) { return 1, nil })
	req.NoError(err)
	req.Equal(1, c.Len())

	c.Purge()

	req.Equal(0, c.Len())
	req.Equal(Stats{}, c.Stats("alice"))
}

func TestQueryCache_Close_Cancels_Hanging_Fetch(t *testing.T) {
	req := require.New(t)
	c := newCache()
	type key struct{}
	seen := make(chan any, 1)
	hang := func(ctx context.Context) (int, error) {
		seen <- ctx.Value(key{})
		<-ctx.Done()
		return 0, ctx.Err()
	}

	errs := make(chan error)
	go func() {
		_, err := c.Read(context.WithValue(context.Background(), key{}, "alice"), "alice", hang)
		errs <- err
	}()
	// Given a fetch that only returns once canceled, carrying the caller values
	req.Equal("alice", <-seen)

	// When the cache is closed
	c.Close()

	// Then the waiter gets the cancellation and nothing is cached
	select {
	case err := <-errs:
		req.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		req.Fail("fetch not canceled by Close")
	}
	req.Equal(0, c.Len())

	// And later fetches start canceled
	_, err := c.Read(context.Background(), "bob", func(ctx context.Context) (int, error) { return 0, ctx.Err() })
	req.ErrorIs(err, context.Canceled)
}
