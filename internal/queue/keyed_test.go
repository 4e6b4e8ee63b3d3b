package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func waitIdle(t *testing.T, q *Keyed) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
}

func TestSameKeyRunsInOrderThroughRetries(t *testing.T) {
	q := New("test", WithRetries(2), WithRetryDelay(time.Millisecond))
	rec := &recorder{}

	attempts := 0
	var succeeded, failed int
	var cbMu sync.Mutex
	cb := Callbacks{
		OnSuccess: func() { cbMu.Lock(); succeeded++; cbMu.Unlock() },
		OnFailure: func(error) { cbMu.Lock(); failed++; cbMu.Unlock() },
	}

	first := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			rec.add(fmt.Sprintf("1(attempt%d,fail)", attempts))
			return errors.New("flaky")
		}
		rec.add("1(attempt3,success)")
		return nil
	}
	require.True(t, q.Enqueue(first, "one", "A", cb))
	for _, n := range []string{"2", "3"} {
		n := n
		require.True(t, q.Enqueue(func(ctx context.Context) error { rec.add(n); return nil }, n, "A", cb))
	}

	waitIdle(t, q)

	assert.Equal(t, []string{"1(attempt1,fail)", "1(attempt2,fail)", "1(attempt3,success)", "2", "3"}, rec.snapshot())
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 0, failed)

	st := q.Stats()
	assert.Equal(t, Stats{Queued: 0, Active: 0, Lanes: 0, Processed: 3, Failed: 0}, st)
}

func TestEnqueueOrderPreservedUnderLoad(t *testing.T) {
	q := New("test", WithConcurrency(3))
	rec := &recorder{}
	for i := 0; i < 200; i++ {
		i := i
		key := fmt.Sprintf("k%d", i%4)
		q.Enqueue(func(ctx context.Context) error {
			rec.add(fmt.Sprintf("%s:%d", key, i))
			return nil
		}, "t", key, Callbacks{})
	}
	waitIdle(t, q)

	last := map[string]int{}
	for _, ev := range rec.snapshot() {
		key, num, _ := strings.Cut(ev, ":")
		n, err := strconv.Atoi(num)
		require.NoError(t, err)
		if prev, ok := last[key]; ok {
			assert.Greater(t, n, prev, "lane %s out of order", key)
		}
		last[key] = n
	}
	assert.Equal(t, 200, q.Stats().Processed)
}

func TestDistinctKeysRunConcurrently(t *testing.T) {
	q := New("test", WithConcurrency(2))
	started := make(chan string, 2)
	release := make(chan struct{})

	for _, key := range []string{"A", "B"} {
		key := key
		q.Enqueue(func(ctx context.Context) error {
			started <- key
			<-release
			return nil
		}, "slow", key, Callbacks{})
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-started:
			seen[k] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("lanes did not start concurrently, saw %v", seen)
		}
	}
	assert.Equal(t, 2, q.Stats().Active)
	close(release)
	waitIdle(t, q)
}

func TestConcurrencyLimitHoldsExtraLanes(t *testing.T) {
	q := New("test", WithConcurrency(1))
	started := make(chan string, 2)
	release := make(chan struct{})

	for _, key := range []string{"A", "B"} {
		key := key
		q.Enqueue(func(ctx context.Context) error {
			started <- key
			<-release
			return nil
		}, "slow", key, Callbacks{})
	}

	assert.Equal(t, "A", <-started)
	select {
	case k := <-started:
		t.Fatalf("lane %s started beyond the concurrency limit", k)
	case <-time.After(50 * time.Millisecond):
	}
	st := q.Stats()
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 2, st.Lanes)
	assert.Equal(t, 2, st.Queued)

	close(release)
	assert.Equal(t, "B", <-started)
	waitIdle(t, q)
}

func TestBackpressureRejectsWhenFull(t *testing.T) {
	q := New("test", WithMaxSize(2))
	release := make(chan struct{})
	slow := func(ctx context.Context) error { <-release; return nil }

	require.True(t, q.Enqueue(slow, "a", "A", Callbacks{}))
	require.True(t, q.Enqueue(slow, "b", "B", Callbacks{}))

	var got error
	ok := q.Enqueue(slow, "c", "C", Callbacks{OnFailure: func(err error) { got = err }})

	assert.False(t, ok)
	require.Error(t, got, "OnFailure must run before Enqueue returns")
	assert.True(t, errors.Is(got, ErrQueueFull))
	assert.Equal(t, 2, q.Stats().Queued)

	close(release)
	waitIdle(t, q)
	assert.True(t, q.Enqueue(slow, "d", "D", Callbacks{}))
	waitIdle(t, q)
}

func TestExhaustedRetriesDoNotBlockLane(t *testing.T) {
	q := New("test", WithRetries(1), WithRetryDelay(time.Millisecond))
	rec := &recorder{}
	var terminal error

	boom := errors.New("boom")
	q.Enqueue(func(ctx context.Context) error {
		rec.add("bad")
		return boom
	}, "bad", "A", Callbacks{OnFailure: func(err error) { terminal = err }})
	q.Enqueue(func(ctx context.Context) error {
		rec.add("good")
		return nil
	}, "good", "A", Callbacks{})

	waitIdle(t, q)

	assert.Equal(t, []string{"bad", "bad", "good"}, rec.snapshot())
	assert.Equal(t, boom, terminal)
	st := q.Stats()
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Processed)

	// A manual re-enqueue is a fresh item with its own retry budget.
	ok := q.Enqueue(func(ctx context.Context) error { rec.add("again"); return nil }, "bad", "A", Callbacks{})
	require.True(t, ok)
	waitIdle(t, q)
	assert.Equal(t, "again", rec.snapshot()[3])
}

func TestPanicsAreContained(t *testing.T) {
	q := New("test", WithRetries(0))
	var failure error
	q.Enqueue(func(ctx context.Context) error { panic("kaboom") }, "p", "", Callbacks{
		OnFailure: func(err error) { failure = err; panic("callback too") },
	})
	q.Enqueue(func(ctx context.Context) error { return nil }, "ok", "", Callbacks{
		OnSuccess: func() { panic("success callback") },
	})
	waitIdle(t, q)

	require.Error(t, failure)
	assert.Contains(t, failure.Error(), "kaboom")
	st := q.Stats()
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Processed)
}

func TestEmptyKeyUsesDefaultLane(t *testing.T) {
	q := New("test", WithConcurrency(5))
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		q.Enqueue(func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		}, "g", "", Callbacks{})
	}
	<-started
	select {
	case <-started:
		t.Fatal("default lane ran two items at once")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, 1, q.Stats().Lanes)
	close(release)
	waitIdle(t, q)
}

func TestTaskTimeoutCancelsContext(t *testing.T) {
	q := New("test", WithRetries(0), WithTaskTimeout(10*time.Millisecond))
	var got error
	q.Enqueue(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, "hang", "A", Callbacks{OnFailure: func(err error) { got = err }})
	waitIdle(t, q)
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

func TestNilTaskRejected(t *testing.T) {
	q := New("test")
	var got error
	assert.False(t, q.Enqueue(nil, "nil", "A", Callbacks{OnFailure: func(err error) { got = err }}))
	assert.True(t, errors.Is(got, ErrNilTask))
	assert.Equal(t, Stats{}, q.Stats())
}

func TestWaitHonoursContext(t *testing.T) {
	q := New("test")
	release := make(chan struct{})
	defer close(release)
	q.Enqueue(func(ctx context.Context) error { <-release; return nil }, "slow", "A", Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
}

func TestBackoff(t *testing.T) {
	base := time.Second
	assert.Equal(t, time.Second, Backoff(base, 1))
	assert.Equal(t, 2*time.Second, Backoff(base, 2))
	assert.Equal(t, 4*time.Second, Backoff(base, 3))
	assert.Equal(t, time.Second, Backoff(base, 0))
}
