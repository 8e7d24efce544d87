package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockConnector is the Go analogue of original_source test/mod.rs's
// BasicConnector: a Connector with configurable per-call delay and
// one-shot forced failures, instrumented with call counters for
// assertions.
type mockConnector struct {
	connectDelay   time.Duration
	connects       atomic.Int64
	reconnects     atomic.Int64
	disconnects    atomic.Int64

	mu             sync.Mutex
	failNextConnect bool
}

func (m *mockConnector) Connect(ctx context.Context, db string) (int, error) {
	m.connects.Add(1)
	m.mu.Lock()
	fail := m.failNextConnect
	m.failNextConnect = false
	m.mu.Unlock()
	if fail {
		return 0, errFakeDial
	}
	if m.connectDelay > 0 {
		select {
		case <-time.After(m.connectDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return int(m.connects.Load()), nil
}

func (m *mockConnector) Reconnect(ctx context.Context, conn int, db string) (int, error) {
	m.reconnects.Add(1)
	return conn, nil
}

func (m *mockConnector) Disconnect(ctx context.Context, conn int) error {
	m.disconnects.Add(1)
	return nil
}

var errFakeDial = &UnderlyingError{Op: "connect", DB: "mock", Err: context.DeadlineExceeded}

func newTestPool(t *testing.T, connector *mockConnector, cfg Config) *Pool[int] {
	t.Helper()
	p := New[int](connector, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

// Scenario 1: Basic reuse — acquiring, releasing, and re-acquiring the
// same block must not dial a second connection (spec.md §8 scenario 1).
func TestBasicReuse(t *testing.T) {
	connector := &mockConnector{}
	p := newTestPool(t, connector, Config{MaxCapacity: 10})
	ctx := context.Background()

	h1, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	h1.Release()

	require.NoError(t, p.pollUntil(ctx, func() bool { return p.blockIdle("a") == 1 }))

	h2, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	h2.Release()

	require.Equal(t, int64(1), connector.connects.Load())
}

// Scenario 2: GC to zero — an idle connection older than
// min_idle_time_before_gc + gc_interval is eventually closed.
func TestGCToZero(t *testing.T) {
	connector := &mockConnector{}
	p := newTestPool(t, connector, Config{
		MaxCapacity:        10,
		MinIdleTimeForGC:   30 * time.Millisecond,
		AdjustmentInterval: 5 * time.Millisecond,
		GCInterval:         10 * time.Millisecond,
	})
	ctx := context.Background()

	h, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	h.Release()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err = p.pollUntil(ctx2, func() bool { return p.Metrics().Total == 0 })
	require.NoError(t, err)
}

// Poisoned handles are never handed back to Idle for reuse.
func TestPoisonedNeverReturnsToIdle(t *testing.T) {
	connector := &mockConnector{}
	p := newTestPool(t, connector, Config{MaxCapacity: 10})
	ctx := context.Background()

	h, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	h.Poison()
	h.Release()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, p.pollUntil(ctx2, func() bool { return p.blockIdle("a") == 0 && connector.disconnects.Load() == 1 }))
}

// shutdown() is sticky: once Shutdown has returned, an acquire fails with
// ErrShutdown and the pool reports zero connections.
func TestShutdownSticky(t *testing.T) {
	connector := &mockConnector{}
	p := New[int](connector, Config{MaxCapacity: 10})
	ctx := context.Background()

	h, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	h.Release()

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(shutdownCtx))

	_, err = p.Acquire(ctx, "a")
	require.ErrorIs(t, err, ErrShutdown)

	require.Equal(t, int64(0), p.Metrics().Total)
}

// FIFO within a block: waiters complete in enqueue order.
func TestWaiterFIFOOrder(t *testing.T) {
	connector := &mockConnector{connectDelay: 20 * time.Millisecond}
	p := newTestPool(t, connector, Config{MaxCapacity: 1})
	ctx := context.Background()

	h1, err := p.Acquire(ctx, "a")
	require.NoError(t, err)

	order := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 1; i <= 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h, err := p.Acquire(ctx, "a")
			if err != nil {
				return
			}
			order <- n
			time.Sleep(5 * time.Millisecond)
			h.Release()
		}(i)
		time.Sleep(5 * time.Millisecond) // ensure enqueue order
	}

	time.Sleep(10 * time.Millisecond)
	h1.Release()

	wg.Wait()
	close(order)
	var got []int
	for n := range order {
		got = append(got, n)
	}
	require.Equal(t, []int{1, 2}, got)
}

// Scenario 6: Drain correctness — drain("a") waits for outstanding handles
// to be released, and a later acquire reopens cleanly.
func TestDrainCorrectness(t *testing.T) {
	connector := &mockConnector{}
	p := newTestPool(t, connector, Config{MaxCapacity: 10})
	ctx := context.Background()

	h1, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	h2, err := p.Acquire(ctx, "a")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		h1.Release()
		h2.Release()
	}()

	drainCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, p.Drain(drainCtx, "a"))
	require.Equal(t, int64(0), p.blockTotal("a"))

	h3, err := p.Acquire(ctx, "a")
	require.NoError(t, err)
	h3.Release()
}

// Property: after many concurrent acquire/release cycles on two blocks, the
// pool-wide connection total is within MaxCapacity.
func TestCountsStayWithinCapacity(t *testing.T) {
	connector := &mockConnector{}
	p := newTestPool(t, connector, Config{MaxCapacity: 4})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			db := "a"
			if n%2 == 0 {
				db = "b"
			}
			h, err := p.Acquire(ctx, db)
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			h.Release()
		}(i)
	}
	wg.Wait()

	snap := p.Metrics()
	var total int64
	for _, b := range snap.Blocks {
		total += b.Counts.Total()
	}
	require.LessOrEqual(t, total, int64(4))
}
