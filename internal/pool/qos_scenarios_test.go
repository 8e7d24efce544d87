package pool_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/kafitramarna/TransisiDB/internal/pool"
	"github.com/kafitramarna/TransisiDB/internal/pool/scoring"
	"github.com/stretchr/testify/require"
)

// qosConnector simulates connect/disconnect cost with a Triangle-distributed
// delay, the same shape as original_source test/mod.rs's BasicConnector, used
// by the QoS-scored scenarios (spec.md §8 scenarios 3-5) where the fixed
// mockConnector delay isn't expressive enough.
type qosConnector struct {
	mu          sync.Mutex
	rng         *rand.Rand
	connCost    scoring.Triangle
	disconnCost scoring.Triangle
}

func newQOSConnector(seed int64, connCost, disconnCost scoring.Triangle) *qosConnector {
	return &qosConnector{rng: rand.New(rand.NewSource(seed)), connCost: connCost, disconnCost: disconnCost}
}

func (q *qosConnector) wait(ctx context.Context, cost scoring.Triangle) error {
	q.mu.Lock()
	seconds := cost.Random(q.rng)
	q.mu.Unlock()
	if seconds <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *qosConnector) Connect(ctx context.Context, db string) (int, error) {
	if err := q.wait(ctx, q.connCost); err != nil {
		return 0, err
	}
	return 1, nil
}

func (q *qosConnector) Reconnect(ctx context.Context, conn int, db string) (int, error) {
	if err := q.wait(ctx, q.disconnCost); err != nil {
		return 0, err
	}
	return q.Connect(ctx, db)
}

func (q *qosConnector) Disconnect(ctx context.Context, conn int) error {
	return q.wait(ctx, q.disconnCost)
}

// runLoad drives one simulated database's query load against p, recording
// acquire latency into latencies under dbName(n).
func runLoad(t *testing.T, p *pool.Pool[int], latencies *scoring.Latencies, n int, startAt, endAt float64, qps int, queryCost scoring.Triangle) {
	t.Helper()
	db := fmt.Sprintf("t%d", n)
	count := int((endAt - startAt) * float64(qps))
	interval := time.Duration(float64(time.Second) / float64(qps))

	time.Sleep(time.Duration(startAt * float64(time.Second)))

	rng := rand.New(rand.NewSource(int64(n) + 1))
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		delay := time.Duration(float64(i) * float64(interval))
		go func() {
			defer wg.Done()
			time.Sleep(delay)

			start := time.Now()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			h, err := p.Acquire(ctx, db)
			if err != nil {
				return
			}
			latencies.Mark(db, time.Since(start).Seconds())

			cost := queryCost.Random(rng)
			if cost > 0 {
				time.Sleep(time.Duration(cost * float64(time.Second)))
			}
			h.Release()
		}()
	}
	wg.Wait()
}

// newQOSPool creates a pool backed by a qosConnector, with the same
// shutdown-on-cleanup behavior as newTestPool (which is tied to the
// concrete mockConnector type and can't be reused here).
func newQOSPool(t *testing.T, connector *qosConnector, cfg pool.Config) *pool.Pool[int] {
	t.Helper()
	p := pool.New[int](connector, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func runMonitor(p *pool.Pool[int], done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p.RunOnce()
		}
	}
}

// Scenario 3: Fair split under saturation — 12 databases, each issuing
// 50qps/30ms queries, share a 6-connection pool. The resulting per-decile
// coefficient of variation across the 12 databases' latency distributions
// must stay low, i.e. no database is starved relative to the others
// (spec.md §8 scenario 3).
func TestFairSplitUnderSaturation(t *testing.T) {
	if testing.Short() {
		t.Skip("QoS scenario tests are timing-sensitive and slow; skipped in -short")
	}

	connector := newQOSConnector(1, scoring.Triangle{Base: 0.002, Spread: 0.0005}, scoring.Triangle{Base: 0.0015, Spread: 0.0005})
	p := newQOSPool(t, connector, pool.Config{MaxCapacity: 6, AdjustmentInterval: 10 * time.Millisecond})

	latencies := scoring.NewLatencies()
	done := make(chan struct{})
	go runMonitor(p, done)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runLoad(t, p, latencies, n, 0, 0.5, 50, scoring.Triangle{Base: 0.030, Spread: 0.005})
		}(i)
	}
	wg.Wait()
	close(done)

	qos := scoring.Run([]scoring.Score{
		{V100: 0, V90: 0.3, V60: 0.7, V0: 1.5, Weight: 1, Method: scoring.LatencyDistributionFairness{Lo: 0, Hi: 12}},
		{V100: 0, V90: 0.2, V60: 0.5, V0: 1, Weight: 1, Method: scoring.ConnectionOverhead{}},
	}, latencies, p.Metrics(), 6)

	require.Greater(t, qos.Value, 40.0, "fair split QoS too low: %+v", qos)
}

// Scenario 4: Priority under heterogeneous load — a hot database (500qps,
// 40ms queries) and a cold database (30qps, 30ms queries) share a
// 6-connection pool. The cold database must not be starved: its p99 latency
// must stay far below the hot database's (spec.md §8 scenario 4).
func TestPriorityUnderHeterogeneousLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("QoS scenario tests are timing-sensitive and slow; skipped in -short")
	}

	connector := newQOSConnector(2, scoring.Triangle{Base: 0.002, Spread: 0.0005}, scoring.Triangle{Base: 0.0015, Spread: 0.0005})
	p := newQOSPool(t, connector, pool.Config{MaxCapacity: 6, AdjustmentInterval: 10 * time.Millisecond})

	latencies := scoring.NewLatencies()
	done := make(chan struct{})
	go runMonitor(p, done)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); runLoad(t, p, latencies, 0, 0, 0.4, 500, scoring.Triangle{Base: 0.040, Spread: 0.01}) }()
	go func() { defer wg.Done(); runLoad(t, p, latencies, 1, 0, 0.4, 30, scoring.Triangle{Base: 0.030, Spread: 0.005}) }()
	wg.Wait()
	close(done)

	qos := scoring.Run([]scoring.Score{
		{V100: 0, V90: 10, V60: 50, V0: 200, Weight: 1, Method: scoring.LatencyRatio{Percentile: 99, DividendLo: 1, DividendHi: 2, DivisorLo: 0, DivisorHi: 1}},
		{V100: 0, V90: 0.2, V60: 0.5, V0: 1, Weight: 1, Method: scoring.ConnectionOverhead{}},
	}, latencies, p.Metrics(), 6)

	require.Greater(t, qos.Value, 30.0, "priority QoS too low: %+v", qos)
}

// Scenario 5: Rebalance under moving spike — four staggered, moving load
// windows across three databases share a 100-connection pool. The pool must
// keep a healthy connection count and not reconnect excessively as demand
// shifts between databases over time (spec.md §8 scenario 5).
func TestRebalanceUnderMovingSpike(t *testing.T) {
	if testing.Short() {
		t.Skip("QoS scenario tests are timing-sensitive and slow; skipped in -short")
	}

	connector := newQOSConnector(3, scoring.Triangle{Base: 0.002, Spread: 0.0005}, scoring.Triangle{Base: 0.0015, Spread: 0.0005})
	p := newQOSPool(t, connector, pool.Config{MaxCapacity: 100, AdjustmentInterval: 10 * time.Millisecond})

	latencies := scoring.NewLatencies()
	done := make(chan struct{})
	go runMonitor(p, done)

	var wg sync.WaitGroup
	windows := []struct {
		n                int
		startAt, endAt   float64
		qps              int
		cost             scoring.Triangle
	}{
		{1, 0.0, 0.1, 62, scoring.Triangle{Base: 0.020, Spread: 0.005}},
		{1, 0.1, 0.4, 125, scoring.Triangle{Base: 0.020, Spread: 0.005}},
		{2, 0.5, 0.9, 80, scoring.Triangle{Base: 0.020, Spread: 0.005}},
		{3, 0.7, 0.95, 150, scoring.Triangle{Base: 0.015, Spread: 0.005}},
	}
	for _, w := range windows {
		wg.Add(1)
		w := w
		go func() {
			defer wg.Done()
			runLoad(t, p, latencies, w.n, w.startAt, w.endAt, w.qps, w.cost)
		}()
	}
	wg.Wait()
	close(done)

	qos := scoring.Run([]scoring.Score{
		{V100: 0, V90: 0.2, V60: 0.5, V0: 1, Weight: 1, Method: scoring.ConnectionOverhead{}},
		{V100: 100, V90: 80, V60: 50, V0: 0, Weight: 1, Method: scoring.EndingCapacity{}},
	}, latencies, p.Metrics(), 100)

	require.Greater(t, qos.Value, 30.0, "rebalance QoS too low: %+v", qos)
}
