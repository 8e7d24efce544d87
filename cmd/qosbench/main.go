// Command qosbench drives the canonical QoS scenarios of spec.md §8
// against a real pool.Pool, the Go analogue of original_source's
// edb/server/conn_pool/src/test/spec.rs run_local: it boots one load
// generator goroutine per DBSpec entry (a database may have several
// entries, one per load window), a monitor goroutine that
// ticks the rebalance algorithm, waits for every generator to finish, and
// reduces the recorded latencies plus the final snapshot into a QoS score
// via internal/pool/scoring.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/kafitramarna/TransisiDB/internal/pool"
	"github.com/kafitramarna/TransisiDB/internal/pool/scoring"
)

// delayConnector is the Go analogue of the original's BasicConnector: it
// simulates connect/disconnect cost with a Triangle-distributed delay and
// never actually dials anything.
type delayConnector struct {
	connCost    scoring.Triangle
	disconnCost scoring.Triangle
	failPercent uint8
	mu          sync.Mutex
	rng         *rand.Rand
	nextID      int
}

func newDelayConnector(seed int64, connCost, disconnCost scoring.Triangle, failPercent uint8) *delayConnector {
	return &delayConnector{
		connCost:    connCost,
		disconnCost: disconnCost,
		failPercent: failPercent,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (d *delayConnector) sleep(ctx context.Context, cost scoring.Triangle) error {
	d.mu.Lock()
	seconds := cost.Random(d.rng)
	d.mu.Unlock()
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

func (d *delayConnector) shouldFail() bool {
	if d.failPercent == 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Intn(100) < int(d.failPercent)
}

func (d *delayConnector) Connect(ctx context.Context, db string) (int, error) {
	if d.shouldFail() {
		return 0, fmt.Errorf("qosbench: simulated dial failure for %s", db)
	}
	if err := d.sleep(ctx, d.connCost); err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.mu.Unlock()
	return id, nil
}

func (d *delayConnector) Reconnect(ctx context.Context, conn int, db string) (int, error) {
	if err := d.sleep(ctx, d.disconnCost); err != nil {
		return 0, err
	}
	return d.Connect(ctx, db)
}

func (d *delayConnector) Disconnect(ctx context.Context, conn int) error {
	return d.sleep(ctx, d.disconnCost)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	suite := scoring.SuiteQoS{}
	for _, spec := range []scoring.Spec{
		fairSplitUnderSaturation(),
		priorityUnderHeterogeneousLoad(),
		rebalanceUnderMovingSpike(),
	} {
		qos := runSpec(spec, logger)
		suite[spec.Name] = qos
		fmt.Printf("=== %s ===\n%s\n", spec.Name, spec.Desc)
		for _, ws := range qos.Scores {
			fmt.Printf("  %-40s raw=%.4f score=%.1f weight=%.1f\n", ws.Scored.Description, ws.Scored.RawValue, ws.Score, ws.Weight)
		}
		fmt.Printf("  QoS = %.2f\n\n", qos.Value)
	}

	fmt.Printf("Suite mean QoS = %.2f, RMS QoS = %.2f, min QoS = %.2f\n", suite.Mean(), suite.RMSError(), suite.Min())
}

// runSpec is the Go analogue of spec.rs's run/run_local.
func runSpec(spec scoring.Spec, logger *slog.Logger) scoring.QoS {
	connector := newDelayConnector(1, spec.ConnCost, spec.DisconnCost, spec.ConnFailurePercentage)
	p := pool.New[int](connector, pool.Config{
		MaxCapacity:        spec.Capacity,
		MinIdleTimeForGC:   time.Duration(spec.DurationSeconds / 10 * float64(time.Second)),
		AdjustmentInterval: 10 * time.Millisecond,
		Logger:             logger,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	}()

	latencies := scoring.NewLatencies()

	monitorDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-monitorDone:
				return
			case <-ticker.C:
				p.RunOnce()
			}
		}
	}()

	var wg sync.WaitGroup
	for i, dbSpec := range spec.DBs {
		wg.Add(1)
		go runLoadGenerator(&wg, p, latencies, i, dbSpec)
	}
	wg.Wait()
	close(monitorDone)

	return scoring.Run(spec.Scores, latencies, p.Metrics(), spec.Capacity)
}

func runLoadGenerator(wg *sync.WaitGroup, p *pool.Pool[int], latencies *scoring.Latencies, index int, dbSpec scoring.DBSpec) {
	defer wg.Done()

	db := fmt.Sprintf("t%d", dbSpec.DB)
	interval := time.Duration(float64(time.Second) / float64(dbSpec.QPS))
	count := int((dbSpec.EndAt - dbSpec.StartAt) * float64(dbSpec.QPS))

	time.Sleep(time.Duration(dbSpec.StartAt * float64(time.Second)))

	rng := rand.New(rand.NewSource(int64(index) + 1))
	var inner sync.WaitGroup
	for i := 0; i < count; i++ {
		inner.Add(1)
		delay := time.Duration(float64(i) * float64(interval))
		go func() {
			defer inner.Done()
			time.Sleep(delay)

			start := time.Now()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			h, err := p.Acquire(ctx, db)
			if err != nil {
				return
			}
			latencies.Mark(db, time.Since(start).Seconds())

			queryCost := dbSpec.QueryCost.Random(rng)
			if queryCost > 0 {
				time.Sleep(time.Duration(queryCost * float64(time.Second)))
			}
			h.Release()
		}()
	}
	inner.Wait()
}

// fairSplitUnderSaturation is spec.md §8 scenario 3: 12 databases sharing
// 6 connections should converge on roughly equal latency distributions.
func fairSplitUnderSaturation() scoring.Spec {
	var dbs []scoring.DBSpec
	for i := 0; i < 12; i++ {
		dbs = append(dbs, scoring.DBSpec{
			DB:        i,
			StartAt:   0,
			EndAt:     0.5,
			QPS:       50,
			QueryCost: scoring.Triangle{Base: 0.030, Spread: 0.005},
		})
	}
	return scoring.Spec{
		Name:            "fair_split_under_saturation",
		Desc:            "12 DBs, capacity 6, equal 50qps/30ms load: expect fair latency distribution",
		DurationSeconds: 0.6,
		Capacity:        6,
		ConnCost:        scoring.Triangle{Base: 0.002, Spread: 0.0005},
		DisconnCost:     scoring.Triangle{Base: 0.0015, Spread: 0.0005},
		DBs:             dbs,
		Scores: []scoring.Score{
			{V100: 0, V90: 0.3, V60: 0.7, V0: 1.5, Weight: 1, Method: scoring.LatencyDistributionFairness{Lo: 0, Hi: 12}},
			{V100: 0, V90: 0.2, V60: 0.5, V0: 1, Weight: 1, Method: scoring.ConnectionOverhead{}},
		},
	}
}

// priorityUnderHeterogeneousLoad is spec.md §8 scenario 4: a hot DB and a
// cold DB sharing a small pool; the cold DB must not be starved.
func priorityUnderHeterogeneousLoad() scoring.Spec {
	return scoring.Spec{
		Name:            "priority_under_heterogeneous_load",
		Desc:            "Hot DB (500qps/40ms) + cold DB (30qps/30ms), capacity 6",
		DurationSeconds: 0.5,
		Capacity:        6,
		ConnCost:        scoring.Triangle{Base: 0.002, Spread: 0.0005},
		DisconnCost:     scoring.Triangle{Base: 0.0015, Spread: 0.0005},
		DBs: []scoring.DBSpec{
			{DB: 0, StartAt: 0, EndAt: 0.4, QPS: 500, QueryCost: scoring.Triangle{Base: 0.040, Spread: 0.01}},
			{DB: 1, StartAt: 0, EndAt: 0.4, QPS: 30, QueryCost: scoring.Triangle{Base: 0.030, Spread: 0.005}},
		},
		Scores: []scoring.Score{
			{V100: 0, V90: 10, V60: 50, V0: 200, Weight: 1, Method: scoring.LatencyRatio{Percentile: 99, DividendLo: 1, DividendHi: 2, DivisorLo: 0, DivisorHi: 1}},
			{V100: 0, V90: 0.2, V60: 0.5, V0: 1, Weight: 1, Method: scoring.ConnectionOverhead{}},
		},
	}
}

// rebalanceUnderMovingSpike is spec.md §8 scenario 5: three databases with
// staggered, moving load spikes against a large pool.
func rebalanceUnderMovingSpike() scoring.Spec {
	return scoring.Spec{
		Name:            "rebalance_under_moving_spike",
		Desc:            "t1 ramps 62->125qps, t2 starts at 0.5, t3 spikes at 0.7, capacity 100",
		DurationSeconds: 1.0,
		Capacity:        100,
		ConnCost:        scoring.Triangle{Base: 0.002, Spread: 0.0005},
		DisconnCost:     scoring.Triangle{Base: 0.0015, Spread: 0.0005},
		DBs: []scoring.DBSpec{
			{DB: 1, StartAt: 0.0, EndAt: 0.1, QPS: 62, QueryCost: scoring.Triangle{Base: 0.020, Spread: 0.005}},
			{DB: 1, StartAt: 0.1, EndAt: 0.4, QPS: 125, QueryCost: scoring.Triangle{Base: 0.020, Spread: 0.005}},
			{DB: 2, StartAt: 0.5, EndAt: 0.9, QPS: 80, QueryCost: scoring.Triangle{Base: 0.020, Spread: 0.005}},
			{DB: 3, StartAt: 0.7, EndAt: 0.95, QPS: 150, QueryCost: scoring.Triangle{Base: 0.015, Spread: 0.005}},
		},
		Scores: []scoring.Score{
			{V100: 0, V90: 0.2, V60: 0.5, V0: 1, Weight: 1, Method: scoring.ConnectionOverhead{}},
			{V100: 100, V90: 80, V60: 50, V0: 0, Weight: 1, Method: scoring.EndingCapacity{}},
		},
	}
}
