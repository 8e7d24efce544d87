// Package pool implements the adaptive database connection pool: a
// single-actor-goroutine scheduler that multiplexes a bounded number of
// backend connections across many logical databases ("blocks") while
// optimizing a fairness/latency QoS score.
//
// Every mutation of pool state happens on one goroutine (Pool.run), the
// idiomatic Go analogue of the single-threaded cooperative executor the
// design is modeled on: callers and background Connector tasks talk to it
// exclusively through a command channel, so no block or connection state
// needs a mutex.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config is the pool's external configuration (spec §6).
type Config struct {
	// MaxCapacity is the hard upper bound on concurrently open connections.
	MaxCapacity int
	// MinIdleTimeForGC is the minimum idle age before a surplus connection
	// may be garbage-collected.
	MinIdleTimeForGC time.Duration
	// AdjustmentInterval is how often the rebalance algorithm runs.
	// Defaults to 10ms.
	AdjustmentInterval time.Duration
	// GCInterval is how often the GC sub-pass runs. Zero derives it from
	// MinIdleTimeForGC/120, floored at 0.5s.
	GCInterval time.Duration
	// DemandHalfLife tunes the exponential decay of the per-block demand
	// estimate. The source's decay constant was undocumented; this
	// defaults to 200ms and is safe to sweep 100ms-2s (spec §9).
	DemandHalfLife time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.AdjustmentInterval <= 0 {
		c.AdjustmentInterval = 10 * time.Millisecond
	}
	if c.GCInterval <= 0 {
		derived := c.MinIdleTimeForGC / 120
		if derived < 500*time.Millisecond {
			derived = 500 * time.Millisecond
		}
		c.GCInterval = derived
	}
	if c.DemandHalfLife <= 0 {
		c.DemandHalfLife = 200 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c Config) constraints() Constraints {
	return Constraints{
		MaxCapacity:        c.MaxCapacity,
		MinIdleTimeForGC:   c.MinIdleTimeForGC,
		AdjustmentInterval: c.AdjustmentInterval,
		GCInterval:         c.GCInterval,
		DemandHalfLife:     c.DemandHalfLife,
	}
}

// Pool is the public façade: acquire, drain, drain_idle, drain_all,
// shutdown, run_once, metrics (spec §4.5).
type Pool[C any] struct {
	connector Connector[C]
	cfg       Config
	log       *slog.Logger

	reg   *registry[C]
	drain drainController
	lastGC time.Time

	cmds chan any

	shuttingDown   atomic.Bool
	shutdownOnce   sync.Once
	shutdownDoneCh chan struct{}

	tasksWG sync.WaitGroup
}

// New creates a pool backed by connector and starts its actor goroutine.
func New[C any](connector Connector[C], cfg Config) *Pool[C] {
	cfg = cfg.withDefaults()
	p := &Pool[C]{
		connector:      connector,
		cfg:            cfg,
		log:            cfg.Logger,
		reg:            newRegistry[C](cfg.DemandHalfLife),
		cmds:           make(chan any, 64),
		shutdownDoneCh: make(chan struct{}),
	}
	p.lastGC = time.Now()
	go p.run()
	return p
}

// Handle is a scope-bound acquisition of a Connection (spec §4.5). It
// exclusively owns its Connection until Release is called; callers must
// `defer h.Release()` immediately after a successful Acquire, the RAII
// idiom substituting for the source's drop-time release (spec §9).
type Handle[C any] struct {
	pool *Pool[C]
	id   connID
	db   string
	conn C

	poisoned atomic.Bool
	released atomic.Bool
}

// WithHandle exposes the underlying connection only through this
// borrow-scoped accessor, so callers cannot squirrel the connection away
// past the Handle's lifetime.
func (h *Handle[C]) WithHandle(fn func(C)) { fn(h.conn) }

// Poison is idempotent and non-blocking; it marks the connection for
// non-reuse, consulted by the release plan when the Handle is released.
func (h *Handle[C]) Poison() { h.poisoned.Store(true) }

// Release returns the connection to the pool. Infallible, and safe to
// call more than once (only the first call has effect).
func (h *Handle[C]) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.pool.release(h.db, h.id, h.conn, h.poisoned.Load())
}

// Acquire returns a Handle or fails with ErrShutdown. Ordering is FIFO
// within a block (spec §4.5).
func (p *Pool[C]) Acquire(ctx context.Context, db string) (*Handle[C], error) {
	resp := make(chan acquireResult[C], 1)
	select {
	case p.cmds <- cmdAcquire[C]{db: db, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.shutdownDoneCh:
		return nil, ErrPoolClosed
	}

	select {
	case res := <-resp:
		if res.err != nil {
			return nil, res.err
		}
		return &Handle[C]{pool: p, id: res.id, db: db, conn: res.conn}, nil
	case <-ctx.Done():
		// Try to take an already-completed result so we don't strand a
		// connection that was handed off just as the caller gave up.
		select {
		case res := <-resp:
			if res.err == nil {
				p.release(db, res.id, res.conn, false)
			}
		default:
			p.cmds <- cmdCancelWaiter[C]{db: db, resp: resp}
		}
		return nil, ctx.Err()
	case <-p.shutdownDoneCh:
		return nil, ErrPoolClosed
	}
}

func (p *Pool[C]) release(db string, id connID, conn C, poisoned bool) {
	select {
	case p.cmds <- cmdRelease[C]{db: db, id: id, conn: conn, poisoned: poisoned}:
	case <-p.shutdownDoneCh:
	}
}

// Metrics returns a snapshot of all counters and the mode classification.
func (p *Pool[C]) Metrics() Snapshot {
	resp := make(chan Snapshot, 1)
	select {
	case p.cmds <- cmdMetrics[C]{resp: resp}:
	case <-p.shutdownDoneCh:
		return Snapshot{}
	}
	select {
	case s := <-resp:
		return s
	case <-p.shutdownDoneCh:
		return Snapshot{}
	}
}

// RunOnce drives one tick of the rebalance algorithm; a no-op if the
// registry is empty.
func (p *Pool[C]) RunOnce() {
	select {
	case p.cmds <- cmdRunOnce[C]{}:
	case <-p.shutdownDoneCh:
	}
}

func (p *Pool[C]) blockTotal(db string) int64 {
	s := p.Metrics()
	b, ok := s.Blocks[db]
	if !ok {
		return 0
	}
	return b.Counts.Total()
}

func (p *Pool[C]) blockIdle(db string) int64 {
	s := p.Metrics()
	b, ok := s.Blocks[db]
	if !ok {
		return 0
	}
	return b.Counts.Get(VarIdle)
}

func (p *Pool[C]) blockExists(db string) bool {
	s := p.Metrics()
	_, ok := s.Blocks[db]
	return ok
}

func (p *Pool[C]) pollUntil(ctx context.Context, cond func() bool) error {
	if cond() {
		return nil
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if cond() {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-p.shutdownDoneCh:
			return nil
		}
	}
}

// Drain returns when the named block has zero connections. Repeated
// calls compose; dropping the context cancels this caller's interest but
// not an outstanding drain lock held by others.
func (p *Pool[C]) Drain(ctx context.Context, db string) error {
	if !p.blockExists(db) {
		return nil
	}
	p.drainDelta(db, 1)
	defer p.drainDelta(db, -1)
	return p.pollUntil(ctx, func() bool { return p.blockTotal(db) == 0 })
}

// DrainIdle is like Drain but only waits for the Idle count to reach
// zero; Active connections remain.
func (p *Pool[C]) DrainIdle(ctx context.Context, db string) error {
	if !p.blockExists(db) {
		return nil
	}
	p.drainDelta(db, 1)
	defer p.drainDelta(db, -1)
	return p.pollUntil(ctx, func() bool { return p.blockIdle(db) == 0 })
}

// DrainAll drains every block.
func (p *Pool[C]) DrainAll(ctx context.Context) error {
	p.drainAllDelta(1)
	defer p.drainAllDelta(-1)
	return p.pollUntil(ctx, func() bool { return p.Metrics().Total == 0 })
}

func (p *Pool[C]) drainDelta(db string, delta int) {
	select {
	case p.cmds <- cmdDrainBlockDelta[C]{db: db, delta: delta}:
	case <-p.shutdownDoneCh:
	}
}

func (p *Pool[C]) drainAllDelta(delta int) {
	select {
	case p.cmds <- cmdDrainAllDelta[C]{delta: delta}:
	case <-p.shutdownDoneCh:
	}
}

// Shutdown declares global shutdown: new acquires fail with ErrShutdown,
// and it waits until all connections are closed. Shutdown is sticky —
// dropping ctx does not cancel it, it keeps running in the background.
func (p *Pool[C]) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.shuttingDown.Store(true)
		select {
		case p.cmds <- cmdBeginShutdown[C]{}:
		case <-p.shutdownDoneCh:
		}
	})
	select {
	case <-p.shutdownDoneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
