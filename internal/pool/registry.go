package pool

import (
	"container/list"
	"time"
)

// registry is the process-local mapping from database name to block, plus
// the connection arena. It is owned and mutated exclusively by the pool's
// actor goroutine — no locks are needed (spec §5).
type registry[C any] struct {
	blocks map[string]*block[C]
	conns  map[connID]*connRecord[C]
	nextID connID

	globalDrainRefs int
	halfLife        time.Duration
}

func newRegistry[C any](halfLife time.Duration) *registry[C] {
	return &registry[C]{
		blocks:   make(map[string]*block[C]),
		conns:    make(map[connID]*connRecord[C]),
		halfLife: halfLife,
	}
}

func newBlock[C any](name string) *block[C] {
	return &block[C]{
		name:    name,
		waiters: list.New(),
	}
}

// getOrCreate returns the block for db, creating it lazily on first
// reference (spec §3: "Blocks are created lazily on first reference").
func (r *registry[C]) getOrCreate(db string) *block[C] {
	b, ok := r.blocks[db]
	if !ok {
		b = newBlock[C](db)
		r.blocks[db] = b
	}
	return b
}

// get returns the block for db if it already exists, without creating it.
func (r *registry[C]) get(db string) (*block[C], bool) {
	b, ok := r.blocks[db]
	return b, ok
}

func (r *registry[C]) allocID() connID {
	r.nextID++
	return r.nextID
}

func (r *registry[C]) isEmpty() bool {
	for _, b := range r.blocks {
		if b.counts.Total() > 0 || b.waiters.Len() > 0 {
			return false
		}
	}
	return true
}

func (r *registry[C]) totalActive() int64 {
	var total int64
	for _, b := range r.blocks {
		total += b.counts.Total()
	}
	return total
}

func (r *registry[C]) snapshot() Snapshot {
	out := Snapshot{Blocks: make(map[string]BlockSnapshot, len(r.blocks))}
	var allTime BlockCounters
	for name, b := range r.blocks {
		out.Blocks[name] = b.snapshot(name)
		out.Total += b.counts.Total()
		addInto(&allTime, b.allTime)
	}
	out.AllTime = allTime
	out.Mode = classifyMode(out, r.totalActive())
	return out
}

func classifyMode(s Snapshot, capacityUsed int64) Mode {
	saturated := true
	anyOverDemand := false
	for _, b := range s.Blocks {
		if b.Counts.Total() < int64(b.Quota) {
			saturated = false
		}
		if b.Demand > float64(b.Quota)+0.5 {
			anyOverDemand = true
		}
	}
	if saturated && len(s.Blocks) > 0 {
		return ModeD
	}
	if anyOverDemand {
		return ModeBC
	}
	return ModeA
}

// recordTransition updates a block's per-variant counters for a state
// change. from == nil means "connection did not previously exist"
// (creation); to == nil means "connection is gone" (after Closed/Failed
// is recorded the record itself is removed from the arena).
func (r *registry[C]) recordTransition(b *block[C], from *connState, to *connState) {
	if from != nil {
		b.counts[from.variant()]--
	}
	if to != nil {
		b.counts[to.variant()]++
	}
}

func (r *registry[C]) recordTerminal(b *block[C], v Variant) {
	b.counts[v]++
	b.allTime[v]++
	// Failed/Closed are transient: the spec says Failed "collapses to
	// absent after the metric is recorded" — we record the tick then
	// immediately zero the live counter back out, keeping only the
	// all-time cumulative version.
	b.counts[v]--
}
