package pool

import (
	"container/list"
	"time"
)

// acquireResult is delivered exactly once to a waiter: either a handed-off
// connection or a terminal error (spec §4.3: "a waiter is either queued in
// exactly one block or has been completed exactly once").
type acquireResult[C any] struct {
	id   connID
	conn C
	err  error
}

// waiter is a one-shot completion slot queued FIFO in a block.
type waiter[C any] struct {
	resp     chan acquireResult[C]
	canceled bool
}

// block holds every connection currently associated with one logical
// database: lifecycle counters, the FIFO waiter queue, and the ordered set
// of connection ids per state needed by the algorithm and background
// tasks.
type block[C any] struct {
	name string

	waiters *list.List // of *waiter[C], FIFO

	// idle is a FIFO of connIDs that are presently Idle, oldest-first.
	// Appending on every transition into Idle and popping from the front
	// gives the deterministic "oldest Idle" steal/close/gc policy spec §9
	// mandates for reproducibility.
	idle []connID

	counts  BlockCounters
	allTime BlockCounters

	quota            int
	demand           float64
	lastDemandUpdate time.Time

	// drainRefs is the outstanding drain-lock count for this block alone
	// (spec: "Multiple outstanding drain requests for the same block
	// compose").
	drainRefs int
}

func (b *block[C]) drained(globalDrain bool) bool {
	return globalDrain || b.drainRefs > 0
}

func (b *block[C]) pushWaiter(w *waiter[C]) *list.Element {
	b.counts[VarWaiting]++
	return b.waiters.PushBack(w)
}

func (b *block[C]) removeWaiter(el *list.Element) {
	b.waiters.Remove(el)
	b.counts[VarWaiting]--
}

// popWaiter removes and returns the head waiter, skipping any already
// canceled, or nil if the queue is empty.
func (b *block[C]) popWaiter() *waiter[C] {
	for {
		front := b.waiters.Front()
		if front == nil {
			return nil
		}
		b.waiters.Remove(front)
		b.counts[VarWaiting]--
		w := front.Value.(*waiter[C])
		if w.canceled {
			continue
		}
		return w
	}
}

func (b *block[C]) pushIdle(id connID) {
	b.idle = append(b.idle, id)
}

// popOldestIdle removes and returns the front (oldest) idle connID, or
// false if none are idle.
func (b *block[C]) popOldestIdle() (connID, bool) {
	if len(b.idle) == 0 {
		return 0, false
	}
	id := b.idle[0]
	b.idle = b.idle[1:]
	return id, true
}

// removeIdle removes a specific connID from the idle list, rather than
// "any idle one", and reports whether it was there.
func (b *block[C]) removeIdle(id connID) bool {
	for i, v := range b.idle {
		if v == id {
			b.idle = append(b.idle[:i], b.idle[i+1:]...)
			return true
		}
	}
	return false
}

func (b *block[C]) oldestIdleAge(now time.Time, byID map[connID]*connRecord[C]) (time.Duration, bool) {
	if len(b.idle) == 0 {
		return 0, false
	}
	rec := byID[b.idle[0]]
	if rec == nil {
		return 0, false
	}
	return now.Sub(rec.lastActive), true
}

func (b *block[C]) snapshot(name string) BlockSnapshot {
	return BlockSnapshot{
		Name:    name,
		Counts:  b.counts,
		Quota:   b.quota,
		Demand:  b.demand,
		Drained: b.drainRefs > 0,
	}
}

// bumpDemand applies exponential decay against the elapsed time since the
// last update, then adds one unit of fresh demand (spec §4.4.3: "updated
// on every queue insertion and every release").
func bumpDemand(demand float64, lastUpdate time.Time, now time.Time, halfLife time.Duration) (float64, time.Time) {
	decayed := decay(demand, now.Sub(lastUpdate), halfLife)
	return decayed + 1.0, now
}
