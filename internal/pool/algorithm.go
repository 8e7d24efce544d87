package pool

import (
	"math"
	"sort"
	"time"
)

// Constraints mirrors the Configuration struct of spec §6: the knobs the
// Algorithm is a pure function of, alongside the metrics snapshot.
type Constraints struct {
	MaxCapacity        int
	MinIdleTimeForGC   time.Duration
	AdjustmentInterval time.Duration
	GCInterval         time.Duration
	DemandHalfLife     time.Duration
}

// AcquireDecision is the shape of an acquire plan (spec §4.4.1).
type AcquireDecision int

const (
	AcquireCreate AcquireDecision = iota
	AcquireSteal
	AcquireWait
	AcquireFailShutdown
)

type AcquirePlan struct {
	Decision AcquireDecision
	From     string // valid when Decision == AcquireSteal
}

// ReleaseType distinguishes a normal return from a poisoned one (spec §4.4.2).
type ReleaseType int

const (
	ReleaseNormal ReleaseType = iota
	ReleasePoison
)

type ReleaseDecision int

const (
	ReleaseDefault ReleaseDecision = iota // "Release" in spec prose
	ReleaseDiscard
	ReleaseReopen
	ReleaseHandoff // "ReleaseTo(other)" in spec prose
)

type ReleasePlan struct {
	Decision ReleaseDecision
	To       string // valid when Decision == ReleaseHandoff
}

type RebalanceKind int

const (
	RebalanceCreate RebalanceKind = iota
	RebalanceClose
	RebalanceTransfer
)

type RebalanceOp struct {
	Kind RebalanceKind
	DB   string // valid for Create/Close
	From string // valid for Transfer
	To   string // valid for Transfer
}

// algoBlock is the read-only per-block view the algorithm consumes. It is
// built fresh from the registry on every planning call so the algorithm
// itself stays a pure function of (metrics, drain locks, constraints, clock).
type algoBlock struct {
	name           string
	counts         BlockCounters
	quota          int
	demand         float64
	drained        bool
	oldestIdleAge  time.Duration
	hasIdleAge     bool
	hasWaiters     bool
	idleCount      int
	activeCount    int
	transitCount   int // connecting+reconnecting+disconnecting
	localWaiting   int
}

func (b algoBlock) total() int64 { return b.counts.Total() }

// planAcquire implements spec §4.4.1.
func planAcquire(db string, blocks map[string]algoBlock, totalActive int64, shuttingDown bool, c Constraints) AcquirePlan {
	if shuttingDown {
		return AcquirePlan{Decision: AcquireFailShutdown}
	}

	target := blocks[db]
	headroom := totalActive < int64(c.MaxCapacity)
	underQuota := target.total() < int64(target.quota)

	if headroom && underQuota {
		return AcquirePlan{Decision: AcquireCreate}
	}

	if from, ok := chooseStealSource(db, blocks); ok {
		return AcquirePlan{Decision: AcquireSteal, From: from}
	}

	return AcquirePlan{Decision: AcquireWait}
}

// chooseStealSource picks a donor block holding at least one Idle
// connection and over its quota. Ties broken by (highest overage, then
// least recently used — i.e. whose idle head has been idle longest, then
// lexicographic by name) for deterministic tests (spec §4.4.1, §9).
func chooseStealSource(target string, blocks map[string]algoBlock) (string, bool) {
	type candidate struct {
		name    string
		overage int64
		idleAge time.Duration
	}
	var candidates []candidate
	for name, b := range blocks {
		if name == target || b.drained || b.idleCount == 0 {
			continue
		}
		overage := b.total() - int64(b.quota)
		if overage <= 0 {
			continue
		}
		candidates = append(candidates, candidate{name: name, overage: overage, idleAge: b.oldestIdleAge})
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.overage != b.overage {
			return a.overage > b.overage
		}
		if a.idleAge != b.idleAge {
			return a.idleAge > b.idleAge // longer idle = less recently used
		}
		return a.name < b.name
	})
	return candidates[0].name, true
}

// planRelease implements spec §4.4.2.
func planRelease(db string, blocks map[string]algoBlock, rtype ReleaseType) ReleasePlan {
	self := blocks[db]

	if rtype == ReleasePoison {
		if self.localWaiting > 0 {
			return ReleasePlan{Decision: ReleaseReopen}
		}
		return ReleasePlan{Decision: ReleaseDiscard}
	}

	if self.drained {
		return ReleasePlan{Decision: ReleaseDiscard}
	}

	if to, ok := chooseHandoffTarget(db, blocks); ok {
		return ReleasePlan{Decision: ReleaseHandoff, To: to}
	}

	if self.total() > int64(self.quota) && self.localWaiting == 0 {
		return ReleasePlan{Decision: ReleaseDiscard}
	}

	return ReleasePlan{Decision: ReleaseDefault}
}

// chooseHandoffTarget finds a starved, fully-busy, waiting block other than
// self to hand a freshly-released connection to directly via reconnect,
// deterministically by name for reproducibility.
func chooseHandoffTarget(self string, blocks map[string]algoBlock) (string, bool) {
	var names []string
	for name, b := range blocks {
		if name == self || b.drained {
			continue
		}
		if b.localWaiting > 0 && b.idleCount == 0 && float64(b.total()) < b.demand {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}

// planRebalance implements spec §4.4.3. Returns an ordered list of
// operations; at most one Transfer per (from,to) pair per tick.
func planRebalance(blocks map[string]algoBlock, totalActive int64, gcDue bool, c Constraints) []RebalanceOp {
	var ops []RebalanceOp

	names := make([]string, 0, len(blocks))
	for name := range blocks {
		names = append(names, name)
	}
	sort.Strings(names)

	headroom := int64(c.MaxCapacity) - totalActive

	for _, name := range names {
		b := blocks[name]
		if headroom <= 0 {
			break
		}
		if b.drained {
			continue
		}
		if b.total() < int64(b.quota) {
			ops = append(ops, RebalanceOp{Kind: RebalanceCreate, DB: name})
			headroom--
		}
	}

	if gcDue {
		for _, name := range names {
			b := blocks[name]
			// A drained block (spec §3 drain lock) must shed its idle
			// connections regardless of what quota math still says it's
			// owed: quota tracks demand, and a block can be drained while
			// its recently-active demand has not yet decayed away.
			overQuota := b.total() > int64(b.quota)
			if (overQuota || b.drained) && b.hasIdleAge && b.oldestIdleAge >= c.MinIdleTimeForGC {
				ops = append(ops, RebalanceOp{Kind: RebalanceClose, DB: name})
			}
		}
	}

	paired := map[[2]string]bool{}
	for _, toName := range names {
		to := blocks[toName]
		if to.drained || float64(to.total()) >= to.demand || to.total() >= int64(to.quota) {
			continue
		}
		for _, fromName := range names {
			if fromName == toName {
				continue
			}
			from := blocks[fromName]
			if from.drained || from.idleCount == 0 {
				continue
			}
			if from.total() <= int64(from.quota) {
				continue
			}
			key := [2]string{fromName, toName}
			if paired[key] {
				continue
			}
			paired[key] = true
			ops = append(ops, RebalanceOp{Kind: RebalanceTransfer, From: fromName, To: toName})
			break
		}
	}

	return ops
}

// computeQuotas turns each block's decayed demand into an integer share of
// capacity (spec §4.4.3). Shares are proportional to demand, but a block's
// quota is never allowed to exceed what its OWN decayed demand justifies,
// even when it is the pool's sole (or last remaining) demander and would
// otherwise be entitled to 100% of the proportional split: without that
// cap, a lone idle connection in a single-demander block sees its quota
// pinned at full capacity forever, since demand/total is always 1.0
// regardless of how small the absolute demand has decayed to, and it would
// take float64 underflow (minutes, not a GC interval) before quota ever
// shrank enough for planRebalance's GC pass to reclaim it.
//
// Each block's quota is therefore capped at round(min(proportionalShare,
// demand)): once a block's own decayed demand has fallen below 0.5 its
// quota collapses to 0 outright, rather than lingering at 1 forever under
// ceil-style rounding. Capacity left unclaimed because every block's
// demand is below what the proportional split would hand it is simply not
// distributed — sum(quota) == capacity no longer holds as an invariant,
// only sum(quota) <= capacity.
func computeQuotas(demand map[string]float64, capacity int) map[string]int {
	quotas := make(map[string]int, len(demand))
	if len(demand) == 0 || capacity <= 0 {
		for name := range demand {
			quotas[name] = 0
		}
		return quotas
	}

	var total float64
	names := make([]string, 0, len(demand))
	for name, d := range demand {
		total += d
		names = append(names, name)
	}
	sort.Strings(names)

	if total <= 0 {
		// No demand anywhere: everyone converges to quota 0 via GC.
		for _, name := range names {
			quotas[name] = 0
		}
		return quotas
	}

	type share struct {
		name      string
		floor     int
		remainder float64
		limit     int // quota for this block can never exceed this
	}
	shares := make([]share, 0, len(names))
	for _, name := range names {
		rawShare := demand[name] / total * float64(capacity)
		capped := math.Min(rawShare, demand[name])
		f := int(math.Floor(capped))
		limit := int(math.Round(capped))
		shares = append(shares, share{name: name, floor: f, remainder: capped - float64(f), limit: limit})
		quotas[name] = f
	}

	assigned := 0
	for _, s := range shares {
		assigned += s.floor
	}
	remaining := capacity - assigned

	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].remainder != shares[j].remainder {
			return shares[i].remainder > shares[j].remainder
		}
		return shares[i].name < shares[j].name
	})
	for _, s := range shares {
		if remaining <= 0 {
			break
		}
		// Only bump a share up to its own demand-derived limit: unused
		// capacity is never handed to a block beyond what its decayed
		// demand can justify.
		if quotas[s.name] < s.limit {
			quotas[s.name]++
			remaining--
		}
	}
	return quotas
}

// decay applies exponential decay to a demand value over an elapsed
// duration, given a half-life. A non-positive half-life disables decay.
func decay(value float64, elapsed time.Duration, halfLife time.Duration) float64 {
	if halfLife <= 0 || elapsed <= 0 {
		return value
	}
	return value * math.Exp(-float64(elapsed)*math.Ln2/float64(halfLife))
}
