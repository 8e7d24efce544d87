// Package scoring implements the QoS scoring harness of spec.md §6/§8: a
// set of ScoringMethods that reduce a recorded latency distribution plus a
// pool.Snapshot into a 0-100 score, and a weighted QoS that combines them.
// Grounded on original_source/edb/server/conn_pool/src/test/{mod,spec}.rs.
package scoring

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/kafitramarna/TransisiDB/internal/pool"
)

// Triangle is a triangular-ish random duration generator: base ± spread
// seconds, uniformly distributed (original_source mod.rs Triangle).
type Triangle struct {
	Base   float64
	Spread float64
}

func (t Triangle) Random(rng *rand.Rand) float64 {
	return t.Base + (rng.Float64()*2-1)*t.Spread
}

// DBSpec describes one simulated logical database's load profile over the
// course of a scenario run (original_source mod.rs DBSpec).
type DBSpec struct {
	DB        int
	StartAt   float64
	EndAt     float64
	QPS       int
	QueryCost Triangle
}

func (d *DBSpec) Scale(timeScale float64) {
	d.StartAt *= timeScale
	d.EndAt *= timeScale
}

// Spec describes one complete scenario: pool capacity, connection cost
// distribution, and the per-database load schedule (original_source mod.rs
// Spec).
type Spec struct {
	Name                   string
	Desc                   string
	TimeoutSeconds         int
	DurationSeconds        float64
	Capacity               int
	ConnCost               Triangle
	ConnFailurePercentage  uint8
	DBs                    []DBSpec
	DisconnCost            Triangle
	Scores                 []WeightedMethod
}

func (s *Spec) Scale(timeScale float64) {
	s.DurationSeconds *= timeScale
	for i := range s.DBs {
		s.DBs[i].Scale(timeScale)
	}
}

// Latencies records per-database query latencies observed during a
// scenario run, safe for concurrent Mark calls from simulated client
// goroutines (original_source mod.rs Latencies, Rc<RefCell<..>> replaced
// by a mutex since Go scenarios run each client on its own goroutine).
type Latencies struct {
	mu   sync.Mutex
	data map[string][]float64
}

func NewLatencies() *Latencies {
	return &Latencies{data: make(map[string][]float64)}
}

func (l *Latencies) Mark(db string, latencySeconds float64) {
	if latencySeconds < 0.000001 {
		latencySeconds = 0.000001
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[db] = append(l.data[db], latencySeconds)
}

func (l *Latencies) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, v := range l.data {
		n += len(v)
	}
	return n
}

func (l *Latencies) snapshot(db string) []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64(nil), l.data[db]...)
}

// Scored is the raw result of one ScoringMethod run (original_source
// mod.rs Scored); DetailedCalculation renders the inputs behind RawValue
// at the requested decimal precision for diagnostics.
type Scored struct {
	Description          string
	DetailedCalculation  func(precision int) string
	RawValue             float64
}

// WeightedScored applies a Score curve to a Scored result.
type WeightedScored struct {
	Weight float64
	Score  float64
	Scored Scored
}

// QoS is the weighted combination of every WeightedMethod configured on a
// Spec for one scenario run.
type QoS struct {
	Scores []WeightedScored
	Value  float64
}

// SuiteQoS aggregates the QoS of every scenario in a benchmark run
// (original_source mod.rs SuiteQoS).
type SuiteQoS map[string]QoS

func (s SuiteQoS) Mean() float64 {
	if len(s) == 0 {
		return 0
	}
	var total float64
	for _, q := range s {
		total += q.Value
	}
	total /= float64(len(s))
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		return 0
	}
	return total
}

// RMSError returns 100 minus the root-mean-square deviation of every
// scenario's QoS from a perfect 100 (original_source mod.rs qos_rms_error).
func (s SuiteQoS) RMSError() float64 {
	if len(s) == 0 {
		return 0
	}
	var total float64
	for _, q := range s {
		d := 100.0 - q.Value
		total += d * d
	}
	total /= float64(len(s))
	result := 100.0 - math.Sqrt(total)
	if math.IsNaN(result) || math.IsInf(result, 0) || result < 0 {
		return 0
	}
	return result
}

func (s SuiteQoS) Min() float64 {
	min := 100.0
	for _, q := range s {
		if q.Value < min {
			min = q.Value
		}
	}
	if math.IsNaN(min) || math.IsInf(min, 0) || min < 0 {
		return 0
	}
	return min
}

// ScoringMethod reduces recorded latencies and a pool metrics snapshot
// into a single raw value (original_source mod.rs ScoringMethod).
type ScoringMethod interface {
	Score(latencies *Latencies, snapshot pool.Snapshot, capacity int) Scored
}

// Score maps a ScoringMethod's raw value onto a 0-100 curve via three
// piecewise-linear intervals anchored at v0/v60/v90/v100, exactly mirroring
// original_source mod.rs Score::calculate.
type Score struct {
	V100, V90, V60, V0 float64
	Weight             float64
	Method             ScoringMethod
}

// WeightedMethod is an alias of Score: the curve, its weight and its method.
type WeightedMethod = Score

func (s Score) Calculate(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}

	type interval struct{ v1, v2, base, diff float64 }
	intervals := []interval{
		{s.V100, s.V90, 90, 10},
		{s.V90, s.V60, 60, 30},
		{s.V60, s.V0, 0, 60},
	}
	for _, iv := range intervals {
		vMin, vMax := math.Min(iv.v1, iv.v2), math.Max(iv.v1, iv.v2)
		if vMin <= value && value < vMax {
			return iv.base + math.Abs(value-iv.v2)/(vMax-vMin)*iv.diff
		}
	}

	if s.V0 > s.V100 {
		if value < s.V100 {
			return 100
		}
		return 0
	}
	if value < s.V0 {
		return 0
	}
	return 100
}

// Run scores every configured Score against a scenario's recorded
// latencies and final snapshot, and weights them into one QoS.
func Run(scores []Score, latencies *Latencies, snapshot pool.Snapshot, capacity int) QoS {
	var weighted []WeightedScored
	var totalWeight, totalScore float64
	for _, sc := range scores {
		scored := sc.Method.Score(latencies, snapshot, capacity)
		v := sc.Calculate(scored.RawValue)
		weighted = append(weighted, WeightedScored{Weight: sc.Weight, Score: v, Scored: scored})
		totalWeight += sc.Weight
		totalScore += v * sc.Weight
	}
	var final float64
	if totalWeight > 0 {
		final = totalScore / totalWeight
	}
	return QoS{Scores: weighted, Value: final}
}

func dbName(index int) string { return fmt.Sprintf("t%d", index) }

// LatencyDistributionFairness measures how evenly a group of databases
// (identified by index range [Lo, Hi)) share latency, via the average
// coefficient of variation across the nine deciles of each database's
// distribution (original_source mod.rs LatencyDistribution).
type LatencyDistributionFairness struct {
	Lo, Hi int
}

func (m LatencyDistributionFairness) Score(latencies *Latencies, _ pool.Snapshot, _ int) Scored {
	names := make([]string, 0, m.Hi-m.Lo)
	for i := m.Lo; i < m.Hi; i++ {
		names = append(names, dbName(i))
	}

	cvs := make([]float64, 0, 9)
	for decile := 1; decile <= 9; decile++ {
		p := float64(decile * 10)
		values := make([]float64, 0, len(names))
		for _, name := range names {
			data := latencies.snapshot(name)
			if len(data) == 0 {
				values = append(values, 0)
				continue
			}
			values = append(values, percentile(data, p))
		}
		cvs = append(cvs, coefficientOfVariation(values))
	}

	raw := geometricMean(cvs)
	return Scored{
		Description:         fmt.Sprintf("Average CV for range [%d,%d)", m.Lo, m.Hi),
		DetailedCalculation: func(precision int) string { return fmt.Sprintf("%.*f", precision, cvs) },
		RawValue:            raw,
	}
}

// ConnectionOverhead scores the ratio of all-time reconnects to total
// queries issued (original_source mod.rs ConnectionOverhead).
type ConnectionOverhead struct{}

func (ConnectionOverhead) Score(latencies *Latencies, snapshot pool.Snapshot, _ int) Scored {
	reconnects := snapshot.AllTime.Get(pool.VarReconnecting)
	count := latencies.Len()
	raw := float64(reconnects) / float64(count)
	return Scored{
		Description:         "Num of re-connects/query",
		DetailedCalculation: func(_ int) string { return fmt.Sprintf("%d/%d", reconnects, count) },
		RawValue:            raw,
	}
}

// EndingCapacity scores the pool's total live connection count at the end
// of a scenario (original_source mod.rs EndingCapacity).
type EndingCapacity struct{}

func (EndingCapacity) Score(_ *Latencies, snapshot pool.Snapshot, _ int) Scored {
	total := snapshot.Total
	return Scored{
		Description:         "Ending capacity",
		DetailedCalculation: func(_ int) string { return fmt.Sprintf("%d", total) },
		RawValue:            float64(total),
	}
}

// LatencyRatio scores the ratio between a percentile of one database group
// (Dividend) and another (Divisor) — used to check that low-QPS databases
// are not starved relative to high-QPS ones (original_source mod.rs
// LatencyRatio).
type LatencyRatio struct {
	Percentile      float64
	DividendLo, DividendHi int
	DivisorLo, DivisorHi   int
}

func (m LatencyRatio) Score(latencies *Latencies, _ pool.Snapshot, _ int) Scored {
	group := func(lo, hi int) float64 {
		vals := make([]float64, 0, hi-lo)
		for i := lo; i < hi; i++ {
			data := latencies.snapshot(dbName(i))
			if len(data) == 0 {
				vals = append(vals, math.NaN())
				continue
			}
			vals = append(vals, percentile(data, m.Percentile))
		}
		return mean(vals)
	}
	divisor := group(m.DivisorLo, m.DivisorHi)
	dividend := group(m.DividendLo, m.DividendHi)
	raw := dividend / divisor
	return Scored{
		Description: fmt.Sprintf("P%.0f ratio [%d,%d)/[%d,%d)", m.Percentile, m.DividendLo, m.DividendHi, m.DivisorLo, m.DivisorHi),
		DetailedCalculation: func(precision int) string {
			return fmt.Sprintf("%.*f/%.*f", precision, dividend, precision, divisor)
		},
		RawValue: raw,
	}
}

// AbsoluteLatency scores the mean percentile latency across a group of
// databases (original_source mod.rs AbsoluteLatency).
type AbsoluteLatency struct {
	Percentile float64
	Lo, Hi     int
}

func (m AbsoluteLatency) Score(latencies *Latencies, _ pool.Snapshot, _ int) Scored {
	vals := make([]float64, 0, m.Hi-m.Lo)
	for i := m.Lo; i < m.Hi; i++ {
		data := latencies.snapshot(dbName(i))
		if len(data) == 0 {
			vals = append(vals, math.NaN())
			continue
		}
		vals = append(vals, percentile(data, m.Percentile))
	}
	raw := mean(vals)
	return Scored{
		Description:         fmt.Sprintf("Absolute P%.0f value [%d,%d)", m.Percentile, m.Lo, m.Hi),
		DetailedCalculation: func(precision int) string { return fmt.Sprintf("%.*f", precision, raw) },
		RawValue:            raw,
	}
}
