package scoring

import (
	"testing"

	"github.com/kafitramarna/TransisiDB/internal/pool"
	"github.com/stretchr/testify/require"
)

func TestScoreCalculateMonotonic(t *testing.T) {
	s := Score{V100: 0.01, V90: 0.05, V60: 0.1, V0: 0.5}
	require.InDelta(t, 100, s.Calculate(0.005), 0.001)
	require.InDelta(t, 0, s.Calculate(0.6), 0.001)
	require.Greater(t, s.Calculate(0.02), s.Calculate(0.08))
}

func TestScoreCalculateNaNIsZero(t *testing.T) {
	s := Score{V100: 0.01, V90: 0.05, V60: 0.1, V0: 0.5}
	require.Equal(t, 0.0, s.Calculate(nanValue()))
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestConnectionOverheadRatio(t *testing.T) {
	latencies := NewLatencies()
	latencies.Mark("t0", 0.01)
	latencies.Mark("t0", 0.02)
	latencies.Mark("t1", 0.015)

	var snap pool.Snapshot
	snap.AllTime[pool.VarReconnecting] = 3

	scored := ConnectionOverhead{}.Score(latencies, snap, 0)
	require.InDelta(t, 1.0, scored.RawValue, 0.001)
}

func TestLatencyDistributionFairnessPerfectBalance(t *testing.T) {
	latencies := NewLatencies()
	for i := 0; i < 2; i++ {
		for n := 0; n < 100; n++ {
			latencies.Mark(dbName(i), 0.03)
		}
	}
	scored := LatencyDistributionFairness{Lo: 0, Hi: 2}.Score(latencies, pool.Snapshot{}, 0)
	require.InDelta(t, 0, scored.RawValue, 0.01)
}

func TestRunWeightsAcrossMethods(t *testing.T) {
	latencies := NewLatencies()
	latencies.Mark("t0", 0.01)

	var snap pool.Snapshot
	snap.Total = 5

	scores := []Score{
		{V100: 0, V90: 2, V60: 5, V0: 10, Weight: 1, Method: EndingCapacity{}},
	}
	qos := Run(scores, latencies, snap, 10)
	require.Len(t, qos.Scores, 1)
	require.GreaterOrEqual(t, qos.Value, 0.0)
	require.LessOrEqual(t, qos.Value, 100.0)
}
