package analysis

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rangescan/internal/scan"
)

func TestNewDecimatorRejectsFactorBelowOne(t *testing.T) {
	for _, n := range []int{0, -1, -50} {
		d, err := NewDecimator(n)
		assert.Nil(t, d)
		assert.True(t, errors.Is(err, scan.ErrConfiguration), "factor %d: %v", n, err)
	}
}

func TestDecimatorPositions(t *testing.T) {
	for _, tc := range []struct{ n, length int }{
		{1, 10}, {2, 10}, {3, 10}, {5, 23}, {7, 6}, {4, 0},
	} {
		d, err := NewDecimator(tc.n)
		require.NoError(t, err)

		var kept []int
		for pos := 1; pos <= tc.length; pos++ {
			if d.Keep() {
				kept = append(kept, pos)
			}
		}

		var want []int
		for pos := tc.n; pos <= tc.length; pos += tc.n {
			want = append(want, pos)
		}
		assert.Equal(t, want, kept, "N=%d L=%d", tc.n, tc.length)
		assert.Len(t, kept, tc.length/tc.n)
	}
}

func TestDecimatorFactorOneKeepsAll(t *testing.T) {
	d, err := NewDecimator(1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.True(t, d.Keep())
	}
	assert.Equal(t, 1, d.Factor())
}

type metreSample struct {
	q int
	a float64
	d float64
}

func (s metreSample) Quality() int      { return s.q }
func (s metreSample) AngleDeg() float64 { return s.a }
func (s metreSample) Distance() float64 { return s.d }
func (s metreSample) OK() bool          { return true }

func TestDetectOutliers(t *testing.T) {
	samples := []metreSample{
		{q: 40, a: 0, d: 1.0},    // clean
		{q: 40, a: 1, d: 0.15},   // too close, inclusive
		{q: 40, a: 2, d: 0.0},    // zero return
		{q: 40, a: 3, d: 12.0},   // at max, clean
		{q: 40, a: 4, d: 12.01},  // too far
		{q: 19, a: 5, d: 3.0},    // low quality
		{q: 3, a: 6, d: 0.05},    // close and low quality
		{q: 20, a: 7, d: 0.1501}, // clean
	}

	got := DetectOutliers(DefaultOutlierThresholds(), samples)
	want := []OutlierRecord{
		{Index: 1, AngleDeg: 1, DistanceM: 0.15, Reasons: TooClose},
		{Index: 2, AngleDeg: 2, DistanceM: 0.0, Reasons: TooClose},
		{Index: 4, AngleDeg: 4, DistanceM: 12.01, Reasons: TooFar},
		{Index: 5, AngleDeg: 5, DistanceM: 3.0, Reasons: LowQuality},
		{Index: 6, AngleDeg: 6, DistanceM: 0.05, Reasons: TooClose | LowQuality},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DetectOutliers mismatch (-want +got):\n%s", diff)
	}

	sum := Summarize(got)
	assert.Equal(t, OutlierSummary{Total: 5, TooClose: 3, TooFar: 1, LowQuality: 2}, sum)
}

func TestDetectOutliersIndependentOfValidity(t *testing.T) {
	// 0.18 m is rejected by the analysis filter (<= 0.20) but is not an
	// outlier (> 0.15): the two passes answer different questions.
	got := DetectOutliers(DefaultOutlierThresholds(), []metreSample{{q: 30, a: 0, d: 0.18}})
	assert.Empty(t, got)
}

func TestReasonFormatting(t *testing.T) {
	assert.Equal(t, "none", Reason(0).String())
	assert.Equal(t, "TooClose|LowQuality", (TooClose | LowQuality).String())
	assert.Equal(t, []string{"TooClose", "TooFar", "LowQuality"}, (TooClose | TooFar | LowQuality).Tags())
	assert.True(t, (TooFar | LowQuality).Has(TooFar))
	assert.False(t, TooFar.Has(TooClose))
	assert.False(t, TooFar.Has(0))
}
