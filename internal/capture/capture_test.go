package capture

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenscope/pkg/contract"
)

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func TestProcessIdentityPassThrough(t *testing.T) {
	p := New(3, 0)
	scores := []float32{1.5, -2, 0.25, 3}
	orig := append([]float32(nil), scores...)

	out := p.Process(nil, scores)
	require.Len(t, out, len(scores))
	assert.Same(t, &scores[0], &out[0], "必须返回同一切片")
	assert.Equal(t, orig, out, "分数不得被修改")
}

func TestNormalizeLogitsAndProbabilities(t *testing.T) {
	cases := []struct {
		name   string
		scores []float32
		want   []float64
	}{
		{"probabilities", []float32{0.5, 0.25, 0.25}, []float64{0.5, 0.25, 0.25}},
		{"logits_equal", []float32{2, 2}, []float64{0.5, 0.5}},
		{"masked", []float32{0, float32(math.Inf(-1)), 0}, []float64{0.5, 0, 0.5}},
		{"nan", []float32{float32(math.NaN()), 1, 0}, []float64{0, 1, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dist, ok := Normalize(tc.scores)
			require.True(t, ok)
			require.Len(t, dist, len(tc.want))
			for i := range tc.want {
				assert.InDelta(t, tc.want[i], dist[i], 1e-6)
			}
			assert.InDelta(t, 1.0, sum(dist), 1e-6)
		})
	}
}

func TestNormalizePositiveInfIsPointMass(t *testing.T) {
	inf := float32(math.Inf(1))
	cases := []struct {
		name   string
		scores []float32
		want   []float64
	}{
		{"single", []float32{inf, 0, 0}, []float64{1, 0, 0}},
		{"shared", []float32{inf, inf, 1}, []float64{0.5, 0.5, 0}},
		{"with_mask", []float32{float32(math.Inf(-1)), 0.3, inf}, []float64{0, 0, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dist, ok := Normalize(tc.scores)
			require.True(t, ok)
			assert.Equal(t, tc.want, dist)
		})
	}

	p := New(5, 0)
	p.Process(nil, []float32{inf, 0, 0})
	snap := p.Snapshots()[0]
	assert.False(t, snap.Degenerate)
	require.Len(t, snap.TopK, 1)
	assert.Equal(t, contract.TokenID(0), snap.TopK[0].TokenID)
	assert.Equal(t, 1.0, snap.TopK[0].Prob)
}

func TestNormalizeLargeLogitsStable(t *testing.T) {
	dist, ok := Normalize([]float32{1000, 999, -1000})
	require.True(t, ok)
	for _, p := range dist {
		assert.False(t, math.IsNaN(p) || math.IsInf(p, 0))
	}
	assert.InDelta(t, 1.0, sum(dist), 1e-9)
	assert.Greater(t, dist[0], dist[1])
}

func TestTopKBoundedAndOrdered(t *testing.T) {
	p := New(2, 0)
	p.Process(nil, []float32{0.1, 0.4, 0.2, 0.3})
	snaps := p.Snapshots()
	require.Len(t, snaps, 1)
	topk := snaps[0].TopK
	require.Len(t, topk, 2)
	assert.Equal(t, contract.TokenID(1), topk[0].TokenID)
	assert.Equal(t, contract.TokenID(3), topk[1].TokenID)
	assert.InDelta(t, 1.0, sum(snaps[0].Dist), 1e-6)
}

func TestTopKTieBrokenByAscendingID(t *testing.T) {
	dist := []float64{0.1, 0.3, 0.3, 0.3}
	topk := SelectTopK(dist, 2, 0)
	require.Len(t, topk, 2)
	assert.Equal(t, contract.TokenID(1), topk[0].TokenID)
	assert.Equal(t, contract.TokenID(2), topk[1].TokenID)

	// 重复执行结果一致
	again := SelectTopK(dist, 2, 0)
	assert.Equal(t, topk, again)
}

func TestMinProbFloorKeepsBest(t *testing.T) {
	dist := []float64{0.05, 0.6, 0.35}
	topk := SelectTopK(dist, 3, 0.3)
	require.Len(t, topk, 2)
	assert.Equal(t, contract.TokenID(1), topk[0].TokenID)
	assert.Equal(t, contract.TokenID(2), topk[1].TokenID)

	// 全部低于阈值时仍保留最高一项
	flat := []float64{0.25, 0.25, 0.25, 0.25}
	topk = SelectTopK(flat, 4, 0.9)
	require.Len(t, topk, 1)
	assert.Equal(t, contract.TokenID(0), topk[0].TokenID)
}

func TestDegenerateStepRecorded(t *testing.T) {
	p := New(5, 0)
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	p.Process(nil, []float32{nan, inf, float32(math.Inf(-1))})
	p.Process([]contract.TokenID{0}, []float32{0, 1})

	snaps := p.Snapshots()
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].Degenerate)
	assert.Empty(t, snaps[0].TopK)
	assert.Equal(t, 0, snaps[0].Step)
	assert.False(t, snaps[1].Degenerate)
	assert.Equal(t, 1, snaps[1].Step)
	assert.Equal(t, 1, p.Degenerate())
}

func TestLifecycle(t *testing.T) {
	p := New(3, 0)
	assert.Equal(t, PhaseConfigured, p.Phase())

	_, err := p.Begin()
	require.ErrorIs(t, err, contract.ErrEmptyCapture)
	assert.Equal(t, PhaseFailed, p.Phase())

	p = New(3, 0)
	p.Process(nil, []float32{1, 0})
	assert.Equal(t, PhaseCapturing, p.Phase())
	assert.Equal(t, 1, p.Len())

	snaps, err := p.Begin()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, PhaseAnalyzing, p.Phase())

	_, err = p.Begin()
	require.ErrorIs(t, err, contract.ErrProcessorBusy)

	p.End(true)
	assert.Equal(t, PhaseComplete, p.Phase())
	assert.Equal(t, "complete", p.Phase().String())
}

func TestSnapshotsIsCopy(t *testing.T) {
	p := New(2, 0)
	p.Process(nil, []float32{0.5, 0.5})
	a := p.Snapshots()
	a[0].Step = 99
	assert.Equal(t, 0, p.Snapshots()[0].Step)
}
