package normalizer

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

const tolerance = 1e-9

func roundTrip[A, S any](t *testing.T, n *MultiArrayNormalizer[A, S], fitLabels bool) {
	t.Helper()
	n.FitLabel(fitLabels)
	require.NoError(t, n.Fit(batchConcat()))

	b := batchConcat()
	require.NoError(t, n.PreProcess(b))
	if fitLabels {
		assert.NotEqual(t, []float64{100, 200, 300, 400, 500}, values(b.Labels(0)))
	} else {
		assert.Equal(t, []float64{100, 200, 300, 400, 500}, values(b.Labels(0)))
	}
	assert.NotEqual(t, values(batchConcat().Features(0)), values(b.Features(0)))

	require.NoError(t, n.Revert(b))
	want := batchConcat()
	for i := 0; i < want.NumFeatureArrays(); i++ {
		assert.InDeltaSlice(t, values(want.Features(i)), values(b.Features(i)), tolerance, "feature slot %d", i)
	}
	assert.InDeltaSlice(t, values(want.Labels(0)), values(b.Labels(0)), 1e-7)
}

func TestRoundTrip(t *testing.T) {
	for _, fitLabels := range []bool{true, false} {
		t.Run(fmt.Sprintf("standardize/labels=%v", fitLabels), func(t *testing.T) {
			roundTrip(t, NewStandardize(), fitLabels)
		})
		t.Run(fmt.Sprintf("minmax/labels=%v", fitLabels), func(t *testing.T) {
			n, err := NewMinMax(-1, 1)
			require.NoError(t, err)
			roundTrip(t, n, fitLabels)
		})
	}
}

func TestMergeConsistency(t *testing.T) {
	whole := NewStandardize()
	whole.FitLabel(true)
	require.NoError(t, whole.Fit(batchConcat()))

	incremental := NewStandardize()
	incremental.FitLabel(true)
	require.NoError(t, incremental.FitIterator(NewSliceIterator(batchD1(), batchD2())))

	wantF, err := whole.FeatureStats()
	require.NoError(t, err)
	gotF, err := incremental.FeatureStats()
	require.NoError(t, err)
	require.Equal(t, wantF.Len(), gotF.Len())
	for i := 0; i < wantF.Len(); i++ {
		w, _ := wantF.At(i)
		g, _ := gotF.At(i)
		assert.InDeltaSlice(t, w.Mean(), g.Mean(), tolerance)
		assert.InDeltaSlice(t, w.Std(), g.Std(), tolerance)
		assert.Equal(t, w.Count(), g.Count())
	}

	s0, _ := gotF.At(0)
	assert.InDeltaSlice(t, []float64{3, 30}, s0.Mean(), tolerance)
	assert.InDeltaSlice(t, []float64{math.Sqrt(2), math.Sqrt(200)}, s0.Std(), tolerance)

	labels, err := incremental.LabelStats()
	require.NoError(t, err)
	l0, _ := labels.At(0)
	assert.InDeltaSlice(t, []float64{300}, l0.Mean(), tolerance)
}

func TestMergeConsistencyMinMax(t *testing.T) {
	whole, err := NewMinMax(0, 1)
	require.NoError(t, err)
	require.NoError(t, whole.Fit(batchConcat()))
	incremental, err := NewMinMax(0, 1)
	require.NoError(t, err)
	require.NoError(t, incremental.FitIterator(NewSliceIterator(batchD2(), batchD1())))

	w, _ := whole.FeatureStats()
	g, _ := incremental.FeatureStats()
	for i := 0; i < w.Len(); i++ {
		ws, _ := w.At(i)
		gs, _ := g.At(i)
		assert.Equal(t, ws.Min(), gs.Min())
		assert.Equal(t, ws.Max(), gs.Max())
	}
	s0, _ := g.At(0)
	assert.Equal(t, []float64{1, 10}, s0.Min())
	assert.Equal(t, []float64{5, 50}, s0.Max())
}

func TestToggleIndependence(t *testing.T) {
	with := NewStandardize()
	with.FitLabel(true)
	without := NewStandardize()
	without.FitLabel(false)

	require.NoError(t, with.FitIterator(NewSliceIterator(batchD1(), batchD2())))
	require.NoError(t, without.FitIterator(NewSliceIterator(batchD1(), batchD2())))

	a, err := with.FeatureStats()
	require.NoError(t, err)
	b, err := without.FeatureStats()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = with.LabelStats()
	assert.NoError(t, err)
	outputs, err := with.NumOutputs()
	require.NoError(t, err)
	assert.Equal(t, 1, outputs)

	_, err = without.LabelStats()
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = without.NumOutputs()
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestRestartSemantics(t *testing.T) {
	it := NewSliceIterator(batchD1(), batchD2())
	n := NewStandardize()
	n.FitLabel(true)

	require.NoError(t, n.FitIterator(it))
	first, _ := n.FeatureStats()
	firstLabels, _ := n.LabelStats()
	assert.False(t, it.HasNext())

	require.NoError(t, n.FitIterator(it))
	second, _ := n.FeatureStats()
	secondLabels, _ := n.LabelStats()

	assert.Equal(t, first, second)
	assert.Equal(t, firstLabels, secondLabels)
}

func TestRevertLabelsNoopWhenDisabled(t *testing.T) {
	n := NewStandardize()
	require.NoError(t, n.Fit(batchD1()))

	raw := []float64{-3, 0, 1e9, math.Inf(1)}
	labels := []*tensor.Dense{dense(raw, 4, 1)}
	require.NoError(t, n.RevertLabels(labels, nil))
	assert.Equal(t, raw, values(labels[0]))

	require.NoError(t, n.RevertLabel(labels[0], nil, 7))
	assert.Equal(t, raw, values(labels[0]))
}

func TestRevertLabelsNoopBeforeFit(t *testing.T) {
	n := NewStandardize()
	arr := dense([]float64{1, 2}, 2, 1)
	assert.NoError(t, n.RevertLabel(arr, nil, 0))
	assert.ErrorIs(t, n.RevertFeature(arr, nil, 0), ErrNotFitted)
}

func TestSlotCountMismatch(t *testing.T) {
	two := NewMultiDataSet(
		[]*tensor.Dense{dense([]float64{1, 2}, 2, 1), dense([]float64{3, 4}, 2, 1)}, nil)
	three := NewMultiDataSet([]*tensor.Dense{
		dense([]float64{1, 2}, 2, 1), dense([]float64{3, 4}, 2, 1), dense([]float64{5, 6}, 2, 1),
	}, nil)

	n := NewStandardize()
	err := n.FitIterator(NewSliceIterator(two, three))
	require.ErrorIs(t, err, ErrSlotCountMismatch)
	assert.False(t, n.IsFit())
}

func TestLabelSlotCountMismatch(t *testing.T) {
	a := NewMultiDataSet([]*tensor.Dense{dense([]float64{1}, 1, 1)}, []*tensor.Dense{dense([]float64{1}, 1, 1)})
	b := NewMultiDataSet([]*tensor.Dense{dense([]float64{2}, 1, 1)}, nil)

	n := NewStandardize()
	assert.ErrorIs(t, n.FitIterator(NewSliceIterator(a, b)), ErrSlotCountMismatch)
}

func TestEmptySourceKeepsState(t *testing.T) {
	n := NewStandardize()
	err := n.FitIterator(NewSliceIterator())
	require.ErrorIs(t, err, ErrEmptyFit)
	assert.False(t, n.IsFit())

	require.NoError(t, n.Fit(batchD1()))
	before, _ := n.FeatureStats()

	require.ErrorIs(t, n.FitIterator(NewSliceIterator()), ErrEmptyFit)
	after, err := n.FeatureStats()
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestNotFitted(t *testing.T) {
	n := NewStandardize()
	assert.False(t, n.IsFit())

	_, err := n.NumInputs()
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = n.NumOutputs()
	assert.ErrorIs(t, err, ErrNotFitted)
	assert.ErrorIs(t, n.PreProcess(batchD1()), ErrNotFitted)
	assert.ErrorIs(t, n.Revert(batchD1()), ErrNotFitted)
}

func TestInvalidArguments(t *testing.T) {
	n := NewStandardize()
	assert.ErrorIs(t, n.Fit(nil), ErrInvalidArgument)
	assert.ErrorIs(t, n.FitIterator(nil), ErrInvalidArgument)

	missing := NewMultiDataSet([]*tensor.Dense{nil}, nil)
	assert.ErrorIs(t, n.Fit(missing), ErrInvalidArgument)

	require.NoError(t, n.Fit(batchD1()))
	assert.ErrorIs(t, n.PreProcess(nil), ErrInvalidArgument)
	assert.ErrorIs(t, n.RevertFeatures(nil, nil), ErrInvalidArgument)
	assert.ErrorIs(t, n.RevertFeature(nil, nil, 0), ErrInvalidArgument)
	assert.ErrorIs(t, n.RevertFeature(dense([]float64{1}, 1, 1), nil, 5), ErrSlotIndex)
}

func TestFitReplacesState(t *testing.T) {
	n := NewStandardize()
	n.FitLabel(true)
	require.NoError(t, n.Fit(batchD1()))
	inputs, err := n.NumInputs()
	require.NoError(t, err)
	assert.Equal(t, 2, inputs)

	n.FitLabel(false)
	single := NewMultiDataSet([]*tensor.Dense{dense([]float64{1, 3}, 2, 1)}, nil)
	require.NoError(t, n.Fit(single))

	inputs, err = n.NumInputs()
	require.NoError(t, err)
	assert.Equal(t, 1, inputs)
	_, err = n.LabelStats()
	assert.ErrorIs(t, err, ErrNotFitted)

	stats, _ := n.FeatureStats()
	s, _ := stats.At(0)
	assert.Equal(t, []float64{2}, s.Mean())
}

func TestLabelToggleAfterFit(t *testing.T) {
	n := NewStandardize()
	require.NoError(t, n.Fit(batchD1()))

	n.FitLabel(true)
	assert.True(t, n.IsFitLabel())
	b := batchD1()
	assert.ErrorIs(t, n.PreProcess(b), ErrNotFitted)
	assert.Equal(t, d1F0, values(b.Features(0)))
	assert.Equal(t, d1F1, values(b.Features(1)))

	assert.ErrorIs(t, n.Revert(b), ErrNotFitted)
	assert.Equal(t, d1F0, values(b.Features(0)))
}

func TestFailedApplyLeavesBatchUnchanged(t *testing.T) {
	n := NewStandardize()
	n.FitLabel(true)
	require.NoError(t, n.Fit(batchD1()))

	tests := []struct {
		name  string
		batch func() *MultiDataSet
		err   error
	}{
		{"extra label slot", func() *MultiDataSet {
			b := batchD1()
			b.LabelArrays = append(b.LabelArrays, dense([]float64{1, 2, 3}, 3, 1))
			return b
		}, ErrSlotCountMismatch},
		{"missing feature slot", func() *MultiDataSet {
			b := batchD1()
			b.FeatureArrays = b.FeatureArrays[:1]
			return b
		}, ErrSlotCountMismatch},
		{"second slot too wide", func() *MultiDataSet {
			b := batchD1()
			b.FeatureArrays[1] = dense([]float64{1, 2, 3, 4, 5, 6}, 3, 2)
			return b
		}, ErrShapeMismatch},
		{"bad label array", func() *MultiDataSet {
			b := batchD1()
			b.LabelArrays[0] = dense([]float64{1, 2}, 1, 2)
			return b
		}, ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.batch()
			before := snapshot(b)
			assert.ErrorIs(t, n.PreProcess(b), tt.err)
			assert.Equal(t, before, snapshot(b))

			assert.ErrorIs(t, n.Revert(b), tt.err)
			assert.Equal(t, before, snapshot(b))
		})
	}
}

func TestRevertFeaturesLeavesArraysOnError(t *testing.T) {
	n := NewStandardize()
	require.NoError(t, n.Fit(batchD1()))

	first := dense(d1F0, 3, 2)
	features := []*tensor.Dense{first, nil}
	assert.ErrorIs(t, n.RevertFeatures(features, nil), ErrInvalidArgument)
	assert.Equal(t, d1F0, values(first))
}

func TestFitWithoutFeatureArrays(t *testing.T) {
	n := NewStandardize()
	onlyLabels := NewMultiDataSet(nil, []*tensor.Dense{dense([]float64{1, 2}, 2, 1)})
	assert.ErrorIs(t, n.Fit(onlyLabels), ErrEmptyFit)
	assert.ErrorIs(t, n.FitIterator(NewSliceIterator(onlyLabels)), ErrEmptyFit)
	assert.False(t, n.IsFit())
}

func TestViewMaskRejected(t *testing.T) {
	parent := dense(make([]float64, 12), 4, 3)
	view, err := parent.Slice(nil, tensor.S(0, 1))
	require.NoError(t, err)
	mask, ok := view.(*tensor.Dense)
	require.True(t, ok)
	require.True(t, mask.IsView())

	b := &MultiDataSet{
		FeatureArrays: []*tensor.Dense{dense([]float64{1, 2, 3, 4}, 4, 1)},
		FeatureMasks:  []*tensor.Dense{mask},
	}
	n := NewStandardize()
	assert.ErrorIs(t, n.Fit(b), ErrInvalidArgument)

	require.NoError(t, n.Fit(NewMultiDataSet(b.FeatureArrays, nil)))
	assert.ErrorIs(t, n.PreProcess(b), ErrInvalidArgument)
	assert.Equal(t, []float64{1, 2, 3, 4}, values(b.Features(0)))
	assert.ErrorIs(t, n.Revert(b), ErrInvalidArgument)
}

func TestPreProcessSlotCount(t *testing.T) {
	n := NewStandardize()
	require.NoError(t, n.Fit(batchD1()))

	one := NewMultiDataSet([]*tensor.Dense{dense([]float64{1, 2, 3, 4}, 2, 2)}, nil)
	assert.ErrorIs(t, n.PreProcess(one), ErrSlotCountMismatch)

	wide := NewMultiDataSet([]*tensor.Dense{dense([]float64{1, 2, 3}, 1, 3), dense([]float64{1}, 1, 1)}, nil)
	assert.ErrorIs(t, n.PreProcess(wide), ErrShapeMismatch)
	assert.Equal(t, []float64{1}, values(wide.Features(1)))
}

func TestMaskedSequences(t *testing.T) {
	// 2 examples, 1 feature, 3 time steps; the last step is padding.
	arr := []float64{1, 2, 100, 3, 4, 100}
	mask := dense([]float64{1, 1, 0, 1, 1, 0}, 2, 3)
	b := &MultiDataSet{
		FeatureArrays: []*tensor.Dense{dense(arr, 2, 1, 3)},
		FeatureMasks:  []*tensor.Dense{mask},
	}

	n := NewStandardize()
	require.NoError(t, n.Fit(b))
	stats, _ := n.FeatureStats()
	s, _ := stats.At(0)
	assert.InDeltaSlice(t, []float64{2.5}, s.Mean(), tolerance)
	assert.InDeltaSlice(t, []float64{math.Sqrt(1.25)}, s.Std(), tolerance)
	assert.Equal(t, []float64{4}, s.Count())

	require.NoError(t, n.PreProcess(b))
	got := values(b.Features(0))
	assert.Equal(t, 100.0, got[2])
	assert.Equal(t, 100.0, got[5])
	assert.InDelta(t, -1.5/math.Sqrt(1.25), got[0], tolerance)

	require.NoError(t, n.Revert(b))
	assert.InDeltaSlice(t, arr, values(b.Features(0)), tolerance)
}

func TestPreProcessingIterator(t *testing.T) {
	n := NewStandardize()
	src := NewSliceIterator(batchD1(), batchD2())
	require.NoError(t, n.FitIterator(src))

	it := NewPreProcessingIterator(src, n)
	require.NoError(t, it.Reset())
	var got []float64
	for it.HasNext() {
		b, err := it.Next()
		require.NoError(t, err)
		got = append(got, values(b.Features(1))...)
	}
	// feature slot 1 is 5..9: mean 7, std sqrt(2)
	want := []float64{-2, -1, 0, 1, 2}
	for i := range want {
		want[i] /= math.Sqrt(2)
	}
	assert.InDeltaSlice(t, want, got, tolerance)

	_, err := it.Next()
	assert.True(t, errors.Is(err, ErrExhausted))
}
