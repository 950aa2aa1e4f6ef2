package normalizer

import (
	"fmt"

	"gorgonia.org/tensor"
)

const (
	sideFeatures = "features"
	sideLabels   = "labels"
)

// MultiArrayNormalizer fits per-slot statistics over batches of parallel
// arrays and applies a Strategy with them. Feature arrays are always
// normalized; label arrays only when FitLabel(true) was set.
type MultiArrayNormalizer[A, S any] struct {
	strategy     Strategy[A, S]
	featureStats *StatsSet[S]
	labelStats   *StatsSet[S]
	fitLabels    bool
}

// New returns an unfit normalizer driven by strategy.
func New[A, S any](strategy Strategy[A, S]) *MultiArrayNormalizer[A, S] {
	return &MultiArrayNormalizer[A, S]{strategy: strategy}
}

// FitLabel sets whether label arrays are fitted and transformed. It takes
// effect on the next Fit and does not alter statistics already computed.
func (n *MultiArrayNormalizer[A, S]) FitLabel(enabled bool) {
	n.fitLabels = enabled
}

// IsFitLabel reports whether label normalization is enabled.
func (n *MultiArrayNormalizer[A, S]) IsFitLabel() bool {
	return n.fitLabels
}

// IsFit reports whether feature statistics have been computed.
func (n *MultiArrayNormalizer[A, S]) IsFit() bool {
	return n.featureStats != nil
}

// FeatureStats returns the fitted feature statistics.
func (n *MultiArrayNormalizer[A, S]) FeatureStats() (*StatsSet[S], error) {
	if n.featureStats == nil {
		return nil, ErrNotFitted
	}
	return n.featureStats, nil
}

// LabelStats returns the fitted label statistics. They exist only when label
// fitting was enabled at the time of the last Fit.
func (n *MultiArrayNormalizer[A, S]) LabelStats() (*StatsSet[S], error) {
	if n.featureStats == nil || n.labelStats == nil {
		return nil, fmt.Errorf("%w: no label statistics", ErrNotFitted)
	}
	return n.labelStats, nil
}

// NumInputs returns the number of fitted feature slots.
func (n *MultiArrayNormalizer[A, S]) NumInputs() (int, error) {
	set, err := n.FeatureStats()
	if err != nil {
		return 0, err
	}
	return set.Len(), nil
}

// NumOutputs returns the number of fitted label slots.
func (n *MultiArrayNormalizer[A, S]) NumOutputs() (int, error) {
	set, err := n.LabelStats()
	if err != nil {
		return 0, err
	}
	return set.Len(), nil
}

// Fit computes statistics from this single batch only, replacing any
// previous statistics.
func (n *MultiArrayNormalizer[A, S]) Fit(b Batch) error {
	if b == nil {
		return fmt.Errorf("%w: nil batch", ErrInvalidArgument)
	}
	features, labels := n.newPass()
	if err := n.fitPartial(b, features, labels); err != nil {
		return err
	}
	return n.commit(features, labels)
}

// FitIterator resets it and accumulates every batch into one set of
// statistics, finalized once all batches are consumed. Feature and label
// statistics are computed in the same traversal. On error the previous
// statistics are kept.
func (n *MultiArrayNormalizer[A, S]) FitIterator(it Iterator) error {
	if it == nil {
		return fmt.Errorf("%w: nil iterator", ErrInvalidArgument)
	}
	if err := it.Reset(); err != nil {
		return fmt.Errorf("reset iterator: %w", err)
	}
	features, labels := n.newPass()
	for it.HasNext() {
		b, err := it.Next()
		if err != nil {
			return fmt.Errorf("next batch: %w", err)
		}
		if b == nil {
			return fmt.Errorf("%w: iterator produced nil batch", ErrInvalidArgument)
		}
		if err := n.fitPartial(b, features, labels); err != nil {
			return err
		}
	}
	return n.commit(features, labels)
}

func (n *MultiArrayNormalizer[A, S]) newPass() (features, labels *accumulators[A, S]) {
	return newAccumulators(n.strategy, sideFeatures), newAccumulators(n.strategy, sideLabels)
}

func (n *MultiArrayNormalizer[A, S]) fitPartial(b Batch, features, labels *accumulators[A, S]) error {
	if b.NumFeatureArrays() == 0 {
		return fmt.Errorf("%w: batch has no feature arrays", ErrEmptyFit)
	}
	if err := features.add(b.NumFeatureArrays(), b.Features, b.FeaturesMask); err != nil {
		return err
	}
	if !n.fitLabels {
		return labels.ensure(b.NumLabelsArrays())
	}
	return labels.add(b.NumLabelsArrays(), b.Labels, b.LabelsMask)
}

// commit finalizes both sides before touching the normalizer, so a failed
// finalize leaves the previous statistics in place.
func (n *MultiArrayNormalizer[A, S]) commit(features, labels *accumulators[A, S]) error {
	featureStats, err := features.build()
	if err != nil {
		return err
	}
	var labelStats *StatsSet[S]
	if n.fitLabels {
		if labelStats, err = labels.build(); err != nil {
			return err
		}
	}
	n.featureStats = featureStats
	n.labelStats = labelStats
	return nil
}

// PreProcess normalizes every feature array of b in place, and every label
// array when label normalization is enabled. Nothing in b is modified unless
// every array transforms successfully.
func (n *MultiArrayNormalizer[A, S]) PreProcess(b Batch) error {
	steps, err := n.planBatch(b)
	if err != nil {
		return err
	}
	return run(n.strategy.Transform, steps)
}

// Revert undoes PreProcess on b. Like PreProcess it either reverts every
// array or leaves b untouched.
func (n *MultiArrayNormalizer[A, S]) Revert(b Batch) error {
	steps, err := n.planBatch(b)
	if err != nil {
		return err
	}
	return run(n.strategy.Revert, steps)
}

// RevertFeatures undoes the normalization of feature arrays. masks may be nil.
func (n *MultiArrayNormalizer[A, S]) RevertFeatures(features, masks []*tensor.Dense) error {
	if features == nil {
		return fmt.Errorf("%w: nil feature arrays", ErrInvalidArgument)
	}
	featureStats, err := n.FeatureStats()
	if err != nil {
		return err
	}
	steps, err := plan(featureStats, sideFeatures, features, masks)
	if err != nil {
		return err
	}
	return run(n.strategy.Revert, steps)
}

// RevertFeature undoes the normalization of the feature array in slot input.
func (n *MultiArrayNormalizer[A, S]) RevertFeature(arr, mask *tensor.Dense, input int) error {
	featureStats, err := n.FeatureStats()
	if err != nil {
		return err
	}
	st, err := newStep(featureStats, sideFeatures, input, arr, mask)
	if err != nil {
		return err
	}
	return run(n.strategy.Revert, []step[S]{st})
}

// RevertLabels undoes the normalization of label arrays. It is a no-op when
// label normalization is disabled, so it can be called unconditionally, for
// example on the raw output of a regression network.
func (n *MultiArrayNormalizer[A, S]) RevertLabels(labels, masks []*tensor.Dense) error {
	if labels == nil {
		return fmt.Errorf("%w: nil label arrays", ErrInvalidArgument)
	}
	if !n.fitLabels {
		return nil
	}
	labelStats, err := n.LabelStats()
	if err != nil {
		return err
	}
	steps, err := plan(labelStats, sideLabels, labels, masks)
	if err != nil {
		return err
	}
	return run(n.strategy.Revert, steps)
}

// RevertLabel undoes the normalization of the label array in slot output, or
// does nothing when label normalization is disabled.
func (n *MultiArrayNormalizer[A, S]) RevertLabel(arr, mask *tensor.Dense, output int) error {
	if !n.fitLabels {
		return nil
	}
	labelStats, err := n.LabelStats()
	if err != nil {
		return err
	}
	st, err := newStep(labelStats, sideLabels, output, arr, mask)
	if err != nil {
		return err
	}
	return run(n.strategy.Revert, []step[S]{st})
}

// planBatch resolves the statistics of every array of b and checks both slot
// counts against the fitted sets, before anything is transformed.
func (n *MultiArrayNormalizer[A, S]) planBatch(b Batch) ([]step[S], error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil batch", ErrInvalidArgument)
	}
	featureStats, err := n.FeatureStats()
	if err != nil {
		return nil, err
	}
	steps, err := planSide(featureStats, sideFeatures, b.NumFeatureArrays(), b.Features, b.FeaturesMask)
	if err != nil {
		return nil, err
	}
	if !n.fitLabels {
		return steps, nil
	}
	labelStats, err := n.LabelStats()
	if err != nil {
		return nil, err
	}
	labelSteps, err := planSide(labelStats, sideLabels, b.NumLabelsArrays(), b.Labels, b.LabelsMask)
	if err != nil {
		return nil, err
	}
	return append(steps, labelSteps...), nil
}

// step is one array paired with the statistics of its slot.
type step[S any] struct {
	side  string
	slot  int
	arr   *tensor.Dense
	mask  *tensor.Dense
	stats S
}

func newStep[S any](set *StatsSet[S], side string, i int, arr, mask *tensor.Dense) (step[S], error) {
	if arr == nil {
		return step[S]{}, fmt.Errorf("%w: %s slot %d has no array", ErrInvalidArgument, side, i)
	}
	if arr.IsView() {
		return step[S]{}, fmt.Errorf("%w: %s slot %d is a view", ErrInvalidArgument, side, i)
	}
	stats, err := set.At(i)
	if err != nil {
		return step[S]{}, fmt.Errorf("%s: %w", side, err)
	}
	return step[S]{side: side, slot: i, arr: arr, mask: mask, stats: stats}, nil
}

func plan[S any](set *StatsSet[S], side string, arrays, masks []*tensor.Dense) ([]step[S], error) {
	steps := make([]step[S], 0, len(arrays))
	for i, arr := range arrays {
		st, err := newStep(set, side, i, arr, maskAt(masks, i))
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func planSide[S any](set *StatsSet[S], side string, count int, array, mask func(int) *tensor.Dense) ([]step[S], error) {
	if count != set.Len() {
		return nil, fmt.Errorf("%w: batch has %d %s slots, fitted %d", ErrSlotCountMismatch, count, side, set.Len())
	}
	arrays := make([]*tensor.Dense, count)
	masks := make([]*tensor.Dense, count)
	for i := 0; i < count; i++ {
		arrays[i] = array(i)
		masks[i] = mask(i)
	}
	return plan(set, side, arrays, masks)
}

type transformFunc[S any] func(arr, mask *tensor.Dense, stats S) error

// run applies fn to a copy of every array and copies the results back only
// once all of them succeeded.
func run[S any](fn transformFunc[S], steps []step[S]) error {
	staged := make([][]float64, len(steps))
	for i, st := range steps {
		work, ok := st.arr.Clone().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("%w: %s slot %d cannot be copied", ErrInvalidArgument, st.side, st.slot)
		}
		if err := fn(work, st.mask, st.stats); err != nil {
			return fmt.Errorf("%s slot %d: %w", st.side, st.slot, err)
		}
		vals, err := readValues(work)
		if err != nil {
			return fmt.Errorf("%s slot %d: %w", st.side, st.slot, err)
		}
		staged[i] = vals
	}
	for i, st := range steps {
		writeValues(st.arr, staged[i])
	}
	return nil
}
