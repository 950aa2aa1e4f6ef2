package normalizer

import (
	"fmt"

	"gorgonia.org/tensor"
)

// StatsSet is an ordered, immutable list of finalized statistics, one per
// array slot. Index i holds the statistics of the i-th array of every batch.
type StatsSet[S any] struct {
	stats []S
}

// Len returns the number of array slots.
func (s *StatsSet[S]) Len() int {
	return len(s.stats)
}

// At returns the statistics of slot i.
func (s *StatsSet[S]) At(i int) (S, error) {
	if i < 0 || i >= len(s.stats) {
		var zero S
		return zero, fmt.Errorf("%w: slot %d of %d", ErrSlotIndex, i, len(s.stats))
	}
	return s.stats[i], nil
}

// accumulators holds the per-slot accumulation state of one side (features or
// labels) during a single fit pass. The slot count is fixed by the first batch.
type accumulators[A, S any] struct {
	strategy Strategy[A, S]
	side     string
	slots    []A
	batches  int
}

func newAccumulators[A, S any](strategy Strategy[A, S], side string) *accumulators[A, S] {
	return &accumulators[A, S]{strategy: strategy, side: side}
}

// ensure creates the slot accumulators lazily on the first batch and checks
// every later batch presents the same number of slots.
func (a *accumulators[A, S]) ensure(n int) error {
	if a.batches == 0 {
		a.slots = make([]A, n)
		for i := range a.slots {
			a.slots[i] = a.strategy.NewAccumulator()
		}
	} else if n != len(a.slots) {
		return fmt.Errorf("%w: %s batch %d has %d slots, first batch had %d",
			ErrSlotCountMismatch, a.side, a.batches, n, len(a.slots))
	}
	a.batches++
	return nil
}

// add folds the arrays of one batch into their slot accumulators.
func (a *accumulators[A, S]) add(n int, array, mask func(int) *tensor.Dense) error {
	if err := a.ensure(n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		arr := array(i)
		if arr == nil {
			return fmt.Errorf("%w: %s slot %d has no array", ErrInvalidArgument, a.side, i)
		}
		if err := a.strategy.Accumulate(a.slots[i], arr, mask(i)); err != nil {
			return fmt.Errorf("accumulate %s slot %d: %w", a.side, i, err)
		}
	}
	return nil
}

// build finalizes every slot into a StatsSet.
func (a *accumulators[A, S]) build() (*StatsSet[S], error) {
	if a.batches == 0 {
		return nil, fmt.Errorf("%w: no %s batches", ErrEmptyFit, a.side)
	}
	set := &StatsSet[S]{stats: make([]S, len(a.slots))}
	for i, acc := range a.slots {
		s, err := a.strategy.Finalize(acc)
		if err != nil {
			return nil, fmt.Errorf("finalize %s slot %d: %w", a.side, i, err)
		}
		set.stats[i] = s
	}
	return set, nil
}
