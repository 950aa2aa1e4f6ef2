package normalizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// MinStd is the smallest standard deviation used to scale a feature.
const MinStd = 1e-5

// StandardizeStats holds the per-feature mean and standard deviation of one
// array slot.
type StandardizeStats struct {
	mean  []float64
	std   []float64
	count []float64
}

// Mean returns a copy of the per-feature means.
func (s StandardizeStats) Mean() []float64 { return append([]float64(nil), s.mean...) }

// Std returns a copy of the per-feature standard deviations.
func (s StandardizeStats) Std() []float64 { return append([]float64(nil), s.std...) }

// Count returns a copy of the per-feature number of valid elements seen.
func (s StandardizeStats) Count() []float64 { return append([]float64(nil), s.count...) }

// Features returns the number of features.
func (s StandardizeStats) Features() int { return len(s.mean) }

// MarshalYAML encodes the statistics as mean, std and count lists.
func (s StandardizeStats) MarshalYAML() (interface{}, error) {
	return struct {
		Mean  []float64 `yaml:"mean"`
		Std   []float64 `yaml:"std"`
		Count []float64 `yaml:"count"`
	}{s.mean, s.std, s.count}, nil
}

// StandardizeAccumulator tracks running count, mean and sum of squared
// deviations per feature.
type StandardizeAccumulator struct {
	count []float64
	mean  []float64
	m2    []float64
}

// StandardizeStrategy scales each feature to zero mean and unit variance.
type StandardizeStrategy struct{}

// NewStandardize returns a normalizer using StandardizeStrategy.
func NewStandardize() *MultiArrayNormalizer[*StandardizeAccumulator, StandardizeStats] {
	return New[*StandardizeAccumulator, StandardizeStats](StandardizeStrategy{})
}

func (StandardizeStrategy) NewAccumulator() *StandardizeAccumulator {
	return &StandardizeAccumulator{}
}

// Accumulate merges the batch moments of every feature column into acc.
func (StandardizeStrategy) Accumulate(acc *StandardizeAccumulator, arr, mask *tensor.Dense) error {
	cols, err := readColumns(arr, mask)
	if err != nil {
		return err
	}
	if acc.mean == nil {
		acc.count = make([]float64, len(cols))
		acc.mean = make([]float64, len(cols))
		acc.m2 = make([]float64, len(cols))
	} else if len(cols) != len(acc.mean) {
		return fmt.Errorf("%w: array has %d features, previous batches had %d",
			ErrShapeMismatch, len(cols), len(acc.mean))
	}
	for j, col := range cols {
		nb := float64(len(col))
		if nb == 0 {
			continue
		}
		mb, m2b := stat.Mean(col, nil), 0.0
		if nb > 1 {
			m2b = stat.Variance(col, nil) * (nb - 1)
		}
		na := acc.count[j]
		total := na + nb
		delta := mb - acc.mean[j]
		acc.mean[j] += delta * nb / total
		acc.m2[j] += m2b + delta*delta*na*nb/total
		acc.count[j] = total
	}
	return nil
}

func (StandardizeStrategy) Finalize(acc *StandardizeAccumulator) (StandardizeStats, error) {
	// every feature shares the same validity mask, so counts are equal
	if len(acc.count) == 0 || acc.count[0] == 0 {
		return StandardizeStats{}, ErrEmptyFit
	}
	s := StandardizeStats{
		mean:  make([]float64, len(acc.mean)),
		std:   make([]float64, len(acc.mean)),
		count: append([]float64(nil), acc.count...),
	}
	for j := range acc.mean {
		s.mean[j] = acc.mean[j]
		s.std[j] = math.Max(math.Sqrt(acc.m2[j]/acc.count[j]), MinStd)
	}
	return s, nil
}

func (StandardizeStrategy) Transform(arr, mask *tensor.Dense, s StandardizeStats) error {
	return mapValid(arr, mask, s.Features(), func(j int, x float64) float64 {
		return (x - s.mean[j]) / s.std[j]
	})
}

func (StandardizeStrategy) Revert(arr, mask *tensor.Dense, s StandardizeStats) error {
	return mapValid(arr, mask, s.Features(), func(j int, x float64) float64 {
		return x*s.std[j] + s.mean[j]
	})
}
