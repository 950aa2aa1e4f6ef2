package normalizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// MinRange is the smallest max-min span used to scale a feature.
const MinRange = 1e-5

// MinMaxStats holds the per-feature minimum and maximum of one array slot,
// and the target range the strategy maps them to.
type MinMaxStats struct {
	min   []float64
	max   []float64
	lower float64
	upper float64
}

// Min returns a copy of the per-feature minimums.
func (s MinMaxStats) Min() []float64 { return append([]float64(nil), s.min...) }

// Max returns a copy of the per-feature maximums.
func (s MinMaxStats) Max() []float64 { return append([]float64(nil), s.max...) }

// Range returns the target range.
func (s MinMaxStats) Range() (lower, upper float64) { return s.lower, s.upper }

// Features returns the number of features.
func (s MinMaxStats) Features() int { return len(s.min) }

// MarshalYAML encodes the statistics as min and max lists plus the target range.
func (s MinMaxStats) MarshalYAML() (interface{}, error) {
	return struct {
		Min   []float64 `yaml:"min"`
		Max   []float64 `yaml:"max"`
		Lower float64   `yaml:"lower"`
		Upper float64   `yaml:"upper"`
	}{s.min, s.max, s.lower, s.upper}, nil
}

func (s MinMaxStats) span(j int) float64 {
	return math.Max(s.max[j]-s.min[j], MinRange)
}

// MinMaxAccumulator tracks running per-feature extremes.
type MinMaxAccumulator struct {
	min  []float64
	max  []float64
	seen bool
}

// MinMaxStrategy scales each feature linearly into [lower, upper]. The zero
// value maps into [0, 1].
type MinMaxStrategy struct {
	lower float64
	upper float64
}

// NewMinMaxStrategy returns a strategy mapping into [lower, upper].
func NewMinMaxStrategy(lower, upper float64) (MinMaxStrategy, error) {
	if !(lower < upper) {
		return MinMaxStrategy{}, fmt.Errorf("%w: min-max range [%v, %v]", ErrInvalidArgument, lower, upper)
	}
	return MinMaxStrategy{lower: lower, upper: upper}, nil
}

// NewMinMax returns a normalizer using MinMaxStrategy.
func NewMinMax(lower, upper float64) (*MultiArrayNormalizer[*MinMaxAccumulator, MinMaxStats], error) {
	s, err := NewMinMaxStrategy(lower, upper)
	if err != nil {
		return nil, err
	}
	return New[*MinMaxAccumulator, MinMaxStats](s), nil
}

func (MinMaxStrategy) NewAccumulator() *MinMaxAccumulator {
	return &MinMaxAccumulator{}
}

func (MinMaxStrategy) Accumulate(acc *MinMaxAccumulator, arr, mask *tensor.Dense) error {
	cols, err := readColumns(arr, mask)
	if err != nil {
		return err
	}
	if acc.min == nil {
		acc.min = make([]float64, len(cols))
		acc.max = make([]float64, len(cols))
	} else if len(cols) != len(acc.min) {
		return fmt.Errorf("%w: array has %d features, previous batches had %d",
			ErrShapeMismatch, len(cols), len(acc.min))
	}
	if len(cols) == 0 || len(cols[0]) == 0 {
		return nil
	}
	for j, col := range cols {
		lo, hi := floats.Min(col), floats.Max(col)
		if !acc.seen {
			acc.min[j], acc.max[j] = lo, hi
			continue
		}
		acc.min[j] = math.Min(acc.min[j], lo)
		acc.max[j] = math.Max(acc.max[j], hi)
	}
	acc.seen = true
	return nil
}

func (m MinMaxStrategy) Finalize(acc *MinMaxAccumulator) (MinMaxStats, error) {
	if !acc.seen {
		return MinMaxStats{}, ErrEmptyFit
	}
	s := MinMaxStats{
		min:   append([]float64(nil), acc.min...),
		max:   append([]float64(nil), acc.max...),
		lower: m.lower,
		upper: m.upper,
	}
	if m.lower == 0 && m.upper == 0 {
		s.upper = 1
	}
	return s, nil
}

func (MinMaxStrategy) Transform(arr, mask *tensor.Dense, s MinMaxStats) error {
	return mapValid(arr, mask, s.Features(), func(j int, x float64) float64 {
		return (x-s.min[j])/s.span(j)*(s.upper-s.lower) + s.lower
	})
}

func (MinMaxStrategy) Revert(arr, mask *tensor.Dense, s MinMaxStats) error {
	return mapValid(arr, mask, s.Features(), func(j int, x float64) float64 {
		return (x-s.lower)/(s.upper-s.lower)*s.span(j) + s.min[j]
	})
}
