package normalizer

import (
	"fmt"

	"gorgonia.org/tensor"
)

// layout describes an array as examples x features x positions, where
// positions is the product of every axis after the feature axis.
type layout struct {
	examples  int
	features  int
	positions int
}

func newLayout(arr *tensor.Dense) (layout, error) {
	if arr == nil {
		return layout{}, fmt.Errorf("%w: nil array", ErrInvalidArgument)
	}
	if arr.IsView() {
		return layout{}, fmt.Errorf("%w: array must not be a view", ErrInvalidArgument)
	}
	shape := arr.Shape()
	switch len(shape) {
	case 0:
		return layout{}, fmt.Errorf("%w: scalar array", ErrInvalidArgument)
	case 1:
		return layout{examples: shape[0], features: 1, positions: 1}, nil
	}
	l := layout{examples: shape[0], features: shape[1], positions: 1}
	for _, d := range shape[2:] {
		l.positions *= d
	}
	return l, nil
}

func (l layout) index(example, feature, position int) int {
	return (example*l.features+feature)*l.positions + position
}

// validity returns one flag per example/position pair, or nil when every
// element is valid.
func (l layout) validity(mask *tensor.Dense) ([]bool, error) {
	if mask == nil {
		return nil, nil
	}
	if mask.IsView() {
		return nil, fmt.Errorf("%w: mask must not be a view", ErrInvalidArgument)
	}
	shape := mask.Shape()
	if len(shape) == 0 || shape[0] != l.examples || shape.TotalSize() != l.examples*l.positions {
		return nil, fmt.Errorf("%w: mask shape %v does not fit %d examples x %d positions",
			ErrShapeMismatch, shape, l.examples, l.positions)
	}
	valid := make([]bool, l.examples*l.positions)
	switch d := mask.Data().(type) {
	case []float64:
		for i, v := range d {
			valid[i] = v != 0
		}
	case []float32:
		for i, v := range d {
			valid[i] = v != 0
		}
	case []int:
		for i, v := range d {
			valid[i] = v != 0
		}
	case []bool:
		copy(valid, d)
	default:
		return nil, fmt.Errorf("%w: unsupported mask type %v", ErrInvalidArgument, mask.Dtype())
	}
	return valid, nil
}

// visit calls fn for every valid element, passing its feature and flat index.
func (l layout) visit(valid []bool, fn func(feature, idx int)) {
	for i := 0; i < l.examples; i++ {
		for k := 0; k < l.positions; k++ {
			if valid != nil && !valid[i*l.positions+k] {
				continue
			}
			for j := 0; j < l.features; j++ {
				fn(j, l.index(i, j, k))
			}
		}
	}
}

// columns groups the valid values of vals by feature.
func (l layout) columns(vals []float64, valid []bool) [][]float64 {
	cols := make([][]float64, l.features)
	l.visit(valid, func(j, idx int) {
		cols[j] = append(cols[j], vals[idx])
	})
	return cols
}

func readValues(arr *tensor.Dense) ([]float64, error) {
	switch d := arr.Data().(type) {
	case []float64:
		return append([]float64(nil), d...), nil
	case []float32:
		out := make([]float64, len(d))
		for i, v := range d {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported array type %v", ErrInvalidArgument, arr.Dtype())
	}
}

func writeValues(arr *tensor.Dense, vals []float64) {
	switch d := arr.Data().(type) {
	case []float64:
		copy(d, vals)
	case []float32:
		for i, v := range vals {
			d[i] = float32(v)
		}
	}
}

// readColumns reads arr and mask into per-feature slices of valid values.
func readColumns(arr, mask *tensor.Dense) ([][]float64, error) {
	l, err := newLayout(arr)
	if err != nil {
		return nil, err
	}
	valid, err := l.validity(mask)
	if err != nil {
		return nil, err
	}
	vals, err := readValues(arr)
	if err != nil {
		return nil, err
	}
	return l.columns(vals, valid), nil
}

// mapValid replaces every valid element x of feature j with fn(j, x).
// Padding elements are left as they are.
func mapValid(arr, mask *tensor.Dense, features int, fn func(j int, x float64) float64) error {
	l, err := newLayout(arr)
	if err != nil {
		return err
	}
	if l.features != features {
		return fmt.Errorf("%w: array has %d features, stats have %d", ErrShapeMismatch, l.features, features)
	}
	valid, err := l.validity(mask)
	if err != nil {
		return err
	}
	vals, err := readValues(arr)
	if err != nil {
		return err
	}
	l.visit(valid, func(j, idx int) {
		vals[idx] = fn(j, vals[idx])
	})
	writeValues(arr, vals)
	return nil
}
