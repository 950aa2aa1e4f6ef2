package normalizer

import (
	"gorgonia.org/tensor"
)

func dense(data []float64, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(append([]float64(nil), data...)))
}

func values(t *tensor.Dense) []float64 {
	return append([]float64(nil), t.Data().([]float64)...)
}

// twoSlotBatch has two feature slots and one label slot.
func twoSlotBatch(f0, f1, l0 []float64, rows int) *MultiDataSet {
	return NewMultiDataSet(
		[]*tensor.Dense{dense(f0, rows, 2), dense(f1, rows, 1)},
		[]*tensor.Dense{dense(l0, rows, 1)},
	)
}

var (
	d1F0 = []float64{1, 10, 2, 20, 3, 30}
	d1F1 = []float64{5, 6, 7}
	d1L0 = []float64{100, 200, 300}

	d2F0 = []float64{4, 40, 5, 50}
	d2F1 = []float64{8, 9}
	d2L0 = []float64{400, 500}
)

func batchD1() *MultiDataSet { return twoSlotBatch(d1F0, d1F1, d1L0, 3) }
func batchD2() *MultiDataSet { return twoSlotBatch(d2F0, d2F1, d2L0, 2) }

func batchConcat() *MultiDataSet {
	return twoSlotBatch(
		append(append([]float64(nil), d1F0...), d2F0...),
		append(append([]float64(nil), d1F1...), d2F1...),
		append(append([]float64(nil), d1L0...), d2L0...),
		5,
	)
}

// snapshot copies the values of every array in b, features first.
func snapshot(b *MultiDataSet) [][]float64 {
	var out [][]float64
	for _, arr := range append(append([]*tensor.Dense(nil), b.FeatureArrays...), b.LabelArrays...) {
		out = append(out, values(arr))
	}
	return out
}
