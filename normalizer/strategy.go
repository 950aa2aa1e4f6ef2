package normalizer

import "gorgonia.org/tensor"

// Strategy defines how statistics are accumulated from arrays and how they
// drive the forward and inverse transform.
//
// A is the mutable accumulation state of one array slot during a fit pass and
// S the immutable snapshot it finalizes into. A nil mask means every element
// is valid. Transform and Revert modify arr in place.
//
// Incremental fitting over many batches is only exact when the statistic is
// decomposable by an order-independent merge (sums, counts, min, max).
type Strategy[A, S any] interface {
	NewAccumulator() A
	Accumulate(acc A, arr, mask *tensor.Dense) error
	Finalize(acc A) (S, error)
	Transform(arr, mask *tensor.Dense, stats S) error
	Revert(arr, mask *tensor.Dense, stats S) error
}
