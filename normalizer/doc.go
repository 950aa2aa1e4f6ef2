// Package normalizer fits running statistics over parallel feature and label
// arrays and uses them to normalize and de-normalize batches.
//
// A batch carries any number of feature arrays and label arrays, each with an
// optional mask. Slot identity is positional: the i-th feature array of every
// batch in one fit pass is accumulated into the i-th statistics snapshot, and
// every batch must present the same number of slots.
//
// How statistics are computed and applied is delegated to a Strategy. Two are
// provided: StandardizeStrategy (zero mean, unit variance) and MinMaxStrategy
// (scale into a target range).
//
// Arrays are *tensor.Dense values with axis 0 as examples and axis 1 as
// features. A mask has the array shape with axis 1 removed; zero marks padding.
//
// A MultiArrayNormalizer is not safe for concurrent use while fitting. Once fit,
// its statistics are immutable and may be read by concurrent PreProcess and
// Revert calls.
package normalizer
