package normalizer

import (
	"errors"
	"fmt"

	"gorgonia.org/tensor"
)

// Batch is a group of parallel feature and label arrays. Masks are optional
// per slot; a nil mask means every element of that array is valid.
type Batch interface {
	NumFeatureArrays() int
	NumLabelsArrays() int
	Features(i int) *tensor.Dense
	Labels(i int) *tensor.Dense
	FeaturesMask(i int) *tensor.Dense
	LabelsMask(i int) *tensor.Dense
}

// Iterator is a restartable source of batches. Reset positions it before the
// first batch.
type Iterator interface {
	Reset() error
	HasNext() bool
	Next() (Batch, error)
}

// PreProcessor transforms a batch in place.
type PreProcessor interface {
	PreProcess(b Batch) error
}

// MultiDataSet is the in-memory Batch. The mask slices may be nil or shorter
// than their array slices; missing entries mean no mask.
type MultiDataSet struct {
	FeatureArrays []*tensor.Dense
	LabelArrays   []*tensor.Dense
	FeatureMasks  []*tensor.Dense
	LabelMasks    []*tensor.Dense
}

// NewMultiDataSet returns an unmasked batch.
func NewMultiDataSet(features, labels []*tensor.Dense) *MultiDataSet {
	return &MultiDataSet{FeatureArrays: features, LabelArrays: labels}
}

func (m *MultiDataSet) NumFeatureArrays() int { return len(m.FeatureArrays) }
func (m *MultiDataSet) NumLabelsArrays() int  { return len(m.LabelArrays) }

func (m *MultiDataSet) Features(i int) *tensor.Dense { return m.FeatureArrays[i] }
func (m *MultiDataSet) Labels(i int) *tensor.Dense   { return m.LabelArrays[i] }

func (m *MultiDataSet) FeaturesMask(i int) *tensor.Dense { return maskAt(m.FeatureMasks, i) }
func (m *MultiDataSet) LabelsMask(i int) *tensor.Dense   { return maskAt(m.LabelMasks, i) }

func maskAt(masks []*tensor.Dense, i int) *tensor.Dense {
	if i < len(masks) {
		return masks[i]
	}
	return nil
}

// ErrExhausted is returned by Next when an iterator has no batches left.
var ErrExhausted = errors.New("normalizer: iterator exhausted")

// SliceIterator iterates over a fixed list of batches.
type SliceIterator struct {
	batches []Batch
	cursor  int
}

func NewSliceIterator(batches ...Batch) *SliceIterator {
	return &SliceIterator{batches: batches}
}

func (it *SliceIterator) Reset() error {
	it.cursor = 0
	return nil
}

func (it *SliceIterator) HasNext() bool {
	return it.cursor < len(it.batches)
}

func (it *SliceIterator) Next() (Batch, error) {
	if !it.HasNext() {
		return nil, ErrExhausted
	}
	b := it.batches[it.cursor]
	it.cursor++
	return b, nil
}

// PreProcessingIterator applies a PreProcessor to every batch it hands out.
type PreProcessingIterator struct {
	src Iterator
	pre PreProcessor
}

func NewPreProcessingIterator(src Iterator, pre PreProcessor) *PreProcessingIterator {
	return &PreProcessingIterator{src: src, pre: pre}
}

func (it *PreProcessingIterator) Reset() error { return it.src.Reset() }
func (it *PreProcessingIterator) HasNext() bool { return it.src.HasNext() }

func (it *PreProcessingIterator) Next() (Batch, error) {
	b, err := it.src.Next()
	if err != nil {
		return nil, err
	}
	if err := it.pre.PreProcess(b); err != nil {
		return nil, fmt.Errorf("preprocess batch: %w", err)
	}
	return b, nil
}
