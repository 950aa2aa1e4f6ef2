// Package dataset provides batch sources over CIFAR-10 style binary files.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"gorgonia.org/tensor"

	"gonorm/normalizer"
)

const (
	Channels  = 3
	Height    = 32
	Width     = 32
	ImageSize = Channels * Height * Width
	LabelSize = 1
	Row       = LabelSize + ImageSize

	NumClasses = 10
)

var (
	// ErrTruncated indicates the file ends inside a record.
	ErrTruncated = errors.New("dataset: truncated record")
	// ErrLabelRange indicates a label byte outside [0, numClasses).
	ErrLabelRange = errors.New("dataset: label out of range")
)

// CIFARIterator yields batches of one feature array [n,3,32,32] scaled into
// [0,1] and one one-hot label array [n,numClasses]. It is restartable.
type CIFARIterator struct {
	r          io.ReadSeeker
	batchSize  int
	numClasses int
	records    int
	cursor     int
}

// NewCIFARIterator counts the records in r and positions before the first.
func NewCIFARIterator(r io.ReadSeeker, batchSize, numClasses int) (*CIFARIterator, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", batchSize)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("invalid number of classes %d", numClasses)
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if size%Row != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrTruncated, size%Row)
	}
	it := &CIFARIterator{
		r:          r,
		batchSize:  batchSize,
		numClasses: numClasses,
		records:    int(size / Row),
	}
	if err := it.Reset(); err != nil {
		return nil, err
	}
	return it, nil
}

// Records returns the number of records in the file.
func (it *CIFARIterator) Records() int {
	return it.records
}

func (it *CIFARIterator) Reset() error {
	if _, err := it.r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	it.cursor = 0
	return nil
}

func (it *CIFARIterator) HasNext() bool {
	return it.cursor < it.records
}

func (it *CIFARIterator) Next() (normalizer.Batch, error) {
	if !it.HasNext() {
		return nil, normalizer.ErrExhausted
	}
	n := it.batchSize
	if left := it.records - it.cursor; left < n {
		n = left
	}
	data := make([]byte, n*Row)
	if _, err := io.ReadFull(it.r, data); err != nil {
		return nil, fmt.Errorf("read records %d-%d: %w", it.cursor, it.cursor+n, err)
	}

	images := make([]float32, n*ImageSize)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		row := data[i*Row : (i+1)*Row]
		labels[i] = int(row[0])
		img := row[LabelSize:]
		norm := images[i*ImageSize : (i+1)*ImageSize]
		for k, b := range img {
			norm[k] = float32(b) / 255.0
		}
	}
	oneHot, err := OneHot(labels, it.numClasses)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", it.cursor, err)
	}
	it.cursor += n

	features := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(n, Channels, Height, Width), tensor.WithBacking(images))
	return normalizer.NewMultiDataSet([]*tensor.Dense{features}, []*tensor.Dense{oneHot}), nil
}

// OneHot encodes labels as a [len(labels), numClasses] float32 tensor.
func OneHot(labels []int, numClasses int) (*tensor.Dense, error) {
	numLabels := len(labels)
	norm := make([]float32, numLabels*numClasses)

	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrLabelRange, label, numClasses)
		}
		norm[i*numClasses+label] = 1.0
	}

	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(numLabels, numClasses), tensor.WithBacking(norm)), nil
}

// ReadLabelNames reads one class name per line, as in batches.meta.txt.
func ReadLabelNames(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var words []string
	for scanner.Scan() {
		if w := scanner.Text(); w != "" {
			words = append(words, w)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return words, nil
}
