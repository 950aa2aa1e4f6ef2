package normalizer

import "errors"

var (
	// ErrNotFitted indicates statistics were requested before a successful fit.
	ErrNotFitted = errors.New("normalizer: not fitted")
	// ErrSlotCountMismatch indicates batches disagree on the number of array slots.
	ErrSlotCountMismatch = errors.New("normalizer: array slot count mismatch")
	// ErrEmptyFit indicates a fit pass saw no data to compute statistics from.
	ErrEmptyFit = errors.New("normalizer: no data to fit")
	// ErrInvalidArgument indicates a required batch, array or setting is missing or invalid.
	ErrInvalidArgument = errors.New("normalizer: invalid argument")
	// ErrShapeMismatch indicates an array or mask shape disagrees with the fitted layout.
	ErrShapeMismatch = errors.New("normalizer: shape mismatch")
	// ErrSlotIndex indicates a slot index outside the fitted statistics.
	ErrSlotIndex = errors.New("normalizer: slot index out of range")
)
