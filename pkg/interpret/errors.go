// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpret

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidInput is returned for malformed or degenerate inputs: nil tensors, wrong ranks,
	// zero spatial extent, more than one label or negative labels.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedBatchSize is returned when more (or less) than exactly one sample is given to
	// one interpretation call.
	ErrUnsupportedBatchSize = errors.New("unsupported batch size, interpret each sample individually")

	// ErrConfiguration is returned for invalid Options, e.g.: split < 1 or n_samples < 1.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrLabelResolution is returned when the model fails to predict the label of the unperturbed input.
	ErrLabelResolution = errors.New("failed to resolve label from model prediction")
)

// GradientComputationError is returned when the model fails to evaluate one of the chunks of
// the noised batch. Chunk is the position of the chunk in the plan returned by ChunkSizes, and
// [From, To) the range of samples it covered.
//
// The evaluation is never retried: the averaged explanation would be biased by a missing chunk.
type GradientComputationError struct {
	Chunk    int
	From, To int
	Err      error
}

// Error implements the error interface.
func (e *GradientComputationError) Error() string {
	return fmt.Sprintf("gradient computation failed on chunk #%d (samples [%d, %d)): %v", e.Chunk, e.From, e.To, e.Err)
}

// Unwrap returns the underlying error raised by the model.
func (e *GradientComputationError) Unwrap() error { return e.Err }
