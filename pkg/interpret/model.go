// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpret

import "github.com/gomlx/smoothgrad/pkg/core/tensors"

// Model is the seam between the interpretation engine and a differentiable classifier.
//
// Evaluate takes a batch shaped `[batch, channels, height, width]` and:
//
//   - if labels is nil, returns the top-1 predictions for each example; gradients may be nil.
//   - otherwise labels has one entry per example, and it returns the gradients of the
//     probability of each label with respect to its input, shaped like batch, plus the
//     predictions.
//
// Implementations may parallelize internally, but the engine always calls Evaluate from a
// single goroutine, one chunk at a time.
type Model interface {
	Evaluate(batch *tensors.Tensor, labels []int) (gradients *tensors.Tensor, predictions []int, err error)
}

// ModelFn adapts a function to the Model interface.
type ModelFn func(batch *tensors.Tensor, labels []int) (gradients *tensors.Tensor, predictions []int, err error)

// Evaluate implements Model.
func (fn ModelFn) Evaluate(batch *tensors.Tensor, labels []int) (*tensors.Tensor, []int, error) {
	return fn(batch, labels)
}
