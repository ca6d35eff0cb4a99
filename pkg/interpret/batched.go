// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpret

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/smoothgrad/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ChunkSizes returns the number of samples in each of the split chunks of a batch of n samples:
// split-1 chunks of n/split samples, followed by one chunk with the remainder.
//
// The last chunk is always at least as large as the others. If n < split, the leading
// chunks have size 0.
func ChunkSizes(n, split int) []int {
	if split < 1 {
		return nil
	}
	chunk := n / split
	sizes := make([]int, split)
	for ii := range split - 1 {
		sizes[ii] = chunk
	}
	sizes[split-1] = n - chunk*(split-1)
	return sizes
}

// ChunkObserver is notified as each chunk of a batched evaluation is issued and completed.
// It is used to report progress.
type ChunkObserver interface {
	// OnChunkStart is called before the model is called on chunk, covering the samples [from, to).
	OnChunkStart(chunk, numChunks, from, to int)

	// OnChunkDone is called after the model successfully returned the gradients for chunk.
	OnChunkDone(chunk, numChunks, from, to int, elapsed time.Duration)
}

// BatchedEvaluator evaluates the gradients of a batch of noised replicas of one sample, all
// with respect to the same label, splitting the batch in chunks to bound peak memory.
//
// The concatenated result is the same as evaluating the whole batch at once: chunk i+1 is only
// issued after chunk i returned, every sample is evaluated exactly once, and the gradients
// are returned in the order of the samples.
type BatchedEvaluator struct {
	model    Model
	split    int
	observer ChunkObserver
}

// NewBatchedEvaluator creates an evaluator that splits batches in split chunks. It returns
// ErrConfiguration if split < 1.
func NewBatchedEvaluator(model Model, split int) (*BatchedEvaluator, error) {
	if model == nil {
		return nil, errors.Wrap(ErrConfiguration, "batched evaluator requires a model")
	}
	if split < 1 {
		return nil, errors.Wrapf(ErrConfiguration, "split=%d must be >= 1", split)
	}
	return &BatchedEvaluator{model: model, split: split}, nil
}

// WithObserver sets an observer to be notified of the progress of each chunk. It returns
// the evaluator itself, so calls can be cascaded.
func (e *BatchedEvaluator) WithObserver(observer ChunkObserver) *BatchedEvaluator {
	e.observer = observer
	return e
}

// Evaluate returns the gradients of each sample of noised (shaped `[n, channels, height, width]`)
// with respect to label.
//
// Zero-sized chunks are skipped. A failing chunk is reported as a *GradientComputationError.
func (e *BatchedEvaluator) Evaluate(noised *tensors.Tensor, label int) (*tensors.Tensor, error) {
	if noised == nil || noised.Rank() < 2 {
		return nil, errors.Wrap(ErrInvalidInput, "batched evaluation requires a batch of samples")
	}
	numSamples := noised.Dim(0)
	if numSamples == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "batched evaluation of an empty batch")
	}
	sampleShape := noised.Shape().Element()
	sizes := ChunkSizes(numSamples, e.split)
	parts := make([]*tensors.Tensor, 0, len(sizes))
	from := 0
	for chunkIdx, size := range sizes {
		to := from + size
		if size == 0 {
			klog.V(2).Infof("skipping empty chunk #%d of %d (n=%d, split=%d)", chunkIdx, len(sizes), numSamples, e.split)
			continue
		}
		chunk := noised
		if size != numSamples {
			chunk = noised.Slice(from, to)
		}
		klog.V(1).Infof("evaluating chunk #%d of %d: samples [%d, %d), %s", chunkIdx, len(sizes), from, to,
			humanize.Bytes(uint64(chunk.Memory())))
		if e.observer != nil {
			e.observer.OnChunkStart(chunkIdx, len(sizes), from, to)
		}
		start := time.Now()
		gradients, err := e.evaluateChunk(chunk, label)
		if err == nil && (gradients == nil || !gradients.Shape().Equal(sampleShape.WithBatch(size))) {
			err = errors.Errorf("model returned gradients shaped %s, expected %s", shapeOf(gradients), sampleShape.WithBatch(size))
		}
		if err != nil {
			return nil, &GradientComputationError{Chunk: chunkIdx, From: from, To: to, Err: err}
		}
		if e.observer != nil {
			e.observer.OnChunkDone(chunkIdx, len(sizes), from, to, time.Since(start))
		}
		parts = append(parts, gradients)
		from = to
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return tensors.Concatenate(parts...)
}

// evaluateChunk calls the model with the label replicated once per sample of the chunk.
func (e *BatchedEvaluator) evaluateChunk(chunk *tensors.Tensor, label int) (*tensors.Tensor, error) {
	gradients, _, err := callModel(e.model, chunk, RepeatLabel(label, chunk.Dim(0)))
	return gradients, err
}

// callModel calls model.Evaluate and converts any panic raised by it, error or not, to an error.
func callModel(model Model, batch *tensors.Tensor, labels []int) (gradients *tensors.Tensor, predictions []int, err error) {
	exception := exceptions.Try(func() {
		gradients, predictions, err = model.Evaluate(batch, labels)
	})
	if exception == nil {
		return
	}
	if panicErr, ok := exception.(error); ok {
		return nil, nil, errors.WithMessage(panicErr, "model panicked")
	}
	return nil, nil, errors.Errorf("model panicked: %v", exception)
}

// RepeatLabel returns a newly allocated slice with label repeated n times.
func RepeatLabel(label, n int) []int {
	labels := make([]int, n)
	for ii := range labels {
		labels[ii] = label
	}
	return labels
}

func shapeOf(t *tensors.Tensor) string {
	if t == nil {
		return "<nil>"
	}
	return t.Shape().String()
}
