// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interpret computes SmoothGrad explanations of image classifier decisions.
//
// SmoothGrad reduces the meaningless local variations of the input gradients by adding
// Gaussian noise to the input several times and averaging the resulting gradients. See
// "SmoothGrad: removing noise by adding noise", https://arxiv.org/abs/1706.03825.
//
// Example:
//
//	sg := interpret.New(model, interpret.WithSeed(42))
//	opts := interpret.DefaultOptions()
//	opts.Visual = false
//	opts.SavePath = "explanation.png"
//	explanation, err := sg.Interpret("cat.jpg", nil, opts)
//
// The model is only accessed through the Model interface, so any classifier able to return
// input gradients can be explained.
package interpret

import (
	"fmt"
	"image"
	"math/rand/v2"
	"time"

	"github.com/gomlx/smoothgrad/pkg/core/tensors"
	"github.com/gomlx/smoothgrad/pkg/interpret/readers"
	"github.com/gomlx/smoothgrad/pkg/interpret/visualizer"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// Visualizer renders an explanation over the image it explains, displays and saves it.
// *visualizer.Visualizer is the default implementation.
type Visualizer interface {
	Render(display image.Image, explanation *tensors.Tensor, style visualizer.Style) (image.Image, error)
	Show(img image.Image) error
	Save(path string, img image.Image) error
}

// Stage of an interpretation call. Stages are executed in order, and a failure in any of them
// aborts the call.
type Stage int

const (
	StageLabelResolution Stage = iota
	StageNoiseGeneration
	StageBatchedEvaluation
	StageAggregation
	StageDone
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StageLabelResolution:
		return "LabelResolution"
	case StageNoiseGeneration:
		return "NoiseGeneration"
	case StageBatchedEvaluation:
		return "BatchedEvaluation"
	case StageAggregation:
		return "Aggregation"
	case StageDone:
		return "Done"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Explanation is the result of one interpretation call.
type Explanation struct {
	// ID identifies the call in the logs.
	ID string

	// Label the gradients were taken with respect to.
	Label int

	// Predicted is true if Label was not given, but predicted by the model.
	Predicted bool

	// Map is the average of the gradients of the noised replicas, shaped like the sample:
	// `[channels, height, width]`.
	Map *tensors.Tensor

	// Image is the display image the sample was generated from, if the input went through
	// the preprocessing pipeline (see SmoothGrad.Interpret).
	Image image.Image

	// Visualization is the rendered explanation, if visualization or saving was requested.
	Visualization image.Image

	// Elapsed time computing the explanation.
	Elapsed time.Duration
}

// SmoothGrad is the interpretation engine. Create it with New.
//
// It owns a random source to generate the noise, so it must not be used concurrently: use one
// SmoothGrad per goroutine, each with an independent source (e.g.: WithSeed with different seeds).
type SmoothGrad struct {
	model      Model
	source     rand.Source
	visualizer Visualizer
	observer   ChunkObserver
}

// Option configures a SmoothGrad in New.
type Option func(sg *SmoothGrad)

// WithNoiseSource sets the random source used to generate the noise.
func WithNoiseSource(src rand.Source) Option {
	return func(sg *SmoothGrad) { sg.source = src }
}

// WithSeed uses a PCG random source seeded with seed, making the noise reproducible.
func WithSeed(seed uint64) Option {
	return func(sg *SmoothGrad) { sg.source = rand.NewPCG(seed, seed^0x9E3779B97F4A7C15) }
}

// WithVisualizer replaces the default visualizer.
func WithVisualizer(v Visualizer) Option {
	return func(sg *SmoothGrad) { sg.visualizer = v }
}

// WithChunkObserver sets an observer of the progress of the batched evaluation.
func WithChunkObserver(observer ChunkObserver) Option {
	return func(sg *SmoothGrad) { sg.observer = observer }
}

// New creates a SmoothGrad engine for the given model.
//
// Without WithNoiseSource or WithSeed, it uses a randomly seeded source.
func New(model Model, options ...Option) *SmoothGrad {
	sg := &SmoothGrad{
		model:      model,
		visualizer: visualizer.New(),
	}
	for _, option := range options {
		option(sg)
	}
	if sg.source == nil {
		sg.source = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return sg
}

// Interpret reads and preprocesses inputs (a file path, an image or a tensor, see
// readers.TransformPipeline), computes its explanation with Explain and, if requested in
// opts, renders it and saves and/or displays it.
//
// Exactly one input is supported per call. labels is either empty, in which case the label
// predicted by the model is used, or holds exactly one label.
//
// On failure no explanation is returned, and nothing is saved or displayed.
func (sg *SmoothGrad) Interpret(inputs any, labels []int, opts Options) (*Explanation, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	displayImages, data, err := readers.TransformPipeline(inputs, readers.Config{ResizeTo: opts.ResizeTo, CropTo: opts.CropTo})
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidInput, "preprocessing failed: %v", err)
	}
	explanation, err := sg.Explain(data, labels, opts)
	if err != nil {
		return nil, err
	}
	explanation.Image = displayImages[0]
	if !opts.Visual && opts.SavePath == "" {
		return explanation, nil
	}

	explanation.Visualization, err = sg.visualizer.Render(explanation.Image, explanation.Map, opts.Style)
	if err != nil {
		return nil, errors.WithMessagef(err, "rendering explanation %s", explanation.ID)
	}
	if opts.SavePath != "" {
		savePath := readers.SavePaths(opts.SavePath, 1)[0]
		if err = sg.visualizer.Save(savePath, explanation.Visualization); err != nil {
			return nil, errors.WithMessagef(err, "saving explanation %s", explanation.ID)
		}
		klog.V(1).Infof("explanation %s saved to %q", explanation.ID, savePath)
	}
	if opts.Visual {
		if err = sg.visualizer.Show(explanation.Visualization); err != nil {
			return nil, errors.WithMessagef(err, "displaying explanation %s", explanation.ID)
		}
	}
	return explanation, nil
}

// Explain computes the SmoothGrad explanation of data, a preprocessed batch holding exactly
// one sample, shaped `[1, channels, height, width]` (a `[channels, height, width]` sample is also
// accepted).
//
// labels is either empty, in which case the label predicted by the model for data is used,
// or holds exactly one non-negative label.
func (sg *SmoothGrad) Explain(data *tensors.Tensor, labels []int, opts Options) (*Explanation, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if sg.model == nil {
		return nil, errors.Wrap(ErrConfiguration, "SmoothGrad created without a model")
	}
	sample, err := singleSample(data)
	if err != nil {
		return nil, err
	}
	if len(labels) > 1 {
		return nil, errors.Wrapf(ErrInvalidInput, "exactly one label per call is supported, got %d labels", len(labels))
	}

	start := time.Now()
	explanation := &Explanation{ID: uuid.NewString()}
	tag := fmt.Sprintf("<SmoothGrad id=%s>", explanation.ID)
	stage := StageLabelResolution
	fail := func(err error) (*Explanation, error) {
		return nil, errors.WithMessagef(err, "%s failed at %s", tag, stage)
	}

	klog.V(2).Infof("%s: %s", tag, stage)
	explanation.Label, explanation.Predicted, err = sg.resolveLabel(sample, labels)
	if err != nil {
		return fail(err)
	}

	stage = StageNoiseGeneration
	klog.V(2).Infof("%s: %s (label=%d, predicted=%v)", tag, stage, explanation.Label, explanation.Predicted)
	noised, err := sg.noisedBatch(sample, opts)
	if err != nil {
		return fail(err)
	}

	stage = StageBatchedEvaluation
	klog.V(2).Infof("%s: %s (n_samples=%d, split=%d)", tag, stage, opts.NumSamples, opts.Split)
	evaluator, err := NewBatchedEvaluator(sg.model, opts.Split)
	if err != nil {
		return fail(err)
	}
	gradients, err := evaluator.WithObserver(sg.observer).Evaluate(noised, explanation.Label)
	if err != nil {
		return fail(err)
	}

	stage = StageAggregation
	klog.V(2).Infof("%s: %s", tag, stage)
	explanation.Map = MeanOverBatch(gradients)

	stage = StageDone
	explanation.Elapsed = time.Since(start)
	klog.V(1).Infof("%s: %s, label=%d (predicted=%v), %d samples in %d chunks, elapsed %s",
		tag, stage, explanation.Label, explanation.Predicted, opts.NumSamples, opts.Split, explanation.Elapsed)
	return explanation, nil
}

// singleSample returns the one sample in data, or an error if there isn't exactly one.
func singleSample(data *tensors.Tensor) (*tensors.Tensor, error) {
	if data == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil input")
	}
	switch data.Rank() {
	case 3:
		return data, nil
	case 4:
		if data.Dim(0) != 1 {
			return nil, errors.Wrapf(ErrUnsupportedBatchSize, "got %d samples (input shaped %s)", data.Dim(0), data.Shape())
		}
		return data.Reshape(data.Shape().Element().Dimensions...), nil
	default:
		return nil, errors.Wrapf(ErrInvalidInput, "input must be shaped [1, channels, height, width], got %s", data.Shape())
	}
}

// resolveLabel returns the label given by the caller, or the top-1 prediction of the model
// for the unperturbed sample.
func (sg *SmoothGrad) resolveLabel(sample *tensors.Tensor, labels []int) (label int, predicted bool, err error) {
	if len(labels) == 1 {
		if labels[0] < 0 {
			return 0, false, errors.Wrapf(ErrInvalidInput, "label=%d must be >= 0", labels[0])
		}
		return labels[0], false, nil
	}
	batch := sample.Reshape(sample.Shape().WithBatch(1).Dimensions...)
	_, predictions, err := callModel(sg.model, batch, nil)
	if err != nil {
		return 0, false, errors.Wrapf(ErrLabelResolution, "model failed on the unperturbed sample: %v", err)
	}
	if len(predictions) != 1 {
		return 0, false, errors.Wrapf(ErrLabelResolution, "model returned %d predictions for 1 sample", len(predictions))
	}
	if predictions[0] < 0 {
		return 0, false, errors.Wrapf(ErrLabelResolution, "model predicted invalid label %d", predictions[0])
	}
	return predictions[0], true, nil
}

// noisedBatch returns opts.NumSamples replicas of sample with added noise, calibrated with opts.NoiseAmount.
func (sg *SmoothGrad) noisedBatch(sample *tensors.Tensor, opts Options) (*tensors.Tensor, error) {
	profile, err := CalibrateNoise(sample, opts.NoiseAmount)
	if err != nil {
		return nil, err
	}
	sampler, err := NewNoiseSampler(profile, sample.Shape(), sg.source)
	if err != nil {
		return nil, err
	}
	noised := tensors.FromShape(sample.Shape().WithBatch(opts.NumSamples))
	input := sample.Flat()
	replicaIdx := 0
	for noise := range sampler.Sample(opts.NumSamples) {
		replica := noised.Row(replicaIdx)
		for ii, v := range noise.Flat() {
			replica[ii] = input[ii] + v
		}
		replicaIdx++
	}
	return noised, nil
}

// MeanOverBatch returns the element-wise mean over the leading axis of batch, accumulated in float64.
func MeanOverBatch(batch *tensors.Tensor) *tensors.Tensor {
	numRows := batch.Dim(0)
	elementShape := batch.Shape().Element()
	sum := make([]float64, elementShape.Size())
	row := make([]float64, elementShape.Size())
	for ii := range numRows {
		for jj, v := range batch.Row(ii) {
			row[jj] = float64(v)
		}
		floats.Add(sum, row)
	}
	floats.Scale(1/float64(numRows), sum)
	return tensors.FromFlatDataAndDimensions(sum, elementShape.Dimensions...)
}
