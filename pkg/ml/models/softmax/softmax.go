// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package softmax implements a linear softmax image classifier, with analytic input gradients.
//
// It is a small reference implementation of interpret.Model: logits = W·x + b and p = softmax(logits),
// where x is the flattened image. The gradient of the probability of label l with respect to the
// input is:
//
//	∂p_l/∂x = p_l · (W_l - Σ_k p_k·W_k)
package softmax

import (
	"encoding/gob"
	"io"
	"math"
	"math/rand/v2"
	"os"

	"github.com/gomlx/smoothgrad/internal/workerspool"
	"github.com/gomlx/smoothgrad/pkg/core/shapes"
	"github.com/gomlx/smoothgrad/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"
)

// Model is a linear softmax classifier over inputs of a fixed shape.
//
// It is safe for concurrent use: its parameters are never changed after creation.
type Model struct {
	inputShape shapes.Shape
	weights    *mat.Dense // [numClasses, inputSize]
	bias       []float64  // [numClasses]
	pool       *workerspool.Pool
}

// New creates a model from its weights, shaped `[numClasses, inputSize]`, and bias, with one value per class.
// inputShape is the shape of one input example, usually `[channels, height, width]`.
func New(weights *mat.Dense, bias []float64, inputShape shapes.Shape) (*Model, error) {
	if weights == nil {
		return nil, errors.New("softmax model requires weights")
	}
	numClasses, inputSize := weights.Dims()
	if inputSize != inputShape.Size() {
		return nil, errors.Errorf("weights have %d columns, but inputs shaped %s have %d values", inputSize, inputShape, inputShape.Size())
	}
	if len(bias) != numClasses {
		return nil, errors.Errorf("bias has %d values, but weights have %d classes", len(bias), numClasses)
	}
	return &Model{
		inputShape: inputShape.Clone(),
		weights:    weights,
		bias:       bias,
		pool:       workerspool.New(),
	}, nil
}

// NewRandom creates a model with weights drawn from a normal distribution with standard deviation
// 1/sqrt(inputSize), and zero bias. The same seed always yields the same model.
func NewRandom(numClasses int, inputShape shapes.Shape, seed uint64) (*Model, error) {
	inputSize := inputShape.Size()
	if numClasses < 1 || inputSize < 1 {
		return nil, errors.Errorf("invalid model dimensions: %d classes, inputs shaped %s", numClasses, inputShape)
	}
	dist := distuv.Normal{Mu: 0, Sigma: 1 / math.Sqrt(float64(inputSize)), Src: rand.NewPCG(seed, seed)}
	values := make([]float64, numClasses*inputSize)
	for ii := range values {
		values[ii] = dist.Rand()
	}
	return New(mat.NewDense(numClasses, inputSize, values), make([]float64, numClasses), inputShape)
}

// WithParallelism sets the number of goroutines used to compute the gradients of a batch.
// 0 computes them sequentially. It returns the model itself.
func (m *Model) WithParallelism(parallelism int) *Model {
	m.pool = workerspool.New().SetMaxParallelism(parallelism)
	return m
}

// NumClasses returns the number of classes of the model.
func (m *Model) NumClasses() int {
	numClasses, _ := m.weights.Dims()
	return numClasses
}

// InputShape returns the shape of one input example.
func (m *Model) InputShape() shapes.Shape { return m.inputShape }

// Probabilities returns the probabilities of each class for each example of batch, shaped
// `[batchSize, numClasses]`.
func (m *Model) Probabilities(batch *tensors.Tensor) (*mat.Dense, error) {
	x, err := m.inputsMatrix(batch)
	if err != nil {
		return nil, err
	}
	return m.probabilities(x), nil
}

// inputsMatrix returns batch as a `[batchSize, inputSize]` matrix.
func (m *Model) inputsMatrix(batch *tensors.Tensor) (*mat.Dense, error) {
	if batch == nil || batch.Rank() != m.inputShape.Rank()+1 || !batch.Shape().Element().Equal(m.inputShape) {
		return nil, errors.Errorf("softmax model takes batches of inputs shaped %s, got %s", m.inputShape, batch)
	}
	if batch.Dim(0) == 0 {
		return nil, errors.New("softmax model got an empty batch")
	}
	return mat.NewDense(batch.Dim(0), m.inputShape.Size(), batch.CopyFlat()), nil
}

func (m *Model) probabilities(x *mat.Dense) *mat.Dense {
	batchSize, _ := x.Dims()
	probs := mat.NewDense(batchSize, m.NumClasses(), nil)
	probs.Mul(x, m.weights.T())
	for ii := range batchSize {
		row := probs.RawRowView(ii)
		floats.Add(row, m.bias)
		softmaxInPlace(row)
	}
	return probs
}

// softmaxInPlace replaces logits by their softmax, shifting by the max logit for numerical stability.
func softmaxInPlace(logits []float64) {
	maxLogit := floats.Max(logits)
	floats.AddConst(-maxLogit, logits)
	for ii, v := range logits {
		logits[ii] = math.Exp(v)
	}
	floats.Scale(1/floats.Sum(logits), logits)
}

// Evaluate implements interpret.Model.
//
// It returns the most probable class of each example and, if labels is not nil, the gradients of
// the probability of each label with respect to the example.
func (m *Model) Evaluate(batch *tensors.Tensor, labels []int) (*tensors.Tensor, []int, error) {
	x, err := m.inputsMatrix(batch)
	if err != nil {
		return nil, nil, err
	}
	batchSize := batch.Dim(0)
	if labels != nil {
		if len(labels) != batchSize {
			return nil, nil, errors.Errorf("got %d labels for a batch of %d examples", len(labels), batchSize)
		}
		for ii, label := range labels {
			if label < 0 || label >= m.NumClasses() {
				return nil, nil, errors.Errorf("label #%d is %d, but the model has %d classes", ii, label, m.NumClasses())
			}
		}
	}

	probs := m.probabilities(x)
	predictions := make([]int, batchSize)
	for ii := range batchSize {
		predictions[ii] = floats.MaxIdx(probs.RawRowView(ii))
	}
	if labels == nil {
		return nil, predictions, nil
	}

	// expected[i] = Σ_k p_ik·W_k
	_, inputSize := m.weights.Dims()
	expected := mat.NewDense(batchSize, inputSize, nil)
	expected.Mul(probs, m.weights)
	gradients := tensors.FromShape(batch.Shape())
	m.pool.ParallelFor(batchSize, func(ii int) {
		label := labels[ii]
		pLabel := probs.At(ii, label)
		wLabel := m.weights.RawRowView(label)
		expectedRow := expected.RawRowView(ii)
		row := gradients.Row(ii)
		for jj := range row {
			row[jj] = float32(pLabel * (wLabel[jj] - expectedRow[jj]))
		}
	})
	klog.V(3).Infof("softmax model evaluated gradients of %d examples", batchSize)
	return gradients, predictions, nil
}

// modelFile is the serialized form of a Model.
type modelFile struct {
	InputDimensions []int
	NumClasses      int
	Weights         []float64
	Bias            []float64
}

// Save writes the model parameters to w, encoded with encoding/gob.
func (m *Model) Save(w io.Writer) error {
	numClasses, inputSize := m.weights.Dims()
	file := modelFile{
		InputDimensions: m.inputShape.Dimensions,
		NumClasses:      numClasses,
		Weights:         make([]float64, 0, numClasses*inputSize),
		Bias:            m.bias,
	}
	for ii := range numClasses {
		file.Weights = append(file.Weights, m.weights.RawRowView(ii)...)
	}
	return errors.Wrap(gob.NewEncoder(w).Encode(&file), "failed to encode softmax model")
}

// SaveFile saves the model to the file in path.
func (m *Model) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create model file %q", path)
	}
	if err = m.Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close model file %q", path)
}

// Load reads a model saved with Save.
func Load(r io.Reader) (*Model, error) {
	var file modelFile
	if err := gob.NewDecoder(r).Decode(&file); err != nil {
		return nil, errors.Wrap(err, "failed to decode softmax model")
	}
	inputShape := shapes.Make(file.InputDimensions...)
	if file.NumClasses < 1 || inputShape.Size() < 1 || len(file.Weights) != file.NumClasses*inputShape.Size() {
		return nil, errors.Errorf("corrupted softmax model: %d classes, %d weights for inputs shaped %s",
			file.NumClasses, len(file.Weights), inputShape)
	}
	return New(mat.NewDense(file.NumClasses, inputShape.Size(), file.Weights), file.Bias, inputShape)
}

// LoadFile loads a model from the file in path.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open model file %q", path)
	}
	defer func() { _ = f.Close() }()
	m, err := Load(f)
	return m, errors.WithMessagef(err, "loading %q", path)
}
