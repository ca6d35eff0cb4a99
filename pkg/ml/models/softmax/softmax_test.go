// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package softmax

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/gomlx/smoothgrad/pkg/core/shapes"
	"github.com/gomlx/smoothgrad/pkg/core/tensors"
	"github.com/gomlx/smoothgrad/pkg/interpret"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var _ interpret.Model = (*Model)(nil)

func testBatch(batchSize int, shape shapes.Shape) *tensors.Tensor {
	batch := tensors.FromShape(shape.WithBatch(batchSize))
	for ii := range batch.Flat() {
		batch.Flat()[ii] = float32((ii*7)%11)/11 - 0.5
	}
	return batch
}

func TestProbabilities(t *testing.T) {
	shape := shapes.Make(1, 2, 2)
	model := must.M1(NewRandom(5, shape, 1))
	probs := must.M1(model.Probabilities(testBatch(3, shape)))
	rows, cols := probs.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 5, cols)
	for ii := range rows {
		assert.InDelta(t, 1.0, floats.Sum(probs.RawRowView(ii)), 1e-9)
	}

	_, err := model.Probabilities(testBatch(3, shapes.Make(1, 3, 3)))
	require.Error(t, err)
	_, err = model.Probabilities(tensors.FromShape(shape.WithBatch(0)))
	require.Error(t, err)
}

func TestPredictions(t *testing.T) {
	// Class 1 weights the first input value, class 0 the negation of it.
	weights := mat.NewDense(2, 2, []float64{-1, 0, 1, 0})
	model := must.M1(New(weights, []float64{0, 0}, shapes.Make(2)))
	batch := tensors.FromFlatDataAndDimensions([]float32{1, 0, -1, 0}, 2, 2)
	gradients, predictions, err := model.Evaluate(batch, nil)
	require.NoError(t, err)
	assert.Nil(t, gradients)
	assert.Equal(t, []int{1, 0}, predictions)
}

func TestGradientsFiniteDifferences(t *testing.T) {
	shape := shapes.Make(2, 2, 2)
	for _, parallelism := range []int{0, 4} {
		model := must.M1(NewRandom(4, shape, 17)).WithParallelism(parallelism)
		batch := testBatch(3, shape)
		labels := []int{0, 3, 2}
		gradients, predictions, err := model.Evaluate(batch, labels)
		require.NoError(t, err)
		require.Len(t, predictions, 3)
		require.True(t, gradients.Shape().Equal(batch.Shape()))

		const epsilon = 1e-4
		x := mat.NewDense(3, shape.Size(), batch.CopyFlat())
		for ii, label := range labels {
			for jj := range shape.Size() {
				original := x.At(ii, jj)
				x.Set(ii, jj, original+epsilon)
				plus := model.probabilities(x).At(ii, label)
				x.Set(ii, jj, original-epsilon)
				minus := model.probabilities(x).At(ii, label)
				x.Set(ii, jj, original)
				numeric := (plus - minus) / (2 * epsilon)
				assert.InDelta(t, numeric, gradients.Row(ii)[jj], 1e-5,
					"parallelism=%d, example %d, input %d", parallelism, ii, jj)
			}
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	shape := shapes.Make(1, 2, 2)
	model := must.M1(NewRandom(3, shape, 0))
	batch := testBatch(2, shape)
	_, _, err := model.Evaluate(batch, []int{0})
	require.Error(t, err)
	_, _, err = model.Evaluate(batch, []int{0, 3})
	require.Error(t, err)
	_, _, err = model.Evaluate(batch, []int{-1, 0})
	require.Error(t, err)
	_, _, err = model.Evaluate(nil, nil)
	require.Error(t, err)

	_, err = NewRandom(0, shape, 0)
	require.Error(t, err)
	_, err = New(mat.NewDense(2, 3, nil), []float64{0, 0}, shape)
	require.Error(t, err)
	_, err = New(mat.NewDense(2, 4, nil), []float64{0}, shape)
	require.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	shape := shapes.Make(3, 2, 2)
	model := must.M1(NewRandom(4, shape, 7))
	var buf bytes.Buffer
	require.NoError(t, model.Save(&buf))
	loaded := must.M1(Load(&buf))
	assert.Equal(t, 4, loaded.NumClasses())
	assert.True(t, loaded.InputShape().Equal(shape))
	assert.True(t, mat.Equal(model.weights, loaded.weights))

	path := filepath.Join(t.TempDir(), "model.gob")
	require.NoError(t, model.SaveFile(path))
	loaded = must.M1(LoadFile(path))
	batch := testBatch(2, shape)
	_, want, err := model.Evaluate(batch, nil)
	require.NoError(t, err)
	_, got, err := loaded.Evaluate(batch, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.gob"))
	require.Error(t, err)
	_, err = Load(bytes.NewBufferString("not a model"))
	require.Error(t, err)
}

func TestNewRandomIsReproducible(t *testing.T) {
	shape := shapes.Make(1, 3, 3)
	m0 := must.M1(NewRandom(2, shape, 5))
	m1 := must.M1(NewRandom(2, shape, 5))
	m2 := must.M1(NewRandom(2, shape, 6))
	assert.True(t, mat.Equal(m0.weights, m1.weights))
	assert.False(t, mat.Equal(m0.weights, m2.weights))
}

func TestExplainWithSoftmax(t *testing.T) {
	shape := shapes.Make(3, 4, 4)
	model := must.M1(NewRandom(3, shape, 11))
	opts := interpret.DefaultOptions()
	opts.NumSamples, opts.Split, opts.Visual = 8, 3, false
	sample := testBatch(1, shape)
	explanation, err := interpret.New(model, interpret.WithSeed(1)).Explain(sample, nil, opts)
	require.NoError(t, err)
	_, predictions, err := model.Evaluate(sample, nil)
	require.NoError(t, err)
	assert.Equal(t, predictions[0], explanation.Label)
	assert.True(t, explanation.Map.Shape().Equal(shape))
}
