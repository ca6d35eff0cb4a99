// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package readers

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/smoothgrad/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func solidImage(width, height int, c color.NRGBA) image.Image {
	return imaging.New(width, height, c)
}

func TestTransform(t *testing.T) {
	img := solidImage(40, 20, color.NRGBA{R: 255, A: 255})
	out := Transform(img, Config{ResizeTo: 10})
	assert.Equal(t, image.Pt(20, 10), out.Bounds().Size())

	out = Transform(img, Config{ResizeTo: 10, CropTo: 8})
	assert.Equal(t, image.Pt(8, 8), out.Bounds().Size())

	out = Transform(solidImage(15, 30, color.NRGBA{A: 255}), Config{ResizeTo: 10})
	assert.Equal(t, image.Pt(10, 20), out.Bounds().Size())

	out = Transform(img, Config{})
	assert.Equal(t, image.Pt(40, 20), out.Bounds().Size())
}

func TestTransformPipelineImages(t *testing.T) {
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	display, batch, err := TransformPipeline(solidImage(8, 6, white), Config{ResizeTo: 4, CropTo: 4})
	require.NoError(t, err)
	require.Len(t, display, 1)
	assert.Equal(t, []int{1, 3, 4, 4}, batch.Shape().Dimensions)
	for c := range 3 {
		want := (1 - ImageNetMean[c]) / ImageNetStd[c]
		assert.InDelta(t, want, batch.At(0, c, 2, 2), 1e-5)
	}

	_, batch, err = TransformPipeline([]image.Image{solidImage(4, 4, white), solidImage(4, 4, white)}, Config{})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 4}, batch.Shape().Dimensions)

	_, _, err = TransformPipeline([]image.Image{solidImage(4, 4, white), solidImage(5, 4, white)}, Config{})
	require.Error(t, err)
	_, _, err = TransformPipeline([]image.Image{}, Config{})
	require.Error(t, err)
	_, _, err = TransformPipeline(42, Config{})
	require.Error(t, err)
}

func TestTransformPipelineFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.png")
	require.NoError(t, imaging.Save(solidImage(6, 6, color.NRGBA{G: 255, A: 255}), path))

	display, batch, err := TransformPipeline(path, Config{ResizeTo: 3})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(3, 3), display[0].Bounds().Size())
	assert.InDelta(t, (1-ImageNetMean[1])/ImageNetStd[1], batch.At(0, 1, 0, 0), 1e-5)

	_, _, err = TransformPipeline(filepath.Join(dir, "missing.png"), Config{})
	require.Error(t, err)
}

func TestTransformPipelineTensor(t *testing.T) {
	sample := tensors.FromScalarAndDimensions(0, 3, 2, 2)
	display, batch, err := TransformPipeline(sample, Config{ResizeTo: 224})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2, 2}, batch.Shape().Dimensions, "tensors are not resized")
	require.Len(t, display, 1)
	// A normalized 0 is the mean color.
	r, g, b, _ := display[0].At(1, 1).RGBA()
	assert.InDelta(t, 0.485*255, float64(r>>8), 1)
	assert.InDelta(t, 0.456*255, float64(g>>8), 1)
	assert.InDelta(t, 0.406*255, float64(b>>8), 1)
	assert.Equal(t, float32(0), sample.At(0, 0, 0), "input must not be changed")

	_, _, err = TransformPipeline(tensors.FromScalarAndDimensions(0, 2, 2), Config{})
	require.Error(t, err)
	_, _, err = TransformPipeline(tensors.FromScalarAndDimensions(0, 1, 2, 2, 2), Config{})
	require.Error(t, err)
}

func TestTransformPipelineFloat16(t *testing.T) {
	data := make([]float16.Float16, 3*2*2)
	for ii := range data {
		data[ii] = float16.Fromfloat32(float32(ii) / 8)
	}
	display, batch, err := TransformPipeline(Float16{Data: data, Dimensions: []int{3, 2, 2}}, Config{ResizeTo: 224})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2, 2}, batch.Shape().Dimensions)
	assert.Equal(t, float32(0.125), batch.At(0, 0, 0, 1))
	assert.Equal(t, float32(1.375), batch.At(0, 2, 1, 1))
	require.Len(t, display, 1)
	assert.Equal(t, image.Pt(2, 2), display[0].Bounds().Size())

	_, _, err = TransformPipeline(Float16{Data: data, Dimensions: []int{3, 2, 3}}, Config{})
	require.Error(t, err)
	_, _, err = TransformPipeline(Float16{Data: data, Dimensions: []int{-3, 2, -2}}, Config{})
	require.Error(t, err)
	_, _, err = TransformPipeline(Float16{Data: data}, Config{})
	require.Error(t, err)
}

func TestNormalizeRoundTrip(t *testing.T) {
	batch := tensors.FromScalarAndDimensions(0.25, 2, 3, 2, 2)
	want := batch.Clone()
	Normalize(batch)
	assert.False(t, batch.Equal(want))
	Denormalize(batch)
	assert.True(t, batch.InDelta(want, 1e-6))
}

func TestSavePaths(t *testing.T) {
	assert.Equal(t, []string{""}, SavePaths("", 1))
	assert.Equal(t, []string{"out.png"}, SavePaths("out.png", 1))
	assert.Equal(t, []string{"out_0.png", "out_1.png"}, SavePaths("out.png", 2))

	dir := t.TempDir()
	assert.Equal(t, []string{filepath.Join(dir, "explanation_0.png")}, SavePaths(dir, 1))
	assert.Equal(t, []string{filepath.Join("results", "explanation_0.png")}, SavePaths("results"+string(os.PathSeparator), 1))
}
