// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package visualizer

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/smoothgrad/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStyles(t *testing.T) {
	for _, style := range Styles() {
		assert.True(t, style.IsValid(), "style %q", style)
	}
	assert.True(t, Style("").IsValid())
	assert.False(t, Style("sepia").IsValid())
}

func TestSaliency(t *testing.T) {
	// Two channels that cancel out in value, but not in absolute value.
	explanation := tensors.FromFlatDataAndDimensions([]float32{
		0, 1, 2, 3,
		0, -1, -2, -3,
	}, 2, 2, 2)
	saliency, err := Saliency(explanation)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, saliency.Shape().Dimensions)
	assert.Equal(t, float32(0), saliency.At(0, 0))
	assert.Equal(t, float32(1), saliency.At(1, 1))
	assert.InDelta(t, 1.0/3.0, saliency.At(0, 1), 1e-6)

	// Uniform maps have no salient region.
	saliency, err = Saliency(tensors.FromScalarAndDimensions(2, 3, 4, 4))
	require.NoError(t, err)
	minV, maxV := saliency.MinMax()
	assert.Equal(t, float32(0), minV)
	assert.Equal(t, float32(0), maxV)

	_, err = Saliency(tensors.FromScalarAndDimensions(0, 4, 4))
	require.Error(t, err)
	_, err = Saliency(tensors.FromScalarAndDimensions(0, 3, 0, 4))
	require.Error(t, err)
	_, err = Saliency(nil)
	require.Error(t, err)
}

func TestSaliencyClipsOutliers(t *testing.T) {
	values := make([]float32, 200)
	for ii := range values {
		values[ii] = 1
	}
	values[0] = 1000
	values[1] = 0
	saliency, err := Saliency(tensors.FromFlatDataAndDimensions(values, 1, 10, 20))
	require.NoError(t, err)
	assert.Equal(t, float32(1), saliency.Flat()[0])
	assert.Equal(t, float32(0), saliency.Flat()[1])
	assert.Equal(t, float32(1), saliency.Flat()[2])
}

func displayImage(width, height int) image.Image {
	return imaging.New(width, height, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
}

func TestRender(t *testing.T) {
	explanation := tensors.FromScalarAndDimensions(0, 3, 4, 4)
	explanation.Set(5, 0, 1, 2)
	v := New()
	for _, style := range Styles() {
		t.Run(string(style), func(t *testing.T) {
			rendered, err := v.Render(displayImage(8, 8), explanation, style)
			require.NoError(t, err)
			assert.Equal(t, 8, rendered.Bounds().Dx())
			assert.Equal(t, 8, rendered.Bounds().Dy())
		})
	}

	gray, err := v.Render(nil, explanation, StyleGrayscale)
	require.NoError(t, err)
	assert.Equal(t, 4, gray.Bounds().Dx())
	r, _, _, _ := gray.At(2, 1).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)

	_, err = v.Render(nil, explanation, StyleOverlayGrayscale)
	require.Error(t, err)
	_, err = v.Render(displayImage(8, 8), explanation, Style("sepia"))
	require.Error(t, err)
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "explanation.png")
	v := New()
	require.NoError(t, v.Save(path, displayImage(4, 3)))
	loaded, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), loaded.Bounds())

	require.Error(t, v.Save(filepath.Join(t.TempDir(), "explanation.unknown"), displayImage(4, 3)))
	require.Error(t, v.Save(path, nil))
}

func TestShowPreview(t *testing.T) {
	t.Setenv("NOTEBOOK_BASH_KERNEL_CAPABILITIES", "")
	require.NoError(t, os.Unsetenv("NOTEBOOK_BASH_KERNEL_CAPABILITIES"))
	require.NoError(t, os.Unsetenv("GONB_PIPE"))

	var out bytes.Buffer
	v := New().WithWriter(&out).WithPreviewWidth(6)
	require.NoError(t, v.Show(displayImage(12, 8)))
	// Not a terminal: ASCII shades inside the frame.
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2+2)
	shadeOfDisplay := string(shade(luminance(color.NRGBA{R: 200, G: 100, B: 50, A: 255})))
	assert.Equal(t, 2, strings.Count(out.String(), strings.Repeat(shadeOfDisplay, 6)))
	require.Error(t, v.Show(nil))
	require.Error(t, Preview(&out, displayImage(4, 4), 0))
}
