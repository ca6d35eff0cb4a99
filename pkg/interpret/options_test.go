// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpret

import (
	"math"
	"testing"

	"github.com/gomlx/smoothgrad/pkg/interpret/visualizer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, 0.1, opts.NoiseAmount)
	assert.Equal(t, 50, opts.NumSamples)
	assert.Equal(t, 2, opts.Split)
	assert.Equal(t, 224, opts.ResizeTo)
	assert.Equal(t, 0, opts.CropTo)
	assert.True(t, opts.Visual)
	assert.Empty(t, opts.SavePath)
	assert.Equal(t, visualizer.StyleOverlayGrayscale, opts.Style)
}

func TestOptionsValidate(t *testing.T) {
	for name, change := range map[string]func(o *Options){
		"n_samples=0":      func(o *Options) { o.NumSamples = 0 },
		"split=0":          func(o *Options) { o.Split = 0 },
		"n_samples<split":  func(o *Options) { o.NumSamples, o.Split = 2, 3 },
		"negative noise":   func(o *Options) { o.NoiseAmount = -0.1 },
		"NaN noise":        func(o *Options) { o.NoiseAmount = math.NaN() },
		"negative resize":  func(o *Options) { o.ResizeTo = -1 },
		"negative crop":    func(o *Options) { o.CropTo = -1 },
		"unknown style":    func(o *Options) { o.Style = "sepia" },
		"infinite noise":   func(o *Options) { o.NoiseAmount = math.Inf(1) },
		"negative samples": func(o *Options) { o.NumSamples = -5 },
	} {
		opts := DefaultOptions()
		change(&opts)
		err := opts.Validate()
		assert.True(t, errors.Is(err, ErrConfiguration), "%s: expected ErrConfiguration, got %v", name, err)
	}

	opts := DefaultOptions()
	opts.NumSamples, opts.Split, opts.NoiseAmount = 3, 3, 0
	require.NoError(t, opts.Validate())
}

func TestOptionsYAML(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, yaml.Unmarshal([]byte(`
n_samples: 8
split: 4
style: heatmap
save_path: out/explanation.png
visual: false
`), &opts))
	assert.Equal(t, 8, opts.NumSamples)
	assert.Equal(t, 4, opts.Split)
	assert.Equal(t, visualizer.StyleHeatmap, opts.Style)
	assert.Equal(t, "out/explanation.png", opts.SavePath)
	assert.False(t, opts.Visual)
	assert.Equal(t, 0.1, opts.NoiseAmount, "unset fields keep their defaults")
	require.NoError(t, opts.Validate())
}
