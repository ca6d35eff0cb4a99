// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpret

import (
	"math"

	"github.com/gomlx/smoothgrad/pkg/interpret/visualizer"
	"github.com/pkg/errors"
)

// Options of one interpretation call. Start from DefaultOptions and change what is needed.
//
// It can be loaded from yaml, see the `smoothgrad` command line tool.
type Options struct {
	// NoiseAmount is the scale of the noise added to each replica, relative to the range of
	// values of each channel: std = NoiseAmount * (max - min).
	NoiseAmount float64 `yaml:"noise_amount"`

	// NumSamples is the number of noised replicas whose gradients are averaged.
	NumSamples int `yaml:"n_samples"`

	// Split is the number of chunks the replicas are split into, to bound the memory used
	// by each model call.
	Split int `yaml:"split"`

	// ResizeTo is the size of the shorter edge the input images are resized to. 0 keeps the original size.
	ResizeTo int `yaml:"resize_to"`

	// CropTo is the size of the square center crop taken after resizing. 0 disables cropping.
	CropTo int `yaml:"crop_to"`

	// Visual displays the rendered explanation (in a notebook or in the terminal).
	Visual bool `yaml:"visual"`

	// SavePath, if not empty, is where the rendered explanation is saved.
	SavePath string `yaml:"save_path"`

	// Style used to render the explanation.
	Style visualizer.Style `yaml:"style"`
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		NoiseAmount: 0.1,
		NumSamples:  50,
		Split:       2,
		ResizeTo:    224,
		Visual:      true,
		Style:       visualizer.StyleOverlayGrayscale,
	}
}

// Validate returns an error wrapping ErrConfiguration if any of the options is invalid.
//
// A split larger than the number of samples is rejected, since it would leave chunks empty.
func (o Options) Validate() error {
	switch {
	case o.NumSamples < 1:
		return errors.Wrapf(ErrConfiguration, "n_samples=%d must be >= 1", o.NumSamples)
	case o.Split < 1:
		return errors.Wrapf(ErrConfiguration, "split=%d must be >= 1", o.Split)
	case o.NumSamples < o.Split:
		return errors.Wrapf(ErrConfiguration, "n_samples=%d must be >= split=%d", o.NumSamples, o.Split)
	case o.NoiseAmount < 0 || math.IsNaN(o.NoiseAmount) || math.IsInf(o.NoiseAmount, 0):
		return errors.Wrapf(ErrConfiguration, "noise_amount=%g must be a finite value >= 0", o.NoiseAmount)
	case o.ResizeTo < 0:
		return errors.Wrapf(ErrConfiguration, "resize_to=%d must be >= 0", o.ResizeTo)
	case o.CropTo < 0:
		return errors.Wrapf(ErrConfiguration, "crop_to=%d must be >= 0", o.CropTo)
	case !o.Style.IsValid():
		return errors.Wrapf(ErrConfiguration, "unknown style %q, valid styles are %q", o.Style, visualizer.Styles())
	}
	return nil
}
