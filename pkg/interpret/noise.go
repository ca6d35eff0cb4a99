// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpret

import (
	"iter"
	"math"
	"math/rand/v2"

	"github.com/gomlx/smoothgrad/pkg/core/shapes"
	"github.com/gomlx/smoothgrad/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"
)

// NoiseProfile holds the standard deviation of the noise added to each channel.
type NoiseProfile []float64

// CalibrateNoise returns the standard deviation of the noise for each channel of sample,
// shaped `[channels, height, width]`:
//
//	std[c] = noiseAmount * (max(sample[c]) - min(sample[c]))
//
// It returns ErrInvalidInput if the sample is not rank-3 or has zero channels or zero
// spatial extent, and ErrConfiguration if noiseAmount is negative.
func CalibrateNoise(sample *tensors.Tensor, noiseAmount float64) (NoiseProfile, error) {
	if sample == nil {
		return nil, errors.Wrap(ErrInvalidInput, "noise calibration of a nil sample")
	}
	if sample.Rank() != 3 {
		return nil, errors.Wrapf(ErrInvalidInput, "noise calibration requires a sample shaped [channels, height, width], got %s", sample.Shape())
	}
	if sample.Shape().IsZeroSize() {
		return nil, errors.Wrapf(ErrInvalidInput, "noise calibration of degenerate sample shaped %s", sample.Shape())
	}
	if noiseAmount < 0 || math.IsNaN(noiseAmount) {
		return nil, errors.Wrapf(ErrConfiguration, "noise_amount=%g must be >= 0", noiseAmount)
	}
	numChannels := sample.Dim(0)
	planeSize := sample.Dim(1) * sample.Dim(2)
	values := sample.CopyFlat()
	profile := make(NoiseProfile, numChannels)
	for c := range numChannels {
		plane := values[c*planeSize : (c+1)*planeSize]
		if floats.HasNaN(plane) {
			return nil, errors.Wrapf(ErrInvalidInput, "channel %d of sample has NaN values", c)
		}
		valueRange := floats.Max(plane) - floats.Min(plane)
		if math.IsInf(valueRange, 0) || math.IsNaN(valueRange) {
			return nil, errors.Wrapf(ErrInvalidInput, "channel %d of sample has infinite values", c)
		}
		profile[c] = noiseAmount * valueRange
		if valueRange == 0 && noiseAmount > 0 {
			klog.Warningf("channel %d of sample has constant value %g: no noise will be added to it", c, plane[0])
		}
	}
	return profile, nil
}

// NoiseSampler draws independent zero-mean Gaussian noise tensors shaped like a sample, with the
// standard deviation of each channel given by a NoiseProfile.
//
// It is not safe for concurrent use: it consumes values from its random source, which is owned
// by the caller.
type NoiseSampler struct {
	shape         shapes.Shape
	distributions []distuv.Normal
}

// NewNoiseSampler creates a sampler for samples of the given shape (`[channels, height, width]`),
// drawing from src. The profile must have one entry per channel.
func NewNoiseSampler(profile NoiseProfile, shape shapes.Shape, src rand.Source) (*NoiseSampler, error) {
	if shape.Rank() != 3 {
		return nil, errors.Wrapf(ErrInvalidInput, "noise sampler requires a shape [channels, height, width], got %s", shape)
	}
	if len(profile) != shape.Dim(0) {
		return nil, errors.Wrapf(ErrInvalidInput, "noise profile has %d channels, but the sample shape %s has %d",
			len(profile), shape, shape.Dim(0))
	}
	if src == nil {
		return nil, errors.Wrap(ErrConfiguration, "noise sampler requires a random source")
	}
	s := &NoiseSampler{
		shape:         shape.Clone(),
		distributions: make([]distuv.Normal, len(profile)),
	}
	for c, std := range profile {
		if std < 0 || math.IsNaN(std) {
			return nil, errors.Wrapf(ErrConfiguration, "noise profile channel %d has invalid standard deviation %g", c, std)
		}
		s.distributions[c] = distuv.Normal{Mu: 0, Sigma: std, Src: src}
	}
	return s, nil
}

// Sample returns a lazy sequence of n independently drawn noise tensors.
//
// Values are drawn as the sequence is iterated: stopping early doesn't consume
// the random source for the remaining tensors.
func (s *NoiseSampler) Sample(n int) iter.Seq[*tensors.Tensor] {
	return func(yield func(*tensors.Tensor) bool) {
		planeSize := s.shape.Dim(1) * s.shape.Dim(2)
		for range n {
			noise := tensors.FromShape(s.shape)
			flat := noise.Flat()
			for c := range s.distributions {
				dist := &s.distributions[c]
				if dist.Sigma == 0 {
					// Leave it as zeros.
					continue
				}
				for ii := c * planeSize; ii < (c+1)*planeSize; ii++ {
					flat[ii] = float32(dist.Rand())
				}
			}
			if !yield(noise) {
				return
			}
		}
	}
}
