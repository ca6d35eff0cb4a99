// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images provides several functions to transform images back and
// forth from tensors.
package images

import (
	"image"
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/smoothgrad/pkg/core/shapes"
	"github.com/gomlx/smoothgrad/pkg/core/tensors"
)

// ChannelsAxisConfig indicates if a tensor with an image has the channel axis
// coming last (last axis) or first (first axis after batch axis).
type ChannelsAxisConfig uint8

const (
	ChannelsFirst ChannelsAxisConfig = iota
	ChannelsLast
)

// String implements fmt.Stringer.
func (c ChannelsAxisConfig) String() string {
	switch c {
	case ChannelsFirst:
		return "ChannelsFirst"
	case ChannelsLast:
		return "ChannelsLast"
	default:
		return "ChannelsAxisConfig(invalid)"
	}
}

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Batch to actually convert.
type ToTensorConfig struct {
	axisConfig ChannelsAxisConfig
}

// numChannels converted: red, green and blue; alpha is dropped.
const numChannels = 3

// ToTensor converts a batch of images to a float32 tensor with values in [0, 1].
//
// It returns a configuration object that can be further configured. Once set, use the Batch
// method to convert the images.
//
// The default is the channels axis last.
func ToTensor() *ToTensorConfig {
	return &ToTensorConfig{axisConfig: ChannelsLast}
}

// ChannelsAxis configures where the channels axis goes. Models usually take ChannelsFirst
// (`[channels, height, width]`), the default is ChannelsLast.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) ChannelsAxis(config ChannelsAxisConfig) *ToTensorConfig {
	tt.axisConfig = config
	return tt
}

// Batch converts the given images to a tensor, using the ToTensorConfig.
//
// It returns a 4D tensor, shaped as `[batch_size, height, width, channels]` (or channels first).
//
// It panics if the images don't all have the same size.
func (tt *ToTensorConfig) Batch(images []image.Image) *tensors.Tensor {
	if len(images) == 0 {
		exceptions.Panicf("images.ToTensor requires at least one image")
	}
	imgSize := images[0].Bounds().Size()
	var elementShape shapes.Shape
	if tt.axisConfig == ChannelsFirst {
		elementShape = shapes.Make(numChannels, imgSize.Y, imgSize.X)
	} else {
		elementShape = shapes.Make(imgSize.Y, imgSize.X, numChannels)
	}
	t := tensors.FromShape(elementShape.WithBatch(len(images)))
	flat := t.Flat()
	elementSize := elementShape.Size()
	planeSize := imgSize.X * imgSize.Y
	const scale = float32(1.0 / 0xFFFF) // color.RGBA() returns 16 bits values packaged in uint32.
	var channelValues [4]uint32
	for imgIdx, img := range images {
		if !img.Bounds().Size().Eq(imgSize) {
			exceptions.Panicf(
				"image[%d] has size %s, but image[0] has size %s -- they must all be the same",
				imgIdx, img.Bounds().Size(), imgSize)
		}
		element := flat[imgIdx*elementSize : (imgIdx+1)*elementSize]
		minPt := img.Bounds().Min
		for y := range imgSize.Y {
			for x := range imgSize.X {
				channelValues[0], channelValues[1], channelValues[2], channelValues[3] = img.At(minPt.X+x, minPt.Y+y).RGBA()
				pixel := y*imgSize.X + x
				for c := range numChannels {
					v := float32(channelValues[c]) * scale
					if tt.axisConfig == ChannelsFirst {
						element[c*planeSize+pixel] = v
					} else {
						element[pixel*numChannels+c] = v
					}
				}
			}
		}
	}
	return t
}

// ToImageConfig holds the configuration returned by the ToImage function. Once
// configured, use Batch to actually convert a tensor to images.
type ToImageConfig struct {
	axisConfig ChannelsAxisConfig
}

// ToImage returns a configuration that can be used to convert a batch of images in a tensor
// to `*image.NRGBA` images. Values are clipped to [0, 1].
func ToImage() *ToImageConfig {
	return &ToImageConfig{axisConfig: ChannelsLast}
}

// ChannelsAxis configures where the channels axis is in the tensor. The default is ChannelsLast.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) ChannelsAxis(config ChannelsAxisConfig) *ToImageConfig {
	ti.axisConfig = config
	return ti
}

// Batch converts the given 4D tensor to a collection of images, using the ToImageConfig.
//
// It panics in case of error.
func (ti *ToImageConfig) Batch(t *tensors.Tensor) []image.Image {
	if t.Rank() != 4 {
		exceptions.Panicf("images.ToImage().Batch requires a rank-4 tensor, got shape %s", t.Shape())
	}
	dims := t.Shape().Dimensions
	numImages := dims[0]
	var height, width, channels int
	if ti.axisConfig == ChannelsFirst {
		channels, height, width = dims[1], dims[2], dims[3]
	} else {
		height, width, channels = dims[1], dims[2], dims[3]
	}
	if channels != 1 && channels != 3 && channels != 4 {
		exceptions.Panicf(
			"images.ToImage invalid tensor shape %s, with %d channels: only images with 1, 3 or 4 channels are supported",
			t.Shape(), channels)
	}
	images := make([]image.Image, 0, numImages)
	planeSize := height * width
	elementSize := planeSize * channels
	flat := t.Flat()
	for imageIdx := range numImages {
		element := flat[imageIdx*elementSize : (imageIdx+1)*elementSize]
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for h := range height {
			for w := range width {
				pixel := h*width + w
				pos := h*img.Stride + w*4
				for d := range channels {
					var v float32
					if ti.axisConfig == ChannelsFirst {
						v = element[d*planeSize+pixel]
					} else {
						v = element[pixel*channels+d]
					}
					img.Pix[pos+d] = toUint8(float64(v))
				}
				switch channels {
				case 1:
					img.Pix[pos+1] = img.Pix[pos]
					img.Pix[pos+2] = img.Pix[pos]
					img.Pix[pos+3] = 255
				case 3:
					img.Pix[pos+3] = 255 // Alpha channel.
				}
			}
		}
		images = append(images, img)
	}
	return images
}

func toUint8(v float64) uint8 {
	v = math.Round(255 * v)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
