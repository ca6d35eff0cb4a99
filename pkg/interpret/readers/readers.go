// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package readers converts the inputs of an interpretation (image files, decoded images or
// tensors) to the normalized batch a model takes, and to the images the explanations are
// rendered over.
package readers

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/smoothgrad/pkg/core/tensors"
	"github.com/gomlx/smoothgrad/pkg/core/tensors/images"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Config of the preprocessing of images.
type Config struct {
	// ResizeTo is the size of the shorter edge images are resized to, preserving the aspect ratio.
	// 0 keeps the original size.
	ResizeTo int

	// CropTo is the size of the square taken from the center of the resized image. 0 disables cropping.
	CropTo int
}

// Float16 is a raw, already normalized, half-precision sample (`[channels, height, width]`) or
// batch (`[batch, channels, height, width]`), as stored by pipelines that keep their inputs in float16.
type Float16 struct {
	Data       []float16.Float16
	Dimensions []int
}

var (
	// ImageNetMean is the per-channel mean subtracted from RGB values in [0, 1].
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}

	// ImageNetStd is the per-channel standard deviation RGB values are divided by, after subtracting the mean.
	ImageNetStd = [3]float32{0.229, 0.224, 0.225}
)

// TransformPipeline reads and preprocesses inputs, and returns the display images and the
// normalized batch shaped `[batch, 3, height, width]`.
//
// inputs can be:
//
//   - string or []string: paths to image files, decoded with EXIF orientation applied.
//   - image.Image or []image.Image.
//   - *tensors.Tensor: an already normalized sample (`[channels, height, width]`) or batch
//     (`[batch, channels, height, width]`). It is returned as a batch, and the display images are
//     reconstructed from it.
//   - Float16: like a tensor, converted to float32.
//
// Images are resized and center cropped according to cfg. Tensors are used as is.
func TransformPipeline(inputs any, cfg Config) ([]image.Image, *tensors.Tensor, error) {
	if cfg.ResizeTo < 0 || cfg.CropTo < 0 {
		return nil, nil, errors.Errorf("invalid preprocessing configuration %+v", cfg)
	}
	var imgs []image.Image
	switch v := inputs.(type) {
	case string:
		return TransformPipeline([]string{v}, cfg)
	case []string:
		if len(v) == 0 {
			return nil, nil, errors.New("no image paths given")
		}
		imgs = make([]image.Image, len(v))
		for ii, path := range v {
			img, err := imaging.Open(path, imaging.AutoOrientation(true))
			if err != nil {
				return nil, nil, errors.Wrapf(err, "failed to read image #%d from %q", ii, path)
			}
			imgs[ii] = img
		}
	case image.Image:
		imgs = []image.Image{v}
	case []image.Image:
		imgs = v
	case *tensors.Tensor:
		return fromTensor(v)
	case Float16:
		size := 1
		for _, dim := range v.Dimensions {
			if dim < 0 {
				return nil, nil, errors.Errorf("float16 input has negative dimensions %v", v.Dimensions)
			}
			size *= dim
		}
		if len(v.Dimensions) == 0 || size != len(v.Data) {
			return nil, nil, errors.Errorf("float16 input has %d values, but dimensions %v require %d", len(v.Data), v.Dimensions, size)
		}
		return fromTensor(tensors.FromFloat16(v.Data, v.Dimensions...))
	default:
		return nil, nil, errors.Errorf("unsupported input type %T", inputs)
	}
	if len(imgs) == 0 {
		return nil, nil, errors.New("no images given")
	}

	display := make([]image.Image, len(imgs))
	for ii, img := range imgs {
		if img == nil || img.Bounds().Empty() {
			return nil, nil, errors.Errorf("image #%d is empty", ii)
		}
		display[ii] = Transform(img, cfg)
		if !display[ii].Bounds().Size().Eq(display[0].Bounds().Size()) {
			return nil, nil, errors.Errorf("image #%d has size %s after preprocessing, but image #0 has size %s: they must all be the same",
				ii, display[ii].Bounds().Size(), display[0].Bounds().Size())
		}
	}
	batch := images.ToTensor().ChannelsAxis(images.ChannelsFirst).Batch(display)
	Normalize(batch)
	klog.V(2).Infof("preprocessed %d image(s) to %s", len(display), batch.Shape())
	return display, batch, nil
}

// Transform resizes the shorter edge of img to cfg.ResizeTo, and then center crops it to a
// square of cfg.CropTo. It always returns a new *image.NRGBA.
func Transform(img image.Image, cfg Config) *image.NRGBA {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	if cfg.ResizeTo > 0 {
		// Resize the smallest dimension to ResizeTo, preserving ratio.
		if width < height {
			height = int(math.Round(float64(height) * float64(cfg.ResizeTo) / float64(width)))
			width = cfg.ResizeTo
		} else {
			width = int(math.Round(float64(width) * float64(cfg.ResizeTo) / float64(height)))
			height = cfg.ResizeTo
		}
	}
	var out *image.NRGBA
	if width != img.Bounds().Dx() || height != img.Bounds().Dy() {
		out = imaging.Resize(img, width, height, imaging.Linear)
	} else {
		out = imaging.Clone(img)
	}
	if cfg.CropTo > 0 {
		out = imaging.CropCenter(out, cfg.CropTo, cfg.CropTo)
	}
	return out
}

// Normalize converts, in place, a batch shaped `[batch, 3, height, width]` with RGB values in
// [0, 1] with the ImageNet mean and standard deviation.
func Normalize(batch *tensors.Tensor) {
	forEachChannel(batch, func(c int, plane []float32) {
		for ii, v := range plane {
			plane[ii] = (v - ImageNetMean[c]) / ImageNetStd[c]
		}
	})
}

// Denormalize is the inverse of Normalize.
func Denormalize(batch *tensors.Tensor) {
	forEachChannel(batch, func(c int, plane []float32) {
		for ii, v := range plane {
			plane[ii] = v*ImageNetStd[c] + ImageNetMean[c]
		}
	})
}

func forEachChannel(batch *tensors.Tensor, fn func(c int, plane []float32)) {
	numChannels := batch.Dim(1)
	planeSize := batch.Dim(2) * batch.Dim(3)
	for ii := range batch.Dim(0) {
		row := batch.Row(ii)
		for c := range numChannels {
			fn(c, row[c*planeSize:(c+1)*planeSize])
		}
	}
}

// fromTensor returns the tensor as a batch, along with display images reconstructed from it.
func fromTensor(t *tensors.Tensor) ([]image.Image, *tensors.Tensor, error) {
	if t == nil {
		return nil, nil, errors.New("nil tensor given")
	}
	batch := t
	switch t.Rank() {
	case 3:
		batch = t.Reshape(t.Shape().WithBatch(1).Dimensions...)
	case 4:
	default:
		return nil, nil, errors.Errorf("tensor input must be shaped [channels, height, width] or [batch, channels, height, width], got %s", t.Shape())
	}
	if batch.Shape().IsZeroSize() {
		return nil, nil, errors.Errorf("tensor input shaped %s is empty", batch.Shape())
	}
	displayValues := batch.Clone()
	switch batch.Dim(1) {
	case 3:
		Denormalize(displayValues)
	case 1, 4:
		rescale(displayValues)
	default:
		return nil, nil, errors.Errorf("cannot display tensor shaped %s: it must have 1, 3 or 4 channels", batch.Shape())
	}
	display := images.ToImage().ChannelsAxis(images.ChannelsFirst).Batch(displayValues)
	return display, batch, nil
}

// rescale maps, in place, the range of values of t to [0, 1].
func rescale(t *tensors.Tensor) {
	low, high := t.MinMax()
	flat := t.Flat()
	for ii, v := range flat {
		if high > low {
			flat[ii] = (v - low) / (high - low)
		} else {
			flat[ii] = 0
		}
	}
}

// SavePaths returns one save path per image for the given savePath:
//
//   - If savePath is a directory (existing, or ending with a path separator), images are saved
//     as "explanation_<i>.png" in it.
//   - If n == 1, savePath itself.
//   - Otherwise the index of the image is added before the extension: "out.png" becomes
//     "out_0.png", "out_1.png", ...
//
// An empty savePath returns n empty paths.
func SavePaths(savePath string, n int) []string {
	paths := make([]string, n)
	if savePath == "" {
		return paths
	}
	isDir := strings.HasSuffix(savePath, string(os.PathSeparator)) || strings.HasSuffix(savePath, "/")
	if info, err := os.Stat(savePath); err == nil && info.IsDir() {
		isDir = true
	}
	ext := filepath.Ext(savePath)
	base := strings.TrimSuffix(savePath, ext)
	for ii := range paths {
		switch {
		case isDir:
			paths[ii] = filepath.Join(savePath, fmt.Sprintf("explanation_%d.png", ii))
		case n == 1:
			paths[ii] = savePath
		default:
			paths[ii] = fmt.Sprintf("%s_%d%s", base, ii, ext)
		}
	}
	return paths
}
