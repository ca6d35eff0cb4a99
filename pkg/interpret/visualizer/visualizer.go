// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package visualizer renders explanation maps over the images they explain, and displays
// or saves the result.
//
// An explanation map shaped `[channels, height, width]` is first reduced to a saliency map (see
// Saliency), then rendered according to a Style.
package visualizer

import (
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/disintegration/imaging"
	"github.com/gomlx/smoothgrad/pkg/core/tensors"
	"github.com/gomlx/smoothgrad/ui/notebooks"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"k8s.io/klog/v2"
)

// Style of the rendering of an explanation.
type Style string

const (
	// StyleOverlayGrayscale blends the grayscale saliency over the image. This is the default.
	StyleOverlayGrayscale Style = "overlay_grayscale"

	// StyleGrayscale renders only the grayscale saliency.
	StyleGrayscale Style = "grayscale"

	// StyleHeatmap blends a heat colored saliency over the image.
	StyleHeatmap Style = "heatmap"
)

// Styles returns all valid styles.
func Styles() []Style {
	return []Style{StyleOverlayGrayscale, StyleGrayscale, StyleHeatmap}
}

// IsValid returns whether s is one of the known styles. The empty style is valid, and
// means StyleOverlayGrayscale.
func (s Style) IsValid() bool {
	return s == "" || slices.Contains(Styles(), s)
}

// SaliencyPercentile is the percentile of the saliency values mapped to full intensity.
// Values above it are clipped.
const SaliencyPercentile = 0.99

// OverlayOpacity is the opacity of the saliency blended over the image.
const OverlayOpacity = 0.5

// Saliency reduces an explanation map shaped `[channels, height, width]` to a saliency map shaped
// `[height, width]`: the sum over channels of the absolute values, normalized to [0, 1] by mapping
// the minimum to 0 and the SaliencyPercentile to 1.
func Saliency(explanation *tensors.Tensor) (*tensors.Tensor, error) {
	if explanation == nil || explanation.Rank() != 3 {
		return nil, errors.Errorf("explanation must be shaped [channels, height, width], got %s", explanation)
	}
	numChannels, height, width := explanation.Dim(0), explanation.Dim(1), explanation.Dim(2)
	planeSize := height * width
	if planeSize == 0 {
		return nil, errors.Errorf("explanation shaped %s has no spatial extent", explanation.Shape())
	}
	values := make([]float64, planeSize)
	flat := explanation.Flat()
	for c := range numChannels {
		for ii, v := range flat[c*planeSize : (c+1)*planeSize] {
			values[ii] += math.Abs(float64(v))
		}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	low := sorted[0]
	high := stat.Quantile(SaliencyPercentile, stat.Empirical, sorted, nil)
	if high <= low {
		high = sorted[len(sorted)-1]
	}
	if high > low {
		for ii, v := range values {
			values[ii] = min(max((v-low)/(high-low), 0), 1)
		}
	} else {
		clear(values)
	}
	return tensors.FromFlatDataAndDimensions(values, height, width), nil
}

// SaliencyImage converts a saliency map shaped `[height, width]`, with values in [0, 1], to a grayscale image.
func SaliencyImage(saliency *tensors.Tensor) *image.Gray {
	height, width := saliency.Dim(0), saliency.Dim(1)
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			v := min(max(saliency.At(y, x), 0), 1)
			img.SetGray(x, y, color.Gray{Y: uint8(math.Round(float64(v) * 255))})
		}
	}
	return img
}

// Visualizer renders explanations and displays or saves them.
//
// Outside a notebook, Show prints a preview of the image to the terminal, see Preview.
type Visualizer struct {
	out          io.Writer
	previewWidth int
	heatmapSteps int
}

// New creates a Visualizer that writes terminal previews to os.Stdout.
func New() *Visualizer {
	return &Visualizer{
		out:          os.Stdout,
		previewWidth: DefaultPreviewWidth,
		heatmapSteps: 64,
	}
}

// WithWriter sets where terminal previews are written to. It returns the Visualizer itself.
func (v *Visualizer) WithWriter(w io.Writer) *Visualizer {
	v.out = w
	return v
}

// WithPreviewWidth sets the width, in terminal columns, of terminal previews.
func (v *Visualizer) WithPreviewWidth(columns int) *Visualizer {
	v.previewWidth = columns
	return v
}

// Render returns the rendering of explanation (shaped `[channels, height, width]`) over display,
// according to style.
//
// The saliency map is resized to the size of display. display can be nil for StyleGrayscale.
func (v *Visualizer) Render(display image.Image, explanation *tensors.Tensor, style Style) (image.Image, error) {
	if !style.IsValid() {
		return nil, errors.Errorf("unknown style %q, valid styles are %q", style, Styles())
	}
	if style == "" {
		style = StyleOverlayGrayscale
	}
	saliency, err := Saliency(explanation)
	if err != nil {
		return nil, err
	}
	if display == nil {
		if style != StyleGrayscale {
			return nil, errors.Errorf("style %q requires the image being explained", style)
		}
		return SaliencyImage(saliency), nil
	}
	width, height := display.Bounds().Dx(), display.Bounds().Dy()
	klog.V(2).Infof("rendering explanation %s over %dx%d image with style %q", explanation.Shape(), width, height, style)

	var rendered image.Image
	switch style {
	case StyleGrayscale:
		return imaging.Resize(SaliencyImage(saliency), width, height, imaging.Linear), nil
	case StyleOverlayGrayscale:
		rendered = SaliencyImage(saliency)
	case StyleHeatmap:
		rendered, err = v.heatmap(saliency)
		if err != nil {
			return nil, err
		}
	}
	overlay := imaging.Resize(rendered, width, height, imaging.Linear)
	return imaging.Overlay(display, overlay, display.Bounds().Min, OverlayOpacity), nil
}

// heatmap renders saliency with a heat palette, using a gonum plot with hidden axes.
func (v *Visualizer) heatmap(saliency *tensors.Tensor) (image.Image, error) {
	heatMap := plotter.NewHeatMap(saliencyGrid{saliency}, palette.Heat(v.heatmapSteps, 1))
	heatMap.Min, heatMap.Max = 0, 1
	p := plot.New()
	p.HideAxes()
	p.X.Padding, p.Y.Padding = 0, 0
	p.Add(heatMap)

	height, width := saliency.Dim(0), saliency.Dim(1)
	canvas := vgimg.New(vg.Points(float64(max(width, 1))), vg.Points(float64(max(height, 1))))
	p.Draw(draw.New(canvas))
	img := canvas.Image()
	if img == nil {
		return nil, errors.New("failed to draw heatmap")
	}
	return img, nil
}

// saliencyGrid implements plotter.GridXYZ over a saliency map. Row 0 of the map is the top of the
// image, while row 0 of the grid is drawn at the bottom.
type saliencyGrid struct {
	saliency *tensors.Tensor
}

func (g saliencyGrid) Dims() (c, r int) { return g.saliency.Dim(1), g.saliency.Dim(0) }

func (g saliencyGrid) Z(c, r int) float64 {
	return float64(g.saliency.At(g.saliency.Dim(0)-1-r, c))
}

func (g saliencyGrid) X(c int) float64 { return float64(c) }

func (g saliencyGrid) Y(r int) float64 { return float64(r) }

// Show displays img: in the output cell if running in a notebook, otherwise as a terminal preview.
func (v *Visualizer) Show(img image.Image) error {
	if img == nil {
		return errors.New("nothing to show: nil image")
	}
	if notebooks.IsNotebook() {
		return notebooks.DisplayImage(img)
	}
	return Preview(v.out, img, v.previewWidth)
}

// Save writes img to path, in the format given by its extension (e.g.: ".png", ".jpg").
// Missing parent directories are created.
func (v *Visualizer) Save(path string, img image.Image) error {
	if img == nil {
		return errors.Errorf("nothing to save to %q: nil image", path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create directory for %q", path)
		}
	}
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "failed to save explanation to %q", path)
	}
	return nil
}
