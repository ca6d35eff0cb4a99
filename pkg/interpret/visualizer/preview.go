// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package visualizer

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/disintegration/imaging"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
)

// DefaultPreviewWidth is the default width, in terminal columns, of a terminal preview.
const DefaultPreviewWidth = 48

// Preview prints img to w using one "▀" character per two vertical pixels, with the top pixel
// as the foreground color and the bottom pixel as the background color.
//
// The colors are degraded to what the terminal behind w supports. If it supports no colors
// (e.g.: w is not a terminal), ASCII shades of the luminance are printed instead.
func Preview(w io.Writer, img image.Image, columns int) error {
	if columns <= 0 {
		return errors.Errorf("invalid preview width %d", columns)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return errors.New("cannot preview an empty image")
	}
	rows := max(1, columns*bounds.Dy()/bounds.Dx())
	rows += rows % 2
	small := imaging.Resize(img, columns, rows, imaging.Box)

	renderer := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	ascii := renderer.ColorProfile() == termenv.Ascii
	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		for x := range columns {
			top, bottom := small.NRGBAAt(x, y), small.NRGBAAt(x, y+1)
			if ascii {
				sb.WriteByte(shade((luminance(top) + luminance(bottom)) / 2))
				continue
			}
			style := renderer.NewStyle().
				Foreground(hexColor(top)).
				Background(hexColor(bottom))
			sb.WriteString(style.Render("▀"))
		}
		if y+2 < rows {
			sb.WriteByte('\n')
		}
	}
	frame := renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63"))
	_, err := fmt.Fprintln(w, frame.Render(sb.String()))
	return errors.WithStack(err)
}

// asciiShades from darkest to brightest.
const asciiShades = " .:-=+*#%@"

func shade(lum float64) byte {
	idx := int(lum * float64(len(asciiShades)))
	return asciiShades[min(max(idx, 0), len(asciiShades)-1)]
}

// luminance in [0, 1], using the Rec. 601 weights.
func luminance(c color.NRGBA) float64 {
	return (0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)) / 255
}

func hexColor(c color.NRGBA) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
}
