// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"time"

	"github.com/gomlx/smoothgrad/pkg/interpret"
	"github.com/gomlx/smoothgrad/ui/notebooks"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// ChunkProgressBar displays the progress of the batched evaluation of the noised samples of one
// interpretation. It implements interpret.ChunkObserver.
type ChunkProgressBar struct {
	bar        *progressbar.ProgressBar
	out        io.Writer
	suffix     string
	inNotebook bool
}

var _ interpret.ChunkObserver = (*ChunkProgressBar)(nil)

// NewChunkProgressBar creates a progress bar over numSamples noised samples, written to out.
func NewChunkProgressBar(out io.Writer, numSamples int, description string) *ChunkProgressBar {
	pBar := &ChunkProgressBar{
		out:        out,
		inNotebook: notebooks.IsNotebook(),
	}
	pBar.bar = progressbar.NewOptions(numSamples,
		progressbar.OptionSetDescription(description),
		progressbar.OptionUseANSICodes(!pBar.inNotebook),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar), // Required to work with Jupyter notebook.
	)
	return pBar
}

// Write implements io.Writer, and appends the current suffix to each line. It is the writer
// of the enclosed progressbar.ProgressBar, so the bar and its suffix are written in the same
// write operation; otherwise Jupyter Notebook may display things in different lines.
func (pBar *ChunkProgressBar) Write(data []byte) (n int, err error) {
	n, err = pBar.out.Write(data)
	if err != nil {
		return n, err
	}
	_, err = io.WriteString(pBar.out, pBar.suffix)
	return n, err
}

func (pBar *ChunkProgressBar) setSuffix(info string) {
	if pBar.inNotebook {
		// Erase to an end-of-line escape sequence is not supported in Jupyter notebooks.
		pBar.suffix = info + "        "
	} else {
		pBar.suffix = info + "\033[J"
	}
}

// OnChunkStart implements interpret.ChunkObserver.
func (pBar *ChunkProgressBar) OnChunkStart(chunk, numChunks, from, to int) {
	pBar.setSuffix(fmt.Sprintf(" [chunk %d of %d: samples %d-%d]", chunk+1, numChunks, from, to-1))
	_ = pBar.bar.RenderBlank()
}

// OnChunkDone implements interpret.ChunkObserver.
func (pBar *ChunkProgressBar) OnChunkDone(chunk, numChunks, from, to int, elapsed time.Duration) {
	pBar.setSuffix(fmt.Sprintf(" [chunk %d of %d done in %s]", chunk+1, numChunks, FormatDuration(elapsed)))
	_ = pBar.bar.Add(to - from)
}

// Finish completes the progress bar and moves to the next line.
func (pBar *ChunkProgressBar) Finish() error {
	if !pBar.bar.IsFinished() {
		if err := pBar.bar.Finish(); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(pBar.out)
	return err
}
