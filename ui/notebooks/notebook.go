/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package notebooks allows one to check if running within a notebook, and to display
// images in it.
// It supports GoNB [1] and bash_kernel [2].
//
// [1] GoNB: https://github.com/janpfeifer/gonb
// [2] bash_kernel: https://github.com/takluyver/bash_kernel
package notebooks

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"

	"github.com/janpfeifer/gonb/gonbui"
	"github.com/pkg/errors"
)

// IsNotebook returns whether running inside a Jupyter notebook.
func IsNotebook() bool {
	return IsBashKernel() || IsGoNB()
}

const bashKernelEnv = "NOTEBOOK_BASH_KERNEL_CAPABILITIES"

// IsBashKernel returns whether running in a Jupyter notebook with a bash_kernel.
func IsBashKernel() bool {
	_, found := os.LookupEnv(bashKernelEnv)
	return found
}

const goNBKernelEnv = "GONB_PIPE"

// IsGoNB returns whether running in a Jupyter notebook with a GoNB kernel.
func IsGoNB() bool {
	_, found := os.LookupEnv(goNBKernelEnv)
	return found
}

// BashKernelHTMLPrefix is printed before the name of a file holding HTML content, for the
// bash_kernel to display it.
const BashKernelHTMLPrefix = "bash_kernel: saved html data to: "

// ImageHTML returns an HTML `<img>` tag with img embedded as a base64 PNG.
func ImageHTML(img image.Image) (string, error) {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return "", errors.Wrap(err, "failed to encode image as PNG")
	}
	return fmt.Sprintf(`<img src="data:image/png;base64,%s"/>`, base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// DisplayImage displays img in the notebook's output cell.
//
// It returns an error if not running in a notebook.
func DisplayImage(img image.Image) error {
	switch {
	case IsGoNB():
		src, err := gonbui.EmbedImageAsPNGSrc(img)
		if err != nil {
			return errors.Wrap(err, "failed to embed image for GoNB")
		}
		gonbui.DisplayHTML(fmt.Sprintf(`<img src="%s"/>`, src))
		return nil
	case IsBashKernel():
		html, err := ImageHTML(img)
		if err != nil {
			return err
		}
		return OutputBashKernelHTML(os.Stdout, html)
	default:
		return errors.New("not running in a notebook: neither GoNB nor bash_kernel were detected")
	}
}

// OutputBashKernelHTML saves html in a temporary file and writes a BashKernelHTMLPrefix line
// pointing to it, for the bash_kernel to display.
func OutputBashKernelHTML(w io.Writer, html string) error {
	file, err := os.CreateTemp("", "bash_kernel.smoothgrad.*.html")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file for HTML output")
	}
	fileName := file.Name()
	if _, err = io.WriteString(file, html); err != nil {
		_ = file.Close()
		return errors.Wrapf(err, "failed to write to temporary file %q for HTML output", fileName)
	}
	if err = file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close temporary file %q for HTML output", fileName)
	}
	_, err = fmt.Fprintf(w, "%s%s\n", BashKernelHTMLPrefix, fileName)
	return errors.WithStack(err)
}
