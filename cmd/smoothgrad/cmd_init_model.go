// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/smoothgrad/pkg/core/shapes"
	"github.com/gomlx/smoothgrad/pkg/ml/models/softmax"
	"github.com/gomlx/smoothgrad/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newInitModelCmd(out io.Writer) *cobra.Command {
	var (
		numClasses, channels, size int
		seed                       uint64
		outPath                    string
	)
	cmd := &cobra.Command{
		Use:   "init-model",
		Short: "Create random weights for the reference softmax classifier",
		Long: `Creates a softmax classifier over images of shape [channels, size, size] with normally
distributed random weights, and saves it to --out.

Use interpret with --crop_to=<size> so the preprocessed images match the model input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				return errors.New("--out must be set")
			}
			if numClasses < 1 || channels < 1 || size < 1 {
				return errors.Errorf("--classes=%d, --channels=%d and --size=%d must all be >= 1", numClasses, channels, size)
			}
			path, err := fsutil.ExpandHome(outPath)
			if err != nil {
				return err
			}
			model, err := softmax.NewRandom(numClasses, shapes.Make(channels, size, size), seed)
			if err != nil {
				return err
			}
			if err = model.SaveFile(path); err != nil {
				return err
			}
			numParams := uint64(numClasses) * uint64(channels*size*size+1)
			_, err = fmt.Fprintf(out, "Saved model with %d classes and input shape %s (%s parameters) to %q\n",
				numClasses, model.InputShape(), humanize.Comma(int64(numParams)), path)
			return err
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&numClasses, "classes", 10, "Number of classes.")
	fs.IntVar(&channels, "channels", 3, "Number of channels of the input images.")
	fs.IntVar(&size, "size", 224, "Height and width of the input images.")
	fs.Uint64Var(&seed, "seed", 0, "Seed of the random weights.")
	fs.StringVar(&outPath, "out", "", "Path where to save the model.")
	return cmd
}
