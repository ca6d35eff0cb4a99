// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// smoothgrad explains the decisions of an image classifier with SmoothGrad saliency maps.
//
// Usage:
//
//	smoothgrad init-model --classes=10 --size=224 --out=model.gob
//	smoothgrad interpret --model=model.gob --crop_to=224 --save_path=explanations/ cat.jpg dog.jpg
//
// Logging is controlled by the klog flags, e.g.: --v=2 logs the stages of each interpretation.
package main

import (
	"flag"
	"io"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func main() {
	defer klog.Flush()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		klog.Errorf("smoothgrad failed: %+v", err)
		klog.Flush()
		os.Exit(1)
	}
}

// newRootCmd creates the root command, with its sub-commands writing to out.
func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "smoothgrad",
		Short: "Explain image classifier decisions with SmoothGrad",
		Long: `smoothgrad computes SmoothGrad explanations: the gradients of a classifier's output with
respect to its input, averaged over noised copies of the input.

Available subcommands:
  interpret  - explain the classification of one or more images
  init-model - create random weights for the reference softmax classifier`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	rootCmd.AddCommand(newInterpretCmd(out), newInitModelCmd(out))
	return rootCmd
}
