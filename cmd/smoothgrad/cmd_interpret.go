// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/smoothgrad/pkg/interpret"
	"github.com/gomlx/smoothgrad/pkg/interpret/readers"
	"github.com/gomlx/smoothgrad/pkg/interpret/visualizer"
	"github.com/gomlx/smoothgrad/pkg/ml/models/softmax"
	"github.com/gomlx/smoothgrad/pkg/support/fsutil"
	"github.com/gomlx/smoothgrad/ui/commandline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// interpretFlags holds the values of the flags of the interpret command. They are only
// applied to the configuration if explicitly set.
type interpretFlags struct {
	configPath, settings string
	model                string
	label                int
	noiseAmount          float64
	numSamples, split    int
	resizeTo, cropTo     int
	visual               bool
	savePath, style      string
	seed                 int64
	parallelism          int
	modelParallelism     int
	printConfig          bool
}

func newInterpretCmd(out io.Writer) *cobra.Command {
	flags := &interpretFlags{}
	defaults := DefaultConfig()
	cmd := &cobra.Command{
		Use:   "interpret [flags] <image> [<image>...]",
		Short: "Explain the classification of one or more images",
		Long: `Computes one SmoothGrad explanation per image, optionally displaying it (--visual) and saving
it (--save_path), and prints a report with one row per image.

The configuration is built from the defaults, then the --config yaml file, then --set and finally
the individual flags explicitly given.

If --save_path is a directory (or ends with a separator) each explanation is saved as
explanation_<i>.png in it. With more than one image, a file path gets the image index appended.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config(cmd)
			if err != nil {
				return err
			}
			if flags.printConfig {
				cmd.Printf("Configuration:\n%s\n", commandline.SprintSettings(&cfg))
			}
			rows, err := runInterpret(cmd.Context(), out, &cfg, args, flags.modelParallelism)
			if err != nil {
				return err
			}
			if err = commandline.Report(out, rows); err != nil {
				return err
			}
			var numFailed int
			for _, row := range rows {
				if row.Err != nil {
					numFailed++
				}
			}
			if numFailed > 0 {
				return errors.Errorf("%d out of %d interpretations failed", numFailed, len(rows))
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&flags.configPath, "config", "", "Yaml file with the configuration. Flags explicitly set take precedence.")
	fs.StringVar(&flags.settings, "set", "", `Settings separated by ";", e.g.: "n_samples=100;split=4" or "file:<path>".`)
	fs.StringVar(&flags.model, "model", defaults.Model, "Path to the softmax model weights, created with init-model.")
	fs.IntVar(&flags.label, "label", defaults.Label, "Label to explain. If negative, the label predicted by the model is used.")
	fs.Float64Var(&flags.noiseAmount, "noise_amount", defaults.NoiseAmount, "Noise standard deviation, relative to the range of each channel.")
	fs.IntVar(&flags.numSamples, "n_samples", defaults.NumSamples, "Number of noised samples to average.")
	fs.IntVar(&flags.split, "split", defaults.Split, "Number of chunks the noised samples are evaluated in.")
	fs.IntVar(&flags.resizeTo, "resize_to", defaults.ResizeTo, "Size of the shorter edge of the resized images. 0 to keep the original size.")
	fs.IntVar(&flags.cropTo, "crop_to", defaults.CropTo, "Size of the square center crop. 0 to disable cropping.")
	fs.BoolVar(&flags.visual, "visual", defaults.Visual, "Display the explanations.")
	fs.StringVar(&flags.savePath, "save_path", defaults.SavePath, "Where to save the rendered explanations.")
	fs.StringVar(&flags.style, "style", string(defaults.Style), "Rendering style, one of overlay_grayscale, grayscale or heatmap.")
	fs.Int64Var(&flags.seed, "seed", defaults.Seed, "Seed of the noise. If negative, a random seed is used.")
	fs.IntVar(&flags.parallelism, "parallelism", defaults.Parallelism, "Maximum number of images interpreted concurrently.")
	fs.IntVar(&flags.modelParallelism, "model_parallelism", -1, "Parallelism of the gradient computation of the model: -1 for unlimited, 0 to disable.")
	fs.BoolVar(&flags.printConfig, "print_config", false, "Print the configuration before running.")
	return cmd
}

// config builds the configuration: defaults, --config file, --set settings and then the flags explicitly set.
func (f *interpretFlags) config(cmd *cobra.Command) (Config, error) {
	cfg := DefaultConfig()
	var err error
	if f.configPath != "" {
		if cfg, err = LoadConfig(f.configPath); err != nil {
			return cfg, err
		}
	}
	if f.settings != "" {
		paramsSet, err := commandline.ParseSettings(&cfg, f.settings)
		if err != nil {
			return cfg, err
		}
		klog.V(1).Infof("Settings from --set: %v", paramsSet)
	}

	overrides := []struct {
		name  string
		apply func()
	}{
		{"model", func() { cfg.Model = f.model }},
		{"label", func() { cfg.Label = f.label }},
		{"noise_amount", func() { cfg.NoiseAmount = f.noiseAmount }},
		{"n_samples", func() { cfg.NumSamples = f.numSamples }},
		{"split", func() { cfg.Split = f.split }},
		{"resize_to", func() { cfg.ResizeTo = f.resizeTo }},
		{"crop_to", func() { cfg.CropTo = f.cropTo }},
		{"visual", func() { cfg.Visual = f.visual }},
		{"save_path", func() { cfg.SavePath = f.savePath }},
		{"style", func() { cfg.Style = visualizer.Style(f.style) }},
		{"seed", func() { cfg.Seed = f.seed }},
		{"parallelism", func() { cfg.Parallelism = f.parallelism }},
	}
	for _, override := range overrides {
		if cmd.Flags().Changed(override.name) {
			override.apply()
		}
	}

	if cfg.Model, err = fsutil.ExpandHome(cfg.Model); err != nil {
		return cfg, err
	}
	if cfg.SavePath, err = fsutil.ExpandHome(cfg.SavePath); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// runInterpret interprets each of the images in inputs, up to cfg.Parallelism concurrently.
//
// Failures of individual images are reported in their rows. The returned error is only set
// if the model can't be loaded or the context is cancelled.
func runInterpret(ctx context.Context, out io.Writer, cfg *Config, inputs []string, modelParallelism int) ([]commandline.ReportRow, error) {
	model, err := softmax.LoadFile(cfg.Model)
	if err != nil {
		return nil, err
	}
	model.WithParallelism(modelParallelism)
	klog.V(1).Infof("Loaded model %q: %d classes, input shape %s", cfg.Model, model.NumClasses(), model.InputShape())

	inputs = slices.Clone(inputs)
	if err = fsutil.ExpandHomeAll(inputs); err != nil {
		return nil, err
	}
	out = &lockedWriter{w: out}
	savePaths := readers.SavePaths(cfg.SavePath, len(inputs))
	rows := make([]commandline.ReportRow, len(inputs))
	baseSeed := uint64(cfg.Seed)
	if cfg.Seed < 0 {
		baseSeed = rand.Uint64()
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	for ii, input := range inputs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			opts := cfg.Options
			opts.SavePath = savePaths[ii]
			engineOptions := []interpret.Option{
				interpret.WithSeed(baseSeed + uint64(ii)),
				interpret.WithVisualizer(visualizer.New().WithWriter(out)),
			}
			var pBar *commandline.ChunkProgressBar
			if len(inputs) == 1 {
				pBar = commandline.NewChunkProgressBar(out, opts.NumSamples, input)
				engineOptions = append(engineOptions, interpret.WithChunkObserver(pBar))
			}

			explanation, err := interpret.New(model, engineOptions...).Interpret(input, cfg.Labels(), opts)
			if pBar != nil {
				if finishErr := pBar.Finish(); finishErr != nil {
					klog.Warningf("Failed to finish progress bar: %v", finishErr)
				}
			}
			if err != nil {
				klog.Errorf("Failed to interpret %q: %+v", input, err)
				rows[ii] = commandline.ReportRow{Input: input, Err: err}
				return nil
			}
			rows[ii] = commandline.ReportRow{Input: input, Explanation: explanation, SavePath: opts.SavePath}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "interpretation interrupted")
	}
	return rows, nil
}

// lockedWriter serializes the writes of the concurrent interpretations.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
