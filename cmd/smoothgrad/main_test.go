// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/smoothgrad/pkg/interpret/visualizer"
	"github.com/gomlx/smoothgrad/pkg/ml/models/softmax"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("k8s.io/klog/v2.(*flushDaemon).run.func1"))
}

// runCmd executes the root command with args, and returns what it printed.
func runCmd(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeImage writes a gradient image of the given size to dir/name.
func writeImage(t *testing.T, dir, name string, width, height int) string {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / width), G: uint8(y * 255 / height), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestInitModel(t *testing.T) {
	modelPath := filepath.Join(t.TempDir(), "model.gob")
	out, err := runCmd(t, "init-model", "--classes=3", "--size=4", "--seed=7", "--out="+modelPath)
	require.NoError(t, err)
	assert.Contains(t, out, "3 classes")
	assert.Contains(t, out, "147 parameters")

	model := must.M1(softmax.LoadFile(modelPath))
	assert.Equal(t, 3, model.NumClasses())
	assert.Equal(t, []int{3, 4, 4}, model.InputShape().Dimensions)

	_, err = runCmd(t, "init-model", "--classes=0", "--out="+modelPath)
	require.Error(t, err)
	_, err = runCmd(t, "init-model", "--classes=3")
	require.Error(t, err)
}

func TestInterpret(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.gob")
	_, err := runCmd(t, "init-model", "--classes=3", "--size=4", "--out="+modelPath)
	require.NoError(t, err)
	cat := writeImage(t, dir, "cat.png", 8, 6)
	dog := writeImage(t, dir, "dog.png", 6, 6)
	saveDir := filepath.Join(dir, "explanations") + string(os.PathSeparator)

	t.Run("Multiple images", func(t *testing.T) {
		out, err := runCmd(t, "interpret", "--model="+modelPath, "--resize_to=4", "--crop_to=4",
			"--n_samples=4", "--split=2", "--visual=false", "--seed=3", "--parallelism=2",
			"--label=1", "--save_path="+saveDir, cat, dog)
		require.NoError(t, err)
		assert.Contains(t, out, "cat.png")
		assert.Contains(t, out, "dog.png")
		for ii := range 2 {
			saved := must.M1(imaging.Open(filepath.Join(saveDir, fmt.Sprintf("explanation_%d.png", ii))))
			assert.Equal(t, image.Rect(0, 0, 4, 4), saved.Bounds())
		}
	})

	t.Run("Single image with progress bar", func(t *testing.T) {
		savePath := filepath.Join(dir, "single.png")
		out, err := runCmd(t, "interpret", "--model="+modelPath, "--resize_to=4", "--crop_to=4",
			"--set=n_samples=6;split=3;visual=false", "--style=heatmap", "--save_path="+savePath, cat)
		require.NoError(t, err)
		assert.Contains(t, out, "chunk 3 of 3")
		assert.FileExists(t, savePath)
	})

	t.Run("Failed image", func(t *testing.T) {
		// Without cropping the image doesn't match the model input shape.
		_, err := runCmd(t, "interpret", "--model="+modelPath, "--resize_to=4", "--crop_to=0",
			"--n_samples=2", "--split=1", "--visual=false", cat)
		require.ErrorContains(t, err, "1 out of 1 interpretations failed")
	})

	t.Run("Invalid configuration", func(t *testing.T) {
		_, err := runCmd(t, "interpret", "--model="+modelPath, "--n_samples=2", "--split=3", cat)
		require.Error(t, err)
		_, err = runCmd(t, "interpret", cat)
		require.ErrorContains(t, err, "no model given")
		_, err = runCmd(t, "interpret", "--model="+modelPath)
		require.Error(t, err, "at least one image is required")
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model: model.gob
n_samples: 20
split: 5
style: heatmap
seed: 11
parallelism: 2
`), 0o644))
	cfg := must.M1(LoadConfig(path))
	assert.Equal(t, "model.gob", cfg.Model)
	assert.Equal(t, 20, cfg.NumSamples)
	assert.Equal(t, 5, cfg.Split)
	assert.Equal(t, visualizer.StyleHeatmap, cfg.Style)
	assert.Equal(t, int64(11), cfg.Seed)
	assert.Equal(t, 2, cfg.Parallelism)
	assert.Equal(t, -1, cfg.Label, "unset fields keep their defaults")
	assert.Equal(t, 0.1, cfg.NoiseAmount)
	require.NoError(t, cfg.Validate())
	assert.Nil(t, cfg.Labels())
	cfg.Label = 4
	assert.Equal(t, []int{4}, cfg.Labels())

	cfg.Parallelism = 0
	require.Error(t, cfg.Validate())

	require.NoError(t, os.WriteFile(path, []byte("unknown_field: 1\n"), 0o644))
	_, err := LoadConfig(path)
	require.Error(t, err)

	for _, contents := range []string{"split: 3.14\n", "n_samples: 7.9\n", "parallelism: two\n"} {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
		_, err = LoadConfig(path)
		require.ErrorContains(t, err, "requires an integer", "contents %q", contents)
	}

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	cfg = must.M1(LoadConfig(empty))
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: from_file.gob\nn_samples: 20\nsplit: 5\ncrop_to: 8\n"), 0o644))

	flags := &interpretFlags{}
	cmd := newInterpretCmd(&bytes.Buffer{})
	require.NoError(t, cmd.ParseFlags([]string{"--config=" + path, "--set=split=4;crop_to=6", "--crop_to=2", "--visual=false"}))
	flags.configPath = must.M1(cmd.Flags().GetString("config"))
	flags.settings = must.M1(cmd.Flags().GetString("set"))
	flags.cropTo = must.M1(cmd.Flags().GetInt("crop_to"))
	flags.visual = must.M1(cmd.Flags().GetBool("visual"))
	cfg, err := flags.config(cmd)
	require.NoError(t, err)
	assert.Equal(t, "from_file.gob", cfg.Model)
	assert.Equal(t, 20, cfg.NumSamples)
	assert.Equal(t, 4, cfg.Split, "--set overrides the file")
	assert.Equal(t, 2, cfg.CropTo, "flags override --set")
	assert.False(t, cfg.Visual)
	assert.Equal(t, 224, cfg.ResizeTo)
}
