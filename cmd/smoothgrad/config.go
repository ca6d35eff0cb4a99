// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"runtime"

	"github.com/gomlx/smoothgrad/pkg/interpret"
	"github.com/gomlx/smoothgrad/pkg/support/fsutil"
	"github.com/gomlx/smoothgrad/ui/commandline"
	"github.com/pkg/errors"
)

// Config of the interpret command. It can be loaded from a yaml file with --config, and each
// field can be overridden with --set or with its own flag.
type Config struct {
	interpret.Options `yaml:",inline"`

	// Model is the path to the softmax model weights, created with init-model.
	Model string `yaml:"model"`

	// Label to explain. If negative, the label predicted by the model is used.
	Label int `yaml:"label"`

	// Seed of the noise of the first image; image i uses Seed+i. If negative, a random seed is used.
	Seed int64 `yaml:"seed"`

	// Parallelism is the maximum number of images interpreted concurrently.
	Parallelism int `yaml:"parallelism"`
}

// DefaultConfig returns the configuration used when no --config is given.
func DefaultConfig() Config {
	return Config{
		Options:     interpret.DefaultOptions(),
		Label:       -1,
		Seed:        -1,
		Parallelism: runtime.NumCPU(),
	}
}

// LoadConfig reads the yaml file in path over the default configuration. Unknown fields are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read configuration from %q", path)
	}
	if err = commandline.DecodeYAML(contents, &cfg); err != nil {
		return cfg, errors.WithMessagef(err, "failed to parse configuration in %q", path)
	}
	return cfg, nil
}

// Validate returns an error if the configuration is not usable.
func (c *Config) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}
	if c.Model == "" {
		return errors.New("no model given: set --model (create one with the init-model command)")
	}
	if c.Parallelism < 1 {
		return errors.Errorf("parallelism=%d must be >= 1", c.Parallelism)
	}
	return nil
}

// Labels returns the labels to pass to the engine: none if the label is to be predicted.
func (c *Config) Labels() []int {
	if c.Label < 0 {
		return nil
	}
	return []int{c.Label}
}
