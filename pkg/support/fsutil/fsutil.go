// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system paths given by users.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to check whether %q exists", path)
}

// ExpandHome replaces a leading "~" or "~user" in path by the corresponding home directory.
// Other paths are returned unchanged.
//
// It returns an error if the user is unknown.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	userName, rest, _ := strings.Cut(path[1:], "/")
	var homeDir string
	if userName == "" {
		var err error
		homeDir, err = os.UserHomeDir()
		if err != nil {
			return "", errors.Wrapf(err, "failed to find home directory for path %q", path)
		}
	} else {
		usr, err := user.Lookup(userName)
		if err != nil {
			return "", errors.Wrapf(err, "failed to lookup home directory of user %q for path %q", userName, path)
		}
		homeDir = usr.HomeDir
	}
	return filepath.Join(homeDir, rest), nil
}

// ExpandHomeAll applies ExpandHome to each of the paths, in place.
func ExpandHomeAll(paths []string) error {
	for ii, path := range paths {
		expanded, err := ExpandHome(path)
		if err != nil {
			return err
		}
		paths[ii] = expanded
	}
	return nil
}
