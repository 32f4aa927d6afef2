// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// IsDir returns whether path exists and is a directory. It returns an error if path exists but it is
// a normal file, or if the file system reports any other error.
func IsDir(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to os.Stat(%q)", path)
	}
	if !fi.IsDir() {
		return false, errors.Errorf("%q exists but it is a normal file, not a directory", path)
	}
	return true, nil
}

// ReplaceTildeInDir replaces a leading "~" (or "~user") by the user's home directory.
// It returns dir unchanged if it doesn't start with "~".
func ReplaceTildeInDir(dir string) (string, error) {
	if !strings.HasPrefix(dir, "~") {
		return dir, nil
	}
	userName, rest, _ := strings.Cut(dir[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}
