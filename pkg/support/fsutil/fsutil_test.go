// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDir(t *testing.T) {
	dir := t.TempDir()
	isDir, err := IsDir(dir)
	require.NoError(t, err)
	assert.True(t, isDir)

	isDir, err = IsDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, isDir)

	fileName := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(fileName, []byte("x"), 0o600))
	_, err = IsDir(fileName)
	require.Error(t, err)
}

func TestReplaceTildeInDir(t *testing.T) {
	got, err := ReplaceTildeInDir("/tmp/checkpoints")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/checkpoints", got)

	usr, err := user.Current()
	require.NoError(t, err)
	got, err = ReplaceTildeInDir("~/checkpoints/tt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "checkpoints/tt"), got)

	got, err = ReplaceTildeInDir("~")
	require.NoError(t, err)
	assert.Equal(t, usr.HomeDir, got)
}
