// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bytes"
	"io"
	"os"
	"path"
	"strings"

	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/gomlx/tensortrain/pkg/support/fsutil"
	"github.com/gomlx/tensortrain/pkg/support/sets"
	"github.com/pkg/errors"
)

// BinFormat defines the compression format of the binary file holding the variable values.
type BinFormat int

const (
	// BinGZIP is a gzip compressed binary file, prefixed by a small header. It is the default.
	BinGZIP BinFormat = iota

	// BinUncompressed is the raw concatenation of the variable values, without header.
	BinUncompressed
)

// String implements fmt.Stringer.
func (bf BinFormat) String() string {
	switch bf {
	case BinGZIP:
		return "gzip"
	case BinUncompressed:
		return "uncompressed"
	default:
		return "unknown"
	}
}

// Config for the checkpoints' Handler to be created. It is created with Build (or Load), configured
// with the various methods, and finally Done returns the Handler.
type Config struct {
	ctx *context.Context
	err error

	// Either dir or jsonReader+binReader are set.
	dir                   string
	jsonReader, binReader io.Reader

	immediate bool
	keep      int
	mustLoad  bool
	takeMean  int

	includeParams   bool
	paramsToExclude sets.Set[string]
	varsToExclude   sets.Set[*context.Variable]

	binFormat BinFormat
}

// Build a configuration for a checkpoints.Handler attached to ctx. After configuring it, call Done.
//
// The Handler loads the most recent checkpoint found (see Config.Dir, Config.DirFromBase or Config.FromEmbed),
// if any. Parameters are set into the context immediately, while variables are loaded lazily, as they are
// looked up (for instance by tt.GetVariable in reuse mode), unless Config.Immediate is used.
func Build(ctx *context.Context) *Config {
	return &Config{
		ctx:             ctx,
		includeParams:   true,
		keep:            1,
		takeMean:        1,
		paramsToExclude: sets.Make[string](),
		varsToExclude:   sets.Make[*context.Variable](),
	}
}

// Load is like Build, but Done fails if there is no checkpoint to load.
func Load(ctx *context.Context) *Config {
	c := Build(ctx)
	c.mustLoad = true
	return c
}

// setError keeps the first error.
func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Dir sets the directory where to save and load the checkpoints. It is created if it doesn't exist,
// except if configured with Load.
//
// A leading "~" is replaced by the user's home directory.
func (c *Config) Dir(dir string) *Config {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		c.setError(err)
		return c
	}
	c.dir = dir
	exists, err := fsutil.IsDir(dir)
	if err != nil {
		c.setError(err)
		return c
	}
	if exists {
		return c
	}
	if c.mustLoad {
		c.setError(errors.Errorf("checkpoint directory %q does not exist or cannot be accessed", dir))
		return c
	}
	if err = os.MkdirAll(dir, DirPermMode); err != nil {
		c.setError(errors.Wrapf(err, "trying to create dir %q", dir))
	}
	return c
}

// DirFromBase is like Dir, but if dir is a relative path, it is taken as relative to baseDir.
func (c *Config) DirFromBase(dir, baseDir string) *Config {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		c.setError(err)
		return c
	}
	if !path.IsAbs(dir) {
		baseDir, err = fsutil.ReplaceTildeInDir(baseDir)
		if err != nil {
			c.setError(err)
			return c
		}
		dir = path.Join(baseDir, dir)
	}
	return c.Dir(dir)
}

// TempDir creates a new temporary directory (see os.MkdirTemp) and uses it to save the checkpoints.
func (c *Config) TempDir(dir, pattern string) *Config {
	newDir, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		c.setError(errors.Wrapf(err, "failed to create os.MkdirTemp(%q, %q)", dir, pattern))
		return c
	}
	if err = os.Chmod(newDir, DirPermMode); err != nil {
		c.setError(errors.Wrapf(err, "failed to os.Chmod(%q, %s)", newDir, DirPermMode))
		return c
	}
	c.dir = newDir
	return c
}

// FromEmbed loads the checkpoint from the contents of its JSON and binary files, usually embedded
// in the program with go:embed. A Handler configured this way cannot save.
func (c *Config) FromEmbed(json string, binary []byte) *Config {
	c.jsonReader = strings.NewReader(json)
	binReader, err := newBinReader(bytes.NewReader(binary))
	if err != nil {
		c.setError(errors.WithMessage(err, "FromEmbed()"))
		return c
	}
	c.binReader = binReader
	return c
}

// Immediate loads all variables into the context when Done is called, as opposed to loading them
// as they are looked up. Inspection tools (like tt_checkpoints) use it to list every variable.
func (c *Config) Immediate() *Config {
	c.immediate = true
	return c
}

// ExcludeAllParams disables loading and saving of the context parameters.
func (c *Config) ExcludeAllParams() *Config {
	c.includeParams = false
	return c
}

// ExcludeParams excludes the given parameters from being loaded. A name without scope excludes the
// parameter in every scope, a scoped one (see context.JoinScope) only in that scope.
func (c *Config) ExcludeParams(paramsToExclude ...string) *Config {
	c.paramsToExclude.Insert(paramsToExclude...)
	return c
}

// ExcludeVars excludes the given variables from being saved.
func (c *Config) ExcludeVars(vars ...*context.Variable) *Config {
	c.varsToExclude.Insert(vars...)
	return c
}

// Keep configures the number of checkpoints to keep. If set to -1, older checkpoints are never removed.
// The default is 1.
func (c *Config) Keep(n int) *Config {
	c.keep = n
	return c
}

// TakeMean loads the mean of the last n checkpoints, or of all of them if n <= 0.
// Only float variables are averaged, others are taken from the most recent checkpoint.
// The default is 1: only the most recent checkpoint is loaded.
func (c *Config) TakeMean(n int) *Config {
	c.takeMean = n
	return c
}

// WithCompression sets the format of the binary file written by Save. Unknown values fall back to BinGZIP.
func (c *Config) WithCompression(bf BinFormat) *Config {
	c.binFormat = bf
	if bf != BinGZIP && bf != BinUncompressed {
		c.binFormat = BinGZIP
	}
	return c
}
