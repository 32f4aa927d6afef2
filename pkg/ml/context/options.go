// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"slices"

	"github.com/gomlx/tensortrain/pkg/core/dtypes"
)

// Standard variable collections.
const (
	// GlobalVariables is the default collection of every variable.
	GlobalVariables = "variables"

	// TrainableVariables holds the variables that should be updated by a trainer.
	TrainableVariables = "trainable_variables"
)

// VariableOptions configure the creation or lookup of a variable. Use DefaultVariableOptions to get the defaults
// and change what is needed.
type VariableOptions struct {
	// DType of the variable. If set (not dtypes.InvalidDType) it must match the value's dtype.
	// It is also the dtype of variables created without a value.
	DType dtypes.DType

	// Trainable variables are included in the TrainableVariables collection.
	Trainable bool

	// Collections the variable is added to. If empty, [GlobalVariables] is used.
	// TrainableVariables is added automatically for trainable variables.
	Collections []string

	// CachingDevice where the variable value should be cached for reads. It is only recorded in
	// the variable, see Variable.CachingDevice.
	CachingDevice string

	// ValidateShape requires the variable to have a known shape at creation, and requires values assigned
	// to it to have the same shape.
	ValidateShape bool
}

// DefaultVariableOptions returns the default options: trainable and shape validated.
func DefaultVariableOptions() VariableOptions {
	return VariableOptions{
		Trainable:     true,
		ValidateShape: true,
	}
}

// collectionsFor returns the final list of collections for a variable created with the options.
func (opts VariableOptions) collectionsFor() []string {
	collections := slices.Clone(opts.Collections)
	if len(collections) == 0 {
		collections = []string{GlobalVariables}
	}
	if opts.Trainable && !slices.Contains(collections, TrainableVariables) {
		collections = append(collections, TrainableVariables)
	}
	return collections
}
