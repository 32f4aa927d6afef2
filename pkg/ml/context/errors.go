// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/pkg/errors"
)

// Errors returned by the variable store, wrapped with a message naming the variable.
// Check them with errors.Is.
var (
	// ErrVariableNotFound is returned when looking up a variable that doesn't exist (and can't be loaded),
	// or when creating a variable in a checked Context.Reuse mode that doesn't exist yet.
	ErrVariableNotFound = errors.New("variable not found")

	// ErrVariableExists is returned when creating a variable that already exists in a checked context
	// not in reuse mode.
	ErrVariableExists = errors.New("variable already exists")

	// ErrShapeMismatch is returned when a value doesn't match the shape of a variable.
	ErrShapeMismatch = graph.ErrShapeMismatch

	// ErrDTypeMismatch is returned when a value or the requested dtype doesn't match the variable's dtype.
	ErrDTypeMismatch = graph.ErrDTypeMismatch

	// ErrUnknownShape is returned when a variable would be created without a value (and hence without a shape)
	// while shape validation is required.
	ErrUnknownShape = errors.New("unknown shape")
)
