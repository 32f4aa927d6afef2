// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/pkg/errors"
)

// Assign creates a node in g that sets the variable v to value when executed, and returns it.
// The returned node becomes the value of v in g (see Variable.ValueGraph).
//
// The dtype of value must match the variable's (ErrDTypeMismatch). If validateShape is true, the shape
// must match too (ErrShapeMismatch), otherwise the variable takes the value's shape when the assignment
// is executed. useLocking makes the executor hold a lock on v while assigning.
func Assign(g *graph.Graph, v *Variable, value *graph.Node, validateShape, useLocking bool) (*graph.Node, error) {
	if v == nil {
		return nil, errors.New("context.Assign() called with a nil variable")
	}
	if err := checkDType(v, value.DType()); err != nil {
		return nil, err
	}
	node, err := graph.Assign(g, v, value, validateShape, useLocking)
	if err != nil {
		return nil, err
	}
	v.setValueGraph(node)
	return node, nil
}
