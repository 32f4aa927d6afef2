// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tt

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/pkg/errors"
)

// AssignOption configures Assign.
type AssignOption func(*assignConfig)

type assignConfig struct {
	validateShape, useLocking bool
	name                      string
}

// WithValidateShape sets whether each value core must have the same shape as the target core. Default is true.
func WithValidateShape(validateShape bool) AssignOption {
	return func(c *assignConfig) { c.validateShape = validateShape }
}

// WithUseLocking makes the executor lock each target core while assigning it. Default is false.
func WithUseLocking(useLocking bool) AssignOption {
	return func(c *assignConfig) { c.useLocking = useLocking }
}

// WithName sets the graph name scope where the assignment nodes are created. Default is the current scope.
func WithName(name string) AssignOption {
	return func(c *assignConfig) { c.name = name }
}

// coreNode returns the graph node with the value of a core.
func coreNode[C Core](g *graph.Graph, core C) (node *graph.Node, err error) {
	switch c := any(core).(type) {
	case *graph.Node:
		return c, nil
	case *context.Variable:
		err = exceptions.TryCatch[error](func() { node = c.ValueGraph(g) })
		return
	}
	return nil, errors.Errorf("core %s of type %T cannot be used as a value", core, core)
}

// Assign creates in g the assignment of each core of value to the corresponding core of target, in order,
// and returns the tensor-train of the assignment nodes: executing them (see graph.Exec) updates the cores.
// The target itself is not changed.
//
// The value can be another TT variable or a tensor-train of graph nodes, and must have the same number
// of dimensions as the target.
//
// The first failing core assignment aborts and its error is returned unchanged. Assignment nodes created
// for the previous cores remain in the graph, and are applied if executed.
func Assign[C Core](g *graph.Graph, target *Variable, value *TensorTrain[C], opts ...AssignOption) (*Nodes, error) {
	cfg := &assignConfig{validateShape: true}
	for _, opt := range opts {
		opt(cfg)
	}
	if target == nil || value == nil {
		return nil, errors.New("tt.Assign(): target and value must be non-nil")
	}
	if target.NumDims() != value.NumDims() {
		return nil, errors.Errorf("tt.Assign(%q): target has %d dimensions, but value has %d",
			target.Name(), target.NumDims(), value.NumDims())
	}
	if err := g.CheckValid(); err != nil {
		return nil, err
	}
	nodes := make([]*graph.Node, target.NumDims())
	var err error
	g.WithNameScope(cfg.name, func() {
		for ii, core := range target.cores {
			var valueNode *graph.Node
			valueNode, err = coreNode(g, value.cores[ii])
			if err != nil {
				return
			}
			nodes[ii], err = context.Assign(g, core, valueNode, cfg.validateShape, cfg.useLocking)
			if err != nil {
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return &Nodes{name: target.name, cores: nodes}, nil
}

// MustAssign is like Assign, but panics on error.
func MustAssign[C Core](g *graph.Graph, target *Variable, value *TensorTrain[C], opts ...AssignOption) *Nodes {
	nodes, err := Assign(g, target, value, opts...)
	if err != nil {
		panic(err)
	}
	return nodes
}
