// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/gomlx/tensortrain/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"
)

// Exec evaluates the given output nodes of the graph on the host, and returns their values.
//
// Only the outputs and the nodes they depend on are evaluated, in creation order. Assign nodes among
// those are applied to their targets: so to apply an assignment, include it (or a node depending on it)
// in the outputs.
//
// Numeric values are computed in float64 and converted back to each node's dtype.
func Exec(g *Graph, outputs ...*Node) ([]*tensors.Tensor, error) {
	if err := g.CheckValid(); err != nil {
		return nil, err
	}
	needed := make([]bool, len(g.nodes))
	var markFn func(n *Node)
	markFn = func(n *Node) {
		if needed[n.id] {
			return
		}
		needed[n.id] = true
		for _, input := range n.inputs {
			markFn(input)
		}
	}
	for ii, output := range outputs {
		if output == nil || output.graph != g {
			return nil, errors.Errorf("Exec(%q): output #%d is nil or belongs to another graph", g.name, ii)
		}
		markFn(output)
	}

	values := make([][]float64, len(g.nodes))
	for id, n := range g.nodes {
		if !needed[id] {
			continue
		}
		v, err := execNode(n, values)
		if err != nil {
			return nil, errors.WithMessagef(err, "Exec(%q) failed evaluating node %s", g.name, n)
		}
		values[id] = v
	}

	results := make([]*tensors.Tensor, len(outputs))
	for ii, output := range outputs {
		t, err := tensors.FromFloat64(output.shape, values[output.id])
		if err != nil {
			return nil, errors.WithMessagef(err, "Exec(%q) failed converting output #%d", g.name, ii)
		}
		results[ii] = t
	}
	return results, nil
}

func execNode(n *Node, values [][]float64) ([]float64, error) {
	inputValue := func(ii int) []float64 { return values[n.inputs[ii].id] }
	switch n.opType {
	case NodeTypeConstant:
		return tensors.AsFloat64(n.constant)
	case NodeTypeParameter:
		t, err := n.target.Value()
		if err != nil {
			return nil, err
		}
		if !t.Shape().Equal(n.shape) {
			return nil, errors.Wrapf(ErrShapeMismatch, "%q changed shape from %s to %s after the graph was built",
				n.target.ScopeAndName(), n.shape, t.Shape())
		}
		return tensors.AsFloat64(t)
	case NodeTypeAssign:
		v := inputValue(0)
		t, err := tensors.FromFloat64(n.shape, v)
		if err != nil {
			return nil, err
		}
		if n.useLocking {
			locker := n.target.(Locker).AssignLocker()
			locker.Lock()
			defer locker.Unlock()
		}
		if err := n.target.SetValue(t); err != nil {
			return nil, err
		}
		klog.V(2).Infof("Assigned %s to %q", t.Shape(), n.target.ScopeAndName())
		return v, nil
	case NodeTypeAdd:
		return binaryKernel(inputValue(0), inputValue(1), func(a, b float64) float64 { return a + b }), nil
	case NodeTypeSub:
		return binaryKernel(inputValue(0), inputValue(1), func(a, b float64) float64 { return a - b }), nil
	case NodeTypeMul:
		return binaryKernel(inputValue(0), inputValue(1), func(a, b float64) float64 { return a * b }), nil
	case NodeTypeMulScalar:
		return unaryKernel(inputValue(0), func(x float64) float64 { return x * n.scalar }), nil
	case NodeTypeSquare:
		return unaryKernel(inputValue(0), func(x float64) float64 { return x * x }), nil
	case NodeTypeAbs:
		return unaryKernel(inputValue(0), math.Abs), nil
	case NodeTypeReduceAllSum:
		return []float64{sumKernel(inputValue(0))}, nil
	}
	return nil, errors.Errorf("node type %s not supported by the executor", n.opType)
}

func unaryKernel[T constraints.Float](x []T, fn func(T) T) []T {
	result := make([]T, len(x))
	for ii, v := range x {
		result[ii] = fn(v)
	}
	return result
}

// binaryKernel broadcasts scalar operands.
func binaryKernel[T constraints.Float](lhs, rhs []T, fn func(a, b T) T) []T {
	size := max(len(lhs), len(rhs))
	if len(lhs) == 0 || len(rhs) == 0 {
		return make([]T, 0)
	}
	result := make([]T, size)
	for ii := range result {
		a, b := lhs[0], rhs[0]
		if len(lhs) > 1 {
			a = lhs[ii]
		}
		if len(rhs) > 1 {
			b = rhs[ii]
		}
		result[ii] = fn(a, b)
	}
	return result
}

func sumKernel[T constraints.Float](x []T) (sum T) {
	for _, v := range x {
		sum += v
	}
	return
}
