// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tt

import (
	"slices"

	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/ml/context"
)

const (
	// ParamL2 context hyperparameter defines the amount of L2 regularization of the TT-cores, see FromContext.
	// The value should be a float64. The default is `0.0`.
	ParamL2 = "l2_regularization"

	// ParamL1 context hyperparameter defines the amount of L1 regularization of the TT-cores, see FromContext.
	// The value should be a float64. The default is `0.0`.
	ParamL1 = "l1_regularization"
)

// Regularizer returns a scalar loss term for a newly created TT variable, built in graph g.
// It returns nil if there is no loss to add.
//
// GetVariable calls it in the graph name scope "<name>/Regularizer/", and adds the returned loss
// to the context.RegularizationLosses collection of g.
type Regularizer func(ctx *context.Context, g *graph.Graph, v *Variable) *graph.Node

// reduceCores applies fn to the value of each core and sums the results.
func reduceCores(g *graph.Graph, v *Variable, fn func(x *graph.Node) *graph.Node) *graph.Node {
	var loss *graph.Node
	for _, core := range ValueGraph(g, v).Cores() {
		term := graph.ReduceAllSum(fn(core))
		if loss == nil {
			loss = term
		} else {
			loss = graph.Add(loss, term)
		}
	}
	return loss
}

// L2 creates a L2 regularizer (sum of x^2 over the elements of all cores, times amount) with the given static amount.
// It returns nil if amount is 0.
func L2(amount float64) Regularizer {
	if amount == 0 {
		return nil
	}
	return func(_ *context.Context, g *graph.Graph, v *Variable) *graph.Node {
		return graph.MulScalar(reduceCores(g, v, graph.Square), amount)
	}
}

// L1 creates a L1 regularizer (sum of abs(x) over the elements of all cores, times amount) with the given static amount.
// It returns nil if amount is 0.
func L1(amount float64) Regularizer {
	if amount == 0 {
		return nil
	}
	return func(_ *context.Context, g *graph.Graph, v *Variable) *graph.Node {
		return graph.MulScalar(reduceCores(g, v, graph.Abs), amount)
	}
}

// Combine the provided regularizers into one, whose loss is the sum of the losses returned by each.
// If regs is empty, this returns a nil regularizer.
// If regs has only one element, it is returned.
// If any of the regs is nil, it is skipped.
func Combine(regs ...Regularizer) Regularizer {
	regs = slices.DeleteFunc(regs, func(r Regularizer) bool { return r == nil })
	if len(regs) == 0 {
		return nil
	}
	if len(regs) == 1 {
		return regs[0]
	}
	return func(ctx *context.Context, g *graph.Graph, v *Variable) *graph.Node {
		losses := make([]*graph.Node, 0, len(regs))
		for _, reg := range regs {
			losses = append(losses, reg(ctx, g, v))
		}
		return graph.AddScalars(losses...)
	}
}

// FromContext returns a regularizer from context hyperparameters ParamL2 and ParamL1.
// It may be nil if no regularization is configured.
func FromContext(ctx *context.Context) Regularizer {
	return Combine(
		L2(context.GetParamOr(ctx, ParamL2, 0.0)),
		L1(context.GetParamOr(ctx, ParamL1, 0.0)))
}
