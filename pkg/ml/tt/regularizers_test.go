// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tt_test

import (
	"strings"
	"testing"

	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/gomlx/tensortrain/pkg/ml/tt"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execScalar(t *testing.T, g *graph.Graph, node *graph.Node) float64 {
	outputs, err := graph.Exec(g, node)
	require.NoError(t, err)
	value, ok := outputs[0].Value().(float32)
	require.True(t, ok, "expected a float32 scalar, got %s", outputs[0].Shape())
	return float64(value)
}

func TestRegularizerRegisteredOnce(t *testing.T) {
	ctx := context.New()
	g := graph.NewGraph("train")
	calls := 0
	var scope string
	reg := func(ctx *context.Context, g *graph.Graph, v *tt.Variable) *graph.Node {
		calls++
		scope = g.CurrentScope()
		assert.Equal(t, 3, v.NumDims())
		return tt.L2(0.5)(ctx, g, v)
	}
	v, err := tt.GetVariable(ctx, "W").
		Initializer(tt.Ones(dtypes.Float32, []int{2, 3, 4})).
		Regularizer(g, reg).
		Done()
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "W/Regularizer", scope)

	losses := ctx.Collection(g, context.RegularizationLosses)
	require.Len(t, losses, 1)
	assert.True(t, strings.HasPrefix(losses[0].Name(), "W/Regularizer/"), "loss name %q", losses[0].Name())
	assert.Equal(t, "", g.CurrentScope(), "name scope should be restored")
	assert.InDelta(t, 0.5*(2+3+4), execScalar(t, g, losses[0]), 1e-6)

	// Reuse doesn't call the regularizer again.
	_, err = tt.GetVariable(ctx, "W").Regularizer(g, reg).Done()
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, ctx.Collection(g, context.RegularizationLosses), 1)
}

func TestRegularizerReturningNil(t *testing.T) {
	ctx := context.New()
	g := graph.NewGraph("train")
	called := false
	_, err := tt.GetVariable(ctx, "W").
		Initializer(tt.Ones(dtypes.Float32, []int{2})).
		Regularizer(g, func(*context.Context, *graph.Graph, *tt.Variable) *graph.Node {
			called = true
			return nil
		}).
		Done()
	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, ctx.Collection(g, context.RegularizationLosses))
	assert.Nil(t, ctx.RegularizationLoss(g))

	// A nil regularizer (e.g. L2(0)) is simply ignored.
	_, err = tt.GetVariable(ctx, "V").Initializer(tt.Ones(dtypes.Float32, []int{2})).Regularizer(g, tt.L2(0)).Done()
	require.NoError(t, err)
	assert.Empty(t, ctx.Collection(g, context.RegularizationLosses))
}

func TestRegularizerErrors(t *testing.T) {
	ctx := context.New()
	init := tt.Ones(dtypes.Float32, []int{2})
	_, err := tt.GetVariable(ctx, "W").Initializer(init).Regularizer(nil, tt.L2(1)).Done()
	assert.Error(t, err, "regularizer without a graph")

	g := graph.NewGraph("train")
	_, err = tt.GetVariable(ctx, "V").Initializer(init).
		Regularizer(g, func(*context.Context, *graph.Graph, *tt.Variable) *graph.Node {
			panic(errors.New("regularizer failure"))
		}).Done()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regularizer failure")
	assert.Equal(t, "", g.CurrentScope())

	_, err = tt.GetVariable(ctx, "U").Initializer(tt.Ones(dtypes.Float32, []int{2, 2})).
		Regularizer(g, func(_ *context.Context, g *graph.Graph, v *tt.Variable) *graph.Node {
			return tt.ValueGraph(g, v).Core(0)
		}).Done()
	assert.Error(t, err, "non-scalar loss")
	assert.Empty(t, ctx.Collection(g, context.RegularizationLosses))
}

func TestRegularizers(t *testing.T) {
	ctx := context.New()
	g := graph.NewGraph("regularizers")
	// Cores [1,2,1] and [1,3,1] with values -1.
	values := tt.Ones(dtypes.Float32, []int{2, 3}).Cores()
	minusOnes := make([]*graph.Node, len(values))
	for ii, core := range values {
		minusOnes[ii] = graph.MulScalar(graph.Const(g, core), -1)
	}
	v, err := tt.GetVariable(ctx, "W").Initializer(tt.Ones(dtypes.Float32, []int{2, 3})).Done()
	require.NoError(t, err)
	value, err := tt.New("minus_ones", minusOnes)
	require.NoError(t, err)
	assign, err := tt.Assign(g, v, value)
	require.NoError(t, err)
	_, err = graph.Exec(g, assign.Cores()...)
	require.NoError(t, err)

	g = graph.NewGraph("losses")
	assert.InDelta(t, 2*5.0, execScalar(t, g, tt.L2(2)(ctx, g, v)), 1e-6)
	assert.InDelta(t, 3*5.0, execScalar(t, g, tt.L1(3)(ctx, g, v)), 1e-6)
	assert.InDelta(t, 5*5.0, execScalar(t, g, tt.Combine(tt.L2(2), nil, tt.L1(3))(ctx, g, v)), 1e-6)

	assert.Nil(t, tt.L1(0))
	assert.Nil(t, tt.Combine())
	assert.Nil(t, tt.Combine(nil, nil))
	assert.Nil(t, tt.FromContext(ctx))

	ctx.SetParam(tt.ParamL2, 0.1)
	reg := tt.FromContext(ctx)
	require.NotNil(t, reg)
	assert.InDelta(t, 0.5, execScalar(t, g, reg(ctx, g, v)), 1e-6)
	ctx.SetParam(tt.ParamL1, 1.0)
	reg = tt.FromContext(ctx)
	assert.InDelta(t, 5.5, execScalar(t, g, reg(ctx, g, v)), 1e-6)
}
