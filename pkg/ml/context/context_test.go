// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context_test

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/gomlx/tensortrain/pkg/core/tensors"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextScopes(t *testing.T) {
	ctx := context.New()
	assert.Equal(t, context.RootScope, ctx.Scope())
	ctx2 := ctx.In("a").Inf("%s_%d", "b", 1)
	assert.Equal(t, "/a/b_1", ctx2.Scope())
	assert.Equal(t, "/", ctx.Scope(), "In() should not change the original reference")
	assert.Equal(t, "/x", ctx2.InAbsPath("/x").Scope())

	assert.Error(t, exceptions.TryCatch[error](func() { ctx.In("") }))
	assert.Error(t, exceptions.TryCatch[error](func() { ctx.In("a/b") }))
	assert.Error(t, exceptions.TryCatch[error](func() { ctx.InAbsPath("a") }))

	assert.False(t, ctx.IsReuse())
	assert.True(t, ctx.Reuse().IsReuse())
	assert.False(t, ctx.Reuse().Unique().IsReuse())
	assert.True(t, ctx.IsChecked())
	assert.False(t, ctx.Checked(false).IsChecked())

	assert.Equal(t, "/a/b", context.JoinScope("/a", "b"))
	assert.Equal(t, "/b", context.JoinScope("/", "b"))
	scope, name := context.SplitScope("/a/b")
	assert.Equal(t, "/a", scope)
	assert.Equal(t, "b", name)
	scope, name = context.SplitScope("/b")
	assert.Equal(t, "/", scope)
	assert.Equal(t, "b", name)
	assert.Equal(t, "a_b", context.EscapeScopeName("a/b"))
}

func TestParams(t *testing.T) {
	ctx := context.New()
	ctx.SetParam("x", 1)
	ctx.SetParams(map[string]any{"y": 2.5, "name": "root"})
	ctxA := ctx.In("a")
	ctxA.SetParam("x", 10)

	assert.Equal(t, 10, context.GetParamOr(ctxA, "x", 0))
	assert.Equal(t, 1, context.GetParamOr(ctx, "x", 0))
	assert.Equal(t, 2.5, context.GetParamOr(ctxA, "y", 0.0))
	assert.Equal(t, float64(10), context.GetParamOr(ctxA, "x", 0.0), "int should be converted to float64")
	assert.Equal(t, 7, context.GetParamOr(ctxA, "missing", 7))
	assert.Equal(t, "root", context.MustGetParam[string](ctxA, "name"))
	assert.Error(t, exceptions.TryCatch[error](func() { context.MustGetParam[int](ctxA, "missing") }))
	assert.Error(t, exceptions.TryCatch[error](func() { context.MustGetParam[int](ctxA, "name") }))

	_, found := ctxA.GetLocalParam("y")
	assert.False(t, found)
	value, found := ctxA.GetLocalParam("x")
	require.True(t, found)
	assert.Equal(t, 10, value)

	ctxA.DeleteParam("x")
	assert.Equal(t, 1, context.GetParamOr(ctxA, "x", 0))

	var keys []string
	ctx.EnumerateParams(func(scope, key string, value any) { keys = append(keys, scope+":"+key) })
	assert.Equal(t, []string{"/:name", "/:x", "/:y"}, keys)
}

func TestCreateAndLookupVariables(t *testing.T) {
	ctx := context.New()
	ctxW := ctx.In("W")
	value := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	v0, err := ctxW.CreateVariable("core_0", value, context.DefaultVariableOptions())
	require.NoError(t, err)
	assert.Equal(t, "/W/core_0", v0.ScopeAndName())
	assert.Equal(t, "var:/W/core_0", v0.ParameterName())
	assert.Equal(t, shapes.Make(dtypes.Float32, 2, 2), v0.Shape())
	assert.True(t, v0.Trainable())
	assert.Equal(t, []string{context.GlobalVariables, context.TrainableVariables}, v0.Collections())

	// Duplicate creation in a checked unique context.
	_, err = ctxW.CreateVariable("core_0", value, context.DefaultVariableOptions())
	assert.ErrorIs(t, err, context.ErrVariableExists)

	// Reuse returns the same variable.
	v, err := ctxW.Reuse().CreateVariable("core_0", value, context.DefaultVariableOptions())
	require.NoError(t, err)
	assert.Same(t, v0, v)

	// Reuse of a missing variable.
	_, err = ctxW.Reuse().CreateVariable("core_1", value, context.DefaultVariableOptions())
	assert.ErrorIs(t, err, context.ErrVariableNotFound)

	// Reuse with a different shape or dtype.
	_, err = ctxW.Reuse().CreateVariable("core_0", tensors.FromScalar(float32(1)), context.DefaultVariableOptions())
	assert.ErrorIs(t, err, context.ErrShapeMismatch)
	_, err = ctxW.Reuse().CreateVariable("core_0", tensors.FromScalar(float64(1)), context.DefaultVariableOptions())
	assert.ErrorIs(t, err, context.ErrDTypeMismatch)

	// Lookup.
	v, err = ctxW.LookupVariable("core_0", context.VariableOptions{DType: dtypes.Float32})
	require.NoError(t, err)
	assert.Same(t, v0, v)
	_, err = ctxW.LookupVariable("core_0", context.VariableOptions{DType: dtypes.Float64})
	assert.ErrorIs(t, err, context.ErrDTypeMismatch)
	_, err = ctxW.LookupVariable("core_1", context.VariableOptions{})
	assert.ErrorIs(t, err, context.ErrVariableNotFound)
	assert.Nil(t, ctx.GetVariable("core_0"))
	assert.Same(t, v0, ctx.GetVariableByScopeAndName("/W", "core_0"))

	// Options.
	opts := context.VariableOptions{
		DType:         dtypes.Float32,
		Collections:   []string{"tt_cores"},
		CachingDevice: "/cpu:0",
		ValidateShape: true,
	}
	v1, err := ctxW.CreateVariable("core_1", tensors.FromScalar(float32(1)), opts)
	require.NoError(t, err)
	assert.False(t, v1.Trainable())
	assert.Equal(t, []string{"tt_cores"}, v1.Collections())
	assert.Equal(t, "/cpu:0", v1.CachingDevice())
	_, err = ctxW.CreateVariable("core_2", tensors.FromScalar(float64(1)), opts)
	assert.ErrorIs(t, err, context.ErrDTypeMismatch)

	assert.Len(t, ctx.VariablesInCollection(context.TrainableVariables), 1)
	assert.Len(t, ctx.VariablesInCollection("tt_cores"), 1)
	assert.Equal(t, 2, ctx.NumVariables())
	assert.Equal(t, 5, ctx.NumParameters())
	assert.Equal(t, uintptr(20), ctx.Memory())

	var inScope []string
	for v := range ctxW.IterVariablesInScope() {
		inScope = append(inScope, v.Name())
	}
	assert.Equal(t, []string{"core_0", "core_1"}, inScope)
	assert.True(t, context.IsInScope("/W", "/W/x"))
	assert.False(t, context.IsInScope("/W", "/Wx"))

	require.NoError(t, ctx.DeleteVariable("/W", "core_1"))
	assert.Equal(t, 1, ctx.NumVariables())
	assert.Nil(t, ctxW.GetVariable("core_1"))
}

func TestUnknownShapeVariables(t *testing.T) {
	ctx := context.New()
	_, err := ctx.CreateVariable("v", nil, context.DefaultVariableOptions())
	assert.ErrorIs(t, err, context.ErrUnknownShape)

	opts := context.DefaultVariableOptions()
	opts.ValidateShape = false
	opts.DType = dtypes.Float64
	v, err := ctx.CreateVariable("v", nil, opts)
	require.NoError(t, err)
	assert.False(t, v.IsValid())
	assert.Equal(t, dtypes.Float64, v.DType())
	assert.ErrorIs(t, v.CheckValid(), context.ErrUnknownShape)
	_, err = v.Value()
	assert.Error(t, err)

	// The first assignment sets the shape.
	g := graph.NewGraph("")
	_, err = context.Assign(g, v, graph.Const(g, []float32{1, 2}), false, false)
	assert.ErrorIs(t, err, context.ErrDTypeMismatch)
	assign, err := context.Assign(g, v, graph.Const(g, []float64{1, 2}), false, false)
	require.NoError(t, err)
	_, err = graph.Exec(g, assign)
	require.NoError(t, err)
	assert.Equal(t, shapes.Make(dtypes.Float64, 2), v.Shape())
	assert.Equal(t, []float64{1, 2}, v.MustValue().Value())
}

func TestAssignAndValueGraph(t *testing.T) {
	ctx := context.New()
	v := ctx.VariableWithValue("x", []float32{1, 2})
	g := graph.NewGraph("")
	read := v.ValueGraph(g)
	assert.Same(t, read, v.ValueGraph(g))
	assert.True(t, v.InUseByGraph(g))

	assign, err := context.Assign(g, v, graph.MulScalar(read, 2), true, true)
	require.NoError(t, err)
	assert.Same(t, assign, v.ValueGraph(g), "assignment becomes the value of the variable in the graph")

	_, err = context.Assign(g, v, graph.Const(g, []float32{1, 2, 3}), true, false)
	assert.ErrorIs(t, err, context.ErrShapeMismatch)

	assert.Equal(t, []float32{1, 2}, v.MustValue().Value(), "building the graph doesn't change the value")
	_, err = graph.Exec(g, assign)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4}, v.MustValue().Value())
	assert.Equal(t, dtypes.Float32, v.DType())

	// VariableWithValue panics on duplicates.
	assert.Error(t, exceptions.TryCatch[error](func() { ctx.VariableWithValue("x", float32(0)) }))
}

func TestGraphCollections(t *testing.T) {
	ctx := context.New()
	g1 := graph.NewGraph("g1")
	g2 := graph.NewGraph("g2")
	assert.Nil(t, ctx.RegularizationLoss(g1))
	ctx.AddToCollection(g1, context.RegularizationLosses, graph.Const(g1, float32(1)))
	ctx.AddToCollection(g1, context.RegularizationLosses, graph.Const(g1, float32(2)))
	ctx.AddToCollection(g2, context.RegularizationLosses, graph.Const(g2, float32(5)))
	assert.Len(t, ctx.Collection(g1, context.RegularizationLosses), 2)
	assert.Len(t, ctx.Collection(g2, context.RegularizationLosses), 1)

	outputs, err := graph.Exec(g1, ctx.RegularizationLoss(g1))
	require.NoError(t, err)
	assert.Equal(t, float32(3), outputs[0].Value())

	assert.Error(t, exceptions.TryCatch[error](func() {
		ctx.AddToCollection(g1, context.RegularizationLosses, graph.Const(g2, float32(1)))
	}))
	ctx.ClearGraphCollections(g1)
	assert.Empty(t, ctx.Collection(g1, context.RegularizationLosses))
}

// constantLoader loads every requested variable in the "/loaded" scope with the same value.
type constantLoader struct {
	value   *tensors.Tensor
	deleted []string
}

func (l *constantLoader) LoadVariable(_ *context.Context, scope, name string) (*tensors.Tensor, bool) {
	if scope != "/loaded" {
		return nil, false
	}
	return must.M1(l.value.Clone()), true
}

func (l *constantLoader) DeleteVariable(_ *context.Context, scope, name string) error {
	l.deleted = append(l.deleted, context.JoinScope(scope, name))
	return nil
}

func TestLoader(t *testing.T) {
	ctx := context.New()
	loader := &constantLoader{value: tensors.FromScalar(float32(3))}
	ctx.SetLoader(loader)
	assert.Equal(t, loader, ctx.Loader())

	ctxLoaded := ctx.In("loaded")
	opts := context.VariableOptions{Collections: []string{"loaded"}, CachingDevice: "/gpu:0"}
	v, err := ctxLoaded.LookupVariable("x", opts)
	require.NoError(t, err)
	assert.Equal(t, float32(3), v.MustValue().Value())
	assert.False(t, v.Trainable())
	assert.Equal(t, []string{"loaded"}, v.Collections())
	assert.Equal(t, "/gpu:0", v.CachingDevice())

	// Loaded values override the given one, and count as existing.
	_, err = ctxLoaded.CreateVariable("y", tensors.FromScalar(float32(0)), context.DefaultVariableOptions())
	assert.ErrorIs(t, err, context.ErrVariableExists)
	y, err := ctxLoaded.Reuse().CreateVariable("y", tensors.FromScalar(float32(0)), context.DefaultVariableOptions())
	require.NoError(t, err)
	assert.Equal(t, float32(3), y.MustValue().Value())

	_, err = ctx.LookupVariable("x", opts)
	assert.ErrorIs(t, err, context.ErrVariableNotFound)

	require.NoError(t, ctx.DeleteVariable("/loaded", "x"))
	assert.Equal(t, []string{"/loaded/x"}, loader.deleted)
	assert.Nil(t, ctx.InspectVariableIfLoaded("/loaded", "x"))
}

func TestParameterNames(t *testing.T) {
	for _, tc := range []struct{ scope, name string }{
		{"/W", "core_0"},
		{"/a/b", "c"},
		{"/", "root_var"},
	} {
		parameterName := context.VariableParameterNameFromScopeAndName(tc.scope, tc.name)
		scope, name := context.VariableScopeAndNameFromParameterName(parameterName)
		assert.Equalf(t, tc.scope, scope, "scope for %q", parameterName)
		assert.Equalf(t, tc.name, name, "name for %q", parameterName)
	}
	scope, name := context.VariableScopeAndNameFromParameterName("not_a_variable")
	assert.Empty(t, scope)
	assert.Empty(t, name)
}
