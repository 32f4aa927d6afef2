// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tt_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/gomlx/tensortrain/pkg/core/tensors"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/gomlx/tensortrain/pkg/ml/tt"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coreNames(v *tt.Variable) []string {
	names := make([]string, v.NumDims())
	for ii, core := range v.Cores() {
		names[ii] = core.ScopeAndName()
	}
	return names
}

func TestCreateNumDims(t *testing.T) {
	for numDims := 1; numDims <= 4; numDims++ {
		t.Run(fmt.Sprintf("%d", numDims), func(t *testing.T) {
			ctx := context.New()
			shape := make([]int, numDims)
			for ii := range shape {
				shape[ii] = ii + 2
			}
			v, err := tt.GetVariable(ctx, "W").Initializer(tt.Random(dtypes.Float32, shape, 2, 0.1, 1)).Done()
			require.NoError(t, err)
			require.Equal(t, numDims, v.NumDims())
			for ii, core := range v.Cores() {
				assert.Equal(t, "/W", core.Scope())
				assert.Equal(t, fmt.Sprintf("core_%d", ii), core.Name())
			}
			assert.Equal(t, numDims, ctx.NumVariables())
		})
	}
}

func TestScenarioThreeCores(t *testing.T) {
	ctx := context.New()
	a := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2, 1)
	b := tensors.FromFlatDataAndDimensions([]float32{3, 4, 5}, 1, 3, 1)
	c := tensors.FromFlatDataAndDimensions([]float32{6, 7}, 1, 2, 1)
	init := tt.FromCores(a, b, c)
	require.Equal(t, 3, init.NumDims())

	v, err := tt.GetVariable(ctx, "W").Initializer(init).Done()
	require.NoError(t, err)
	assert.Equal(t, "W", v.Name())
	assert.Equal(t, []string{"/W/core_0", "/W/core_1", "/W/core_2"}, coreNames(v))
	for ii, want := range []*tensors.Tensor{a, b, c} {
		assert.True(t, want.Equal(v.Core(ii).MustValue()), "core %d value", ii)
		assert.Equal(t, fmt.Sprintf("var:/W/core_%d", ii), v.Core(ii).ParameterName())
	}
	assert.Equal(t, [][]int{{2}, {3}, {2}}, v.RawShape())
	assert.Equal(t, []int{1, 1, 1, 1}, v.Ranks())
	assert.Equal(t, 7, v.NumParameters())
	assert.Equal(t, uintptr(28), v.Memory())
	assert.Equal(t, dtypes.Float32, v.DType())
	assert.False(t, v.IsMatrix())
	assert.Contains(t, v.String(), "TT-tensor \"W\" (3 dims")
}

func TestReuse(t *testing.T) {
	ctx := context.New()
	created, err := tt.GetVariable(ctx, "W").Initializer(tt.Ones(dtypes.Float32, []int{2, 3, 4})).Done()
	require.NoError(t, err)

	first, err := tt.GetVariable(ctx, "W").Done()
	require.NoError(t, err)
	second := tt.MustGetVariable(ctx, "W")
	require.Equal(t, created.NumDims(), first.NumDims())
	require.Equal(t, created.NumDims(), second.NumDims())
	for ii := range created.NumDims() {
		assert.Same(t, created.Core(ii), first.Core(ii))
		assert.Same(t, first.Core(ii), second.Core(ii))
	}
	assert.Equal(t, 3, ctx.NumVariables(), "reuse should not create variables")

	// Reuse of a composite that doesn't exist.
	missing, err := tt.GetVariable(ctx, "V").Done()
	assert.Nil(t, missing)
	require.ErrorIs(t, err, context.ErrVariableNotFound)
	assert.Panics(t, func() { tt.MustGetVariable(ctx, "V") })

	// DType mismatch is propagated.
	_, err = tt.GetVariable(ctx, "W").DType(dtypes.Float64).Done()
	assert.ErrorIs(t, err, context.ErrDTypeMismatch)

	// Creating it again in a checked unique context fails.
	_, err = tt.GetVariable(ctx, "W").Initializer(tt.Ones(dtypes.Float32, []int{2, 3, 4})).Done()
	assert.ErrorIs(t, err, context.ErrVariableExists)

	// But creation in reuse mode returns the existing cores.
	reused, err := tt.GetVariable(ctx.Reuse(), "W").Initializer(tt.Zeros(dtypes.Float32, []int{2, 3, 4})).Done()
	require.NoError(t, err)
	assert.Same(t, created.Core(2), reused.Core(2))
	assert.Equal(t, [][][]float32{{{1}, {1}, {1}, {1}}}, reused.Core(2).MustValue().Value())

	// Reuse with an initializer of different dimensionality fails, and doesn't change the recorded
	// number of dimensions.
	for _, shape := range [][]int{{2, 3}, {2, 3, 4, 5}} {
		_, err = tt.GetVariable(ctx.Reuse(), "W").Initializer(tt.Ones(dtypes.Float32, shape)).Done()
		assert.ErrorIs(t, err, context.ErrShapeMismatch, "shape %v", shape)
		_, err = tt.GetVariable(ctx.Checked(false), "W").Initializer(tt.Ones(dtypes.Float32, shape)).Done()
		assert.ErrorIs(t, err, context.ErrShapeMismatch, "shape %v", shape)
	}
	numDims, found := tt.NumDimsInScope(ctx.In("W"))
	require.True(t, found)
	assert.Equal(t, 3, numDims)
	assert.Nil(t, ctx.In("W").GetVariable(tt.CoreName(3)), "no core created by the failed reuse")
	resolved, err := tt.GetVariable(ctx, "W").Done()
	require.NoError(t, err)
	assert.Equal(t, 3, resolved.NumDims())
	assert.Equal(t, 3, ctx.NumVariables())

	// Invalid names.
	_, err = tt.GetVariable(ctx, "a/b").Done()
	assert.Error(t, err)
	_, err = tt.GetVariable(ctx, "").Done()
	assert.Error(t, err)
}

func TestReuseByProbing(t *testing.T) {
	ctx := context.New()
	ctxV := ctx.In("V")
	// Cores created directly, without the recorded number of dimensions.
	_, err := ctxV.CreateVariable("core_0", tensors.FromScalarAndDimensions(float32(1), 1, 2, 3),
		context.DefaultVariableOptions())
	require.NoError(t, err)
	_, err = ctxV.CreateVariable("core_1", tensors.FromScalarAndDimensions(float32(1), 3, 4, 1),
		context.DefaultVariableOptions())
	require.NoError(t, err)
	// core_3 exists but is unreachable after the gap at core_2.
	_, err = ctxV.CreateVariable("core_3", tensors.FromScalarAndDimensions(float32(1), 1, 4, 1),
		context.DefaultVariableOptions())
	require.NoError(t, err)

	_, found := tt.NumDimsInScope(ctxV)
	require.False(t, found)
	v, err := tt.GetVariable(ctx, "V").Done()
	require.NoError(t, err)
	assert.Equal(t, 2, v.NumDims())
	assert.Equal(t, []int{1, 3, 1}, v.Ranks())

	// Errors other than a missing core are not treated as the end of the cores.
	_, err = ctx.In("X").CreateVariable("core_0", tensors.FromScalarAndDimensions(float32(1), 1, 2, 1),
		context.DefaultVariableOptions())
	require.NoError(t, err)
	_, err = ctx.In("X").CreateVariable("core_1", tensors.FromScalarAndDimensions(float64(1), 1, 2, 1),
		context.DefaultVariableOptions())
	require.NoError(t, err)
	_, err = tt.GetVariable(ctx, "X").DType(dtypes.Float32).Done()
	assert.ErrorIs(t, err, context.ErrDTypeMismatch)
}

func TestReuseWithRecordedNumDims(t *testing.T) {
	ctx := context.New()
	_, err := tt.GetVariable(ctx, "W").Initializer(tt.Ones(dtypes.Float64, []int{2, 2, 2})).Done()
	require.NoError(t, err)
	numDims, found := tt.NumDimsInScope(ctx.In("W"))
	require.True(t, found)
	assert.Equal(t, 3, numDims)

	// Json-decoded hyperparameters are float64.
	ctx.In("W").SetParam(tt.ParamNumDims, float64(3))
	v, err := tt.GetVariable(ctx, "W").Done()
	require.NoError(t, err)
	assert.Equal(t, 3, v.NumDims())

	// With the recorded count, a missing core is an error.
	require.NoError(t, ctx.DeleteVariable("/W", "core_2"))
	_, err = tt.GetVariable(ctx, "W").Done()
	assert.ErrorIs(t, err, context.ErrVariableNotFound)
}

func TestRecreateOverStaleNumDims(t *testing.T) {
	ctx := context.New()
	ctx.In("W").SetParam(tt.ParamNumDims, 5)

	// Newly created cores record their own number of dimensions, also in an unchecked context.
	v, err := tt.GetVariable(ctx.Checked(false), "W").Initializer(tt.Ones(dtypes.Float32, []int{2, 3})).Done()
	require.NoError(t, err)
	assert.Equal(t, 2, v.NumDims())
	numDims, found := tt.NumDimsInScope(ctx.In("W"))
	require.True(t, found)
	assert.Equal(t, 2, numDims)
	assert.Equal(t, 2, tt.MustGetVariable(ctx, "W").NumDims())
}

func TestVariableOptions(t *testing.T) {
	ctx := context.New()
	v, err := tt.GetVariable(ctx, "W").
		DType(dtypes.Float32).
		Initializer(tt.Ones(dtypes.Float32, []int{2, 3})).
		Trainable(false).
		Collections("tt_cores").
		CachingDevice("/cpu:0").
		Done()
	require.NoError(t, err)
	for _, core := range v.Cores() {
		assert.False(t, core.Trainable())
		assert.Equal(t, []string{"tt_cores"}, core.Collections())
		assert.Equal(t, "/cpu:0", core.CachingDevice())
	}
	assert.Empty(t, ctx.VariablesInCollection(context.TrainableVariables))
	assert.Len(t, ctx.VariablesInCollection("tt_cores"), 2)

	// Initializer dtype and requested dtype must match.
	_, err = tt.GetVariable(ctx, "V").DType(dtypes.Float64).Initializer(tt.Ones(dtypes.Float32, []int{2})).Done()
	assert.ErrorIs(t, err, context.ErrDTypeMismatch)
}

func TestValidateShape(t *testing.T) {
	ctx := context.New()
	init := tt.FromCores(nil, nil)
	_, err := tt.GetVariable(ctx, "W").Initializer(init).Done()
	assert.ErrorIs(t, err, context.ErrUnknownShape)

	v, err := tt.GetVariable(ctx, "U").DType(dtypes.Float32).Initializer(init).ValidateShape(false).Done()
	require.NoError(t, err)
	assert.Equal(t, 2, v.NumDims())
	assert.False(t, v.IsFullyDefined())
	assert.Equal(t, dtypes.InvalidDType, v.DType())

	// The cores take their shapes from the first assignment.
	g := graph.NewGraph("")
	value := must.M1(tt.New("value", []*graph.Node{
		graph.Const(g, [][][]float32{{{1}, {2}}}),
		graph.Const(g, [][][]float32{{{3}, {4}, {5}}}),
	}))
	nodes, err := tt.Assign(g, v, value, tt.WithValidateShape(false))
	require.NoError(t, err)
	_, err = graph.Exec(g, nodes.Cores()...)
	require.NoError(t, err)
	assert.True(t, v.IsFullyDefined())
	assert.Equal(t, []int{1, 1, 1}, v.Ranks())
}

func TestNewValidation(t *testing.T) {
	g := graph.NewGraph("")
	core := func(dtype dtypes.DType, dims ...int) *graph.Node {
		return graph.Const(g, tensors.FromShape(shapes.Make(dtype, dims...)))
	}
	_, err := tt.New[*graph.Node]("empty", nil)
	assert.Error(t, err)
	_, err = tt.New("nil", []*graph.Node{nil})
	assert.Error(t, err)
	_, err = tt.New("rank2", []*graph.Node{core(dtypes.Float32, 1, 1)})
	assert.Error(t, err)
	_, err = tt.New("first", []*graph.Node{core(dtypes.Float32, 2, 3, 1)})
	assert.Error(t, err)
	_, err = tt.New("last", []*graph.Node{core(dtypes.Float32, 1, 3, 2)})
	assert.Error(t, err)
	_, err = tt.New("ranks", []*graph.Node{core(dtypes.Float32, 1, 3, 2), core(dtypes.Float32, 3, 3, 1)})
	assert.Error(t, err)
	_, err = tt.New("dtype", []*graph.Node{core(dtypes.Float32, 1, 3, 2), core(dtypes.Float64, 2, 3, 1)})
	assert.Error(t, err)
	_, err = tt.New("mixed", []*graph.Node{core(dtypes.Float32, 1, 3, 2), core(dtypes.Float32, 2, 3, 3, 1)})
	assert.Error(t, err)

	m, err := tt.New("matrix", []*graph.Node{core(dtypes.Float32, 1, 2, 3, 4), core(dtypes.Float32, 4, 5, 6, 1)})
	require.NoError(t, err)
	assert.True(t, m.IsMatrix())
	assert.Equal(t, [][]int{{2, 3}, {5, 6}}, m.RawShape())
	assert.Equal(t, []int{1, 4, 1}, m.Ranks())
	assert.Equal(t, 24+120, m.NumParameters())
}

func TestInitializers(t *testing.T) {
	r1 := tt.Random(dtypes.Float64, []int{3, 4, 5}, 2, 0.5, 7)
	r2 := tt.Random(dtypes.Float64, []int{3, 4, 5}, 2, 0.5, 7)
	r3 := tt.Random(dtypes.Float64, []int{3, 4, 5}, 2, 0.5, 8)
	require.Equal(t, 3, r1.NumDims())
	wantShapes := []shapes.Shape{
		shapes.Make(dtypes.Float64, 1, 3, 2),
		shapes.Make(dtypes.Float64, 2, 4, 2),
		shapes.Make(dtypes.Float64, 2, 5, 1),
	}
	for ii, core := range r1.Cores() {
		assert.Equal(t, wantShapes[ii], core.Shape())
		assert.True(t, core.Equal(r2.Cores()[ii]), "same seed should generate the same values")
		assert.False(t, core.Equal(r3.Cores()[ii]), "different seeds should generate different values")
	}

	m := tt.RandomMatrix(dtypes.Float32, []int{2, 3}, []int{4, 5}, 3, 1, 0)
	assert.Equal(t, shapes.Make(dtypes.Float32, 1, 2, 4, 3), m.Cores()[0].Shape())
	assert.Equal(t, shapes.Make(dtypes.Float32, 3, 3, 5, 1), m.Cores()[1].Shape())

	zeros := tt.Zeros(dtypes.Int32, []int{2})
	assert.Equal(t, [][][]int32{{{0}, {0}}}, zeros.Cores()[0].Value())

	ctx := context.New()
	ctx.SetParam(tt.ParamRank, 4)
	fromCtx := tt.RandomFromContext(ctx, dtypes.Float32, []int{2, 2}, 0)
	assert.Equal(t, shapes.Make(dtypes.Float32, 1, 2, 4), fromCtx.Cores()[0].Shape())

	assert.Panics(t, func() { tt.Random(dtypes.Float32, []int{2, 0}, 1, 1, 0) })
	assert.Panics(t, func() { tt.Random(dtypes.Float32, []int{2}, 0, 1, 0) })
	assert.Panics(t, func() { tt.Ones(dtypes.Bool, []int{2}) })
	assert.Panics(t, func() { tt.RandomMatrix(dtypes.Float32, []int{2}, []int{2, 3}, 1, 1, 0) })

	// Random cores are float only, integer samples would be truncated.
	assert.Panics(t, func() { tt.Random(dtypes.Int32, []int{2, 3}, 2, 0.1, 0) })
	assert.Panics(t, func() { tt.RandomMatrix(dtypes.Int64, []int{2}, []int{3}, 1, 0.1, 0) })
	assert.Panics(t, func() { tt.RandomFromContext(ctx, dtypes.Int32, []int{2}, 0) })
	assert.NotPanics(t, func() { tt.Random(dtypes.Float16, []int{2, 3}, 2, 0.1, 0) })
}
