// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, shapes.Make(dtypes.Float32, 2, 3), tensor.Shape())
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, tensor.Value())
	assert.Panics(t, func() { _ = FromFlatDataAndDimensions([]float32{1, 2}, 3) })

	ints := FromFlatDataAndDimensions([]int{1, 2, 3}, 3)
	assert.Equal(t, dtypes.Int64, ints.DType())
	assert.Equal(t, []int64{1, 2, 3}, ints.Value())
}

func TestFromAnyValue(t *testing.T) {
	tensor := FromAnyValue([][][]float64{{{1}, {2}}, {{3}, {4}}})
	assert.Equal(t, []int{2, 2, 1}, tensor.Shape().Dimensions)
	assert.Equal(t, [][][]float64{{{1}, {2}}, {{3}, {4}}}, tensor.Value())

	scalar := FromAnyValue(int32(7))
	assert.True(t, scalar.Shape().IsScalar())
	assert.Equal(t, int32(7), scalar.Value())

	assert.Panics(t, func() { _ = FromAnyValue([][]float32{{1, 2}, {3}}) })
	assert.Panics(t, func() { _ = FromAnyValue("not a number") })
	assert.Same(t, tensor, FromAnyValue(tensor))
}

func TestFlatDataAccess(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float64, 3))
	require.NoError(t, MutableFlatData(tensor, func(flat []float64) {
		for ii := range flat {
			flat[ii] = float64(ii) + 0.5
		}
	}))
	flat, err := CopyFlatData[float64](tensor)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5, 2.5}, flat)
	require.Error(t, ConstFlatData(tensor, func(flat []float32) {}))

	var numBytes int
	require.NoError(t, tensor.ConstBytes(func(data []byte) { numBytes = len(data) }))
	assert.Equal(t, 24, numBytes)
}

func TestCloneAndEqual(t *testing.T) {
	tensor := newTestTensor()
	clone, err := tensor.Clone()
	require.NoError(t, err)
	assert.True(t, tensor.Equal(clone))
	require.NoError(t, MutableFlatData(clone, func(flat []float32) { flat[0] = 100 }))
	assert.False(t, tensor.Equal(clone))
	assert.Equal(t, float32(1), tensor.Value().([]float32)[0])

	var nilTensor *Tensor
	assert.Error(t, nilTensor.CheckValid())
	_, err = nilTensor.Clone()
	assert.Error(t, err)
}

func newTestTensor() *Tensor {
	return FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
}

func TestFloat64Conversion(t *testing.T) {
	half := FromFlatDataAndDimensions([]float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)}, 2)
	values, err := AsFloat64(half)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2}, values)

	back, err := FromFloat64(shapes.Make(dtypes.Float32, 2), values)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2}, back.Value())

	_, err = FromFloat64(shapes.Make(dtypes.Float32, 3), values)
	assert.Error(t, err)
	_, err = AsFloat64(FromScalar(true))
	assert.Error(t, err)
}
