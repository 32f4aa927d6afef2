// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	assert.False(t, invalidShape.Ok())
	assert.Equal(t, uintptr(0), invalidShape.Memory())

	shape0 := Make(dtypes.Float64)
	assert.True(t, shape0.Ok())
	assert.True(t, shape0.IsScalar())
	assert.Equal(t, 0, shape0.Rank())
	assert.Equal(t, 1, shape0.Size())
	assert.Equal(t, uintptr(8), shape0.Memory())

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	assert.False(t, shape1.IsScalar())
	assert.Equal(t, 3, shape1.Rank())
	assert.Equal(t, 24, shape1.Size())
	assert.Equal(t, uintptr(4*24), shape1.Memory())
	assert.Equal(t, 2, shape1.Dim(-1))
	assert.Equal(t, 4, shape1.Dim(0))
	assert.Panics(t, func() { _ = shape1.Dim(3) })
	assert.Equal(t, "(Float32)[4 3 2]", shape1.String())

	assert.Panics(t, func() { _ = Make(dtypes.Float32, 1, 0) })
}

func TestEqual(t *testing.T) {
	s0 := Make(dtypes.Float32, 1, 3, 2)
	s1 := s0.Clone()
	assert.True(t, s0.Equal(s1))
	s1.Dimensions[1] = 4
	assert.False(t, s0.Equal(s1))
	assert.Equal(t, 3, s0.Dim(1), "Clone must not share dimensions")
	assert.True(t, s0.EqualDimensions(Make(dtypes.Float64, 1, 3, 2)))
	assert.False(t, s0.Equal(Make(dtypes.Float64, 1, 3, 2)))
}
