// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// AsFloat64 returns a copy of the tensor values converted to float64.
// Bool tensors are not convertible.
func AsFloat64(t *Tensor) ([]float64, error) {
	var result []float64
	err := t.ConstFlatData(func(flat any) {
		switch typed := flat.(type) {
		case []float64:
			result = convertFlat[float64, float64](typed)
		case []float32:
			result = convertFlat[float32, float64](typed)
		case []int64:
			result = convertFlat[int64, float64](typed)
		case []int32:
			result = convertFlat[int32, float64](typed)
		case []float16.Float16:
			result = make([]float64, len(typed))
			for ii, v := range typed {
				result[ii] = float64(v.Float32())
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.Errorf("tensor of dtype %s cannot be converted to float64", t.DType())
	}
	return result, nil
}

// FromFloat64 creates a tensor of the given shape with the values converted from float64.
func FromFloat64(shape shapes.Shape, data []float64) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("FromFloat64: invalid shape %s", shape)
	}
	if len(data) != shape.Size() {
		return nil, errors.Errorf("FromFloat64(%s): data size is %d, but shape size is %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	var err error
	switch shape.DType {
	case dtypes.Float64:
		t.flat = convertFlat[float64, float64](data)
	case dtypes.Float32:
		t.flat = convertFlat[float64, float32](data)
	case dtypes.Int64:
		t.flat = convertFlat[float64, int64](data)
	case dtypes.Int32:
		t.flat = convertFlat[float64, int32](data)
	case dtypes.Float16:
		flat := make([]float16.Float16, len(data))
		for ii, v := range data {
			flat[ii] = float16.Fromfloat32(float32(v))
		}
		t.flat = flat
	default:
		err = errors.Errorf("FromFloat64: dtype %s not supported", shape.DType)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

type numeric interface {
	constraints.Integer | constraints.Float
}

func convertFlat[From, To numeric](flat []From) []To {
	result := make([]To, len(flat))
	for ii, v := range flat {
		result[ii] = To(v)
	}
	return result
}
