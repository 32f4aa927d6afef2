// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a `Tensor`, a representation of a multi-dimensional array held in host memory.
//
// Tensors are the concrete values of variables (and of tensor-train cores): they are what gets
// initialized, checkpointed and assigned. A computation graph (see package graph) only refers to them
// through graph nodes, and materializes new ones when it is executed.
//
// Values are stored flat, in row-major order, in a Go slice of the type corresponding to the DType.
package tensors

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array (from scalar with 0 dimensions, to arbitrarily large dimensions), with
// a defined shape and dtype.
//
// Tensors are safe for concurrent use: the accessors take a lock for the duration of the access function.
type Tensor struct {
	mu    sync.Mutex
	shape shapes.Shape

	// flat holds a slice of the Go type corresponding to shape.DType, with shape.Size() elements.
	flat any
}

// FromShape creates a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface(),
	}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used by the tensor data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// CheckValid returns an error if the tensor is nil or has no storage.
func (t *Tensor) CheckValid() error {
	if t == nil {
		return errors.New("tensor is nil")
	}
	if t.flat == nil || !t.shape.Ok() {
		return errors.New("tensor has no data or an invalid shape")
	}
	return nil
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType.
// The slice must not be modified, nor used after accessFn returns.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) error {
	if err := t.CheckValid(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
	return nil
}

// MutableFlatData calls accessFn with the flattened data, which can be modified in place.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) error {
	return t.ConstFlatData(accessFn)
}

// ConstFlatData calls accessFn with the flattened data as []T.
// It returns an error if T doesn't match the tensor's DType.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if err := t.CheckValid(); err != nil {
		return err
	}
	if _, ok := t.flat.([]T); !ok {
		var zero T
		return errors.Errorf("tensor of dtype %s cannot be accessed as []%T", t.DType(), zero)
	}
	return t.ConstFlatData(func(flatAny any) {
		accessFn(flatAny.([]T))
	})
}

// MutableFlatData calls accessFn with the flattened data as []T, which can be modified in place.
// It returns an error if T doesn't match the tensor's DType.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	return ConstFlatData(t, accessFn)
}

// CopyFlatData returns a copy of the flat data of the tensor as []T.
func CopyFlatData[T dtypes.Supported](t *Tensor) ([]T, error) {
	var result []T
	err := MutableFlatData(t, func(flat []T) {
		result = make([]T, len(flat))
		copy(result, flat)
	})
	return result, err
}

// ConstBytes calls accessFn with the raw bytes of the tensor data.
// The slice must not be modified, nor used after accessFn returns.
func (t *Tensor) ConstBytes(accessFn func(data []byte)) error {
	return t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		if flatV.Len() == 0 {
			accessFn(nil)
			return
		}
		numBytes := uintptr(flatV.Len()) * flatV.Type().Elem().Size()
		data := unsafe.Slice((*byte)(flatV.Index(0).Addr().UnsafePointer()), numBytes)
		accessFn(data)
	})
}

// MutableBytes calls accessFn with the raw bytes of the tensor data, which can be modified in place.
func (t *Tensor) MutableBytes(accessFn func(data []byte)) error {
	return t.ConstBytes(accessFn)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() (*Tensor, error) {
	if err := t.CheckValid(); err != nil {
		return nil, err
	}
	clone := FromShape(t.shape)
	err := t.ConstFlatData(func(flat any) {
		reflect.Copy(reflect.ValueOf(clone.flat), reflect.ValueOf(flat))
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// FromScalar creates a tensor with the given scalar. The DType is inferred from the value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	data := make([]T, shapes.Make(dtypes.FromGenericsType[T](), dimensions...).Size())
	for ii := range data {
		data[ii] = value
	}
	return FromFlatDataAndDimensions(data, dimensions...)
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
//
// It panics if the size of data is wrong for the shape.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	flatV := reflect.ValueOf(t.flat)
	dataV := reflect.ValueOf(data)
	if dataV.Type().Elem().Kind() == reflect.Int {
		// Go's int maps to Int32 or Int64 depending on the platform: convert element by element.
		for ii := range data {
			flatV.Index(ii).SetInt(dataV.Index(ii).Int())
		}
		return t
	}
	reflect.Copy(flatV, dataV)
	return t
}

// FromAnyValue creates a tensor from a scalar or a (regular) multidimensional slice of a supported type.
// If the value is already a *Tensor it is returned as is.
//
// It panics with an error if the value type is unsupported or the shape is not regular.
func FromAnyValue(value any) *Tensor {
	if valueT, ok := value.(*Tensor); ok {
		return valueT
	}
	shape, err := shapeForValue(value)
	if err != nil {
		panic(errors.WithMessagef(err, "cannot create tensor from %T", value))
	}
	t := FromShape(shape)
	flatV := reflect.ValueOf(t.flat)
	pos := 0
	copyValuesRecursively(flatV, reflect.ValueOf(value), &pos)
	return t
}

func copyValuesRecursively(flatV, v reflect.Value, pos *int) {
	if v.Kind() == reflect.Slice {
		for ii := range v.Len() {
			copyValuesRecursively(flatV, v.Index(ii), pos)
		}
		return
	}
	elem := flatV.Index(*pos)
	if v.Kind() == reflect.Int {
		elem.SetInt(v.Int())
	} else {
		elem.Set(v)
	}
	*pos++
}

func shapeForValue(v any) (shapes.Shape, error) {
	var shape shapes.Shape
	if v == nil {
		return shape, errors.New("nil value")
	}
	err := shapeForValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	return shape, err
}

func shapeForValueRecursive(shape *shapes.Shape, v reflect.Value, t reflect.Type) error {
	switch t.Kind() {
	case reflect.Slice:
		t = t.Elem()
		if v.Len() == 0 {
			return errors.Errorf("empty slice not valid for tensor conversion: %T", v.Interface())
		}
		shape.Dimensions = append(shape.Dimensions, v.Len())
		prefix := shape.Clone()
		if err := shapeForValueRecursive(shape, v.Index(0), t); err != nil {
			return err
		}
		for ii := 1; ii < v.Len(); ii++ {
			shapeTest := prefix.Clone()
			if err := shapeForValueRecursive(&shapeTest, v.Index(ii), t); err != nil {
				return err
			}
			if !shape.Equal(shapeTest) {
				return errors.Errorf("sub-slices have irregular shapes, found shapes %q, and %q", shape, shapeTest)
			}
		}
	default:
		shape.DType = dtypes.FromGoType(t)
		if shape.DType == dtypes.InvalidDType {
			return errors.Errorf("cannot convert type %s to a concrete tensor type", t)
		}
	}
	return nil
}

// Value returns the tensor as a Go scalar (for rank 0) or a multidimensional slice (e.g. [][]float32 for rank 2).
// The returned value is a copy.
func (t *Tensor) Value() any {
	var result any
	err := t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		if t.shape.IsScalar() {
			result = flatV.Index(0).Interface()
			return
		}
		copied := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
		reflect.Copy(copied, flatV)
		result = sliceToMultidimensional(copied, t.shape.Dimensions).Interface()
	})
	if err != nil {
		panic(err)
	}
	return result
}

func sliceToMultidimensional(flatV reflect.Value, dimensions []int) reflect.Value {
	if len(dimensions) == 1 {
		return flatV
	}
	resultT := flatV.Type()
	for range dimensions[1:] {
		resultT = reflect.SliceOf(resultT)
	}
	stride := flatV.Len() / dimensions[0]
	result := reflect.MakeSlice(resultT, dimensions[0], dimensions[0])
	for ii := range dimensions[0] {
		sub := flatV.Slice(ii*stride, (ii+1)*stride)
		result.Index(ii).Set(sliceToMultidimensional(sub, dimensions[1:]))
	}
	return result
}

// Equal checks weather t == otherTensor: same shape and same values.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t == otherTensor {
		return true
	}
	if t.CheckValid() != nil || otherTensor.CheckValid() != nil {
		return false
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	return reflect.DeepEqual(t.Value(), otherTensor.Value())
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t.CheckValid() != nil {
		return "<invalid tensor>"
	}
	const maxElements = 64
	if t.Size() > maxElements {
		return fmt.Sprintf("%s: (%s elements)", t.shape, strconv.Itoa(t.Size()))
	}
	return fmt.Sprintf("%s: %v", t.shape, t.Value())
}
