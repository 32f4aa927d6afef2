// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the data types a variable (or a tensor-train core) can hold.
//
// The numeric values are aligned with the ones used by GoMLX (and XLA), so checkpoints written
// by either can be read by the other.
//
// It includes converters to/from Go native types (and reflect.Type), and constraint interfaces
// to be used with generics (Supported, Number, GoFloat).
package dtypes

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is an enum that represents the data type of a tensor or a variable.
type DType int32

const (
	// InvalidDType is the zero value, used for "not set".
	InvalidDType DType = 0

	// Bool are two-state booleans.
	Bool DType = 1

	// Int32 is a signed 32 bits integer.
	Int32 DType = 4

	// Int64 is a signed 64 bits integer.
	Int64 DType = 5

	// Float16 is the IEEE half-precision float, represented in Go by float16.Float16.
	Float16 DType = 10

	// Float32 is the IEEE single-precision float.
	Float32 DType = 11

	// Float64 is the IEEE double-precision float.
	Float64 DType = 12
)

// MapOfNames maps the dtype names (and their lower-case versions) to the DType.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Bool":         Bool,
	"Int32":        Int32,
	"Int64":        Int64,
	"Float16":      Float16,
	"Float32":      Float32,
	"Float64":      Float64,
}

func init() {
	if strconv.IntSize != 32 && strconv.IntSize != 64 {
		panicf("cannot use int of %d bits -- only platforms with int32 or int64 are supported", strconv.IntSize)
	}
	for key, dtype := range MapOfNames {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; !found {
			MapOfNames[lowerKey] = dtype
		}
	}
}

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when arguments break the API contract.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	switch dtype {
	case InvalidDType:
		return "InvalidDType"
	case Bool:
		return "Bool"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Float16:
		return "Float16"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

// FromName returns the DType for the given name (case-insensitive), or an error if it is unknown.
func FromName(name string) (DType, error) {
	if dtype, found := MapOfNames[name]; found {
		return dtype, nil
	}
	if dtype, found := MapOfNames[strings.ToLower(name)]; found {
		return dtype, nil
	}
	return InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// Supported lists the Go types this package knows how to convert.
// Used as traits for generics.
type Supported interface {
	bool | float16.Float16 | float32 | float64 | int | int32 | int64
}

// Number represents the Go numeric types corresponding to supported DType's.
type Number interface {
	float32 | float64 | int | int32 | int64
}

// GoFloat represent a continuous Go numeric type.
type GoFloat interface {
	float32 | float64
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case float64:
		return Float64
	case float32:
		return Float32
	case float16.Float16:
		return Float16
	case int:
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	case int64:
		return Int64
	case int32:
		return Int32
	case bool:
		return Bool
	}
	return InvalidDType
}

// Pre-generate constant reflect.TypeOf for convenience.
var (
	boolType    = reflect.TypeOf(true)
	int32Type   = reflect.TypeOf(int32(0))
	int64Type   = reflect.TypeOf(int64(0))
	float16Type = reflect.TypeOf(float16.Float16(0))
	float32Type = reflect.TypeOf(float32(0))
	float64Type = reflect.TypeOf(float64(0))
)

// FromGoType returns the DType for the given "reflect.Type".
// It returns InvalidDType for unsupported types.
func FromGoType(t reflect.Type) DType {
	if t == nil {
		return InvalidDType
	}
	if t == float16Type {
		return Float16
	}
	switch t.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int:
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	case reflect.Int32:
		return Int32
	case reflect.Int64:
		return Int64
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	default:
		return InvalidDType
	}
}

// FromAny introspects the underlying type of any and returns the corresponding DType.
// Non-scalar types, or unsupported types return an InvalidDType.
func FromAny(value any) DType {
	return FromGoType(reflect.TypeOf(value))
}

// GoType returns the Go `reflect.Type` corresponding to the DType.
// It panics for InvalidDType or unknown values.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Bool:
		return boolType
	case Int32:
		return int32Type
	case Int64:
		return int64Type
	case Float16:
		return float16Type
	case Float32:
		return float32Type
	case Float64:
		return float64Type
	default:
		panicf("unknown dtype %q (%d) in DType.GoType", dtype, int(dtype))
		panic(nil)
	}
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// Memory returns the number of bytes for the given DType.
// It's an alias to Size, converted to uintptr.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

// IsFloat returns whether dtype is a supported float.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is a supported integer type.
func (dtype DType) IsInt() bool {
	return dtype == Int32 || dtype == Int64
}

// IsSupported returns whether dtype is one of the known dtypes (InvalidDType excluded).
func (dtype DType) IsSupported() bool {
	return dtype == Bool || dtype.IsInt() || dtype.IsFloat()
}
