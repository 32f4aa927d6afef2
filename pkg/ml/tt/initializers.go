// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tt

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/gomlx/tensortrain/pkg/core/tensors"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/pkg/errors"
)

const (
	// ParamRank context hyperparameter defines the TT-rank used by RandomFromContext.
	// The value should be an int. The default is 1.
	ParamRank = "tt_rank"

	// ParamInitStddev context hyperparameter defines the standard deviation of the values of the cores
	// created by RandomFromContext. The value should be a float64. The default is 1.0.
	ParamInitStddev = "tt_init_stddev"
)

// Initializer provides the initial values of the cores of a new TT variable.
// It is only consumed at creation time, GetVariable doesn't keep a reference to it.
type Initializer interface {
	// NumDims returns the number of cores.
	NumDims() int

	// Cores returns the initial value of each core, in order.
	Cores() []*tensors.Tensor
}

// coresInitializer is an Initializer with precomputed core values.
type coresInitializer []*tensors.Tensor

func (c coresInitializer) NumDims() int             { return len(c) }
func (c coresInitializer) Cores() []*tensors.Tensor { return c }

// FromCores returns an Initializer with the given core values.
func FromCores(cores ...*tensors.Tensor) Initializer {
	return coresInitializer(cores)
}

// newCore creates a tensor with the given dimensions, filled by fn (called for each element in order).
func newCore(dtype dtypes.DType, fn func() float64, dimensions ...int) *tensors.Tensor {
	shape := shapes.Make(dtype, dimensions...)
	data := make([]float64, shape.Size())
	for ii := range data {
		data[ii] = fn()
	}
	t, err := tensors.FromFloat64(shape, data)
	if err != nil {
		panic(errors.WithMessagef(err, "failed to create TT-core of shape %s", shape))
	}
	return t
}

func checkModeSizes(caller string, dtype dtypes.DType, modeSizes ...[]int) {
	if !dtype.IsFloat() && !dtype.IsInt() {
		exceptions.Panicf("%s: dtype %s not supported for TT-cores", caller, dtype)
	}
	for _, sizes := range modeSizes {
		if len(sizes) == 0 {
			exceptions.Panicf("%s: at least one dimension is required", caller)
		}
		for _, n := range sizes {
			if n <= 0 {
				exceptions.Panicf("%s: invalid mode sizes %v", caller, sizes)
			}
		}
	}
}

// checkFloat panics for non-float dtypes: normal samples would be truncated to mostly zeros.
func checkFloat(caller string, dtype dtypes.DType) {
	if !dtype.IsFloat() {
		exceptions.Panicf("%s: random TT-cores require a float dtype, got %s", caller, dtype)
	}
}

func constantInitializer(caller string, dtype dtypes.DType, shape []int, value float64) Initializer {
	checkModeSizes(caller, dtype, shape)
	cores := make([]*tensors.Tensor, len(shape))
	for ii, n := range shape {
		cores[ii] = newCore(dtype, func() float64 { return value }, 1, n, 1)
	}
	return coresInitializer(cores)
}

// Ones returns an Initializer of a TT-tensor of the given shape with all values 1, with TT-rank 1.
func Ones(dtype dtypes.DType, shape []int) Initializer {
	return constantInitializer("tt.Ones", dtype, shape, 1)
}

// Zeros returns an Initializer of a TT-tensor of the given shape with all values 0, with TT-rank 1.
func Zeros(dtype dtypes.DType, shape []int) Initializer {
	return constantInitializer("tt.Zeros", dtype, shape, 0)
}

// ranksFor returns the TT-ranks [1, rank, ..., rank, 1] for numDims cores.
func ranksFor(numDims, rank int) []int {
	ranks := make([]int, numDims+1)
	for ii := range ranks {
		ranks[ii] = rank
	}
	ranks[0], ranks[numDims] = 1, 1
	return ranks
}

func normalFn(stddev float64, seed uint64) func() float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func() float64 { return rng.NormFloat64() * stddev }
}

// Random returns an Initializer of a TT-tensor of the given shape and TT-rank, with each core element
// sampled from a normal distribution with mean 0 and the given standard deviation.
//
// The dtype must be a float. The same seed generates the same values.
func Random(dtype dtypes.DType, shape []int, rank int, stddev float64, seed uint64) Initializer {
	checkModeSizes("tt.Random", dtype, shape)
	checkFloat("tt.Random", dtype)
	if rank <= 0 {
		exceptions.Panicf("tt.Random: invalid TT-rank %d", rank)
	}
	ranks := ranksFor(len(shape), rank)
	fn := normalFn(stddev, seed)
	cores := make([]*tensors.Tensor, len(shape))
	for ii, n := range shape {
		cores[ii] = newCore(dtype, fn, ranks[ii], n, ranks[ii+1])
	}
	return coresInitializer(cores)
}

// RandomMatrix returns an Initializer of a TT-matrix of shape [prod(rowShape), prod(colShape)] and the given
// TT-rank. Core i has shape [r_i, rowShape[i], colShape[i], r_{i+1}], with values sampled from a normal
// distribution with mean 0 and the given standard deviation. The dtype must be a float.
func RandomMatrix(dtype dtypes.DType, rowShape, colShape []int, rank int, stddev float64, seed uint64) Initializer {
	checkModeSizes("tt.RandomMatrix", dtype, rowShape, colShape)
	checkFloat("tt.RandomMatrix", dtype)
	if len(rowShape) != len(colShape) {
		exceptions.Panicf("tt.RandomMatrix: row shape %v and column shape %v must have the same length",
			rowShape, colShape)
	}
	if rank <= 0 {
		exceptions.Panicf("tt.RandomMatrix: invalid TT-rank %d", rank)
	}
	ranks := ranksFor(len(rowShape), rank)
	fn := normalFn(stddev, seed)
	cores := make([]*tensors.Tensor, len(rowShape))
	for ii := range rowShape {
		cores[ii] = newCore(dtype, fn, ranks[ii], rowShape[ii], colShape[ii], ranks[ii+1])
	}
	return coresInitializer(cores)
}

// RandomFromContext is like Random, but takes the TT-rank and standard deviation from the context
// hyperparameters ParamRank and ParamInitStddev.
func RandomFromContext(ctx *context.Context, dtype dtypes.DType, shape []int, seed uint64) Initializer {
	rank := context.GetParamOr(ctx, ParamRank, 1)
	stddev := context.GetParamOr(ctx, ParamInitStddev, 1.0)
	return Random(dtype, shape, rank, stddev, seed)
}
