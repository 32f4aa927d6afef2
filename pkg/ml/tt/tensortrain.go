// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tt implements tensor-train (TT) variables: a high-dimensional parameter represented as an
// ordered sequence of small "core" tensors, each core stored as an individual context.Variable.
//
// A TT-tensor of shape [n_0, ..., n_{d-1}] has cores of shape [r_i, n_i, r_{i+1}], and a TT-matrix of
// shape [m_0*...*m_{d-1}, n_0*...*n_{d-1}] has cores of shape [r_i, m_i, n_i, r_{i+1}], where r_i are the
// TT-ranks, with r_0 = r_d = 1.
//
// Cores of a variable named "W" are created in the context scope "W", named "core_0" to "core_{d-1}":
// this naming is how checkpoints address them, so it must not change.
//
// Example:
//
//	init := tt.Random(dtypes.Float32, []int{4, 5, 6}, 3, 0.1, 42)
//	w, err := tt.GetVariable(ctx, "W").Initializer(init).Regularizer(g, tt.L2(1e-4)).Done()
//	...
//	// Somewhere else, reusing the existing cores:
//	w, err = tt.GetVariable(ctx, "W").Done()
package tt

import (
	"fmt"
	"strings"

	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/pkg/errors"
)

// Core is a handle to one TT-core: a *context.Variable for TT variables, or a *graph.Node
// for cores computed in a graph (e.g. the result of Assign).
type Core interface {
	comparable
	Shape() shapes.Shape
	String() string
}

// TensorTrain is an ordered, fixed-size sequence of cores, with a name.
// Core i always holds the dimension i of the tensor-train.
//
// It is immutable after creation.
type TensorTrain[C Core] struct {
	name  string
	cores []C
}

// Variable is a tensor-train whose cores are variables in a context.
type Variable = TensorTrain[*context.Variable]

// Nodes is a tensor-train whose cores are nodes of a computation graph.
type Nodes = TensorTrain[*graph.Node]

// New creates a TensorTrain from the given cores, which are not copied.
//
// It returns an error if no cores are given, or if the cores are not a consistent tensor-train:
// all cores of rank 3 (TT-tensor) or all of rank 4 (TT-matrix), all of the same dtype,
// first and last TT-ranks equal to 1 and consecutive cores agreeing on the TT-rank between them.
// Cores whose shape is not yet known (variables created without shape validation) are not checked.
func New[C Core](name string, cores []C) (*TensorTrain[C], error) {
	if len(cores) == 0 {
		return nil, errors.Errorf("tt.New(%q): no cores given", name)
	}
	var zero C
	for ii, core := range cores {
		if core == zero {
			return nil, errors.Errorf("tt.New(%q): core #%d is nil", name, ii)
		}
	}
	if err := validateCores(cores); err != nil {
		return nil, errors.WithMessagef(err, "tt.New(%q)", name)
	}
	return &TensorTrain[C]{name: name, cores: cores}, nil
}

func validateCores[C Core](cores []C) error {
	var (
		prev     shapes.Shape
		prevIdx  = -1
		coreRank = -1
	)
	for ii, core := range cores {
		shape := core.Shape()
		if !shape.Ok() {
			prevIdx = -1
			continue
		}
		if shape.Rank() != 3 && shape.Rank() != 4 {
			return errors.Errorf("core #%d (%s) has shape %s, cores must be of rank 3 (TT-tensor) or 4 (TT-matrix)",
				ii, core, shape)
		}
		if coreRank == -1 {
			coreRank = shape.Rank()
		} else if shape.Rank() != coreRank {
			return errors.Errorf("core #%d (%s) has shape %s, but previous cores have rank %d", ii, core, shape, coreRank)
		}
		if ii == 0 && shape.Dim(0) != 1 {
			return errors.Errorf("first core (%s) has shape %s, but its first TT-rank must be 1", core, shape)
		}
		if ii == len(cores)-1 && shape.Dim(-1) != 1 {
			return errors.Errorf("last core (%s) has shape %s, but its last TT-rank must be 1", core, shape)
		}
		if prevIdx == ii-1 && prevIdx >= 0 {
			if prev.DType != shape.DType {
				return errors.Errorf("core #%d (%s) has dtype %s, but core #%d has dtype %s",
					ii, core, shape.DType, prevIdx, prev.DType)
			}
			if prev.Dim(-1) != shape.Dim(0) {
				return errors.Errorf("core #%d has shape %s and core #%d has shape %s: TT-ranks don't match",
					prevIdx, prev, ii, shape)
			}
		}
		prev, prevIdx = shape, ii
	}
	return nil
}

// Name of the tensor-train.
func (tt *TensorTrain[C]) Name() string { return tt.name }

// NumDims returns the number of dimensions, that is, the number of cores.
func (tt *TensorTrain[C]) NumDims() int { return len(tt.cores) }

// Core returns the i-th core. It panics if i is out of range.
func (tt *TensorTrain[C]) Core(i int) C { return tt.cores[i] }

// Cores returns a copy of the ordered list of cores.
func (tt *TensorTrain[C]) Cores() []C {
	cores := make([]C, len(tt.cores))
	copy(cores, tt.cores)
	return cores
}

// DType of the cores. It returns dtypes.InvalidDType if no core has a known shape.
func (tt *TensorTrain[C]) DType() dtypes.DType {
	for _, core := range tt.cores {
		if shape := core.Shape(); shape.Ok() {
			return shape.DType
		}
	}
	return dtypes.InvalidDType
}

// IsMatrix returns whether this is a TT-matrix (cores of rank 4).
func (tt *TensorTrain[C]) IsMatrix() bool {
	for _, core := range tt.cores {
		if shape := core.Shape(); shape.Ok() {
			return shape.Rank() == 4
		}
	}
	return false
}

// IsFullyDefined returns whether the shapes of all cores are known.
func (tt *TensorTrain[C]) IsFullyDefined() bool {
	for _, core := range tt.cores {
		if !core.Shape().Ok() {
			return false
		}
	}
	return true
}

// RawShape returns the mode sizes of each dimension: n_i for a TT-tensor, or [m_i, n_i] for a TT-matrix.
// Dimensions of cores with unknown shape are reported as nil.
func (tt *TensorTrain[C]) RawShape() [][]int {
	rawShape := make([][]int, len(tt.cores))
	for ii, core := range tt.cores {
		shape := core.Shape()
		if !shape.Ok() {
			continue
		}
		rawShape[ii] = append([]int(nil), shape.Dimensions[1:shape.Rank()-1]...)
	}
	return rawShape
}

// Ranks returns the TT-ranks r_0, ..., r_d. Ranks adjacent only to cores of unknown shape are reported as 0.
func (tt *TensorTrain[C]) Ranks() []int {
	ranks := make([]int, len(tt.cores)+1)
	for ii, core := range tt.cores {
		shape := core.Shape()
		if !shape.Ok() {
			continue
		}
		ranks[ii] = shape.Dim(0)
		ranks[ii+1] = shape.Dim(-1)
	}
	return ranks
}

// NumParameters returns the total number of elements of the cores with known shape.
func (tt *TensorTrain[C]) NumParameters() int {
	total := 0
	for _, core := range tt.cores {
		if shape := core.Shape(); shape.Ok() {
			total += shape.Size()
		}
	}
	return total
}

// Memory returns the number of bytes used by the cores with known shape.
func (tt *TensorTrain[C]) Memory() uintptr {
	total := uintptr(0)
	for _, core := range tt.cores {
		total += core.Shape().Memory()
	}
	return total
}

// String implements fmt.Stringer.
func (tt *TensorTrain[C]) String() string {
	if tt == nil {
		return "TensorTrain(nil)"
	}
	kind := "TT-tensor"
	if tt.IsMatrix() {
		kind = "TT-matrix"
	}
	parts := make([]string, len(tt.cores))
	for ii, core := range tt.cores {
		parts[ii] = core.Shape().String()
	}
	return fmt.Sprintf("%s %q (%d dims, ranks %v): [%s]", kind, tt.name, len(tt.cores), tt.Ranks(),
		strings.Join(parts, ", "))
}

// ValueGraph returns the tensor-train of the current values of the variable cores in the graph g.
// It panics if a core has no known shape.
func ValueGraph(g *graph.Graph, v *Variable) *Nodes {
	nodes := make([]*graph.Node, v.NumDims())
	for ii, core := range v.cores {
		nodes[ii] = core.ValueGraph(g)
	}
	return &Nodes{name: v.name, cores: nodes}
}
