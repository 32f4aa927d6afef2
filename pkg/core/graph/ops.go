// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/gomlx/tensortrain/pkg/core/tensors"
	"github.com/pkg/errors"
)

var (
	// ErrShapeMismatch is returned by Assign when the value shape differs from the target's.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDTypeMismatch is returned by Assign when the value dtype differs from the target's.
	ErrDTypeMismatch = errors.New("dtype mismatch")
)

// Const creates a constant node from the given value, which can be a *tensors.Tensor, a Go scalar
// or a multidimensional slice of a supported type.
func Const(g *Graph, value any) *Node {
	g.AssertValid()
	t, ok := value.(*tensors.Tensor)
	if !ok {
		t = tensors.FromAnyValue(value)
	}
	if err := t.CheckValid(); err != nil {
		panic(errors.WithMessagef(err, "Const() in graph %q", g.name))
	}
	n := &Node{
		opType:   NodeTypeConstant,
		shape:    t.Shape(),
		constant: t,
	}
	g.registerNode(n)
	return n
}

// ConstAsDType creates a scalar constant of the given dtype.
func ConstAsDType(g *Graph, dtype dtypes.DType, value float64) *Node {
	t, err := tensors.FromFloat64(shapes.Make(dtype), []float64{value})
	if err != nil {
		panic(errors.WithMessagef(err, "ConstAsDType(%s, %g)", dtype, value))
	}
	return Const(g, t)
}

// Read creates a node that reads the current value of target when the graph is executed.
// The target must have a known shape.
func Read(g *Graph, target Assignable) *Node {
	g.AssertValid()
	if target == nil {
		exceptions.Panicf("Read() requires a non-nil target in graph %q", g.name)
	}
	shape := target.Shape()
	if !shape.Ok() {
		exceptions.Panicf("Read(%q): target has no known shape yet", target.ScopeAndName())
	}
	n := &Node{
		opType: NodeTypeParameter,
		shape:  shape.Clone(),
		target: target,
	}
	g.registerNode(n)
	return n
}

// Assign creates a node that, when executed, sets target to the value of the value node.
// The node returns the assigned value.
//
// The dtype of the value must match the dtype of the target, if the target has a known shape.
// If validateShape is true, the dimensions must also match. With validateShape false, the target may
// take a new shape (or a first one, if it was created with an unknown shape).
//
// useLocking is forwarded to the executor, which then holds the target's AssignLocker while setting it.
// It requires the target to implement Locker.
func Assign(g *Graph, target Assignable, value *Node, validateShape, useLocking bool) (*Node, error) {
	if err := g.CheckValid(); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errors.Errorf("Assign() requires a non-nil target in graph %q", g.name)
	}
	if value == nil {
		return nil, errors.Errorf("Assign(%q) requires a non-nil value", target.ScopeAndName())
	}
	if value.graph != g {
		return nil, errors.Errorf("Assign(%q): value node %s belongs to a different graph than %q",
			target.ScopeAndName(), value, g.name)
	}
	if _, ok := target.(Locker); useLocking && !ok {
		return nil, errors.Errorf("Assign(%q): useLocking requires a target implementing graph.Locker, got %T",
			target.ScopeAndName(), target)
	}
	targetShape := target.Shape()
	if targetShape.Ok() {
		if targetShape.DType != value.DType() {
			return nil, errors.Wrapf(ErrDTypeMismatch, "Assign(%q): target has dtype %s, value has dtype %s",
				target.ScopeAndName(), targetShape.DType, value.DType())
		}
		if validateShape && !targetShape.Equal(value.Shape()) {
			return nil, errors.Wrapf(ErrShapeMismatch, "Assign(%q): target has shape %s, value has shape %s",
				target.ScopeAndName(), targetShape, value.Shape())
		}
	}
	n := &Node{
		opType:     NodeTypeAssign,
		shape:      value.Shape().Clone(),
		inputs:     []*Node{value},
		target:     target,
		useLocking: useLocking,
	}
	g.registerNode(n)
	return n, nil
}

// binaryOpShape returns the output shape of an element-wise binary operation.
// Operands must have the same dtype, and either the same dimensions or one of them must be a scalar.
func binaryOpShape(opType NodeType, lhs, rhs *Node) shapes.Shape {
	if lhs == nil || rhs == nil {
		exceptions.Panicf("%s() requires non-nil operands", opType)
	}
	if lhs.DType() != rhs.DType() {
		exceptions.Panicf("%s(): operands have different dtypes, %s and %s", opType, lhs.Shape(), rhs.Shape())
	}
	switch {
	case lhs.Shape().EqualDimensions(rhs.Shape()):
		return lhs.Shape().Clone()
	case lhs.Shape().IsScalar():
		return rhs.Shape().Clone()
	case rhs.Shape().IsScalar():
		return lhs.Shape().Clone()
	}
	exceptions.Panicf("%s(): operands have incompatible shapes %s and %s", opType, lhs.Shape(), rhs.Shape())
	return shapes.Invalid()
}

func newBinaryOp(opType NodeType, lhs, rhs *Node) *Node {
	shape := binaryOpShape(opType, lhs, rhs)
	n := &Node{
		opType: opType,
		shape:  shape,
		inputs: []*Node{lhs, rhs},
	}
	lhs.Graph().registerNode(n)
	return n
}

func newUnaryOp(opType NodeType, x *Node) *Node {
	if x == nil {
		exceptions.Panicf("%s() requires a non-nil operand", opType)
	}
	if !x.DType().IsFloat() {
		exceptions.Panicf("%s() only supports float dtypes, got %s", opType, x.Shape())
	}
	n := &Node{
		opType: opType,
		shape:  x.Shape().Clone(),
		inputs: []*Node{x},
	}
	x.Graph().registerNode(n)
	return n
}

// Add returns the element-wise sum of lhs and rhs. One of them can be a scalar.
func Add(lhs, rhs *Node) *Node { return newBinaryOp(NodeTypeAdd, lhs, rhs) }

// Sub returns the element-wise difference lhs - rhs. One of them can be a scalar.
func Sub(lhs, rhs *Node) *Node { return newBinaryOp(NodeTypeSub, lhs, rhs) }

// Mul returns the element-wise product of lhs and rhs. One of them can be a scalar.
func Mul(lhs, rhs *Node) *Node { return newBinaryOp(NodeTypeMul, lhs, rhs) }

// MulScalar multiplies x by a Go constant, converted to x's dtype.
func MulScalar(x *Node, scalar float64) *Node {
	n := newUnaryOp(NodeTypeMulScalar, x)
	n.scalar = scalar
	return n
}

// Square returns x*x element-wise.
func Square(x *Node) *Node { return newUnaryOp(NodeTypeSquare, x) }

// Abs returns the absolute value of x element-wise.
func Abs(x *Node) *Node { return newUnaryOp(NodeTypeAbs, x) }

// ReduceAllSum reduces all dimensions of x to a scalar sum.
func ReduceAllSum(x *Node) *Node {
	if x == nil {
		exceptions.Panicf("ReduceAllSum() requires a non-nil operand")
	}
	n := &Node{
		opType: NodeTypeReduceAllSum,
		shape:  shapes.Make(x.DType()),
		inputs: []*Node{x},
	}
	x.Graph().registerNode(n)
	return n
}

// AddScalars sums a list of scalar nodes. It returns nil if the list is empty.
func AddScalars(values ...*Node) *Node {
	var sum *Node
	for _, value := range values {
		if value == nil {
			continue
		}
		if !value.Shape().IsScalar() {
			exceptions.Panicf("AddScalars(): value %s is not a scalar", value)
		}
		if sum == nil {
			sum = value
		} else {
			sum = Add(sum, value)
		}
	}
	return sum
}
