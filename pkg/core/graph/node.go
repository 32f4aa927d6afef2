// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"sync"

	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/gomlx/tensortrain/pkg/core/tensors"
)

// NodeType identifies the operation of a Node.
type NodeType int

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeConstant
	NodeTypeParameter
	NodeTypeAssign
	NodeTypeAdd
	NodeTypeSub
	NodeTypeMul
	NodeTypeMulScalar
	NodeTypeSquare
	NodeTypeAbs
	NodeTypeReduceAllSum
)

var nodeTypeNames = map[NodeType]string{
	NodeTypeInvalid:      "Invalid",
	NodeTypeConstant:     "Constant",
	NodeTypeParameter:    "Parameter",
	NodeTypeAssign:       "Assign",
	NodeTypeAdd:          "Add",
	NodeTypeSub:          "Sub",
	NodeTypeMul:          "Mul",
	NodeTypeMulScalar:    "MulScalar",
	NodeTypeSquare:       "Square",
	NodeTypeAbs:          "Abs",
	NodeTypeReduceAllSum: "ReduceAllSum",
}

// String implements fmt.Stringer.
func (t NodeType) String() string {
	if name, found := nodeTypeNames[t]; found {
		return name
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// Assignable is the interface of a value holder that can be read by and assigned from a Graph.
// context.Variable implements it.
type Assignable interface {
	// ScopeAndName uniquely identifies the holder.
	ScopeAndName() string

	// Shape of the current value. It may be invalid if the holder was created with an unknown shape.
	Shape() shapes.Shape

	// Value returns the current value.
	Value() (*tensors.Tensor, error)

	// SetValue replaces the current value.
	SetValue(value *tensors.Tensor) error
}

// Locker is implemented by Assignable targets that can be assigned with useLocking: the executor holds
// AssignLocker while setting the value. It must not be the lock used by SetValue itself.
type Locker interface {
	AssignLocker() sync.Locker
}

// Node represents the result of an operation in the computation graph.
// Nodes are only created by the graph building functions (Const, Parameter, Add, Assign, ...).
type Node struct {
	graph  *Graph
	id     NodeId
	opType NodeType
	shape  shapes.Shape
	inputs []*Node

	// scope is the name scope in which the node was created.
	scope string
	alias string

	// Static parameters of the operation.
	constant   *tensors.Tensor
	scalar     float64
	target     Assignable
	useLocking bool
}

// Graph that holds this Node.
func (n *Node) Graph() *Graph {
	if n == nil {
		return nil
	}
	return n.graph
}

// Id is the unique id of this node within the Graph.
func (n *Node) Id() NodeId {
	if n == nil {
		return InvalidNodeId
	}
	return n.id
}

// Type identifies the operation performed by the node.
func (n *Node) Type() NodeType {
	return n.opType
}

// Shape of the Node's output.
func (n *Node) Shape() shapes.Shape {
	if n == nil {
		return shapes.Invalid()
	}
	return n.shape
}

// DType returns the DType of the node's shape.
func (n *Node) DType() dtypes.DType {
	return n.Shape().DType
}

// Rank returns the rank of the node's shape.
func (n *Node) Rank() int {
	return n.Shape().Rank()
}

// Inputs are the other nodes that are direct inputs to this node.
func (n *Node) Inputs() []*Node {
	return n.inputs
}

// Scope returns the name scope the node was created in, "" for the root scope.
func (n *Node) Scope() string {
	return n.scope
}

// Name of the node: the name scope in which it was created, followed by the operation type and its id.
// E.g.: "W/Regularizer/ReduceAllSum_7".
func (n *Node) Name() string {
	if n == nil {
		return "<nil>"
	}
	base := fmt.Sprintf("%s_%d", n.opType, n.id)
	if n.scope == "" {
		return base
	}
	return n.scope + AliasScopeSeparator + base
}

// Target returns the Assignable read (Parameter) or written (Assign) by this node, or nil for other ops.
func (n *Node) Target() Assignable {
	return n.target
}

// UseLocking returns whether an Assign node was requested to lock its target while assigning.
func (n *Node) UseLocking() bool {
	return n.useLocking
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	if n.target != nil {
		return fmt.Sprintf("%s(%s) -> %s", n.Name(), n.target.ScopeAndName(), n.shape)
	}
	return fmt.Sprintf("%s -> %s", n.Name(), n.shape)
}
