// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/gomlx/tensortrain/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Variable is a value shared among computation graphs, or across multiple executions of the same graph.
// It's commonly used to store the weights (aka. parameters) of an ML model. It's defined in a scope in
// a Context.
//
// The materialized value can be accessed in between graph executions by Value and SetValue methods.
// In a graph, ValueGraph returns the node with its current value, and context.Assign updates it.
//
// A variable created with VariableOptions.ValidateShape set to false may have no value (and no shape) yet:
// its shape is set by the first value assigned.
type Variable struct {
	ctx         *Context
	name, scope string

	trainable     bool
	collections   []string
	cachingDevice string

	mu sync.Mutex

	// assignMu is held by the graph executor during assignments created with useLocking.
	assignMu sync.Mutex

	// dtype is kept separately from shape, for variables not yet holding a value.
	dtype dtypes.DType
	shape shapes.Shape
	value *tensors.Tensor

	// graphToNodes maps graph ids in which this variable was used to its current value Node.
	graphToNodes map[graph.GraphId]*graph.Node
}

var (
	_ graph.Assignable = (*Variable)(nil)
	_ graph.Locker     = (*Variable)(nil)
)

// VariableParameterPrefix is used to prefix Variable parameter names.
const VariableParameterPrefix = "var:"

func newVariable(ctx *Context, scope, name string, value *tensors.Tensor, opts VariableOptions) *Variable {
	v := &Variable{
		ctx:           ctx,
		name:          name,
		scope:         scope,
		trainable:     opts.Trainable,
		collections:   opts.collectionsFor(),
		cachingDevice: opts.CachingDevice,
		dtype:         opts.DType,
		shape:         shapes.Invalid(),
		graphToNodes:  make(map[graph.GraphId]*graph.Node),
	}
	if value != nil {
		v.value = value
		v.shape = value.Shape()
		v.dtype = value.DType()
	}
	return v
}

// Name of the variable within the scope.
func (v *Variable) Name() string {
	if v == nil {
		return "<nil>"
	}
	return v.name
}

// Scope where the variable was created.
func (v *Variable) Scope() string {
	if v == nil {
		return "<nil>"
	}
	return v.scope
}

// String implements stringer.
func (v *Variable) String() string {
	if v == nil {
		return "INVALID (NIL) VARIABLE"
	}
	return v.ScopeAndName()
}

// ScopeAndName is a quick pretty-print way to refer to a variable. It implements graph.Assignable.
func (v *Variable) ScopeAndName() string {
	return JoinScope(v.Scope(), v.Name())
}

// ParameterName is a unique name for the variable that includes the scope and the variable name,
// and is reversible. It is used as the key when saving the variable in a checkpoint.
func (v *Variable) ParameterName() string {
	return VariableParameterNameFromScopeAndName(v.Scope(), v.Name())
}

// VariableScopeAndNameFromParameterName extracts the scope and name from a variable's ParameterName.
// It will return empty strings for an invalid parameter name.
func VariableScopeAndNameFromParameterName(parameterName string) (scope, name string) {
	if !strings.HasPrefix(parameterName, VariableParameterPrefix) {
		return
	}
	scopeAndName := parameterName[len(VariableParameterPrefix):]
	if !strings.HasPrefix(scopeAndName, ScopeSeparator) {
		return
	}
	if strings.HasPrefix(scopeAndName, RootScope+ScopeSeparator) {
		// Variable in the root scope: "var://name".
		return RootScope, scopeAndName[len(RootScope)+len(ScopeSeparator):]
	}
	return SplitScope(scopeAndName)
}

// VariableParameterNameFromScopeAndName creates the Variable.ParameterName from its scope and name.
func VariableParameterNameFromScopeAndName(scope, name string) string {
	return fmt.Sprintf("%s%s%s%s", VariableParameterPrefix, scope, ScopeSeparator, name)
}

// IsValid returns whether the variable is not nil and has a known shape.
func (v *Variable) IsValid() bool {
	return v != nil && v.Shape().Ok()
}

// CheckValid returns an error if the variable is in an invalid state: if it's nil or if its shape is not yet known.
func (v *Variable) CheckValid() error {
	if v == nil {
		return errors.New("context.Variable is nil")
	}
	if !v.Shape().Ok() {
		return errors.Wrapf(ErrUnknownShape, "context.Variable %q has no shape yet", v.ScopeAndName())
	}
	return nil
}

// Shape returns the variable shape. It is invalid if the variable has no value yet.
func (v *Variable) Shape() shapes.Shape {
	if v == nil {
		return shapes.Invalid()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shape
}

// DType returns the variable dtype. It may be known even before the shape is.
func (v *Variable) DType() dtypes.DType {
	if v == nil {
		return dtypes.InvalidDType
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dtype
}

// Trainable returns whether the variable is trainable.
func (v *Variable) Trainable() bool {
	return v.trainable
}

// Collections returns a copy of the names of the collections the variable belongs to.
func (v *Variable) Collections() []string {
	return slices.Clone(v.collections)
}

// InCollection returns whether the variable belongs to the given collection.
func (v *Variable) InCollection(collection string) bool {
	return slices.Contains(v.collections, collection)
}

// CachingDevice returns the device requested for caching reads of the variable, or "" if none.
func (v *Variable) CachingDevice() string {
	return v.cachingDevice
}

// HasValue returns whether the variable holds a value.
func (v *Variable) HasValue() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value != nil
}

// Value returns the tensor holding the variable value. Use this to manipulate the value in Go.
// If building a computation graph, use Variable.ValueGraph.
func (v *Variable) Value() (*tensors.Tensor, error) {
	if v == nil {
		return nil, errors.New("context.Variable is nil")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.value == nil {
		return nil, errors.Wrapf(ErrUnknownShape, "variable %q has no value", v.ScopeAndName())
	}
	return v.value, nil
}

// MustValue returns the tensor holding the variable value, and panics on error.
func (v *Variable) MustValue() *tensors.Tensor {
	value, err := v.Value()
	if err != nil {
		panic(err)
	}
	return value
}

// AssignLocker returns the lock held by the graph executor while assigning the variable with useLocking.
// It implements graph.Locker.
func (v *Variable) AssignLocker() sync.Locker {
	return &v.assignMu
}

// SetValue updates the tensor holding the variable value. It implements graph.Assignable.
//
// The shape of the variable is set to the one of the new value. The dtype must match the variable's dtype,
// if one is already known.
func (v *Variable) SetValue(value *tensors.Tensor) error {
	if v == nil {
		return errors.New("context.Variable is nil")
	}
	if err := value.CheckValid(); err != nil {
		return errors.WithMessagef(err, "Variable(%q).SetValue()", v.ScopeAndName())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dtype != dtypes.InvalidDType && v.dtype != value.DType() {
		return errors.Wrapf(ErrDTypeMismatch, "Variable(%q).SetValue(): variable has dtype %s, value has dtype %s",
			v.ScopeAndName(), v.dtype, value.DType())
	}
	v.value = value
	v.shape = value.Shape()
	v.dtype = value.DType()
	return nil
}

// ValueGraph returns the Node of the Graph that holds the current value of the variable.
// The first call for a graph creates a node that reads the variable value when executed, later
// calls return the same node, or the last assignment to the variable made with context.Assign.
//
// It's a computation graph building function, and panics on errors.
func (v *Variable) ValueGraph(g *graph.Graph) *graph.Node {
	if err := v.CheckValid(); err != nil {
		panic(err)
	}
	g.AssertValid()
	v.mu.Lock()
	node, found := v.graphToNodes[g.GraphId()]
	v.mu.Unlock()
	if found {
		return node
	}
	node = graph.Read(g, v)
	v.setValueGraph(node)
	return node
}

// InUseByGraph returns whether the variable is currently in use by the given graph.
func (v *Variable) InUseByGraph(g *graph.Graph) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, found := v.graphToNodes[g.GraphId()]
	return found
}

func (v *Variable) setValueGraph(node *graph.Node) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.graphToNodes[node.Graph().GraphId()] = node
}
