// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"iter"
	"slices"
	"strings"

	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GetVariableByScopeAndName returns the variable with the given name for inspection. It returns nil if a variable
// with the given name hasn't been created.
//
// It is not affected by Context.Reuse checks.
//
// This will trigger the loading of the variable if a loader (like checkpoints.Handler) is attached.
// A loaded variable is created with the default variable options.
//
// The root scope is "/" (RootScope).
func (ctx *Context) GetVariableByScopeAndName(scope, name string) *Variable {
	return ctx.getOrLoadVariable(scope, name, DefaultVariableOptions())
}

// GetVariable returns the variable in the current context scope, or nil if it doesn't exist.
// See GetVariableByScopeAndName.
func (ctx *Context) GetVariable(name string) *Variable {
	return ctx.GetVariableByScopeAndName(ctx.scope, name)
}

// InspectVariableIfLoaded returns the variable if it exists already, but it won't attempt to load it.
func (ctx *Context) InspectVariableIfLoaded(scope, name string) *Variable {
	scopeVars, ok := ctx.data.variablesMap[scope]
	if !ok {
		return nil
	}
	return scopeVars[name]
}

// getOrLoadVariable returns the existing variable, or tries to load it with the Loader, in which
// case it is created with the given options.
func (ctx *Context) getOrLoadVariable(scope, name string, opts VariableOptions) *Variable {
	if v := ctx.InspectVariableIfLoaded(scope, name); v != nil {
		return v
	}
	loader := ctx.data.loader
	if loader == nil {
		return nil
	}
	value, found := loader.LoadVariable(ctx, scope, name)
	if !found {
		return nil
	}
	if opts.DType != dtypes.InvalidDType && opts.DType != value.DType() {
		klog.Warningf("variable %q loaded with dtype %s, but %s was requested", JoinScope(scope, name),
			value.DType(), opts.DType)
	}
	opts.DType = value.DType()
	v := newVariable(ctx, scope, name, value, opts)
	ctx.setVariableInScope(v)
	klog.V(1).Infof("context: loaded variable %q with shape %s", v.ScopeAndName(), v.Shape())
	return v
}

// setVariableInScope registers the variable in the variable's scope.
func (ctx *Context) setVariableInScope(v *Variable) {
	vSet, found := ctx.data.variablesMap[v.scope]
	if !found {
		vSet = make(scopedVariableMap)
		ctx.data.variablesMap[v.scope] = vSet
	}
	vSet[v.name] = v
	ctx.data.variables = append(ctx.data.variables, v)
}

// LookupVariable fetches an existing variable in the current scope, or fails with ErrVariableNotFound.
// It is not affected by Context.Reuse checks.
//
// If the variable is not in the context yet but the Loader has it, it is materialized with the given
// options (dtype, trainable, collections and caching device). An existing variable keeps the options it
// was created with, only the dtype is checked (if one is given), failing with ErrDTypeMismatch.
func (ctx *Context) LookupVariable(name string, opts VariableOptions) (*Variable, error) {
	v := ctx.getOrLoadVariable(ctx.scope, name, opts)
	if v == nil {
		return nil, errors.Wrapf(ErrVariableNotFound, "variable %q in scope %q", name, ctx.scope)
	}
	if err := checkDType(v, opts.DType); err != nil {
		return nil, err
	}
	return v, nil
}

func checkDType(v *Variable, dtype dtypes.DType) error {
	if dtype == dtypes.InvalidDType {
		return nil
	}
	if varDType := v.DType(); varDType != dtypes.InvalidDType && varDType != dtype {
		return errors.Wrapf(ErrDTypeMismatch, "variable %q has dtype %s, but %s was requested",
			v.ScopeAndName(), varDType, dtype)
	}
	return nil
}

// CreateVariable creates a variable with the given initial value in the current scope.
//
// If the Context is checked (the default), it fails with ErrVariableExists if the variable already
// exists (or can be loaded) and the Context is not in Reuse mode, and with ErrVariableNotFound if the
// variable doesn't exist and the Context is in Reuse mode. In reuse mode (or unchecked) an existing
// variable is returned, after checking its dtype and, if opts.ValidateShape, that value has the same shape.
//
// If a Loader is configured and has a value for the variable, it overrides the value given.
//
// The value can be nil only if opts.ValidateShape is false: the variable is then created without a shape,
// and with opts.DType, and it gets its shape from the first value assigned. Otherwise, it fails with
// ErrUnknownShape.
func (ctx *Context) CreateVariable(name string, value *tensors.Tensor, opts VariableOptions) (*Variable, error) {
	if name == "" || strings.Contains(name, ScopeSeparator) {
		return nil, errors.Errorf("invalid variable name %q in scope %q", name, ctx.scope)
	}
	v := ctx.getOrLoadVariable(ctx.scope, name, opts)
	if v != nil {
		if ctx.checked && !ctx.reuse {
			return nil, errors.Wrapf(ErrVariableExists,
				"variable %q in scope %q (use Context.Reuse() or Context.Checked(false) if this was deliberate)",
				name, ctx.scope)
		}
		dtype := opts.DType
		if dtype == dtypes.InvalidDType && value != nil {
			dtype = value.DType()
		}
		if err := checkDType(v, dtype); err != nil {
			return nil, err
		}
		if opts.ValidateShape && value != nil && v.Shape().Ok() && !v.Shape().Equal(value.Shape()) {
			return nil, errors.Wrapf(ErrShapeMismatch, "variable %q has shape %s, new value has shape %s",
				v.ScopeAndName(), v.Shape(), value.Shape())
		}
		return v, nil
	}

	if ctx.checked && ctx.reuse {
		return nil, errors.Wrapf(ErrVariableNotFound,
			"variable %q in scope %q requested with Context.Reuse set, but it does not exist", name, ctx.scope)
	}
	if value == nil {
		if opts.ValidateShape {
			return nil, errors.Wrapf(ErrUnknownShape,
				"variable %q in scope %q created without a value and with shape validation", name, ctx.scope)
		}
	} else {
		if err := value.CheckValid(); err != nil {
			return nil, errors.Wrapf(ErrUnknownShape, "variable %q in scope %q: %v", name, ctx.scope, err)
		}
		if opts.DType != dtypes.InvalidDType && opts.DType != value.DType() {
			return nil, errors.Wrapf(ErrDTypeMismatch, "variable %q in scope %q requested with dtype %s, but value is %s",
				name, ctx.scope, opts.DType, value.Shape())
		}
	}
	v = newVariable(ctx, ctx.scope, name, value, opts)
	ctx.setVariableInScope(v)
	return v, nil
}

// VariableWithValue creates or returns a variable initialized with the given value in the current scope.
// The value can be a *tensors.Tensor or any Go value accepted by tensors.FromAnyValue.
// If the variable already exists, its value is not overwritten.
//
// This is a graph building function and panics if the variable cannot be created. See CreateVariable
// for the conditions.
func (ctx *Context) VariableWithValue(name string, value any) *Variable {
	t, ok := value.(*tensors.Tensor)
	if !ok {
		t = tensors.FromAnyValue(value)
	}
	v, err := ctx.CreateVariable(name, t, DefaultVariableOptions())
	if err != nil {
		panic(err)
	}
	return v
}

// DeleteVariable if it exists. The deletion cascades to the Loader.
//
// This should not be called from within IterVariables: the results are undefined if you do.
func (ctx *Context) DeleteVariable(scope, name string) error {
	// Even if variable doesn't exist in context yet, we need to remove it from the loader,
	// since it may only exist there at first.
	if loader := ctx.data.loader; loader != nil {
		if err := loader.DeleteVariable(ctx, scope, name); err != nil {
			return err
		}
	}
	scopeVars, ok := ctx.data.variablesMap[scope]
	if !ok {
		return nil
	}
	v := scopeVars[name]
	if v == nil {
		return nil
	}
	delete(scopeVars, name)
	if len(scopeVars) == 0 {
		delete(ctx.data.variablesMap, scope)
	}
	ctx.data.variables = slices.DeleteFunc(ctx.data.variables, func(candidate *Variable) bool {
		return candidate == v
	})
	return nil
}

// IterVariables returns an iterator that yields each variable in the context, in creation order.
//
// Variables not yet materialized, for instance with checkpoints with lazy loading, are not listed here.
func (ctx *Context) IterVariables() iter.Seq[*Variable] {
	return func(yield func(*Variable) bool) {
		for _, v := range ctx.data.variables {
			if !yield(v) {
				return
			}
		}
	}
}

// IsInScope returns whether scope is baseScope or one of its sub-scopes.
func IsInScope(baseScope, scope string) bool {
	if baseScope == RootScope || scope == baseScope {
		return true
	}
	return strings.HasPrefix(scope, baseScope+ScopeSeparator)
}

// IterVariablesInScope is similar to IterVariables, but yields only those under the current
// context scope (including sub-scopes).
func (ctx *Context) IterVariablesInScope() iter.Seq[*Variable] {
	baseScope := ctx.Scope()
	return func(yield func(*Variable) bool) {
		for _, v := range ctx.data.variables {
			if IsInScope(baseScope, v.Scope()) {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// VariablesInCollection returns the variables (of all scopes) that belong to the given collection,
// in creation order.
func (ctx *Context) VariablesInCollection(collection string) []*Variable {
	var result []*Variable
	for v := range ctx.IterVariables() {
		if v.InCollection(collection) {
			result = append(result, v)
		}
	}
	return result
}

// NumVariables return the number of variables in this Context.
func (ctx *Context) NumVariables() int {
	return len(ctx.data.variables)
}

// NumParameters returns the summed-up number of elements of all variables with a known shape.
// It ignores the DType, so a `float64` will count as much as an `int32`.
func (ctx *Context) NumParameters() int {
	total := 0
	for v := range ctx.IterVariables() {
		if shape := v.Shape(); shape.Ok() {
			total += shape.Size()
		}
	}
	return total
}

// Memory returns the total number of bytes summed across all variables.
// It does not include associated pointers and structures, just the bytes used by the raw data.
func (ctx *Context) Memory() uintptr {
	total := uintptr(0)
	for v := range ctx.IterVariables() {
		total += v.Shape().Memory()
	}
	return total
}
