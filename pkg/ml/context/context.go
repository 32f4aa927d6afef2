// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package context defines the Context and Variable types: Context organizes variables (in scopes),
// hyperparameters and per-graph collections, and Variable holds the value of one model parameter.
//
// A Context is a thin reference holding the current scope (similar to a current directory) and a pointer
// to the shared data. Context.In returns a new reference with a sub-scope, sharing all the data:
//
//	ctx := context.New()
//	ctx.SetParam(tt.ParamRank, 4)
//	{
//		ctx := ctx.In("W")  // Variables created here are named "/W/<name>".
//		v, err := ctx.CreateVariable("core_0", value, context.DefaultVariableOptions())
//		...
//	}
//
// Variable creation is checked by default (see Context.Checked): creating a variable that already exists
// fails with ErrVariableExists, unless the context is in Context.Reuse mode.
//
// Variables can be lazily loaded from a Loader (see the checkpoints package): lookups of variables not
// yet in the context first consult the loader.
package context

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensortrain/internal/scoped"
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/core/tensors"
)

// Context organizes variables, hyperparameters and per-graph collections of nodes in scopes.
//
// It is a scoped reference to shared data: changing the scope (Context.In) or the reuse mode
// (Context.Reuse) returns a new reference, but variables and parameters are shared among all of them.
type Context struct {
	// scope for currently created variables and registration.
	scope string

	// reuse of variables, if set to true.
	reuse bool

	// checked access to variables: whether to check for reuse if variable is new or not. If set
	// to false it makes reuse irrelevant.
	checked bool

	// data is shared among all references derived from the same New().
	data *contextData
}

// scopedVariableMap name to variable within a scope.
type scopedVariableMap map[string]*Variable

// contextData stores all context information and is shared among various Context, which
// serve only as scoped references.
type contextData struct {
	// params holds the hyperparameters, scoped. E.g.: "tt_rank" -> 4.
	params *scoped.Params

	// variablesMap for this context organized per scope.
	variablesMap map[string]scopedVariableMap

	// variables is a plain list of all variables, in creation order.
	variables []*Variable

	// loader, if set, is called to check whether there is a previous value of the variable to use.
	loader Loader

	// graphCollections holds per-graph collections of nodes, e.g. RegularizationLosses.
	graphCollections map[graph.GraphId]map[string][]*graph.Node
}

// Loader can be implemented by any library providing loading of variables for
// Context. Loader implementations need to provide values on demand, as variables are looked up,
// even if they load everything up-front.
//
// An example of a loader is checkpoints.Handler.
type Loader interface {
	// LoadVariable tries to load the variable pointed by its scope and name.
	// If it's not found, returns false, and lookup continues as usual.
	//
	// It is called at most once for each variable: if a value is loaded, its ownership is transferred to
	// the context.
	LoadVariable(ctx *Context, scope, name string) (value *tensors.Tensor, found bool)

	// DeleteVariable is called whenever Context.DeleteVariable is called. The deletion should cascade to the
	// loader, otherwise the variable will reappear after deletion.
	//
	// If the variable doesn't exist in the loader, it should be a no-op.
	DeleteVariable(ctx *Context, scope, name string) error
}

const (
	// ScopeSeparator is used between levels of scope. Scope names cannot use this character.
	ScopeSeparator = "/"

	// RootScope is the scope at the very root.
	RootScope = ScopeSeparator
)

// New returns an empty context, associated with freshly created data.
// It is created checked and not in reuse mode.
func New() *Context {
	return &Context{
		scope:   RootScope,
		checked: true,
		data: &contextData{
			params:           scoped.New(ScopeSeparator),
			variablesMap:     make(map[string]scopedVariableMap),
			graphCollections: make(map[graph.GraphId]map[string][]*graph.Node),
		},
	}
}

// copy creates a copy of the Context reference, sharing the same "data" component.
func (ctx *Context) copy() *Context {
	ctx2 := &Context{}
	*ctx2 = *ctx
	return ctx2
}

// JoinScope and name into a single string.
// If scope is empty, name is returned.
// See also SplitScope.
func JoinScope(scope, name string) string {
	if strings.HasSuffix(scope, ScopeSeparator) {
		return scope + name
	}
	if scope == "" {
		return name
	}
	return scope + ScopeSeparator + name
}

// SplitScope splits the scope from the name for a combined string, typically created by JoinScope.
// If there is no scope configured, scope is set to "".
func SplitScope(scopeAndName string) (scope, name string) {
	if !strings.HasPrefix(scopeAndName, ScopeSeparator) {
		return "", scopeAndName
	}
	separationIdx := strings.LastIndex(scopeAndName, ScopeSeparator)
	name = scopeAndName[separationIdx+1:]
	if separationIdx == 0 {
		scope = RootScope
	} else {
		scope = scopeAndName[:separationIdx]
	}
	return
}

// EscapeScopeName replaces ScopeSeparator in the string by "_".
func EscapeScopeName(scopeName string) string {
	return strings.ReplaceAll(scopeName, ScopeSeparator, "_")
}

// Scope returns the full scope path.
//
// Notice that Scope is part of the "reference" component of a Context.
func (ctx *Context) Scope() string {
	return ctx.scope
}

// In returns a new reference to the Context with the extra given scope. No ScopeSeparator ("/") is
// allowed in scope.
//
// Notice that Scope is part of the "reference" component of a Context.
func (ctx *Context) In(scope string) *Context {
	if scope == "" {
		exceptions.Panicf("cannot use empty scope for Context.In()")
	}
	if strings.Contains(scope, ScopeSeparator) {
		exceptions.Panicf("cannot use separator %q in scope element %q", ScopeSeparator, scope)
	}
	return ctx.InAbsPath(JoinScope(ctx.scope, scope))
}

// Inf returns a new reference to the Context with the extra given scope, formatted with fmt.Sprintf.
func (ctx *Context) Inf(format string, args ...any) *Context {
	return ctx.In(fmt.Sprintf(format, args...))
}

// InAbsPath returns a new reference to the Context with the given absolute scope. It should start and have each
// element separated by ScopeSeparator. Use RootScope for the root scope.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	if !strings.HasPrefix(scopePath, ScopeSeparator) {
		exceptions.Panicf("absolute scope path must start with separator %q, instead got %q", ScopeSeparator, scopePath)
	}
	if len(scopePath) > len(ScopeSeparator) && strings.HasSuffix(scopePath, ScopeSeparator) {
		exceptions.Panicf("absolute scope path %q cannot end with separator %q", scopePath, ScopeSeparator)
	}
	ctx2 := ctx.copy()
	ctx2.scope = scopePath
	return ctx2
}

// Reuse returns a new reference to the Context set to reuse of variables.
// If checked is false, this setting is irrelevant.
func (ctx *Context) Reuse() *Context {
	if ctx.reuse {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.reuse = true
	return ctx2
}

// Unique returns a new reference to the Context, set to only allow new variables.
// If checked is false, this setting is irrelevant.
func (ctx *Context) Unique() *Context {
	if !ctx.reuse {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.reuse = false
	return ctx2
}

// IsReuse returns whether Context is marked for reuse. This is irrelevant if IsChecked is false.
func (ctx *Context) IsReuse() bool { return ctx.reuse }

// Checked returns a new context with the checked flag set accordingly.
// If checked is true, CreateVariable checks for reuse/uniqueness according to IsReuse().
// If checked is false variables are reused or created when needed, without any checks.
func (ctx *Context) Checked(checked bool) *Context {
	if ctx.checked == checked {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.checked = checked
	return ctx2
}

// IsChecked returns whether context is checking reuse rules.
func (ctx *Context) IsChecked() bool { return ctx.checked }

// Loader returns the current configured Loader for this context. See SetLoader for details.
func (ctx *Context) Loader() Loader {
	return ctx.data.loader
}

// SetLoader configures loader to be used as the default Loader for this Context.
//
// The Loader is consulted whenever a variable is looked up (or about to be created) and is not yet
// in the Context. If the Loader has a value for it, it overrides any value given at creation.
// E.g.: the value could be loaded from the last checkpoint.
func (ctx *Context) SetLoader(loader Loader) {
	ctx.data.loader = loader
}
