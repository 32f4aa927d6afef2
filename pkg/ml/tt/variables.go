// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tt

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParamNumDims is the hyperparameter recorded in the scope of a TT variable with its number of cores.
// It lets GetVariable look up exactly that many cores when reusing the variable.
const ParamNumDims = "tt_num_dims"

// CoreName returns the name of the i-th core of a TT variable, within the variable's scope.
func CoreName(i int) string {
	return fmt.Sprintf("core_%d", i)
}

// RegularizerScope returns the graph name scope where the regularizer of the TT variable name is built.
// The trailing separator makes it an absolute scope.
func RegularizerScope(name string) string {
	return name + "/Regularizer/"
}

// VariableConfig holds the configuration for GetVariable. Set the options with its methods, and call
// Done to get (create or reuse) the variable.
type VariableConfig struct {
	ctx  *context.Context
	name string

	opts        context.VariableOptions
	initializer Initializer

	g           *graph.Graph
	regularizer Regularizer
}

// GetVariable returns the configuration to get the TT variable called name in the current scope of ctx.
//
// Without an Initializer, Done looks up the existing cores (reuse). With an Initializer, Done creates
// the cores.
//
// By default, cores are trainable and have their shapes validated.
func GetVariable(ctx *context.Context, name string) *VariableConfig {
	return &VariableConfig{
		ctx:  ctx,
		name: name,
		opts: context.DefaultVariableOptions(),
	}
}

// DType of the cores. If set, it must match the dtype of the initial values or of the existing cores.
func (c *VariableConfig) DType(dtype dtypes.DType) *VariableConfig {
	c.opts.DType = dtype
	return c
}

// Initializer sets the initial values of the cores, and makes Done create a new variable.
func (c *VariableConfig) Initializer(initializer Initializer) *VariableConfig {
	c.initializer = initializer
	return c
}

// Regularizer to apply to a newly created variable, with the loss built in graph g.
// It is not used when reusing an existing variable. A nil regularizer is ignored.
func (c *VariableConfig) Regularizer(g *graph.Graph, regularizer Regularizer) *VariableConfig {
	c.g = g
	c.regularizer = regularizer
	return c
}

// Trainable sets whether the cores are trainable. Default is true.
func (c *VariableConfig) Trainable(trainable bool) *VariableConfig {
	c.opts.Trainable = trainable
	return c
}

// Collections the cores are added to. Default is context.GlobalVariables.
// context.TrainableVariables is added automatically for trainable cores.
func (c *VariableConfig) Collections(collections ...string) *VariableConfig {
	c.opts.Collections = collections
	return c
}

// CachingDevice requested for reading the cores.
func (c *VariableConfig) CachingDevice(device string) *VariableConfig {
	c.opts.CachingDevice = device
	return c
}

// ValidateShape sets whether initial values must have a known shape. Default is true.
// If false, an Initializer may provide nil core values, and the cores get their shapes when first assigned.
func (c *VariableConfig) ValidateShape(validateShape bool) *VariableConfig {
	c.opts.ValidateShape = validateShape
	return c
}

// Done creates or reuses the TT variable.
//
// Reuse (no Initializer): the cores "core_0", "core_1", ... are looked up in the scope name. If the number of
// cores was recorded (ParamNumDims), exactly that many are looked up. Otherwise, cores are probed in order
// until one is not found: if the first core is not found, the context.ErrVariableNotFound error is
// returned, otherwise the cores found so far make the variable.
//
// Create (with Initializer): one core per initial value is created in the scope name, and the number of
// cores is recorded. If the context is in Reuse mode (or unchecked) and the variable exists, its cores are
// returned instead, and the initializer must have the same number of dimensions (see context.ErrShapeMismatch). If a Regularizer was given, it is called in the graph name scope
// RegularizerScope(name), and a non-nil loss is added to the context.RegularizationLosses collection.
//
// Errors from the context (see context.ErrVariableExists, context.ErrShapeMismatch, ...) are returned
// unchanged, and can be checked with errors.Is.
func (c *VariableConfig) Done() (*Variable, error) {
	if c.name == "" || strings.Contains(c.name, context.ScopeSeparator) {
		return nil, errors.Errorf("tt.GetVariable(): invalid name %q", c.name)
	}
	ctx := c.ctx.In(c.name)
	if c.initializer == nil {
		return c.reuse(ctx)
	}
	return c.create(ctx)
}

// MustDone is like Done, but panics on error.
func (c *VariableConfig) MustDone() *Variable {
	v, err := c.Done()
	if err != nil {
		panic(err)
	}
	return v
}

// MustGetVariable reuses the existing TT variable name, and panics if it doesn't exist.
func MustGetVariable(ctx *context.Context, name string) *Variable {
	return GetVariable(ctx, name).MustDone()
}

// NumDimsInScope returns the number of cores recorded in the scope of ctx by the creation of a TT variable.
func NumDimsInScope(ctx *context.Context) (numDims int, found bool) {
	value, found := ctx.GetLocalParam(ParamNumDims)
	if !found {
		return 0, false
	}
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		// Parameters loaded from Json checkpoints are decoded as float64.
		return int(n), true
	}
	klog.Warningf("tt: ignoring %q=%v (%T) in scope %q: not a number", ParamNumDims, value, value, ctx.Scope())
	return 0, false
}

// existingNumDims returns the number of cores of the variable in the scope of ctx: the recorded
// ParamNumDims, or else the number of consecutive cores found.
func existingNumDims(ctx *context.Context, opts context.VariableOptions) int {
	if numDims, found := NumDimsInScope(ctx); found {
		return numDims
	}
	numDims := 0
	for {
		if _, err := ctx.LookupVariable(CoreName(numDims), opts); errors.Is(err, context.ErrVariableNotFound) {
			return numDims
		}
		numDims++
	}
}

func (c *VariableConfig) reuse(ctx *context.Context) (*Variable, error) {
	var cores []*context.Variable
	if numDims, found := NumDimsInScope(ctx); found && numDims > 0 {
		cores = make([]*context.Variable, 0, numDims)
		for ii := range numDims {
			core, err := ctx.LookupVariable(CoreName(ii), c.opts)
			if err != nil {
				return nil, err
			}
			cores = append(cores, core)
		}
	} else {
		for ii := 0; ; ii++ {
			core, err := ctx.LookupVariable(CoreName(ii), c.opts)
			if err != nil {
				if ii == 0 || !errors.Is(err, context.ErrVariableNotFound) {
					return nil, err
				}
				break
			}
			cores = append(cores, core)
		}
	}
	return New(c.name, cores)
}

func (c *VariableConfig) create(ctx *context.Context) (*Variable, error) {
	numDims := c.initializer.NumDims()
	values := c.initializer.Cores()
	if numDims <= 0 || len(values) != numDims {
		return nil, errors.Errorf("tt.GetVariable(%q): initializer has %d dimensions and %d core values",
			c.name, numDims, len(values))
	}
	// In Reuse mode (or unchecked) CreateVariable returns existing cores: the existing variable must then have
	// the same number of dimensions, and its recorded number of dimensions is kept.
	_, err := ctx.LookupVariable(CoreName(0), c.opts)
	reused := !errors.Is(err, context.ErrVariableNotFound)
	if reused && (ctx.IsReuse() || !ctx.IsChecked()) {
		if existingDims := existingNumDims(ctx, c.opts); existingDims != numDims {
			return nil, errors.Wrapf(context.ErrShapeMismatch,
				"tt.GetVariable(%q): initializer has %d dimensions, but the existing variable has %d",
				c.name, numDims, existingDims)
		}
	}
	cores := make([]*context.Variable, numDims)
	for ii := range numDims {
		core, err := ctx.CreateVariable(CoreName(ii), values[ii], c.opts)
		if err != nil {
			return nil, err
		}
		cores[ii] = core
	}
	v, err := New(c.name, cores)
	if err != nil {
		return nil, err
	}
	if !reused {
		ctx.SetParam(ParamNumDims, numDims)
	}

	if c.regularizer == nil {
		return v, nil
	}
	if c.g == nil {
		return nil, errors.Errorf("tt.GetVariable(%q): regularizer given without a graph", c.name)
	}
	g := c.g
	err = exceptions.TryCatch[error](func() {
		var loss *graph.Node
		g.WithNameScope(RegularizerScope(c.name), func() {
			loss = c.regularizer(ctx, g, v)
		})
		if loss == nil {
			return
		}
		if !loss.Shape().IsScalar() {
			exceptions.Panicf("regularizer returned a non-scalar loss %s", loss)
		}
		ctx.AddToCollection(g, context.RegularizationLosses, loss)
		klog.V(1).Infof("Applied regularizer to %s and added the result %s to %s.",
			v.Name(), loss.Name(), context.RegularizationLosses)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "tt.GetVariable(%q): regularizer failed", c.name)
	}
	return v, nil
}
