// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/core/tensors"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/gomlx/tensortrain/pkg/ml/context/checkpoints"
	"github.com/gomlx/tensortrain/pkg/ml/tt"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

// valueMetrics returns the MAV (mean absolute value) and RMS (root-mean-square) of a float tensor.
func valueMetrics(value *tensors.Tensor) (mav, rms float64, err error) {
	g := graph.NewGraph("metrics")
	var mavNode, meanSquareNode *graph.Node
	err = exceptions.TryCatch[error](func() {
		x := graph.Const(g, value)
		invSize := 1.0 / float64(value.Size())
		mavNode = graph.MulScalar(graph.ReduceAllSum(graph.Abs(x)), invSize)
		meanSquareNode = graph.MulScalar(graph.ReduceAllSum(graph.Square(x)), invSize)
	})
	if err != nil {
		return
	}
	results, err := graph.Exec(g, mavNode, meanSquareNode)
	if err != nil {
		return
	}
	mavs, err := tensors.AsFloat64(results[0])
	if err != nil {
		return
	}
	meanSquares, err := tensors.AsFloat64(results[1])
	if err != nil {
		return
	}
	return mavs[0], math.Sqrt(meanSquares[0]), nil
}

// VariablesRows returns one row per variable under the scope of ctx, sorted by scope and name:
// scope, name, shape, size, bytes, and the value (for scalars) or MAV, and RMS (for float variables).
func VariablesRows(ctx *context.Context) [][]string {
	var rows [][]string
	for v := range ctx.IterVariablesInScope() {
		if !v.IsValid() || !v.HasValue() {
			rows = append(rows, []string{v.Scope(), v.Name(), "<unknown>", "", "", "", ""})
			continue
		}
		shape := v.Shape()
		value := v.MustValue()
		var mav, rms string
		if shape.Size() == 1 {
			mav = fmt.Sprintf("%v", value.Value())
		} else if shape.DType.IsFloat() && shape.Size() > 0 {
			mavF, rmsF, err := valueMetrics(value)
			if err != nil {
				klog.Warningf("failed to compute metrics of %q: %v", v.ScopeAndName(), err)
			} else {
				mav, rms = fmt.Sprintf("%.3g", mavF), fmt.Sprintf("%.3g", rmsF)
			}
		}
		rows = append(rows, []string{
			v.Scope(), v.Name(), shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
			mav, rms,
		})
	}
	slices.SortFunc(rows, func(a, b []string) int {
		if cmp := strings.Compare(a[0], b[0]); cmp != 0 {
			return cmp
		}
		return strings.Compare(a[1], b[1])
	})
	return rows
}

// ListVariables returns the table of variables under the scope of ctx.
func ListVariables(ctx *context.Context) *lgtable.Table {
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	table.Headers("Scope", "Name", "Shape", "Size", "Bytes", "Scalar/MAV", "RMS")
	return addRows(table, VariablesRows(ctx))
}

// DeleteVars deletes the variables under the given scopes and saves a new checkpoint, if anything was deleted.
// The recorded number of cores (tt.ParamNumDims) of deleted tensor-train variables is also removed.
// It returns the number of variables deleted.
func DeleteVars(checkpointPath string, scopes ...string) int {
	ctx := context.New()
	checkpoint := must.M1(checkpoints.Load(ctx).Dir(checkpointPath).Keep(-1).Immediate().Done())
	var varsToDelete []*context.Variable
	for v := range ctx.IterVariables() {
		for _, scope := range scopes {
			if scope != "" && context.IsInScope(scope, v.Scope()) {
				varsToDelete = append(varsToDelete, v)
				break
			}
		}
	}
	if len(varsToDelete) == 0 {
		return 0
	}
	for _, v := range varsToDelete {
		must.M(ctx.DeleteVariable(v.Scope(), v.Name()))
		if v.Name() == tt.CoreName(0) {
			// The recorded number of cores is stale once the tensor-train variable is gone.
			ctx.InAbsPath(v.Scope()).DeleteParam(tt.ParamNumDims)
		}
	}
	must.M(checkpoint.Save())
	fmt.Printf("%d deleted variables under scopes %v, new checkpoint saved.\n", len(varsToDelete), scopes)
	return len(varsToDelete)
}
