// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/gomlx/tensortrain/pkg/ml/tt"
	"github.com/gomlx/tensortrain/pkg/support/sets"
	"k8s.io/klog/v2"
)

// compositeScopes returns the scopes, under the scope of ctx, holding the first core of a tensor-train variable.
func compositeScopes(ctx *context.Context) []string {
	scopes := sets.Make[string]()
	for v := range ctx.IterVariablesInScope() {
		if v.Name() == tt.CoreName(0) && v.Scope() != context.RootScope {
			scopes.Insert(v.Scope())
		}
	}
	return sets.Sorted(scopes)
}

// TensorTrainsVariables resolves the tensor-train variables under the scope of ctx, in reuse mode.
// Scopes holding a "core_0" that doesn't resolve to a valid tensor-train variable are skipped with a warning.
func TensorTrainsVariables(ctx *context.Context) []*tt.Variable {
	var ttVars []*tt.Variable
	for _, scope := range compositeScopes(ctx) {
		parent, name := context.SplitScope(scope)
		v, err := tt.GetVariable(ctx.InAbsPath(parent).Reuse(), name).Done()
		if err != nil {
			klog.Warningf("Skipping %q, it is not a valid tensor-train variable: %v", scope, err)
			continue
		}
		ttVars = append(ttVars, v)
	}
	return ttVars
}

func formatInts(values []int) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}

// fullSize returns the number of elements of the full (uncompressed) tensor represented by v.
func fullSize(v *tt.Variable) int {
	size := 1
	for _, modes := range v.RawShape() {
		for _, n := range modes {
			size *= n
		}
	}
	return size
}

// TensorTrainsRows returns one row per tensor-train variable under the scope of ctx: scope, kind, dtype,
// number of cores, mode sizes, TT-ranks, parameters, bytes and compression ratio (full size / parameters).
func TensorTrainsRows(ctx *context.Context) [][]string {
	ttVars := TensorTrainsVariables(ctx)
	rows := make([][]string, 0, len(ttVars))
	for _, v := range ttVars {
		kind := "TT-tensor"
		if v.IsMatrix() {
			kind = "TT-matrix"
		}
		modes := make([]string, v.NumDims())
		for ii, coreModes := range v.RawShape() {
			modes[ii] = formatInts(coreModes)
			if v.IsMatrix() {
				modes[ii] = "(" + strings.ReplaceAll(modes[ii], ",", "x") + ")"
			}
		}
		scope := v.Core(0).Scope()
		compression := ""
		if numParams := v.NumParameters(); numParams > 0 && v.IsFullyDefined() {
			compression = fmt.Sprintf("%.1fx", float64(fullSize(v))/float64(numParams))
		}
		rows = append(rows, []string{
			scope, kind, v.DType().String(),
			fmt.Sprintf("%d", v.NumDims()),
			strings.Join(modes, " "),
			formatInts(v.Ranks()),
			humanize.Comma(int64(v.NumParameters())),
			humanize.Bytes(uint64(v.Memory())),
			compression,
		})
	}
	return rows
}

// TensorTrains returns the table of tensor-train variables under the scope of ctx.
func TensorTrains(ctx *context.Context) *lgtable.Table {
	table := newPlainTable(lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Left, lipgloss.Left,
		lipgloss.Right)
	table.Headers("Scope", "Kind", "DType", "Cores", "Mode sizes", "TT-ranks", "Parameters", "Bytes", "Compression")
	return addRows(table, TensorTrainsRows(ctx))
}
