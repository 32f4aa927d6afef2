// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/tensortrain/pkg/ml/context"
)

// SummaryRows returns the (label, value) rows of the summary of the variables under the scope of ctx.
func SummaryRows(ctx *context.Context, checkpointPath string) [][]string {
	var numVars, totalSize int
	var totalMemory uintptr
	for v := range ctx.IterVariablesInScope() {
		numVars++
		if v.IsValid() {
			totalSize += v.Shape().Size()
			totalMemory += v.Shape().Memory()
		}
	}
	return [][]string{
		{"checkpoint", checkpointPath},
		{"scope", ctx.Scope()},
		{"# variables", humanize.Comma(int64(numVars))},
		{"# tensor-train variables", humanize.Comma(int64(len(TensorTrainsVariables(ctx))))},
		{"# parameters", humanize.Comma(int64(totalSize))},
		{"# bytes", humanize.Bytes(uint64(totalMemory))},
	}
}

// Summary returns the summary table of the variables under the scope of ctx.
func Summary(ctx *context.Context, checkpointPath string) *lgtable.Table {
	return addRows(newPlainTable(lipgloss.Right, lipgloss.Left), SummaryRows(ctx, checkpointPath))
}
