// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/tensortrain/pkg/ml/context"
)

// ParamsRows returns one row per hyperparameter: scope, name, type and value, sorted by scope and name.
func ParamsRows(ctx *context.Context) [][]string {
	var rows [][]string
	ctx.EnumerateParams(func(scope, key string, value any) {
		rows = append(rows, []string{scope, key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value)})
	})
	return rows
}

// Params returns the table of hyperparameters of all scopes.
func Params(ctx *context.Context) *lgtable.Table {
	table := newPlainTable()
	table.Headers("Scope", "Name", "Type", "Value")
	return addRows(table, ParamsRows(ctx))
}
