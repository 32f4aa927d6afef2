// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// tt_checkpoints inspects a checkpoint directory: summary, hyperparameters, variables and the
// tensor-train variables (TT-tensors and TT-matrices) stored in it.
//
// Usage:
//
//	tt_checkpoints [-scope=/model] [-summary] [-params] [-vars] [-tt] [-delete_vars=<scope>,...] [-plain] <checkpoint_dir>
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/gomlx/tensortrain/pkg/ml/context/checkpoints"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"k8s.io/klog/v2"
)

var (
	flagScope = flag.String("scope", context.RootScope, "The scope of the checkpoint to inspect. "+
		"Variables outside of it, and tensor-train variables not under it, are not reported.")
	flagSummary    = flag.Bool("summary", false, "Display a summary of the variables under -scope.")
	flagParams     = flag.Bool("params", false, "Lists the hyperparameters.")
	flagVars       = flag.Bool("vars", false, "Lists the variables under -scope.")
	flagTT         = flag.Bool("tt", false, "Lists the tensor-train variables under -scope.")
	flagDeleteVars = flag.String("delete_vars", "", "Comma-separated list of scopes whose variables are deleted. "+
		"A new checkpoint is saved afterwards.")
	flagPlain = flag.Bool("plain", false, "Render tables without colors or text styles, e.g. for piping the output.")
)

var titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one checkpoint directory to read from, got %d arguments. See 'tt_checkpoints -help'.",
			len(args))
		os.Exit(1)
	}
	if *flagPlain {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	checkpointPath := args[0]
	if *flagDeleteVars != "" {
		DeleteVars(checkpointPath, strings.Split(*flagDeleteVars, ",")...)
	}
	if !*flagSummary && !*flagParams && !*flagVars && !*flagTT {
		if *flagDeleteVars == "" {
			klog.Errorf("Nothing to report, select at least one of -summary, -params, -vars or -tt.")
			os.Exit(1)
		}
		return
	}

	ctx := context.New()
	_ = must.M1(checkpoints.Load(ctx).Dir(checkpointPath).Immediate().Done())
	scopedCtx := ctx.InAbsPath(*flagScope)
	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		fmt.Println(Summary(scopedCtx, checkpointPath).Render())
	}
	if *flagParams {
		fmt.Println(titleStyle.Render("Hyperparameters"))
		fmt.Println(Params(ctx).Render())
	}
	if *flagVars {
		fmt.Println(titleStyle.Render(fmt.Sprintf("Variables in scope %q", scopedCtx.Scope())))
		fmt.Println(ListVariables(scopedCtx).Render())
	}
	if *flagTT {
		fmt.Println(titleStyle.Render(fmt.Sprintf("Tensor-train variables in scope %q", scopedCtx.Scope())))
		fmt.Println(TensorTrains(scopedCtx).Render())
	}
}
