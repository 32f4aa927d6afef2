// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensortrain/pkg/core/graph"
)

// RegularizationLosses is the collection key of the per-graph scalar losses added by regularizers.
// See RegularizationLoss to sum them up.
const RegularizationLosses = "regularization_losses"

// AddToCollection appends node to the collection key for the graph g.
// Collections are kept per graph, since each graph (e.g. training and evaluation) builds its own nodes.
func (ctx *Context) AddToCollection(g *graph.Graph, key string, node *graph.Node) {
	g.AssertValid()
	if node == nil {
		exceptions.Panicf("AddToCollection(%q): nil node", key)
	}
	if node.Graph() != g {
		exceptions.Panicf("AddToCollection(%q): node %s belongs to a different graph than %s", key, node, g)
	}
	collections, found := ctx.data.graphCollections[g.GraphId()]
	if !found {
		collections = make(map[string][]*graph.Node)
		ctx.data.graphCollections[g.GraphId()] = collections
	}
	collections[key] = append(collections[key], node)
}

// Collection returns a copy of the nodes in the collection key for the graph g, in insertion order.
func (ctx *Context) Collection(g *graph.Graph, key string) []*graph.Node {
	return slices.Clone(ctx.data.graphCollections[g.GraphId()][key])
}

// ClearGraphCollections drops all collections associated with the graph g. Call it when g is no longer used.
func (ctx *Context) ClearGraphCollections(g *graph.Graph) {
	delete(ctx.data.graphCollections, g.GraphId())
}

// RegularizationLoss returns the sum of all losses in the RegularizationLosses collection of g,
// or nil if there are none.
func (ctx *Context) RegularizationLoss(g *graph.Graph) *graph.Node {
	return graph.AddScalars(ctx.Collection(g, RegularizationLosses)...)
}
