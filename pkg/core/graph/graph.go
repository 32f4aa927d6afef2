// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph is the core package to build deferred computations: operations on nodes are recorded
// in a Graph, and only evaluated when the Graph is executed (see Exec).
//
// The typical use is from a model building function, that creates variables with a context.Context
// and composes them with the operations defined here. Nodes that update a variable (see Assign) are only
// applied when they (or something that depends on them) are executed.
//
// Node names follow "name scopes", similar to the alias scopes of a computation: see Graph.PushAliasScope,
// Graph.PopAliasScope and Graph.WithNameScope.
//
// Graph building functions panic on misuse (with github.com/gomlx/exceptions): use exceptions.TryCatch
// to convert those to errors, if needed.
package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// GraphId is a unique Graph id within the process.
type GraphId int

// NodeId is a unique NodeId within a Graph.
type NodeId int

// InvalidNodeId indicates a node that failed to be created.
const InvalidNodeId = NodeId(-1)

var graphCount atomic.Int64

// Graph records a computation: a list of nodes (operations) connected by their inputs.
//
// It is not safe for concurrent building: graph building is expected to happen in one goroutine.
type Graph struct {
	id   GraphId
	name string

	nodes []*Node

	// aliasScope is the current stack of scope parts, used to name nodes and aliases.
	aliasScope  []string
	aliasToNode map[string]*Node

	finalized bool
}

// NewGraph creates an empty Graph with the given name.
// If name is empty, a unique one is generated.
func NewGraph(name string) *Graph {
	id := GraphId(graphCount.Add(1) - 1)
	if name == "" {
		name = fmt.Sprintf("graph_#%d", id)
	}
	return &Graph{
		id:          id,
		name:        name,
		aliasToNode: make(map[string]*Node),
	}
}

// GraphId returns the unique (within the process) id of the graph.
func (g *Graph) GraphId() GraphId {
	return g.id
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// String implements fmt.Stringer.
func (g *Graph) String() string {
	if g == nil {
		return "Graph(nil)"
	}
	return fmt.Sprintf("Graph(%q, #%d, %d nodes)", g.name, g.id, len(g.nodes))
}

// IsValid returns whether the Graph is in a valid state: not nil and not finalized.
func (g *Graph) IsValid() bool {
	return g != nil && !g.finalized
}

// CheckValid returns an error if the graph is nil or if it has already been finalized.
func (g *Graph) CheckValid() error {
	if g == nil {
		return errors.Errorf("the Graph is nil")
	}
	if g.finalized {
		return errors.Errorf("Graph %q has been finalized already", g.name)
	}
	return nil
}

// AssertValid panics if the graph is nil or if it has already been finalized.
func (g *Graph) AssertValid() {
	err := g.CheckValid()
	if err != nil {
		panic(err)
	}
}

// Nodes return a slice of all nodes, in creation order. The slice is owned by the Graph, don't change it.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// NumNodes returns the number of nodes registered in the graph.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

// Finalize frees the nodes of the graph. The graph is left in an unusable state.
// It is safe to call it more than once.
func (g *Graph) Finalize() {
	if g == nil {
		return
	}
	g.nodes = nil
	g.aliasToNode = nil
	g.aliasScope = nil
	g.finalized = true
}

// registerNode adds the node to the graph, setting its id and name scope.
func (g *Graph) registerNode(n *Node) {
	g.AssertValid()
	for _, input := range n.inputs {
		if input == nil {
			exceptions.Panicf("nil input given to %s in graph %q", n.opType, g.name)
		}
		if input.graph != g {
			exceptions.Panicf("input node %s to %s belongs to a different graph than %q", input, n.opType, g.name)
		}
	}
	n.graph = g
	n.id = NodeId(len(g.nodes))
	n.scope = g.CurrentScope()
	g.nodes = append(g.nodes, n)
}
