// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"strings"

	"github.com/gomlx/exceptions"
)

// AliasScopeSeparator separates the parts of a name scope or alias.
const AliasScopeSeparator = "/"

// PushAliasScope pushes another scope part onto the current name scope, used to name new nodes and
// their aliases.
//
// A scope that ends with AliasScopeSeparator is absolute: it replaces the current scope instead of being
// appended to it.
//
// Remember to call PopAliasScope to restore the previous scope. See WithNameScope for a safer version.
func (g *Graph) PushAliasScope(scope string) {
	g.AssertValid()
	if strings.HasSuffix(scope, AliasScopeSeparator) {
		// Absolute scopes are stored with a marker, so they reset the scope and can be popped in one call.
		g.aliasScope = append(g.aliasScope, absoluteMarker+strings.Trim(scope, AliasScopeSeparator))
		return
	}
	if scope == "" {
		exceptions.Panicf("PushAliasScope() requires a non-empty scope name")
	}
	g.aliasScope = append(g.aliasScope, scope)
}

const absoluteMarker = "\x00"

// PopAliasScope removes the last scope pushed with PushAliasScope.
func (g *Graph) PopAliasScope() {
	g.AssertValid()
	if len(g.aliasScope) == 0 {
		exceptions.Panicf("PopAliasScope() called with an empty scope stack in graph %q", g.name)
	}
	g.aliasScope = g.aliasScope[:len(g.aliasScope)-1]
}

// WithNameScope runs fn with the scope pushed on the name scope stack, and pops it afterwards,
// even if fn panics.
func (g *Graph) WithNameScope(scope string, fn func()) {
	if scope == "" {
		fn()
		return
	}
	g.PushAliasScope(scope)
	defer g.PopAliasScope()
	fn()
}

// CurrentScope returns the current name scope, without leading or trailing separators.
// It returns "" for the root scope.
func (g *Graph) CurrentScope() string {
	var parts []string
	for _, part := range g.aliasScope {
		if strings.HasPrefix(part, absoluteMarker) {
			parts = parts[:0]
			part = part[len(absoluteMarker):]
			if part == "" {
				continue
			}
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, AliasScopeSeparator)
}

// absoluteAlias returns the alias prefixed with the current scope.
func (g *Graph) absoluteAlias(alias string) string {
	if strings.HasPrefix(alias, AliasScopeSeparator) {
		return strings.TrimPrefix(alias, AliasScopeSeparator)
	}
	scope := g.CurrentScope()
	if scope == "" {
		return alias
	}
	return scope + AliasScopeSeparator + alias
}

// WithAlias sets an alias in the current scope for the node.
// It panics if the alias is already in use in this graph.
//
// It returns the node itself, so calls can be cascaded.
func (n *Node) WithAlias(alias string) *Node {
	g := n.Graph()
	g.AssertValid()
	if alias == "" {
		exceptions.Panicf("WithAlias() requires a non-empty alias, node %s", n)
	}
	absAlias := g.absoluteAlias(alias)
	if prev, found := g.aliasToNode[absAlias]; found {
		exceptions.Panicf("alias %q already used by node %s, cannot use it for %s", absAlias, prev, n)
	}
	g.aliasToNode[absAlias] = n
	n.alias = absAlias
	return n
}

// GetAlias returns the absolute alias of the node, or "" if it has none.
func (n *Node) GetAlias() string {
	return n.alias
}

// GetNodeByAlias returns the node with the given alias, or nil if none was found.
// The alias is resolved relative to the current scope, unless it starts with AliasScopeSeparator.
func (g *Graph) GetNodeByAlias(alias string) *Node {
	return g.aliasToNode[g.absoluteAlias(alias)]
}

// IterAliasedNodes iterates over the aliased nodes in the graph, in creation order.
func (g *Graph) IterAliasedNodes() func(yield func(alias string, node *Node) bool) {
	return func(yield func(string, *Node) bool) {
		for _, node := range g.nodes {
			if node.alias == "" {
				continue
			}
			if !yield(node.alias, node) {
				return
			}
		}
	}
}
