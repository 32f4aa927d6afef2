// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scoped provides a mapping from a string to any data type that is "scoped".
package scoped

import (
	"maps"
	"slices"
	"strings"
)

// Params provides a mapping from string to any data type that is "scoped":
//
//   - For every scope there is a map of string to data.
//   - Accessing a key triggers a search from the current scope up to the root scope, the
//     first result found is returned.
//
// Example: let's say the current Params hold:
//
//	Scope: "/": { "tt_rank":4, "l2_regularization": 0.01 }
//	Scope: "/W": { "tt_num_dims": 3 }
//	Scope: "/W/inner": { "tt_rank": 2 }
//
//	Params.Get("/W/inner", "tt_rank") -> 2
//	Params.Get("/W/inner", "tt_num_dims") -> 3
//	Params.Get("/W/inner", "l2_regularization") -> 0.01
//	Params.Get("/W/inner", "w") -> Not found.
//
// The Separator ("/" for the context package) separates parts of the scope path, and the root
// scope is referred to as the Separator itself. Every scope name must start with the Separator.
type Params struct {
	Separator  string
	scopeToMap map[string]map[string]any
}

// New creates an empty Params.
func New(scopeSeparator string) *Params {
	return &Params{
		Separator:  scopeSeparator,
		scopeToMap: make(map[string]map[string]any),
	}
}

// Clone returns a copy of the Params. Values themselves are not deep-copied.
func (p *Params) Clone() *Params {
	newParams := New(p.Separator)
	for scope, dataMap := range p.scopeToMap {
		newParams.scopeToMap[scope] = maps.Clone(dataMap)
	}
	return newParams
}

// Set sets the value for the given key, in the given scope.
func (p *Params) Set(scope, key string, value any) {
	dataMap, found := p.scopeToMap[scope]
	if !found || dataMap == nil {
		dataMap = make(map[string]any)
		p.scopeToMap[scope] = dataMap
	}
	dataMap[key] = value
}

// Delete removes the key from the given scope only. Parent scopes are not affected.
// It is a no-op if the key is not set.
func (p *Params) Delete(scope, key string) {
	dataMap, found := p.scopeToMap[scope]
	if !found {
		return
	}
	delete(dataMap, key)
	if len(dataMap) == 0 {
		delete(p.scopeToMap, scope)
	}
}

// GetLocal retrieves the value for the given key only in the given scope, without searching the parent scopes.
func (p *Params) GetLocal(scope, key string) (value any, found bool) {
	dataMap, found := p.scopeToMap[scope]
	if !found {
		return nil, false
	}
	value, found = dataMap[key]
	return
}

// Get retrieves the value for the given key in the given scope or any parent scope.
// E.g: Get("/a/b", "myKey") will search for "myKey" in scopes "/a/b", "/a" and "/"
// consecutively until "myKey" is found.
//
// It returns the first value found if any, and whether some value was found.
func (p *Params) Get(scope, key string) (value any, found bool) {
	for {
		value, found = p.GetLocal(scope, key)
		if found {
			return
		}
		if scope == p.Separator || scope == "" {
			return nil, false
		}
		idx := strings.LastIndex(scope, p.Separator)
		switch {
		case idx < 0:
			scope = p.Separator
		case idx == 0:
			scope = p.Separator
		default:
			scope = scope[:idx]
		}
	}
}

// Enumerate enumerates all parameters stored in the Params structure and calls the given closure with
// them, sorted by scope and then by key.
func (p *Params) Enumerate(fn func(scope, key string, value any)) {
	for _, scope := range slices.Sorted(maps.Keys(p.scopeToMap)) {
		keyValues := p.scopeToMap[scope]
		for _, key := range slices.Sorted(maps.Keys(keyValues)) {
			fn(scope, key, keyValues[key])
		}
	}
}
