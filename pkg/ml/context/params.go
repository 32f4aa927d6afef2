// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"encoding"
	"reflect"

	"github.com/gomlx/exceptions"
)

// GetParam returns the value for the given param key, searching successively from
// the current scope back to the root scope ("/"), in case the key is not found.
//
// E.g: if current scope is "/a/b", it will search for the key in "/a/b" scope, then
// in "/a" and finally in "/", and return the first result found.
//
// See also GetParamOr to get a parameter with a default, if one doesn't exist.
func (ctx *Context) GetParam(key string) (value any, found bool) {
	return ctx.data.params.Get(ctx.scope, key)
}

// GetLocalParam returns the value for the given param key only if it is set in the current scope.
// Parent scopes are not searched.
func (ctx *Context) GetLocalParam(key string) (value any, found bool) {
	return ctx.data.params.GetLocal(ctx.scope, key)
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// convertParam casts valueAny to T, converting it if needed (e.g. an int to a float64, or
// a float64 decoded from Json to an int).
func convertParam[T any](ctx *Context, key string, valueAny any) T {
	if value, ok := valueAny.(T); ok {
		return value
	}
	var t T
	v := reflect.ValueOf(valueAny)
	typeOfT := reflect.TypeOf(t)
	valueT := reflect.New(typeOfT)
	if valueT.Type().Implements(textUnmarshalerType) && v.Kind() == reflect.String {
		if err := valueT.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.String())); err != nil {
			exceptions.Panicf("can't UnmarshalText %q to %s for parameter %q", v.String(), typeOfT, key)
		}
		return valueT.Elem().Interface().(T)
	}
	if !v.IsValid() || !v.CanConvert(typeOfT) {
		exceptions.Panicf("GetParam[%T](ctx, %q): ctx(scope=%q)[%q]=(%T) %#v, and cannot be converted to %T",
			t, key, ctx.Scope(), key, valueAny, valueAny, t)
	}
	return v.Convert(typeOfT).Interface().(T)
}

// MustGetParam is like GetParam, but panics if the parameter is not found, or if it is not of type T.
//
// It tries to cast the value to the given type. If it fails, it tries to convert the
// value to the given type (so an `int` will be converted to a `float64` transparently).
// If that also fails, it panics with an explaining error.
func MustGetParam[T any](ctx *Context, key string) T {
	valueAny, found := ctx.GetParam(key)
	if !found {
		var t T
		exceptions.Panicf("parameter %q (of type %T) not found in scope %q (and its parents)", key, t, ctx.Scope())
	}
	return convertParam[T](ctx, key, valueAny)
}

// GetParamOr either returns the value for the given param key in the context `ctx`,
// searching successively from the current scope back to the root scope ("/"), or if the
// key is not found or the key is set to nil, it returns the given default value.
//
// See MustGetParam for the conversion rules.
func GetParamOr[T any](ctx *Context, key string, defaultValue T) T {
	valueAny, found := ctx.GetParam(key)
	if !found || valueAny == nil {
		return defaultValue
	}
	return convertParam[T](ctx, key, valueAny)
}

// SetParam sets the given param in the current scope. It will be visible (by GetParam)
// within this scope and descendant scopes (but not by other scopes).
//
// Parameters are saved by the checkpoints package using Json encoding. This works well for `string`,
// `float64`, `int` and `bool`, and slices of those values.
func (ctx *Context) SetParam(key string, value any) {
	ctx.data.params.Set(ctx.scope, key, value)
}

// SetParams sets a collection of parameters in the current scope.
// This is a shortcut to multiple calls to Context.SetParam.
func (ctx *Context) SetParams(keyValues map[string]any) {
	for key, value := range keyValues {
		ctx.data.params.Set(ctx.scope, key, value)
	}
}

// DeleteParam removes the param from the current scope only.
func (ctx *Context) DeleteParam(key string) {
	ctx.data.params.Delete(ctx.scope, key)
}

// EnumerateParams enumerates all parameters for all scopes and calls fn with their values.
// Scopes and keys are visited in sorted order.
func (ctx *Context) EnumerateParams(fn func(scope, key string, value any)) {
	ctx.data.params.Enumerate(fn)
}
