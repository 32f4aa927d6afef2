// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements saving and loading of a context.Context (its variables and parameters)
// to a directory, or loading it from an embedded checkpoint.
//
// The main object is the Handler, created with Build, followed by the configuration methods and
// finally Config.Done. If a previously saved checkpoint exists, its parameters are set in the context
// and its variables are loaded as they are looked up. Call Handler.Save at any time to write a new checkpoint.
//
// Tensor-train variables need nothing special: each core is a variable named "core_<i>" under the
// composite's scope, so a composite saved from one context can be reused in another one:
//
//	ctx := context.New()
//	checkpoint, err := checkpoints.Build(ctx).Dir(*flagCheckpoint).Keep(3).Done()
//	if err != nil { … }
//	// Reuse mode: cores are loaded from the checkpoint as they are looked up.
//	w, err := tt.GetVariable(ctx.Reuse(), "W").Done()
//	…
//	err = checkpoint.Save()
//
// Example: loading a checkpoint embedded in the binary, for inference:
//
//	//go:embed "my_model/checkpoint.json"
//	var myModelJson string
//
//	//go:embed "my_model/checkpoint.bin"
//	var myModelBin []byte
//
//	…
//	_, err := checkpoints.Build(ctx).FromEmbed(myModelJson, myModelBin).Done()
package checkpoints

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensortrain/pkg/core/dtypes"
	"github.com/gomlx/tensortrain/pkg/core/graph"
	"github.com/gomlx/tensortrain/pkg/core/shapes"
	"github.com/gomlx/tensortrain/pkg/core/tensors"
	"github.com/gomlx/tensortrain/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// DirPermMode is the default directory creation permission (before umask) used.
	DirPermMode = os.FileMode(0770)

	// ErrUnsupportedCompression is returned when a checkpoint binary file uses an unknown compression.
	ErrUnsupportedCompression = errors.New("unsupported compression")
)

const (
	baseNamePrefix = "checkpoint-"

	// JsonNameSuffix for the JSON files returned by Handler.ListCheckpoints.
	JsonNameSuffix = ".json"

	// BinDataSuffix for the data files (holding the tensor values) returned by Handler.ListCheckpoints.
	BinDataSuffix = ".bin"

	// BackupDir is the sub-directory of the checkpoints directory that holds the backups. See Handler.Backup.
	BackupDir = "backup"
)

// Done creates the Handler with the current configuration, loading the latest checkpoint (or the mean of
// the latest ones, see Config.TakeMean) if there is any.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.dir == "" && c.jsonReader == nil {
		return nil, errors.New("directory for checkpoints not configured, and no embedded checkpoint given")
	}
	if c.dir != "" && c.jsonReader != nil {
		return nil, errors.New("cannot use both Dir/DirFromBase and FromEmbed at the same time, choose one")
	}
	h := &Handler{
		config:         c,
		serialized:     &serializedData{},
		variableValues: make(map[string]*tensors.Tensor),
	}

	if c.dir != "" {
		checkpoints, err := h.ListCheckpoints()
		if err != nil {
			return nil, err
		}
		if len(checkpoints) == 0 && c.mustLoad {
			return nil, errors.Errorf("no checkpoints found in %q", c.dir)
		}
		h.checkpointsCount = maxCheckpointCount(checkpoints) + 1
		if len(checkpoints) > 0 {
			takeMean := c.takeMean
			if takeMean <= 0 || takeMean > len(checkpoints) {
				takeMean = len(checkpoints)
			}
			if takeMean == 1 {
				err = h.loadCheckpointFromFile(checkpoints[len(checkpoints)-1], 0)
			} else {
				err = h.takeMean(checkpoints[len(checkpoints)-takeMean:])
			}
			if err != nil {
				return nil, err
			}
		}
	} else {
		err := h.loadCheckpoint(c.jsonReader, c.binReader, 0)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to load checkpoint from embedded json+bin blobs")
		}
		c.jsonReader, c.binReader = nil, nil
	}

	ctxToSet := c.ctx.Checked(false)
	if c.immediate {
		for _, paramName := range slices.Sorted(maps.Keys(h.variableValues)) {
			value := h.variableValues[paramName]
			scope, name := context.VariableScopeAndNameFromParameterName(paramName)
			if scope == "" {
				return nil, errors.Errorf("%s: invalid variable parameter name %q", h, paramName)
			}
			if v := ctxToSet.InspectVariableIfLoaded(scope, name); v != nil {
				if err := v.SetValue(value); err != nil {
					return nil, err
				}
				continue
			}
			opts := context.DefaultVariableOptions()
			opts.DType = value.DType()
			if _, err := ctxToSet.InAbsPath(scope).CreateVariable(name, value, opts); err != nil {
				return nil, errors.WithMessagef(err, "%s: failed to load variable %q", h, paramName)
			}
		}
		clear(h.variableValues)
	} else {
		// Variables already in the context are overwritten.
		for v := range ctxToSet.IterVariables() {
			value, found := h.variableValues[v.ParameterName()]
			if !found {
				continue
			}
			if err := v.SetValue(value); err != nil {
				return nil, err
			}
			delete(h.variableValues, v.ParameterName())
		}
	}
	if err := h.attachTo(c.ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// MustDone constructs the checkpoints.Handler. It panics if there was an error.
func (c *Config) MustDone() *Handler {
	h, err := c.Done()
	if err != nil {
		panic(errors.WithMessage(err, "failed to create checkpoints.Handler"))
	}
	return h
}

// Handler saves and loads checkpoints for a context.Context. It is created with Build and Config.Done.
//
// Parameters loaded are set in the context when the Handler is created, while loaded variables are held
// by the Handler (it implements context.Loader) and transferred to the context as they are looked up.
//
// Save writes all the variables of the context, plus the loaded variables not yet transferred, plus the
// parameters of all scopes.
//
// A Handler is attached to one context only. Multiple handlers can be attached to the same context, in
// which case the first one attached has priority when loading.
type Handler struct {
	config            *Config
	ctx               *context.Context
	prevContextLoader context.Loader

	serialized     *serializedData
	variableValues map[string]*tensors.Tensor

	checkpointsCount int
}

// serializedData is the contents of the JSON file.
type serializedData struct {
	Params []serializedParam

	// Variables in the order they are stored in the binary file.
	Variables []serializedVar

	// BinFormat of the binary file, informative only: the binary file header is what counts.
	BinFormat string
}

// serializedVar describes one variable stored in the binary file.
type serializedVar struct {
	// ParameterName is the context.Variable.ParameterName.
	ParameterName string

	Dimensions []int
	DType      dtypes.DType

	// Pos and Length in bytes in the binary file.
	Pos, Length int
}

// serializedParam is one context parameter. ValueType is the Go type of Value, used to recover it,
// since JSON decodes every number as float64.
type serializedParam struct {
	Scope, Key string
	Value      any
	ValueType  string
}

// convertJsonSlice converts a slice decoded by JSON, element by element.
func convertJsonSlice[T any](values []any, convertFn func(v any) T) []T {
	converted := make([]T, len(values))
	for ii, v := range values {
		converted[ii] = convertFn(v)
	}
	return converted
}

// jsonNumber returns v as a float64: JSON decodes every number as float64.
func jsonNumber(v any) float64 {
	f, _ := v.(float64)
	return f
}

// jsonDecodeTypeConvert converts the Value decoded by JSON back to ValueType, where possible.
func (p *serializedParam) jsonDecodeTypeConvert() {
	switch value := p.Value.(type) {
	case float64:
		switch p.ValueType {
		case "int":
			p.Value = int(value)
		case "int32":
			p.Value = int32(value)
		case "int64":
			p.Value = int64(value)
		case "uint8":
			p.Value = uint8(value)
		case "uint32":
			p.Value = uint32(value)
		case "float32":
			p.Value = float32(value)
		}
	case []any:
		switch p.ValueType {
		case "[]int":
			p.Value = convertJsonSlice(value, func(v any) int { return int(jsonNumber(v)) })
		case "[]int64":
			p.Value = convertJsonSlice(value, func(v any) int64 { return int64(jsonNumber(v)) })
		case "[]float32":
			p.Value = convertJsonSlice(value, func(v any) float32 { return float32(jsonNumber(v)) })
		case "[]float64":
			p.Value = convertJsonSlice(value, jsonNumber)
		case "[]string":
			p.Value = convertJsonSlice(value, func(v any) string { s, _ := v.(string); return s })
		case "[]bool":
			p.Value = convertJsonSlice(value, func(v any) bool { b, _ := v.(bool); return b })
		}
	}
}

// String implements fmt.Stringer.
func (h *Handler) String() string {
	if h.config.dir == "" {
		return "checkpoints.Handler(embedded)"
	}
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

// Dir returns the directory of the Handler, or "" if the handler is nil or was loaded from an embedded checkpoint.
func (h *Handler) Dir() string {
	if h == nil {
		return ""
	}
	return h.config.dir
}

func (h *Handler) newCheckpointBaseName() string {
	now := time.Now().Format("20060102-150405")
	return fmt.Sprintf("%sn%07d-%s", baseNamePrefix, h.checkpointsCount, now)
}

// ListCheckpoints returns the base file paths of the checkpoints in the directory, oldest first.
// The actual files are these base names suffixed with JsonNameSuffix and BinDataSuffix.
func (h *Handler) ListCheckpoints() (checkpoints []string, err error) {
	if h.config.dir == "" {
		return nil, errors.Errorf("%s has no directory configured", h)
	}
	entries, err := os.ReadDir(h.config.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "%s listing checkpoints", h)
	}
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, JsonNameSuffix) {
			continue
		}
		checkpoints = append(checkpoints, strings.TrimSuffix(fileName, JsonNameSuffix))
	}
	slices.Sort(checkpoints)
	return checkpoints, nil
}

// HasCheckpoints returns whether there are any checkpoints saved.
func (h *Handler) HasCheckpoints() (bool, error) {
	list, err := h.ListCheckpoints()
	return len(list) > 0, err
}

var checkpointCountRegex = regexp.MustCompile(`^checkpoint-n(\d+)-`)

// maxCheckpointCount returns the largest counter among the checkpoints base names, or -1 if there are none.
func maxCheckpointCount(checkpoints []string) int {
	maxCount := -1
	for _, name := range checkpoints {
		matches := checkpointCountRegex.FindStringSubmatch(name)
		if len(matches) != 2 {
			continue
		}
		count, err := strconv.Atoi(matches[1])
		if err == nil && count > maxCount {
			maxCount = count
		}
	}
	return maxCount
}

// loadCheckpointFromFile reads the checkpoint with the given base name. See loadCheckpoint about mergeWeight.
func (h *Handler) loadCheckpointFromFile(baseName string, mergeWeight float64) error {
	klog.V(1).Infof("checkpoints: loading %q", baseName)
	if h.ctx != nil {
		return errors.Errorf("%s cannot load %q after being attached to a context", h, baseName)
	}
	binFileName := filepath.Join(h.config.dir, baseName+BinDataSuffix)
	binFile, err := os.Open(binFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to open checkpoint data file %s", h, binFileName)
	}
	defer func() { _ = binFile.Close() }()
	binReader, err := newBinReader(binFile)
	if err != nil {
		return errors.WithMessagef(err, "%s: failed to read checkpoint data file %s", h, binFileName)
	}

	jsonFileName := filepath.Join(h.config.dir, baseName+JsonNameSuffix)
	jsonFile, err := os.Open(jsonFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to open checkpoint metadata file %s", h, jsonFileName)
	}
	defer func() { _ = jsonFile.Close() }()
	if err = h.loadCheckpoint(jsonFile, binReader, mergeWeight); err != nil {
		return errors.WithMessagef(err, "failed loading checkpoint %s{%s,%s}", baseName, JsonNameSuffix, BinDataSuffix)
	}
	return nil
}

// loadCheckpoint reads the metadata from jsonReader and the variable values from binReader.
//
// If mergeWeight is 0, the loaded checkpoint replaces whatever was loaded before. Otherwise, float variables
// already loaded are merged as `current*(1-mergeWeight) + loaded*mergeWeight`, and everything else is ignored.
func (h *Handler) loadCheckpoint(jsonReader, binReader io.Reader, mergeWeight float64) error {
	var serialized *serializedData
	if err := json.NewDecoder(jsonReader).Decode(&serialized); err != nil {
		return errors.Wrapf(err, "%s: failed to decode checkpoint metadata", h)
	}
	if serialized == nil {
		return errors.Errorf("%s: empty checkpoint metadata", h)
	}
	merge := mergeWeight != 0
	if h.config.includeParams {
		for ii := range serialized.Params {
			serialized.Params[ii].jsonDecodeTypeConvert()
		}
	} else {
		serialized.Params = nil
	}
	if !merge {
		h.serialized = serialized
		h.variableValues = make(map[string]*tensors.Tensor, len(serialized.Variables))
	}

	var pos int
	for _, varInfo := range serialized.Variables {
		if !varInfo.DType.IsSupported() {
			return errors.Errorf("variable %q has unsupported dtype %s", varInfo.ParameterName, varInfo.DType)
		}
		if varInfo.Pos != pos {
			return errors.Errorf("variable %q stored at position %d is out-of-order, expected it at %d",
				varInfo.ParameterName, varInfo.Pos, pos)
		}
		pos += varInfo.Length
		tensor := tensors.FromShape(shapes.Make(varInfo.DType, varInfo.Dimensions...))
		var readErr error
		err := tensor.MutableBytes(func(data []byte) {
			if len(data) != varInfo.Length {
				readErr = errors.Errorf("variable %q (%s) takes %d bytes, but %d bytes were stored",
					varInfo.ParameterName, tensor.Shape(), len(data), varInfo.Length)
				return
			}
			_, readErr = io.ReadFull(binReader, data)
		})
		if err == nil {
			err = readErr
		}
		if err != nil {
			return errors.WithMessagef(err, "%s: failed to read variable %q at position %d of the checkpoint binary file",
				h, varInfo.ParameterName, varInfo.Pos)
		}

		if !merge {
			h.variableValues[varInfo.ParameterName] = tensor
			continue
		}
		current, found := h.variableValues[varInfo.ParameterName]
		if !found || !varInfo.DType.IsFloat() {
			continue
		}
		if !current.Shape().Equal(tensor.Shape()) {
			klog.Warningf("checkpoints: not averaging variable %q, shapes differ: %s and %s",
				varInfo.ParameterName, current.Shape(), tensor.Shape())
			continue
		}
		merged, err := mergeTensors(current, tensor, mergeWeight)
		if err != nil {
			return errors.WithMessagef(err, "when taking the mean of variable %q", varInfo.ParameterName)
		}
		h.variableValues[varInfo.ParameterName] = merged
	}
	return nil
}

// mergeTensors returns `current*(1-weight) + other*weight`, computed with a small graph.
func mergeTensors(current, other *tensors.Tensor, weight float64) (*tensors.Tensor, error) {
	g := graph.NewGraph("checkpoint_mean")
	var merged *graph.Node
	err := exceptions.TryCatch[error](func() {
		merged = graph.Add(
			graph.MulScalar(graph.Const(g, current), 1-weight),
			graph.MulScalar(graph.Const(g, other), weight))
	})
	if err != nil {
		return nil, err
	}
	results, err := graph.Exec(g, merged)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// takeMean loads the mean of the given checkpoints: the last one is loaded first, and the others are
// merged into it one at a time, so only one extra copy of each variable is in memory at any time.
func (h *Handler) takeMean(baseNames []string) error {
	if err := h.loadCheckpointFromFile(baseNames[len(baseNames)-1], 0); err != nil {
		return err
	}
	for ii, baseName := range baseNames[:len(baseNames)-1] {
		mergeWeight := 1.0 / (float64(ii) + 2.0)
		if err := h.loadCheckpointFromFile(baseName, mergeWeight); err != nil {
			return err
		}
	}
	return nil
}

// Save writes a new checkpoint with the context variables, the loaded variables not yet used by the
// context and, unless excluded, the context parameters. Older checkpoints beyond Config.Keep are removed.
//
// Variables without a value (created without shape and never assigned) are skipped.
//
// If the handler is nil, this is a no-op.
func (h *Handler) Save() error {
	if h == nil {
		return nil
	}
	if h.ctx == nil {
		return errors.Errorf("%s not attached to a context.Context yet", h)
	}
	if h.config.dir == "" {
		return errors.Errorf("%s cannot save, it has no directory configured", h)
	}
	h.serialized.BinFormat = h.config.binFormat.String()
	if h.config.includeParams {
		h.serialized.Params = nil
		h.ctx.EnumerateParams(func(scope, key string, value any) {
			h.serialized.Params = append(h.serialized.Params, serializedParam{
				Scope: scope, Key: key, Value: value, ValueType: fmt.Sprintf("%T", value)})
		})
	}

	baseName := h.newCheckpointBaseName()
	h.checkpointsCount++
	binFileName := filepath.Join(h.config.dir, baseName+BinDataSuffix)
	binFile, err := newBinWriter(binFileName, h.config.binFormat)
	if err != nil {
		return errors.WithMessagef(err, "%s: failed to create checkpoint data file %s", h, binFileName)
	}

	h.serialized.Variables = make([]serializedVar, 0, h.ctx.NumVariables()+len(h.variableValues))
	var pos int
	saveVar := func(name string, tensor *tensors.Tensor) error {
		var n int
		var writeErr error
		err := tensor.ConstBytes(func(data []byte) {
			n, writeErr = binFile.Write(data)
		})
		if err == nil {
			err = writeErr
		}
		if err != nil {
			return errors.Wrapf(err, "%s: failed to write variable %s", h, name)
		}
		shape := tensor.Shape()
		h.serialized.Variables = append(h.serialized.Variables, serializedVar{
			ParameterName: name,
			Dimensions:    shape.Dimensions,
			DType:         shape.DType,
			Pos:           pos,
			Length:        n,
		})
		pos += n
		return nil
	}
	for v := range h.ctx.IterVariables() {
		if h.config.varsToExclude.Has(v) {
			continue
		}
		if !v.HasValue() {
			klog.V(1).Infof("checkpoints: skipping variable %q, it has no value", v.ScopeAndName())
			continue
		}
		if err = saveVar(v.ParameterName(), v.MustValue()); err != nil {
			_ = binFile.Close()
			return err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(h.variableValues)) {
		if err = saveVar(name, h.variableValues[name]); err != nil {
			_ = binFile.Close()
			return err
		}
	}
	if err = binFile.Close(); err != nil {
		return errors.WithMessagef(err, "%s: failed to close checkpoint data file %s", h, binFileName)
	}

	jsonFileName := filepath.Join(h.config.dir, baseName+JsonNameSuffix)
	jsonFile, err := os.Create(jsonFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to create checkpoint metadata file %s", h, jsonFileName)
	}
	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "\t")
	if err = enc.Encode(h.serialized); err != nil {
		_ = jsonFile.Close()
		return errors.Wrapf(err, "%s: failed to write checkpoint metadata file %s", h, jsonFileName)
	}
	if err = jsonFile.Close(); err != nil {
		return errors.Wrapf(err, "%s: failed to close checkpoint metadata file %s", h, jsonFileName)
	}
	klog.V(1).Infof("checkpoints: saved %q with %d variables", baseName, len(h.serialized.Variables))
	return h.keepNCheckpoints()
}

// Backup links the latest checkpoint into the BackupDir sub-directory, where it is not removed by Config.Keep.
func (h *Handler) Backup() error {
	baseNames, err := h.ListCheckpoints()
	if err != nil {
		return errors.WithMessage(err, "failed Backup() finding current checkpoints")
	}
	if len(baseNames) == 0 {
		return errors.Errorf("there are no saved checkpoints in %q: maybe call Save() before Backup() ?", h.Dir())
	}
	baseName := baseNames[len(baseNames)-1]
	backupDir := filepath.Join(h.Dir(), BackupDir)
	if err = os.MkdirAll(backupDir, DirPermMode); err != nil {
		return errors.Wrapf(err, "trying to create dir %q", backupDir)
	}
	for _, suffix := range []string{BinDataSuffix, JsonNameSuffix} {
		srcPath := filepath.Join(h.config.dir, baseName+suffix)
		newPath := filepath.Join(backupDir, baseName+suffix)
		if err = os.Link(srcPath, newPath); err != nil {
			return errors.Wrapf(err, "failed to link %q to %q", srcPath, newPath)
		}
	}
	return nil
}

// keepNCheckpoints removes the oldest checkpoints beyond the configured number to keep.
func (h *Handler) keepNCheckpoints() error {
	if h.config.keep < 0 {
		return nil
	}
	list, err := h.ListCheckpoints()
	if err != nil {
		return err
	}
	if len(list) <= h.config.keep {
		return nil
	}
	for _, baseName := range list[:len(list)-h.config.keep] {
		for _, suffix := range []string{BinDataSuffix, JsonNameSuffix} {
			fileName := filepath.Join(h.config.dir, baseName+suffix)
			if err = os.Remove(fileName); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "%s failed to remove excess checkpoint file %q", h, fileName)
			}
		}
	}
	return nil
}

// attachTo installs the Handler as the context Loader and sets the loaded parameters, except the excluded ones.
func (h *Handler) attachTo(ctx *context.Context) error {
	if h.ctx != nil {
		return errors.Errorf("%s already attached to a context", h)
	}
	h.ctx = ctx
	h.prevContextLoader = ctx.Loader()
	ctx.SetLoader(h)
	if !h.config.includeParams {
		return nil
	}
	for _, p := range h.serialized.Params {
		if h.config.paramsToExclude.Has(p.Key) || h.config.paramsToExclude.Has(context.JoinScope(p.Scope, p.Key)) {
			continue
		}
		err := exceptions.TryCatch[error](func() { ctx.InAbsPath(p.Scope).SetParam(p.Key, p.Value) })
		if err != nil {
			return errors.WithMessagef(err, "%s: failed to set parameter %q in scope %q", h, p.Key, p.Scope)
		}
	}
	return nil
}

// LoadVariable implements context.Loader. Loaders attached earlier have priority.
// A value returned is "consumed": it is no longer held by the Handler.
func (h *Handler) LoadVariable(ctx *context.Context, scope, name string) (value *tensors.Tensor, found bool) {
	if h.prevContextLoader != nil {
		value, found = h.prevContextLoader.LoadVariable(ctx, scope, name)
		if found {
			return
		}
	}
	paramName := context.VariableParameterNameFromScopeAndName(scope, name)
	value, found = h.variableValues[paramName]
	if found {
		delete(h.variableValues, paramName)
	}
	return
}

// DeleteVariable implements context.Loader: the deleted variable won't be loaded later.
func (h *Handler) DeleteVariable(ctx *context.Context, scope, name string) error {
	if h.prevContextLoader != nil {
		if err := h.prevContextLoader.DeleteVariable(ctx, scope, name); err != nil {
			return err
		}
	}
	delete(h.variableValues, context.VariableParameterNameFromScopeAndName(scope, name))
	return nil
}

// LoadedVariables returns the loaded values not yet transferred to the context, indexed by
// parameter name. The Handler owns the map, it must not be changed.
func (h *Handler) LoadedVariables() map[string]*tensors.Tensor {
	return h.variableValues
}

// ExcludeVarsFromSaving excludes the given variables from being saved, see Config.ExcludeVars.
func (h *Handler) ExcludeVarsFromSaving(vars ...*context.Variable) {
	h.config.varsToExclude.Insert(vars...)
}
