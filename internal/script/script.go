// Package script hosts the ECMAScript functions that actions can call as a
// hook before their converters run.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/dop251/goja"

	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// Env is the view of the running pipeline a script function receives as
// its first argument.
type Env interface {
	Key() string
	Datasource() string
	Skip()
	SkipRest()
	SkipAll()
	Variable(name string) model.Value
	SetVariable(name string, v model.Value)
	Field(name string) model.Value
	SetField(name string, v model.Value)
}

// Func is a resolved script function: fn(env, key, value) -> value.
type Func func(env Env, v model.Value) (model.Value, error)

// Host owns a single goja runtime with all configured sources loaded.
// Calls are serialized because a goja runtime is not goroutine safe.
type Host struct {
	rt     *goja.Runtime
	mu     sync.Mutex
	logger logger.ILogger
}

// NewHost loads and runs the given script files.
func NewHost(files []string, log logger.ILogger) (*Host, error) {
	h := newHost(log)
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading script %s: %w", f, err)
		}
		if err := h.Load(filepath.Base(f), string(src)); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func newHost(log logger.ILogger) *Host {
	h := &Host{rt: goja.New(), logger: log.SubLogger("Script")}
	_ = h.rt.Set("log", func(msg string) { h.logger.Info(msg) })
	return h
}

// Load compiles and runs a source in the host runtime.
func (h *Host) Load(name, src string) error {
	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return fmt.Errorf("compiling script %s: %w", name, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.rt.RunProgram(prog); err != nil {
		return fmt.Errorf("running script %s: %w", name, err)
	}
	h.logger.Debugf("loaded script: %s", name)
	return nil
}

// Func resolves a global function by name.
func (h *Host) Func(name string) (Func, error) {
	h.mu.Lock()
	fn, ok := goja.AssertFunction(h.rt.Get(name))
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("script function %q not found", name)
	}

	return func(env Env, v model.Value) (model.Value, error) {
		h.mu.Lock()
		defer h.mu.Unlock()

		res, err := fn(goja.Undefined(), h.envObject(env), h.rt.ToValue(env.Key()), h.rt.ToValue(v.Native()))
		if err != nil {
			return model.Null(), fmt.Errorf("script %s: %w", name, err)
		}
		if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
			return model.Null(), nil
		}
		return model.FromNative(res.Export()), nil
	}, nil
}

func (h *Host) envObject(env Env) *goja.Object {
	o := h.rt.NewObject()
	_ = o.Set("datasource", env.Datasource())
	_ = o.Set("skip", env.Skip)
	_ = o.Set("skipRest", env.SkipRest)
	_ = o.Set("skipAll", env.SkipAll)
	_ = o.Set("getVar", func(name string) any { return env.Variable(name).Native() })
	_ = o.Set("setVar", func(name string, v goja.Value) { env.SetVariable(name, exported(v)) })
	_ = o.Set("getField", func(name string) any { return env.Field(name).Native() })
	_ = o.Set("setField", func(name string, v goja.Value) { env.SetField(name, exported(v)) })
	return o
}

func exported(v goja.Value) model.Value {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return model.Null()
	}
	return model.FromNative(v.Export())
}
