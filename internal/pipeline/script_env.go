package pipeline

import (
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// scriptEnv exposes the running action to script hooks.
type scriptEnv struct {
	ctx    *Context
	action *baseAction
	key    string
}

func (e *scriptEnv) Key() string        { return e.key }
func (e *scriptEnv) Datasource() string { return e.ctx.DatasourceName }
func (e *scriptEnv) Skip()              { e.ctx.ActionFlags |= Skip }
func (e *scriptEnv) SkipRest()          { e.ctx.ActionFlags |= SkipRest }
func (e *scriptEnv) SkipAll()           { e.ctx.ActionFlags |= SkipAll }

func (e *scriptEnv) Variable(name string) model.Value {
	return e.ctx.Pipeline.Variable(name)
}

func (e *scriptEnv) SetVariable(name string, v model.Value) {
	e.ctx.Pipeline.SetVariable(name, v)
}

func (e *scriptEnv) Field(name string) model.Value {
	if e.action.endpoint == nil {
		return model.Null()
	}
	return e.action.endpoint.GetField(name)
}

func (e *scriptEnv) SetField(name string, v model.Value) {
	if e.action.endpoint != nil {
		e.action.endpoint.SetField(name, v, model.OverWrite, "")
	}
}
