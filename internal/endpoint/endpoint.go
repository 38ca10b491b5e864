// Package endpoint defines the destinations records are written to, and
// their implementations.
package endpoint

import (
	"context"
	"errors"

	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// ErrDeleteUnsupported is returned by endpoints that cannot delete records.
var ErrDeleteUnsupported = errors.New("delete not supported by endpoint")

// Endpoint is a configured destination. It is opened once per import run and
// hands out data endpoints, the per-pipeline record writers.
type Endpoint interface {
	// Name returns the configured endpoint name.
	Name() string

	// Open acquires connections, files or clients.
	Open(ctx context.Context) error

	// Close releases everything acquired by Open.
	Close(ctx context.Context) error

	// DataEndpoint creates a record writer. dataName selects an index, table,
	// bucket or collection inside the endpoint; empty means the default.
	DataEndpoint(dataName string) (DataEndpoint, error)
}

// DataEndpoint accumulates fields of the current record and writes the
// record on Add.
type DataEndpoint interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	GetField(name string) model.Value
	SetField(name string, v model.Value, policy model.WritePolicy, sep string)
	Accumulator() *model.Map
	Clear()

	// Add writes the accumulated record and clears the accumulator.
	// An empty accumulator is not written.
	Add(ctx context.Context) error

	// Delete removes a previously written record by id.
	Delete(ctx context.Context, id string) error
}

// ExistChecker is implemented by data endpoints that can look up a record by id.
type ExistChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// accumulator is the shared field store embedded by data endpoints.
type accumulator struct {
	fields *model.Map
}

func newAccumulator() accumulator {
	return accumulator{fields: model.NewMap()}
}

// GetField reads a field by dot separated path.
func (a *accumulator) GetField(name string) model.Value {
	if name == "" {
		return model.MapValue(a.fields)
	}
	return a.fields.GetPath(name)
}

// SetField writes a field according to policy.
func (a *accumulator) SetField(name string, v model.Value, policy model.WritePolicy, sep string) {
	a.fields.Write(name, v, policy, sep)
}

// Accumulator returns the record under construction.
func (a *accumulator) Accumulator() *model.Map { return a.fields }

// Clear empties the record.
func (a *accumulator) Clear() { a.fields.Clear() }

// flush hands a non-empty record to write and clears it afterwards.
func (a *accumulator) flush(write func(rec *model.Map) error) error {
	if a.fields.Len() == 0 {
		return nil
	}
	defer a.fields.Clear()
	return write(a.fields)
}

// takeID removes the id field from rec and returns its text.
func takeID(rec *model.Map, idField string) string {
	if idField == "" {
		return ""
	}
	v := rec.GetPath(idField)
	if v.IsNull() {
		return ""
	}
	rec.DeletePath(idField)
	return v.String()
}

// qualifiedName renders "endpoint" or "endpoint.dataname".
func qualifiedName(endpoint, dataName string) string {
	if dataName == "" {
		return endpoint
	}
	return endpoint + "." + dataName
}
