package endpoint

import (
	"context"
	"sync"

	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// MemoryEndpoint keeps written records in memory. It backs dry runs and tests.
type MemoryEndpoint struct {
	name    string
	idField string
	mu      sync.Mutex
	records map[string][]*model.Map
	deleted map[string][]string
}

// NewMemoryEndpoint creates a memory endpoint. Records are looked up by
// the "id" field in Exists.
func NewMemoryEndpoint(name string) *MemoryEndpoint {
	return &MemoryEndpoint{
		name:    name,
		idField: "id",
		records: make(map[string][]*model.Map),
		deleted: make(map[string][]string),
	}
}

// Name returns the endpoint name.
func (m *MemoryEndpoint) Name() string { return m.name }

// Open is a no-op.
func (m *MemoryEndpoint) Open(ctx context.Context) error { return nil }

// Close is a no-op; records stay available.
func (m *MemoryEndpoint) Close(ctx context.Context) error { return nil }

// DataEndpoint creates a writer for the named record list.
func (m *MemoryEndpoint) DataEndpoint(dataName string) (DataEndpoint, error) {
	return &memoryData{accumulator: newAccumulator(), ep: m, dataName: dataName}, nil
}

// Records returns a snapshot of the records written under dataName.
func (m *MemoryEndpoint) Records(dataName string) []*model.Map {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Map(nil), m.records[dataName]...)
}

// Deleted returns the ids deleted under dataName.
func (m *MemoryEndpoint) Deleted(dataName string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted[dataName]...)
}

type memoryData struct {
	accumulator
	ep       *MemoryEndpoint
	dataName string
}

func (d *memoryData) Name() string { return qualifiedName(d.ep.name, d.dataName) }

func (d *memoryData) Start(ctx context.Context) error { return nil }
func (d *memoryData) Stop(ctx context.Context) error  { return nil }

func (d *memoryData) Add(ctx context.Context) error {
	return d.flush(func(rec *model.Map) error {
		d.ep.mu.Lock()
		defer d.ep.mu.Unlock()
		d.ep.records[d.dataName] = append(d.ep.records[d.dataName], rec.Clone())
		return nil
	})
}

func (d *memoryData) Delete(ctx context.Context, id string) error {
	d.ep.mu.Lock()
	defer d.ep.mu.Unlock()
	d.ep.deleted[d.dataName] = append(d.ep.deleted[d.dataName], id)
	return nil
}

func (d *memoryData) Exists(ctx context.Context, id string) (bool, error) {
	d.ep.mu.Lock()
	defer d.ep.mu.Unlock()
	for _, rec := range d.ep.records[d.dataName] {
		if rec.GetPath(d.ep.idField).String() == id {
			return true, nil
		}
	}
	return false, nil
}
