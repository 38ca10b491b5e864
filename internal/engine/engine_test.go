package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/GabrielNunesIT/go-libs/logger"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/datasource"
	"github.com/GabrielNunesIT/import-pipeline/internal/endpoint"
	"github.com/GabrielNunesIT/import-pipeline/internal/metrics"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
	"github.com/GabrielNunesIT/import-pipeline/internal/runstore"
	"github.com/GabrielNunesIT/import-pipeline/internal/testutil"
	"github.com/GabrielNunesIT/import-pipeline/internal/testutil/mocks"
)

// fakeSource sends one record per name. Its first failures runs return err.
type fakeSource struct {
	names    []string
	failures int
	err      error
	runs     int
}

func (f *fakeSource) Import(ctx *pipeline.Context, sink pipeline.Sink) error {
	f.runs++
	if f.runs <= f.failures {
		return f.err
	}
	if _, err := ctx.SendItemStart(model.String("fake")); err != nil {
		return err
	}
	for _, name := range f.names {
		if err := ctx.IncrementEmitted(); err != nil {
			return err
		}
		if _, err := sink.HandleValue(ctx, "record/name", model.String(name)); err != nil {
			return err
		}
		if _, err := sink.HandleValue(ctx, "record", model.Null()); err != nil {
			return err
		}
	}
	_, err := ctx.SendItemStop()
	return err
}

func fakeFactory(sources map[string]*fakeSource) datasource.Factory {
	return func(cfg config.DatasourceConfig, log logger.ILogger) (datasource.Datasource, error) {
		s, ok := sources[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("no fake source for %s", cfg.Name)
		}
		return s, nil
	}
}

// staticEndpoint hands out the same data endpoint for every name.
type staticEndpoint struct {
	name string
	data endpoint.DataEndpoint
}

func (s *staticEndpoint) Name() string                    { return s.name }
func (s *staticEndpoint) Open(ctx context.Context) error  { return nil }
func (s *staticEndpoint) Close(ctx context.Context) error { return nil }

func (s *staticEndpoint) DataEndpoint(string) (endpoint.DataEndpoint, error) {
	return s.data, nil
}

func intPtr(i int) *int    { return &i }
func boolPtr(b bool) *bool { return &b }

func testConfig(datasources ...config.DatasourceConfig) *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{LogAdds: 1000, MaxAdds: -1, MaxEmits: -1},
		Pipelines: []config.PipelineConfig{{
			Name: "main",
			Actions: []config.ActionConfig{
				{Key: "record/name", Field: "name"},
				{Key: "record", Add: true},
			},
		}},
		Datasources: datasources,
	}
}

func names(recs []*model.Map) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.GetPath("name").String()
	}
	return out
}

func TestNew_Errors(t *testing.T) {
	log := testutil.NewTestLogger()
	mem := WithEndpoint(endpoint.NewMemoryEndpoint("mem"))
	sources := WithDatasourceFactory(fakeFactory(map[string]*fakeSource{"a": {}}))

	tests := []struct {
		name    string
		cfg     *config.Config
		opts    []Option
		wantErr string
	}{
		{
			name:    "no endpoints",
			cfg:     testConfig(config.DatasourceConfig{Name: "a"}),
			opts:    []Option{sources},
			wantErr: "no endpoints configured",
		},
		{
			name:    "no pipelines",
			cfg:     &config.Config{Datasources: []config.DatasourceConfig{{Name: "a"}}},
			opts:    []Option{mem, sources},
			wantErr: "no pipelines configured",
		},
		{
			name:    "no datasources",
			cfg:     testConfig(),
			opts:    []Option{mem, sources},
			wantErr: "no datasources configured",
		},
		{
			name:    "unknown pipeline",
			cfg:     testConfig(config.DatasourceConfig{Name: "a", Pipeline: "other"}),
			opts:    []Option{mem, sources},
			wantErr: `unknown pipeline "other"`,
		},
		{
			name:    "duplicate datasource",
			cfg:     testConfig(config.DatasourceConfig{Name: "a"}, config.DatasourceConfig{Name: "A"}),
			opts:    []Option{mem, sources},
			wantErr: "duplicate datasource",
		},
		{
			name: "bad import flags",
			cfg: func() *config.Config {
				c := testConfig(config.DatasourceConfig{Name: "a"})
				c.Engine.ImportFlags = "fast"
				return c
			}(),
			opts:    []Option{mem, sources},
			wantErr: `unknown import flag "fast"`,
		},
		{
			name: "bad endpoint",
			cfg: func() *config.Config {
				c := testConfig(config.DatasourceConfig{Name: "a"})
				c.Endpoints = []config.EndpointConfig{{Name: "x", Type: "ftp"}}
				return c
			}(),
			opts:    []Option{sources},
			wantErr: "building endpoints",
		},
		{
			name: "bad action",
			cfg: func() *config.Config {
				c := testConfig(config.DatasourceConfig{Name: "a"})
				c.Pipelines[0].Actions = append(c.Pipelines[0].Actions, config.ActionConfig{Key: "x", Type: "explode"})
				return c
			}(),
			opts:    []Option{mem, sources},
			wantErr: "building pipelines",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, log, tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestImport_RunsDatasourcesInOrder(t *testing.T) {
	mem := endpoint.NewMemoryEndpoint("mem")
	sources := map[string]*fakeSource{
		"first":    {names: []string{"alice", "bob"}},
		"inactive": {names: []string{"nobody"}},
		"second":   {names: []string{"carol"}},
	}
	cfg := testConfig(
		config.DatasourceConfig{Name: "first"},
		config.DatasourceConfig{Name: "inactive", Active: boolPtr(false)},
		config.DatasourceConfig{Name: "second"},
	)
	e, err := New(cfg, testutil.NewTestLogger(), WithEndpoint(mem), WithDatasourceFactory(fakeFactory(sources)))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "inactive", "second"}, e.Datasources())

	report, err := e.Import(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, names(mem.Records("")))
	require.Len(t, report.Datasources, 2)
	assert.Equal(t, "first", report.Datasources[0].Name)
	assert.Equal(t, 2, report.Datasources[0].Added)
	assert.Equal(t, "ok", report.Datasources[0].State.String())
	assert.Equal(t, 3, report.Added())
	assert.False(t, report.Failed())
	assert.Zero(t, sources["inactive"].runs)
}

func TestImport_SelectsByName(t *testing.T) {
	mem := endpoint.NewMemoryEndpoint("mem")
	sources := map[string]*fakeSource{
		"first":    {names: []string{"alice"}},
		"inactive": {names: []string{"nobody"}},
	}
	cfg := testConfig(
		config.DatasourceConfig{Name: "first"},
		config.DatasourceConfig{Name: "inactive", Active: boolPtr(false)},
	)
	e, err := New(cfg, testutil.NewTestLogger(), WithEndpoint(mem), WithDatasourceFactory(fakeFactory(sources)))
	require.NoError(t, err)

	_, err = e.Import(context.Background(), []string{"INACTIVE"})
	require.NoError(t, err)
	assert.Equal(t, []string{"nobody"}, names(mem.Records("")))

	_, err = e.Import(context.Background(), []string{"first", "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown datasources: missing")
}

func TestImport_FailureClassification(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		flags     string
		source    *fakeSource
		maxAdds   *int
		wantState string
		wantErr   bool
		wantNext  bool
	}{
		{
			name:      "limit stops the import",
			source:    &fakeSource{names: []string{"a", "b", "c"}},
			maxAdds:   intPtr(1),
			wantState: "limited",
			wantErr:   true,
		},
		{
			name:      "limit ignored",
			flags:     "ignorelimited",
			source:    &fakeSource{names: []string{"a", "b", "c"}},
			maxAdds:   intPtr(1),
			wantState: "limited",
			wantNext:  true,
		},
		{
			name:      "error stops the import",
			flags:     "ignorelimited",
			source:    &fakeSource{failures: 10, err: boom},
			wantState: "error",
			wantErr:   true,
		},
		{
			name:      "error ignored",
			flags:     "ignoreall",
			source:    &fakeSource{failures: 10, err: boom},
			wantState: "error",
			wantNext:  true,
		},
		{
			name:      "error retried",
			flags:     "retryerrors",
			source:    &fakeSource{names: []string{"a"}, failures: 1, err: boom},
			wantState: "ok",
			wantNext:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := endpoint.NewMemoryEndpoint("mem")
			next := &fakeSource{names: []string{"next"}}
			cfg := testConfig(
				config.DatasourceConfig{Name: "main", MaxAdds: tt.maxAdds},
				config.DatasourceConfig{Name: "next"},
			)
			cfg.Engine.ImportFlags = tt.flags
			e, err := New(cfg, testutil.NewTestLogger(), WithEndpoint(mem),
				WithDatasourceFactory(fakeFactory(map[string]*fakeSource{"main": tt.source, "next": next})))
			require.NoError(t, err)

			report, err := e.Import(context.Background(), nil)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "datasource main")
			} else {
				require.NoError(t, err)
			}
			require.NotEmpty(t, report.Datasources)
			assert.Equal(t, tt.wantState, report.Datasources[0].State.String())
			assert.Equal(t, tt.wantNext, next.runs == 1)
		})
	}
}

func TestImport_LimitIsDistinguishable(t *testing.T) {
	mem := endpoint.NewMemoryEndpoint("mem")
	cfg := testConfig(config.DatasourceConfig{Name: "main", MaxEmits: intPtr(2)})
	e, err := New(cfg, testutil.NewTestLogger(), WithEndpoint(mem),
		WithDatasourceFactory(fakeFactory(map[string]*fakeSource{"main": {names: []string{"a", "b", "c"}}})))
	require.NoError(t, err)

	report, err := e.Import(context.Background(), nil)

	assert.True(t, pipeline.IsLimitExceeded(err))
	assert.Equal(t, 2, report.Datasources[0].Emitted)
	assert.Equal(t, []string{"a", "b"}, names(mem.Records("")))
	assert.True(t, report.Failed())
}

func TestImport_RecordsRunsAndMetrics(t *testing.T) {
	log := testutil.NewTestLogger()
	store, err := runstore.Open(filepath.Join(t.TempDir(), "runs.db"), 0, log)
	require.NoError(t, err)
	defer store.Close()
	m := metrics.New()

	cfg := testConfig(config.DatasourceConfig{Name: "main"})
	e, err := New(cfg, log,
		WithEndpoint(endpoint.NewMemoryEndpoint("mem")),
		WithDatasourceFactory(fakeFactory(map[string]*fakeSource{"main": {names: []string{"a", "b"}}})),
		WithRunStore(store),
		WithMetrics(m),
	)
	require.NoError(t, err)

	_, err = e.Import(context.Background(), nil)
	require.NoError(t, err)

	run, found, err := store.Last("main")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ok", run.State)
	assert.Equal(t, 2, run.Added)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.Runs.WithLabelValues("main", "ok")))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.Records.WithLabelValues("main", "added")))
}

func TestImport_EndpointAddFailure(t *testing.T) {
	data := mocks.NewDataEndpoint(t)
	accu := model.NewMap()
	accu.Set("name", model.String("alice"))
	data.On("Name").Return("mock").Maybe()
	data.On("Start", mock.Anything).Return(nil)
	data.On("Stop", mock.Anything).Return(nil)
	data.On("SetField", "name", mock.Anything, model.OverWrite, "").Return()
	data.On("Accumulator").Return(accu)
	data.On("Add", mock.Anything).Return(errors.New("disk full"))

	cfg := testConfig(config.DatasourceConfig{Name: "main"})
	e, err := New(cfg, testutil.NewTestLogger(),
		WithEndpoint(&staticEndpoint{name: "broken", data: data}),
		WithDatasourceFactory(fakeFactory(map[string]*fakeSource{"main": {names: []string{"alice"}}})))
	require.NoError(t, err)

	report, err := e.Import(context.Background(), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	var de *pipeline.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "record", de.Key)
	assert.Equal(t, "error", report.Datasources[0].State.String())
}

func TestImport_Cancelled(t *testing.T) {
	source := &fakeSource{names: []string{"a"}}
	e, err := New(testConfig(config.DatasourceConfig{Name: "main"}), testutil.NewTestLogger(),
		WithEndpoint(endpoint.NewMemoryEndpoint("mem")),
		WithDatasourceFactory(fakeFactory(map[string]*fakeSource{"main": source})))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Import(ctx, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, source.runs)
}

func TestImport_CSVEndToEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "people.csv"), []byte("name,age\nalice,30\nbob,40\n"), 0o644))
	mem := endpoint.NewMemoryEndpoint("out")

	cfg := testConfig(config.DatasourceConfig{
		Name: "people",
		Type: "csv",
		CSV: config.CSVDatasourceConfig{
			Files:   config.FeederConfig{Root: dir, Paths: []string{"*.csv"}},
			Headers: "fieldnames",
		},
	})
	cfg.Endpoints = []config.EndpointConfig{{Name: "out", Type: "stdout"}}
	cfg.Pipelines[0].Actions = append(cfg.Pipelines[0].Actions, config.ActionConfig{Key: "record/age", Field: "age", Converters: "int64"})

	e, err := New(cfg, testutil.NewTestLogger(), WithEndpoint(mem))
	require.NoError(t, err)

	report, err := e.Import(context.Background(), nil)

	require.NoError(t, err)
	recs := mem.Records("")
	assert.Equal(t, []string{"alice", "bob"}, names(recs))
	assert.Equal(t, model.KindInt, recs[0].GetPath("age").Kind())
	assert.Equal(t, 2, report.Datasources[0].Emitted)
}
