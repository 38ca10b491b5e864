package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
)

func csvConfig(root string, cfg config.CSVDatasourceConfig) config.CSVDatasourceConfig {
	cfg.Files = config.FeederConfig{Root: root, Paths: []string{"*.csv"}}
	return cfg
}

func TestCSVDatasource_Import(t *testing.T) {
	nameField := config.ActionConfig{Key: "record/name", Field: "name"}

	tests := []struct {
		name    string
		content string
		cfg     config.CSVDatasourceConfig
		actions []config.ActionConfig
		field   string
		want    []string
	}{
		{
			name:    "header row as field names",
			content: "name,city\nalice,paris\nbob,rome\n",
			cfg:     config.CSVDatasourceConfig{Headers: "fieldnames"},
			actions: []config.ActionConfig{{Key: "record/city", Field: "city"}},
			field:   "city",
			want:    []string{"paris", "rome"},
		},
		{
			name:    "skipped header with configured names",
			content: "h1,h2\nalice,paris\n",
			cfg:     config.CSVDatasourceConfig{Headers: "true", FieldNames: []string{"name"}},
			actions: []config.ActionConfig{nameField, {Key: "record/f1", Field: "city"}},
			field:   "city",
			want:    []string{"paris"},
		},
		{
			name:    "generated names",
			content: "alice;paris\n",
			cfg:     config.CSVDatasourceConfig{Delimiter: ";"},
			actions: []config.ActionConfig{{Key: "record/f0", Field: "name"}},
			field:   "name",
			want:    []string{"alice"},
		},
		{
			name:    "comments and trim",
			content: "# comment\n alice ,x\n",
			cfg:     config.CSVDatasourceConfig{FieldNames: []string{"name"}, Trim: true},
			actions: []config.ActionConfig{nameField},
			field:   "name",
			want:    []string{"alice"},
		},
		{
			name:    "sorted case-insensitively",
			content: "carol\nAlice\nbob\n",
			cfg:     config.CSVDatasourceConfig{FieldNames: []string{"name"}, Sort: intPtr(0)},
			actions: []config.ActionConfig{nameField},
			field:   "name",
			want:    []string{"Alice", "bob", "carol"},
		},
		{
			name:    "start at line",
			content: "one\ntwo\nthree\nfour\n",
			cfg:     config.CSVDatasourceConfig{FieldNames: []string{"name"}, StartAt: 3},
			actions: []config.ActionConfig{nameField},
			field:   "name",
			want:    []string{"three", "four"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeFiles(t, map[string]string{"data.csv": tt.content})
			ds, err := NewCSVDatasource(csvConfig(root, tt.cfg))
			require.NoError(t, err)
			r := newRun(t, append(tt.actions, addRecord)...)

			require.NoError(t, ds.Import(r.ctx, r.sink))
			assert.Equal(t, tt.want, r.values(tt.field))
		})
	}
}

func TestCSVDatasource_ItemEvents(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.csv": "x\n", "b.csv": "y\n"})
	ds, err := NewCSVDatasource(csvConfig(root, config.CSVDatasourceConfig{}))
	require.NoError(t, err)
	r := newRun(t,
		config.ActionConfig{Key: "_item/virtualfilename", ToVar: "file"},
		config.ActionConfig{Key: "record/f0", Field: "value"},
		config.ActionConfig{Key: "record/_start", Field: "file", FromVar: "file"},
		addRecord,
	)

	require.NoError(t, ds.Import(r.ctx, r.sink))

	assert.Equal(t, []string{"a.csv", "b.csv"}, r.values("file"))
	assert.Equal(t, []string{"x", "y"}, r.values("value"))
}

func TestCSVDatasource_ParseErrors(t *testing.T) {
	content := "ok1\nbad,b\"c\nok2\n"

	t.Run("handled", func(t *testing.T) {
		root := writeFiles(t, map[string]string{"data.csv": content})
		ds, err := NewCSVDatasource(csvConfig(root, config.CSVDatasourceConfig{}))
		require.NoError(t, err)
		r := newRun(t, handleErrors, config.ActionConfig{Key: "record/f0", Field: "v"}, addRecord)

		require.NoError(t, ds.Import(r.ctx, r.sink))
		assert.Equal(t, []string{"ok1", "ok2"}, r.values("v"))
		assert.Equal(t, 1, r.ctx.Errors)
	})

	t.Run("unhandled", func(t *testing.T) {
		root := writeFiles(t, map[string]string{"data.csv": content})
		ds, err := NewCSVDatasource(csvConfig(root, config.CSVDatasourceConfig{}))
		require.NoError(t, err)
		r := newRun(t, config.ActionConfig{Key: "record/f0", Field: "v"}, addRecord)

		err = ds.Import(r.ctx, r.sink)
		var re *pipeline.RecordError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, []string{"ok1"}, r.values("v"))
	})

	t.Run("lenient quotes", func(t *testing.T) {
		root := writeFiles(t, map[string]string{"data.csv": content})
		ds, err := NewCSVDatasource(csvConfig(root, config.CSVDatasourceConfig{Lenient: true}))
		require.NoError(t, err)
		r := newRun(t, config.ActionConfig{Key: "record/f0", Field: "v"}, addRecord)

		require.NoError(t, ds.Import(r.ctx, r.sink))
		assert.Equal(t, []string{"ok1", "bad", "ok2"}, r.values("v"))
	})
}

func TestNewCSVDatasource_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.CSVDatasourceConfig
	}{
		{name: "headers", cfg: config.CSVDatasourceConfig{Headers: "sometimes"}},
		{name: "names twice", cfg: config.CSVDatasourceConfig{Headers: "fieldnames", FieldNames: []string{"a"}}},
		{name: "delimiter", cfg: config.CSVDatasourceConfig{Delimiter: ";;"}},
		{name: "sort", cfg: config.CSVDatasourceConfig{Sort: intPtr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCSVDatasource(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewCSVDatasource_CommentDisabledWhenDelimiter(t *testing.T) {
	ds, err := NewCSVDatasource(config.CSVDatasourceConfig{Delimiter: "#"})
	require.NoError(t, err)
	assert.Equal(t, '#', ds.delim)
	assert.Equal(t, rune(0), ds.comment)
}

func TestRecordKeys(t *testing.T) {
	k := newRecordKeys(replaceEmptyNames([]string{"a", " ", "c"}))

	assert.Equal(t, "record/a", k.at(0))
	assert.Equal(t, "record/f1", k.at(1))
	assert.Equal(t, "record/f4", k.at(4))
	assert.Equal(t, "record/f3", k.at(3))
}
