package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
)

func documentConfig(root, pattern string, lines bool) config.DocumentDatasourceConfig {
	return config.DocumentDatasourceConfig{
		Files: config.FeederConfig{Root: root, Paths: []string{pattern}},
		Lines: lines,
	}
}

func TestDocumentDatasource_Import(t *testing.T) {
	nameField := config.ActionConfig{Key: "record/name", Field: "name"}

	tests := []struct {
		name    string
		file    string
		content string
		yaml    bool
		lines   bool
		want    []string
	}{
		{
			name:    "json stream",
			file:    "data.json",
			content: `{"id": 1, "name": "a"} {"id": 2, "name": "b"}`,
			want:    []string{"a", "b"},
		},
		{
			name:    "json lines",
			file:    "data.jsonl",
			content: "{\"name\": \"a\"}\n\n{\"name\": \"b\"}\n",
			lines:   true,
			want:    []string{"a", "b"},
		},
		{
			name:    "yaml documents",
			file:    "data.yaml",
			content: "name: a\n---\nname: b\n",
			yaml:    true,
			want:    []string{"a", "b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeFiles(t, map[string]string{tt.file: tt.content})
			cfg := documentConfig(root, tt.file, tt.lines)
			var ds *DocumentDatasource
			var err error
			if tt.yaml {
				ds, err = NewYAMLDatasource(cfg)
			} else {
				ds, err = NewJSONDatasource(cfg)
			}
			require.NoError(t, err)
			r := newRun(t, nameField, addRecord)

			require.NoError(t, ds.Import(r.ctx, r.sink))
			assert.Equal(t, tt.want, r.values("name"))
			assert.Equal(t, len(tt.want), r.ctx.Emitted)
		})
	}
}

func TestDocumentDatasource_MaxLevel(t *testing.T) {
	root := writeFiles(t, map[string]string{"data.json": `{"a": {"b": 1}}`})

	for _, tc := range []struct {
		maxLevel int
		want     []string
	}{
		{maxLevel: 0, want: []string{KeyRecordStart, "record/a/b", "record/a", KeyRecord}},
		{maxLevel: 1, want: []string{KeyRecordStart, "record/a", KeyRecord}},
	} {
		cfg := documentConfig(root, "data.json", false)
		cfg.MaxLevel = tc.maxLevel
		ds, err := NewJSONDatasource(cfg)
		require.NoError(t, err)
		r := newRun(t)

		require.NoError(t, ds.Import(r.ctx, r.sink))
		assert.Equal(t, tc.want, r.sink.keys)
	}
}

func TestDocumentDatasource_Errors(t *testing.T) {
	t.Run("bad line handled", func(t *testing.T) {
		root := writeFiles(t, map[string]string{"data.jsonl": "{\"name\": \"a\"}\nnot json\n{\"name\": \"c\"}\n"})
		ds, err := NewJSONDatasource(documentConfig(root, "*.jsonl", true))
		require.NoError(t, err)
		r := newRun(t, handleErrors, config.ActionConfig{Key: "record/_error/msg", ToVar: "error"},
			config.ActionConfig{Key: "record/name", Field: "name"}, addRecord)

		require.NoError(t, ds.Import(r.ctx, r.sink))
		assert.Equal(t, []string{"a", "c"}, r.values("name"))
		assert.Equal(t, 1, r.ctx.Errors)
		assert.Contains(t, r.p.Variable("error").String(), "line 2")
	})

	t.Run("bad line unhandled", func(t *testing.T) {
		root := writeFiles(t, map[string]string{"data.jsonl": "{\"name\": \"a\"}\n{oops\n"})
		ds, err := NewJSONDatasource(documentConfig(root, "*.jsonl", true))
		require.NoError(t, err)
		r := newRun(t, config.ActionConfig{Key: "record/name", Field: "name"}, addRecord)

		err = ds.Import(r.ctx, r.sink)
		var re *pipeline.RecordError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, []string{"a"}, r.values("name"))
	})

	t.Run("stream syntax error ends the file", func(t *testing.T) {
		root := writeFiles(t, map[string]string{"data.json": `{"name": "a"} {"name": `})
		ds, err := NewJSONDatasource(documentConfig(root, "data.json", false))
		require.NoError(t, err)
		r := newRun(t, config.ActionConfig{Key: "record/name", Field: "name"}, addRecord)

		assert.Error(t, ds.Import(r.ctx, r.sink))
		assert.Equal(t, []string{"a"}, r.values("name"))
	})

	t.Run("missing files", func(t *testing.T) {
		ds, err := NewJSONDatasource(documentConfig(t.TempDir(), "*.json", false))
		require.NoError(t, err)
		r := newRun(t)

		assert.Error(t, ds.Import(r.ctx, r.sink))
	})
}
