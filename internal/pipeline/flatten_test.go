package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/testutil"
)

type event struct {
	key string
	v   string
}

type recorder struct {
	events []event
	failOn string
}

func (r *recorder) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	if r.failOn != "" && key == r.failOn {
		return model.Null(), errors.New("sink failure")
	}
	s := v.String()
	if v.IsNull() {
		s = "<null>"
	}
	r.events = append(r.events, event{key, s})
	return model.Null(), nil
}

func decode(t *testing.T, src string) model.Value {
	t.Helper()
	v, err := model.DecodeJSON(strings.NewReader(src))
	require.NoError(t, err)
	return v
}

func TestFlatten(t *testing.T) {
	ctx := NewContext(context.Background(), "ds", testutil.NewTestLogger())

	tests := []struct {
		name     string
		input    string
		key      string
		maxDepth int
		want     []event
	}{
		{
			name:     "object with array",
			input:    `{"a": 1, "b": [2, 3]}`,
			key:      "rec",
			maxDepth: UnlimitedDepth,
			want: []event{
				{"rec/a", "1"},
				{"rec/b/_v", "2"},
				{"rec/b/_v", "3"},
				{"rec/b", "<null>"},
				{"rec", "<null>"},
			},
		},
		{
			name:     "opaque at depth zero",
			input:    `{"a": 1, "b": [2, 3]}`,
			key:      "rec",
			maxDepth: 0,
			want:     []event{{"rec", `{"a":1,"b":[2,3]}`}},
		},
		{
			name:     "empty object key",
			input:    `{"": 5}`,
			key:      "x",
			maxDepth: UnlimitedDepth,
			want:     []event{{"x/_o", "5"}, {"x", "<null>"}},
		},
		{
			name:     "depth one keeps nested containers whole",
			input:    `{"a": {"b": 1}, "c": [1]}`,
			key:      "r",
			maxDepth: 1,
			want: []event{
				{"r/a", `{"b":1}`},
				{"r/c", `[1]`},
				{"r", "<null>"},
			},
		},
		{
			name:     "scalars",
			input:    `"text"`,
			key:      "s",
			maxDepth: UnlimitedDepth,
			want:     []event{{"s", "text"}},
		},
		{
			name:     "null scalar",
			input:    `null`,
			key:      "n",
			maxDepth: UnlimitedDepth,
			want:     []event{{"n", "<null>"}},
		},
		{
			name:     "nested arrays",
			input:    `[[true], []]`,
			key:      "a",
			maxDepth: UnlimitedDepth,
			want: []event{
				{"a/_v/_v", "true"},
				{"a/_v", "<null>"},
				{"a/_v", "<null>"},
				{"a", "<null>"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			require.NoError(t, Flatten(ctx, r, decode(t, tt.input), tt.key, tt.maxDepth))
			assert.Equal(t, tt.want, r.events)
		})
	}
}

func TestFlatten_StopsOnSinkError(t *testing.T) {
	ctx := NewContext(context.Background(), "ds", testutil.NewTestLogger())
	r := &recorder{failOn: "rec/b"}

	err := Flatten(ctx, r, decode(t, `{"a": 1, "b": 2, "c": 3}`), "rec", UnlimitedDepth)

	require.Error(t, err)
	assert.Equal(t, []event{{"rec/a", "1"}}, r.events)
}

func TestFlatten_IntoPipeline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := f.start(t)

	require.NoError(t, Flatten(ctx, f.p, decode(t, `{"id": "x", "tags": ["a"]}`), "record", UnlimitedDepth))

	missed := f.p.MissedKeys()
	assert.Contains(t, missed, "record/id")
	assert.Contains(t, missed, "record/tags/_v")
	assert.Contains(t, missed, "record/tags")
	assert.Contains(t, missed, "record")
}
