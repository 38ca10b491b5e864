package converter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/testutil"
)

type fakeContext struct {
	vars   map[string]model.Value
	fields map[string]model.Value
}

func (f fakeContext) Variable(name string) model.Value { return f.vars[name] }
func (f fakeContext) Field(name string) model.Value    { return f.fields[name] }

func mustNew(t *testing.T, cfg config.ConverterConfig) Converter {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		name string
		in   model.Value
		want model.Value
	}{
		{"trim", model.String("  a b  "), model.String("a b")},
		{"trimwhite", model.String(" a \t\n b "), model.String("a b")},
		{"lower", model.String("AbC"), model.String("abc")},
		{"upper", model.String("AbC"), model.String("ABC")},
		{"lower", model.Int(3), model.Int(3)},
		{"htmlencode", model.String("<a&b>"), model.String("&lt;a&amp;b&gt;")},
		{"htmldecode", model.String("&lt;a&gt;"), model.String("<a>")},
		{"urlencode", model.String("a b&c"), model.String("a+b%26c")},
		{"urldecode", model.String("a+b%26c"), model.String("a b&c")},
		{"string", model.Int(12), model.String("12")},
		{"string", model.Bool(true), model.String("true")},
		{"double", model.String("1.5"), model.Float(1.5)},
		{"double", model.Int(2), model.Float(2)},
		{"int64", model.String("42"), model.Int(42)},
		{"int64", model.String("42.0"), model.Int(42)},
		{"int32", model.Float(7.9), model.Int(7)},
		{"split", model.String("a; b ;c"), model.Seq(model.String("a"), model.String("b"), model.String("c"))},
	}

	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := reg.Get(tt.name)
			require.True(t, ok)
			got, err := c.Convert(fakeContext{}, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuiltins_NullPassthroughAndSequences(t *testing.T) {
	c := mustNew(t, config.ConverterConfig{Name: "upper"})

	got, err := c.Convert(nil, model.Null())
	require.NoError(t, err)
	assert.True(t, got.IsNull())

	got, err = c.Convert(nil, model.Seq(model.String("a"), model.String("b")))
	require.NoError(t, err)
	assert.Equal(t, model.Seq(model.String("A"), model.String("B")), got)
}

func TestNumberConverter_Errors(t *testing.T) {
	c := mustNew(t, config.ConverterConfig{Name: "int32"})

	_, err := c.Convert(nil, model.String("abc"))
	assert.Error(t, err)

	_, err = c.Convert(nil, model.String("1.5"))
	assert.Error(t, err)

	_, err = c.Convert(nil, model.Int(1<<40))
	assert.Error(t, err)
}

func TestNumberConverter_Separators(t *testing.T) {
	c := mustNew(t, config.ConverterConfig{Name: "eu", Type: "double", GroupSep: ".", DecimalSep: ","})

	got, err := c.Convert(nil, model.String("1.234,5"))
	require.NoError(t, err)
	assert.Equal(t, model.Float(1234.5), got)
}

func TestDateConverter(t *testing.T) {
	c := mustNew(t, config.ConverterConfig{Name: "nl", Type: "date", Formats: []string{"02/01/2006"}, UTC: true})

	got, err := c.Convert(nil, model.String("25/12/2023"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 25, 0, 0, 0, 0, time.UTC), got.Time())

	got, err = c.Convert(nil, model.String("2024-03-01T10:20:30Z"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC), got.Time())

	_, err = c.Convert(nil, model.String("not a date"))
	assert.Error(t, err)
}

func TestDateConverter_DateOnly(t *testing.T) {
	c := mustNew(t, config.ConverterConfig{Name: "dateonly"})

	got, err := c.Convert(nil, model.String("2024-03-01T10:20:30Z"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got.Time())
}

func TestUUIDConverter(t *testing.T) {
	c := mustNew(t, config.ConverterConfig{Name: "uuid"})

	a, err := c.Convert(nil, model.String("key-1"))
	require.NoError(t, err)
	b, err := c.Convert(nil, model.String("key-1"))
	require.NoError(t, err)
	assert.Equal(t, a, b, "named ids must be stable")

	fresh, err := c.Convert(nil, model.Null())
	require.NoError(t, err)
	assert.Len(t, fresh.String(), 36)
}

func TestFormatConverter(t *testing.T) {
	ctx := fakeContext{
		vars:   map[string]model.Value{"country": model.String("NL")},
		fields: map[string]model.Value{"city": model.String("Utrecht")},
	}

	tests := []struct {
		name string
		cfg  config.ConverterConfig
		in   model.Value
		want model.Value
	}{
		{
			name: "value and arguments",
			cfg:  config.ConverterConfig{Format: "{0}, {1} ({2})", Arguments: []string{"field(city)", "k(country)"}},
			in:   model.String("Main st"),
			want: model.String("Main st, Utrecht (NL)"),
		},
		{
			name: "missing argument yields null",
			cfg:  config.ConverterConfig{Format: "{0}-{1}", Arguments: []string{"f(missing)"}},
			in:   model.String("x"),
			want: model.Null(),
		},
		{
			name: "missing argument tolerated without NeedArguments",
			cfg:  config.ConverterConfig{Format: "{0}-{1}", Arguments: []string{"f(missing)"}, Flags: "None"},
			in:   model.String("x"),
			want: model.String("x-"),
		},
		{
			name: "null value formatted when value not needed",
			cfg:  config.ConverterConfig{Format: "[{0}]"},
			in:   model.Null(),
			want: model.String("[]"),
		},
		{
			name: "null value skipped with NeedValue",
			cfg:  config.ConverterConfig{Format: "[{0}]", Flags: "NeedValue"},
			in:   model.Null(),
			want: model.Null(),
		},
		{
			name: "escaped braces",
			cfg:  config.ConverterConfig{Format: "{{{0}}}"},
			in:   model.Int(5),
			want: model.String("{5}"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Name = "fmt"
			tt.cfg.Type = "format"
			c := mustNew(t, tt.cfg)
			got, err := c.Convert(ctx, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatConverter_InvalidConfig(t *testing.T) {
	_, err := New(config.ConverterConfig{Name: "f", Type: "format", Format: "{0}", Arguments: []string{"bogus"}})
	assert.Error(t, err)

	_, err = New(config.ConverterConfig{Name: "f", Type: "format"})
	assert.Error(t, err)
}

func TestReplaceConverter(t *testing.T) {
	replace := []config.ReplaceConfig{
		{Value: "nl", Repl: "Netherlands"},
		{Expr: "^b(e|el)", Repl: "Belgium"},
		{Expr: "^(\\d+)-(\\d+)$", ReplExpr: "$2-$1"},
	}

	tests := []struct {
		name  string
		flags string
		in    string
		want  model.Value
	}{
		{"value match is case insensitive", "", "NL", model.String("Netherlands")},
		{"regex match replaces whole value", "", "Belg", model.String("Belgium")},
		{"replexpr rewrites", "", "12-34", model.String("34-12")},
		{"no match returns original", "", "de", model.String("de")},
		{"no match returns null", "NoMatchReturnNull", "de", model.Null()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustNew(t, config.ConverterConfig{Name: "country", Type: "replace", Flags: tt.flags, Replace: replace})
			got, err := c.Convert(nil, model.String(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplaceConverter_EvaluateAll(t *testing.T) {
	c := mustNew(t, config.ConverterConfig{
		Name:  "chain",
		Type:  "replace",
		Flags: "EvaluateAll",
		Replace: []config.ReplaceConfig{
			{Expr: "a", ReplExpr: "b"},
			{Expr: "b", ReplExpr: "c"},
		},
	})

	got, err := c.Convert(nil, model.String("aa"))
	require.NoError(t, err)
	assert.Equal(t, model.String("cc"), got)
}

func TestReplaceConverter_DumpMissed(t *testing.T) {
	c := mustNew(t, config.ConverterConfig{
		Name:       "codes",
		Type:       "replace",
		DumpMissed: 2,
		Replace:    []config.ReplaceConfig{{Value: "a", Repl: "A"}},
	})
	rc := c.(*replaceConverter)

	for _, in := range []string{"x", "y", "x", "z"} {
		got, err := c.Convert(nil, model.String(in))
		require.NoError(t, err)
		assert.True(t, got.IsNull(), "dumpmissed defaults to NoMatchReturnNull")
	}
	assert.Equal(t, []string{"x", "y"}, rc.Missed())

	rc.DumpMissed(testutil.NewTestLogger())
	assert.Empty(t, rc.Missed())
}

func TestReplaceConverter_InvalidConfig(t *testing.T) {
	_, err := New(config.ConverterConfig{Name: "r", Type: "replace", Replace: []config.ReplaceConfig{{Value: "a", ReplExpr: "$1"}}})
	assert.Error(t, err)

	_, err = New(config.ConverterConfig{Name: "r", Type: "replace", Replace: []config.ReplaceConfig{{Expr: "("}}})
	assert.Error(t, err)

	_, err = New(config.ConverterConfig{Name: "r", Type: "replace", Flags: "Sometimes"})
	assert.Error(t, err)
}

func TestJQConverter(t *testing.T) {
	c := mustNew(t, config.ConverterConfig{Name: "names", Type: "jq", Query: ".[] | .name"})

	m1 := model.NewMap()
	m1.Set("name", model.String("a"))
	m2 := model.NewMap()
	m2.Set("name", model.String("b"))

	got, err := c.Convert(nil, model.Seq(model.MapValue(m1), model.MapValue(m2)))
	require.NoError(t, err)
	assert.Equal(t, model.Seq(model.String("a"), model.String("b")), got)

	single := mustNew(t, config.ConverterConfig{Name: "inc", Type: "jq", Query: ". + 1"})
	got, err = single.Convert(nil, model.Int(41))
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Int())

	_, err = New(config.ConverterConfig{Name: "bad", Type: "jq", Query: ".["})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry([]config.ConverterConfig{
		{Name: "Trim", Type: "replace", Replace: []config.ReplaceConfig{{Value: "x", Repl: "y"}}},
	})
	require.NoError(t, err)

	convs, err := reg.Resolve("lower; trim")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "lower", convs[0].Name())
	assert.Equal(t, "Trim", convs[1].Name(), "configured converter overrides built-in")

	convs, err = reg.Resolve("")
	require.NoError(t, err)
	assert.Nil(t, convs)

	_, err = reg.Resolve("lower,nope")
	assert.ErrorContains(t, err, "nope")

	_, err = NewRegistry([]config.ConverterConfig{{Type: "trim"}})
	assert.Error(t, err)

	_, err = NewRegistry([]config.ConverterConfig{{Name: "x", Type: "unknown"}})
	assert.Error(t, err)
}
