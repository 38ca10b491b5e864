package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/testutil"
)

func TestStdoutEndpoint_JSON(t *testing.T) {
	var buf bytes.Buffer
	ep := NewStdoutEndpointWithWriter("out", config.StdoutEndpointConfig{Format: "json"}, &buf, testutil.NewTestLogger())
	assert.Equal(t, "out", ep.Name())

	de, err := ep.DataEndpoint("")
	require.NoError(t, err)
	require.NoError(t, de.Start(context.Background()))

	de.SetField("source", model.String("test"), model.OverWrite, "")
	de.SetField("nested.level", model.Int(3), model.OverWrite, "")
	require.NoError(t, de.Add(context.Background()))

	var result map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, "test", result["source"])
	assert.Equal(t, map[string]any{"level": float64(3)}, result["nested"])
	assert.Equal(t, 0, de.Accumulator().Len())
}

func TestStdoutEndpoint_Text(t *testing.T) {
	var buf bytes.Buffer
	ep := NewStdoutEndpointWithWriter("out", config.StdoutEndpointConfig{Format: "text"}, &buf, testutil.NewTestLogger())

	de, err := ep.DataEndpoint("users")
	require.NoError(t, err)
	assert.Equal(t, "out.users", de.Name())

	de.SetField("a", model.String("x"), model.OverWrite, "")
	de.SetField("b", model.Bool(true), model.OverWrite, "")
	require.NoError(t, de.Add(context.Background()))

	assert.Equal(t, "[users] a=x b=true\n", buf.String())
}

func TestStdoutEndpoint_EmptyRecordNotWritten(t *testing.T) {
	var buf bytes.Buffer
	ep := NewStdoutEndpointWithWriter("out", config.StdoutEndpointConfig{}, &buf, testutil.NewTestLogger())
	de, err := ep.DataEndpoint("")
	require.NoError(t, err)

	require.NoError(t, de.Add(context.Background()))
	assert.Empty(t, buf.String())
	assert.ErrorIs(t, de.Delete(context.Background(), "1"), ErrDeleteUnsupported)
}
