package endpoint

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/testutil"
)

func newVictoriaLogs(t *testing.T, cfg config.VictoriaLogsEndpointConfig, client HTTPDoer) *VictoriaLogsEndpoint {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = "http://localhost:9428"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour
	}
	ep := NewVictoriaLogsEndpoint("vl", cfg, testutil.NewTestLogger(), WithVictoriaLogsHTTPClient(client))
	require.NoError(t, ep.Open(context.Background()))
	return ep
}

func TestVictoriaLogsEndpoint_BatchFlush(t *testing.T) {
	mock := &mockHTTPClient{}
	ep := newVictoriaLogs(t, config.VictoriaLogsEndpointConfig{
		BatchSize:    1,
		StreamFields: []string{"host", "app"},
		MessageField: "message",
	}, mock)

	de, err := ep.DataEndpoint("logs")
	require.NoError(t, err)

	de.SetField("timestamp", model.Time(time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)), model.OverWrite, "")
	require.NoError(t, addRecord(t, de, "host", "web1", "message", "started"))

	require.Equal(t, 1, mock.calls())
	req := mock.requests[0]
	assert.Equal(t, "/insert/jsonline", req.URL.Path)
	assert.Equal(t, "host,app", req.URL.Query().Get("_stream_fields"))
	assert.Equal(t, "application/x-ndjson", req.Header.Get("Content-Type"))
	assert.Equal(t,
		`{"_time":"2026-01-18T12:00:00Z","_msg":"started","data":"logs","host":"web1"}`+"\n",
		mock.bodies[0])
}

func TestVictoriaLogsEndpoint_HTTPError(t *testing.T) {
	mock := &mockHTTPClient{status: http.StatusBadRequest}
	ep := newVictoriaLogs(t, config.VictoriaLogsEndpointConfig{BatchSize: 1}, mock)
	de, err := ep.DataEndpoint("")
	require.NoError(t, err)

	err = addRecord(t, de, "a", "b")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestVictoriaLogsEndpoint_MultipleBatches(t *testing.T) {
	mock := &mockHTTPClient{}
	ep := newVictoriaLogs(t, config.VictoriaLogsEndpointConfig{BatchSize: 2}, mock)
	de, err := ep.DataEndpoint("")
	require.NoError(t, err)

	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, addRecord(t, de, "n", n))
	}
	require.Equal(t, 1, mock.calls())
	assert.Len(t, strings.Split(strings.TrimSpace(mock.bodies[0]), "\n"), 2)

	require.NoError(t, ep.Close(context.Background()))
	require.Equal(t, 2, mock.calls())
	assert.Contains(t, mock.bodies[1], `"n":"c"`)
	assert.Contains(t, mock.bodies[1], `"_msg":"{\"n\":\"c\"}"`)
}

func TestVictoriaLogsEndpoint_EmptyCloseDoesNotPush(t *testing.T) {
	mock := &mockHTTPClient{}
	ep := newVictoriaLogs(t, config.VictoriaLogsEndpointConfig{}, mock)

	require.NoError(t, ep.Close(context.Background()))
	assert.Equal(t, 0, mock.calls())
}
