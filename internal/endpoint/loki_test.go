package endpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/testutil"
)

func newLoki(t *testing.T, cfg config.LokiEndpointConfig, client HTTPDoer) *LokiEndpoint {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = "http://localhost:3100"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour
	}
	ep := NewLokiEndpoint("loki", cfg, testutil.NewTestLogger(), WithLokiHTTPClient(client))
	require.NoError(t, ep.Open(context.Background()))
	return ep
}

func addRecord(t *testing.T, de DataEndpoint, fields ...any) error {
	t.Helper()
	for i := 0; i+1 < len(fields); i += 2 {
		de.SetField(fields[i].(string), model.FromNative(fields[i+1]), model.OverWrite, "")
	}
	return de.Add(context.Background())
}

func TestLokiEndpoint_BatchFlush(t *testing.T) {
	mock := &mockHTTPClient{}
	ep := newLoki(t, config.LokiEndpointConfig{
		BatchSize:    1,
		Labels:       map[string]string{"app": "test"},
		LabelFields:  []string{"host"},
		MessageField: "message",
	}, mock)
	assert.Equal(t, "loki", ep.Name())

	de, err := ep.DataEndpoint("users")
	require.NoError(t, err)
	assert.Equal(t, "loki.users", de.Name())

	at := time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC)
	de.SetField("timestamp", model.Time(at), model.OverWrite, "")
	require.NoError(t, addRecord(t, de, "host", "web1", "message", "test message"))

	require.Equal(t, 1, mock.calls())
	req := mock.requests[0]
	assert.Equal(t, "/loki/api/v1/push", req.URL.Path)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var push lokiPushRequest
	require.NoError(t, json.Unmarshal([]byte(mock.bodies[0]), &push))
	require.Len(t, push.Streams, 1)
	assert.Equal(t, map[string]string{"app": "test", "data": "users", "host": "web1"}, push.Streams[0].Stream)
	assert.Equal(t, [][]string{{"1768737600000000000", "test message"}}, push.Streams[0].Values)
	assert.Equal(t, 0, de.Accumulator().Len())
}

func TestLokiEndpoint_TenantHeader(t *testing.T) {
	mock := &mockHTTPClient{}
	ep := newLoki(t, config.LokiEndpointConfig{BatchSize: 1, TenantID: "my-tenant"}, mock)
	de, err := ep.DataEndpoint("")
	require.NoError(t, err)

	require.NoError(t, addRecord(t, de, "message", "x"))

	require.Equal(t, 1, mock.calls())
	assert.Equal(t, "my-tenant", mock.requests[0].Header.Get("X-Scope-OrgID"))
}

func TestLokiEndpoint_HTTPError(t *testing.T) {
	mock := &mockHTTPClient{status: http.StatusInternalServerError}
	ep := newLoki(t, config.LokiEndpointConfig{BatchSize: 1}, mock)
	de, err := ep.DataEndpoint("")
	require.NoError(t, err)

	err = addRecord(t, de, "message", "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLokiEndpoint_BatchesUntilClose(t *testing.T) {
	mock := &mockHTTPClient{}
	ep := newLoki(t, config.LokiEndpointConfig{BatchSize: 10}, mock)
	de, err := ep.DataEndpoint("")
	require.NoError(t, err)

	require.NoError(t, addRecord(t, de, "level", "info", "user", "alice"))
	require.NoError(t, addRecord(t, de, "level", "warn", "user", "bob"))
	assert.Equal(t, 0, mock.calls(), "no push before the batch is full")

	require.NoError(t, ep.Close(context.Background()))
	require.Equal(t, 1, mock.calls())

	var push lokiPushRequest
	require.NoError(t, json.Unmarshal([]byte(mock.bodies[0]), &push))
	require.Len(t, push.Streams, 1, "records with equal labels share a stream")
	require.Len(t, push.Streams[0].Values, 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(push.Streams[0].Values[0][1]), &line))
	assert.Equal(t, map[string]any{"level": "info", "user": "alice"}, line)
}

func TestLokiEndpoint_RequiresURL(t *testing.T) {
	ep := NewLokiEndpoint("loki", config.LokiEndpointConfig{}, testutil.NewTestLogger())
	assert.Error(t, ep.Open(context.Background()))
	assert.ErrorIs(t, func() error {
		de, _ := ep.DataEndpoint("")
		return de.Delete(context.Background(), "1")
	}(), ErrDeleteUnsupported)
}
