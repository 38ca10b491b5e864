package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// VictoriaLogsEndpoint pushes records to VictoriaLogs in jsonline format.
type VictoriaLogsEndpoint struct {
	name   string
	cfg    config.VictoriaLogsEndpointConfig
	client HTTPDoer
	batch  [][]byte
	mu     sync.Mutex
	done   chan struct{}
	logger logger.ILogger
}

// VictoriaLogsOption configures a VictoriaLogsEndpoint.
type VictoriaLogsOption func(*VictoriaLogsEndpoint)

// WithVictoriaLogsHTTPClient sets a custom HTTP client for testing.
func WithVictoriaLogsHTTPClient(client HTTPDoer) VictoriaLogsOption {
	return func(v *VictoriaLogsEndpoint) {
		v.client = client
	}
}

// NewVictoriaLogsEndpoint creates a new VictoriaLogs endpoint.
func NewVictoriaLogsEndpoint(name string, cfg config.VictoriaLogsEndpointConfig, log logger.ILogger, opts ...VictoriaLogsOption) *VictoriaLogsEndpoint {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.TimeField == "" {
		cfg.TimeField = defaultTimeField
	}
	v := &VictoriaLogsEndpoint{
		name:   name,
		cfg:    cfg,
		client: newHTTPClient(),
		logger: log.SubLogger("VictoriaLogsEndpoint"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Name returns the endpoint name.
func (v *VictoriaLogsEndpoint) Name() string { return v.name }

// Open starts the background flush goroutine.
func (v *VictoriaLogsEndpoint) Open(ctx context.Context) error {
	if v.cfg.URL == "" {
		return fmt.Errorf("victorialogs endpoint %s: url is required", v.name)
	}
	v.done = make(chan struct{})
	go v.flushLoop(ctx, v.done)
	v.logger.Infof("connected to VictoriaLogs: url=%s", v.cfg.URL)
	return nil
}

// Close flushes the remaining records and stops the flush goroutine.
func (v *VictoriaLogsEndpoint) Close(ctx context.Context) error {
	if v.done != nil {
		close(v.done)
		v.done = nil
	}
	v.logger.Debug("flushing remaining records")
	return v.flush(ctx)
}

// DataEndpoint creates a record writer. A non-empty dataName is stored in
// the "data" field of every record.
func (v *VictoriaLogsEndpoint) DataEndpoint(dataName string) (DataEndpoint, error) {
	return &victoriaLogsData{accumulator: newAccumulator(), ep: v, dataName: dataName}, nil
}

// flushLoop periodically flushes the buffer.
func (v *VictoriaLogsEndpoint) flushLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(v.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := v.flush(ctx); err != nil {
				v.logger.Warningf("flush error: %v", err)
			}
		}
	}
}

// document renders a record as a VictoriaLogs log entry: _time and _msg
// first, then the record fields.
func (v *VictoriaLogsEndpoint) document(dataName string, rec *model.Map) ([]byte, error) {
	msg, err := recordMessage(rec, v.cfg.MessageField)
	if err != nil {
		return nil, err
	}
	doc := model.NewMap()
	doc.Set("_time", model.String(recordTime(rec, v.cfg.TimeField).UTC().Format(time.RFC3339Nano)))
	doc.Set("_msg", model.String(msg))
	if dataName != "" {
		doc.Set("data", model.String(dataName))
	}
	rec.Range(func(k string, val model.Value) bool {
		if k != v.cfg.MessageField && k != v.cfg.TimeField {
			doc.Set(k, val)
		}
		return true
	})
	return doc.MarshalJSON()
}

// add queues a record and flushes once BatchSize records are queued.
func (v *VictoriaLogsEndpoint) add(ctx context.Context, dataName string, rec *model.Map) error {
	data, err := v.document(dataName, rec)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.batch = append(v.batch, data)
	if len(v.batch) >= v.cfg.BatchSize {
		return v.flushLocked(ctx)
	}
	return nil
}

// flush sends the batch to VictoriaLogs.
func (v *VictoriaLogsEndpoint) flush(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flushLocked(ctx)
}

// insertURL returns the jsonline ingestion URL with the stream fields.
func (v *VictoriaLogsEndpoint) insertURL() string {
	u := strings.TrimSuffix(v.cfg.URL, "/") + "/insert/jsonline"
	if len(v.cfg.StreamFields) > 0 {
		u += "?_stream_fields=" + url.QueryEscape(strings.Join(v.cfg.StreamFields, ","))
	}
	return u
}

// flushLocked sends the batch (caller must hold lock).
func (v *VictoriaLogsEndpoint) flushLocked(ctx context.Context) error {
	if len(v.batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range v.batch {
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	if err := post(ctx, v.client, v.insertURL(), "application/x-ndjson", buf.Bytes(), nil); err != nil {
		return fmt.Errorf("victorialogs endpoint %s: %w", v.name, err)
	}

	v.logger.Debugf("pushed %d records to VictoriaLogs", len(v.batch))
	v.batch = v.batch[:0]
	return nil
}

type victoriaLogsData struct {
	accumulator
	ep       *VictoriaLogsEndpoint
	dataName string
}

func (d *victoriaLogsData) Name() string { return qualifiedName(d.ep.name, d.dataName) }

func (d *victoriaLogsData) Start(ctx context.Context) error { return nil }
func (d *victoriaLogsData) Stop(ctx context.Context) error  { return nil }

func (d *victoriaLogsData) Add(ctx context.Context) error {
	return d.flush(func(rec *model.Map) error {
		return d.ep.add(ctx, d.dataName, rec)
	})
}

func (d *victoriaLogsData) Delete(ctx context.Context, id string) error {
	return ErrDeleteUnsupported
}
