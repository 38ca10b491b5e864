package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// LokiEndpoint pushes records as log lines to Grafana Loki.
type LokiEndpoint struct {
	name   string
	cfg    config.LokiEndpointConfig
	client HTTPDoer
	batch  []lokiStream
	count  int
	mu     sync.Mutex
	done   chan struct{}
	logger logger.ILogger
}

// lokiPushRequest is the Loki push API request format.
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

// lokiStream represents a log stream in Loki.
type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// LokiOption configures a LokiEndpoint.
type LokiOption func(*LokiEndpoint)

// WithLokiHTTPClient sets a custom HTTP client for testing.
func WithLokiHTTPClient(client HTTPDoer) LokiOption {
	return func(l *LokiEndpoint) {
		l.client = client
	}
}

// NewLokiEndpoint creates a new Loki endpoint.
func NewLokiEndpoint(name string, cfg config.LokiEndpointConfig, log logger.ILogger, opts ...LokiOption) *LokiEndpoint {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.TimeField == "" {
		cfg.TimeField = defaultTimeField
	}
	l := &LokiEndpoint{
		name:   name,
		cfg:    cfg,
		client: newHTTPClient(),
		logger: log.SubLogger("LokiEndpoint"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the endpoint name.
func (l *LokiEndpoint) Name() string { return l.name }

// Open starts the background flush goroutine.
func (l *LokiEndpoint) Open(ctx context.Context) error {
	if l.cfg.URL == "" {
		return fmt.Errorf("loki endpoint %s: url is required", l.name)
	}
	l.done = make(chan struct{})
	go l.flushLoop(ctx, l.done)
	l.logger.Debugf("loki endpoint opened: url=%s", l.cfg.URL)
	return nil
}

// Close flushes the remaining lines and stops the flush goroutine.
func (l *LokiEndpoint) Close(ctx context.Context) error {
	if l.done != nil {
		close(l.done)
		l.done = nil
	}
	return l.flush(ctx)
}

// DataEndpoint creates a record writer. A non-empty dataName is added as
// the "data" stream label.
func (l *LokiEndpoint) DataEndpoint(dataName string) (DataEndpoint, error) {
	return &lokiData{accumulator: newAccumulator(), ep: l, dataName: dataName}, nil
}

// flushLoop periodically flushes the buffer.
func (l *LokiEndpoint) flushLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := l.flush(ctx); err != nil {
				l.logger.Warningf("flush error: %v", err)
			}
		}
	}
}

// labels builds the stream labels of a record.
func (l *LokiEndpoint) labels(dataName string, rec *model.Map) map[string]string {
	labels := make(map[string]string, len(l.cfg.Labels)+len(l.cfg.LabelFields)+1)
	maps.Copy(labels, l.cfg.Labels)
	if dataName != "" {
		labels["data"] = dataName
	}
	for _, f := range l.cfg.LabelFields {
		if v := rec.GetPath(f); !v.IsNull() {
			labels[strings.ReplaceAll(f, ".", "_")] = v.String()
		}
	}
	return labels
}

// add queues a record and flushes once BatchSize lines are queued.
func (l *LokiEndpoint) add(ctx context.Context, dataName string, rec *model.Map) error {
	line, err := recordMessage(rec, l.cfg.MessageField)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(recordTime(rec, l.cfg.TimeField).UnixNano(), 10)
	labels := l.labels(dataName, rec)

	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	for i := range l.batch {
		if maps.Equal(l.batch[i].Stream, labels) {
			l.batch[i].Values = append(l.batch[i].Values, []string{ts, line})
			found = true
			break
		}
	}
	if !found {
		l.batch = append(l.batch, lokiStream{
			Stream: labels,
			Values: [][]string{{ts, line}},
		})
	}
	l.count++

	if l.count >= l.cfg.BatchSize {
		return l.flushLocked(ctx)
	}
	return nil
}

// flush sends the batch to Loki.
func (l *LokiEndpoint) flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

// flushLocked sends the batch (caller must hold lock).
func (l *LokiEndpoint) flushLocked(ctx context.Context) error {
	if len(l.batch) == 0 {
		return nil
	}

	data, err := json.Marshal(lokiPushRequest{Streams: l.batch})
	if err != nil {
		return err
	}

	var headers map[string]string
	if l.cfg.TenantID != "" {
		headers = map[string]string{"X-Scope-OrgID": l.cfg.TenantID}
	}
	if err := post(ctx, l.client, l.cfg.URL+"/loki/api/v1/push", "application/json", data, headers); err != nil {
		return fmt.Errorf("loki endpoint %s: %w", l.name, err)
	}

	l.logger.Debugf("pushed %d lines in %d streams", l.count, len(l.batch))
	l.batch = l.batch[:0]
	l.count = 0
	return nil
}

type lokiData struct {
	accumulator
	ep       *LokiEndpoint
	dataName string
}

func (d *lokiData) Name() string { return qualifiedName(d.ep.name, d.dataName) }

func (d *lokiData) Start(ctx context.Context) error { return nil }
func (d *lokiData) Stop(ctx context.Context) error  { return nil }

func (d *lokiData) Add(ctx context.Context) error {
	return d.flush(func(rec *model.Map) error {
		return d.ep.add(ctx, d.dataName, rec)
	})
}

func (d *lokiData) Delete(ctx context.Context, id string) error {
	return ErrDeleteUnsupported
}
