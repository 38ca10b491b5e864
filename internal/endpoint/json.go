package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/natefinch/lumberjack"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// WriterFactory creates a new WriteCloser for a file endpoint.
type WriterFactory func(cfg config.JSONEndpointConfig) (io.WriteCloser, error)

// JSONOption configures the JSONEndpoint.
type JSONOption func(*JSONEndpoint)

// WithWriterFactory sets a custom factory for creating the writers.
func WithWriterFactory(f WriterFactory) JSONOption {
	return func(e *JSONEndpoint) {
		e.factory = f
	}
}

// JSONEndpoint writes records as JSON lines to rotating files. Each data
// name gets its own file next to the configured path.
type JSONEndpoint struct {
	name    string
	cfg     config.JSONEndpointConfig
	factory WriterFactory
	mu      sync.Mutex
	writers map[string]io.WriteCloser
	logger  logger.ILogger
}

// NewJSONEndpoint creates a new JSON lines endpoint.
func NewJSONEndpoint(name string, cfg config.JSONEndpointConfig, log logger.ILogger, opts ...JSONOption) *JSONEndpoint {
	if cfg.LineSep == "" {
		cfg.LineSep = "\n"
	}
	e := &JSONEndpoint{
		name:    name,
		cfg:     cfg,
		writers: make(map[string]io.WriteCloser),
		logger:  log.SubLogger("JSONEndpoint"),
	}

	// Default factory creates lumberjack logger
	e.factory = func(cfg config.JSONEndpointConfig) (io.WriteCloser, error) {
		return &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}, nil
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Name returns the endpoint name.
func (j *JSONEndpoint) Name() string { return j.name }

// Open creates the writer for the default file.
func (j *JSONEndpoint) Open(ctx context.Context) error {
	if j.cfg.Path == "" {
		return fmt.Errorf("json endpoint %s: path is required", j.name)
	}
	_, err := j.writerFor("")
	return err
}

// Close closes all writers.
func (j *JSONEndpoint) Close(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	for name, w := range j.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(j.writers, name)
	}
	return errors.Join(errs...)
}

// DataEndpoint creates a writer for the default file or the file of dataName.
func (j *JSONEndpoint) DataEndpoint(dataName string) (DataEndpoint, error) {
	return &jsonData{accumulator: newAccumulator(), ep: j, dataName: dataName}, nil
}

// pathFor inserts dataName before the extension: out.json -> out-users.json.
func (j *JSONEndpoint) pathFor(dataName string) string {
	if dataName == "" {
		return j.cfg.Path
	}
	ext := filepath.Ext(j.cfg.Path)
	return strings.TrimSuffix(j.cfg.Path, ext) + "-" + dataName + ext
}

func (j *JSONEndpoint) writerFor(dataName string) (io.WriteCloser, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := strings.ToLower(dataName)
	if w, ok := j.writers[key]; ok {
		return w, nil
	}
	cfg := j.cfg
	cfg.Path = j.pathFor(dataName)
	w, err := j.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating writer for %s: %w", cfg.Path, err)
	}
	j.logger.Debugf("json writer created: path=%s", cfg.Path)
	j.writers[key] = w
	return w, nil
}

func (j *JSONEndpoint) write(w io.Writer, rec *model.Map) error {
	output, err := rec.MarshalJSON()
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = w.Write(append(output, j.cfg.LineSep...))
	return err
}

type jsonData struct {
	accumulator
	ep       *JSONEndpoint
	dataName string
	writer   io.Writer
}

func (d *jsonData) Name() string { return qualifiedName(d.ep.name, d.dataName) }

func (d *jsonData) Start(ctx context.Context) error {
	w, err := d.ep.writerFor(d.dataName)
	if err != nil {
		return err
	}
	d.writer = w
	return nil
}

func (d *jsonData) Stop(ctx context.Context) error { return nil }

func (d *jsonData) Add(ctx context.Context) error {
	return d.flush(func(rec *model.Map) error {
		if d.writer == nil {
			return fmt.Errorf("data endpoint %s not started", d.Name())
		}
		return d.ep.write(d.writer, rec)
	})
}

func (d *jsonData) Delete(ctx context.Context, id string) error {
	return ErrDeleteUnsupported
}
