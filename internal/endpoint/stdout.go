package endpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// StdoutEndpoint writes records to standard output.
type StdoutEndpoint struct {
	name   string
	cfg    config.StdoutEndpointConfig
	writer io.Writer
	mu     sync.Mutex
	logger logger.ILogger
}

// NewStdoutEndpoint creates a new stdout endpoint.
func NewStdoutEndpoint(name string, cfg config.StdoutEndpointConfig, log logger.ILogger) *StdoutEndpoint {
	return NewStdoutEndpointWithWriter(name, cfg, os.Stdout, log)
}

// NewStdoutEndpointWithWriter creates a stdout endpoint with a custom writer (for testing).
func NewStdoutEndpointWithWriter(name string, cfg config.StdoutEndpointConfig, w io.Writer, log logger.ILogger) *StdoutEndpoint {
	return &StdoutEndpoint{
		name:   name,
		cfg:    cfg,
		writer: w,
		logger: log.SubLogger("StdoutEndpoint"),
	}
}

// Name returns the endpoint name.
func (s *StdoutEndpoint) Name() string { return s.name }

// Open is a no-op for stdout.
func (s *StdoutEndpoint) Open(ctx context.Context) error {
	s.logger.Debugf("stdout endpoint opened: format=%s", s.cfg.Format)
	return nil
}

// Close is a no-op for stdout.
func (s *StdoutEndpoint) Close(ctx context.Context) error {
	s.logger.Debug("stdout endpoint closed")
	return nil
}

// DataEndpoint creates a writer. A non-empty dataName tags every line.
func (s *StdoutEndpoint) DataEndpoint(dataName string) (DataEndpoint, error) {
	return &stdoutData{accumulator: newAccumulator(), ep: s, dataName: dataName}, nil
}

func (s *StdoutEndpoint) write(dataName string, rec *model.Map) error {
	var output []byte
	var err error

	switch s.cfg.Format {
	case "text":
		output = s.formatText(dataName, rec)
	default:
		output, err = rec.MarshalJSON()
		if err == nil && dataName != "" {
			output = append([]byte(dataName+" "), output...)
		}
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(append(output, '\n'))
	return err
}

// formatText renders key=value pairs in field order.
func (s *StdoutEndpoint) formatText(dataName string, rec *model.Map) []byte {
	var sb strings.Builder
	if dataName != "" {
		fmt.Fprintf(&sb, "[%s] ", dataName)
	}
	first := true
	rec.Range(func(k string, v model.Value) bool {
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		fmt.Fprintf(&sb, "%s=%s", k, v.String())
		return true
	})
	return []byte(sb.String())
}

type stdoutData struct {
	accumulator
	ep       *StdoutEndpoint
	dataName string
}

func (d *stdoutData) Name() string { return qualifiedName(d.ep.name, d.dataName) }

func (d *stdoutData) Start(ctx context.Context) error { return nil }
func (d *stdoutData) Stop(ctx context.Context) error  { return nil }

func (d *stdoutData) Add(ctx context.Context) error {
	return d.flush(func(rec *model.Map) error {
		return d.ep.write(d.dataName, rec)
	})
}

func (d *stdoutData) Delete(ctx context.Context, id string) error {
	return ErrDeleteUnsupported
}
