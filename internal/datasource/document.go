package datasource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
)

type decoder interface {
	Next() (model.Value, error)
}

// DocumentDatasource imports JSON or YAML documents. Every document of a
// file, or every line in lines mode, becomes one record.
type DocumentDatasource struct {
	cfg        config.DocumentDatasourceConfig
	feeder     *FileFeeder
	newDecoder func(io.Reader) decoder
}

// NewJSONDatasource creates a datasource for JSON documents and JSON lines.
func NewJSONDatasource(cfg config.DocumentDatasourceConfig) (*DocumentDatasource, error) {
	return newDocumentDatasource(cfg, func(r io.Reader) decoder { return model.NewJSONDecoder(r) })
}

// NewYAMLDatasource creates a datasource for YAML document streams.
func NewYAMLDatasource(cfg config.DocumentDatasourceConfig) (*DocumentDatasource, error) {
	return newDocumentDatasource(cfg, func(r io.Reader) decoder { return model.NewYAMLDecoder(r) })
}

func newDocumentDatasource(cfg config.DocumentDatasourceConfig, newDecoder func(io.Reader) decoder) (*DocumentDatasource, error) {
	feeder, err := NewFileFeeder(cfg.Files)
	if err != nil {
		return nil, err
	}
	return &DocumentDatasource{cfg: cfg, feeder: feeder, newDecoder: newDecoder}, nil
}

// Import reads every file of the feeder.
func (d *DocumentDatasource) Import(ctx *pipeline.Context, sink pipeline.Sink) error {
	files, err := d.feeder.Files()
	if err != nil {
		return err
	}
	for _, f := range files {
		ctx.Logger().Infof("importing %s", f.FullName)
		if err := d.importFile(ctx, sink, f); err != nil {
			return fmt.Errorf("file %s: %w", f.FullName, err)
		}
	}
	return nil
}

func (d *DocumentDatasource) importFile(ctx *pipeline.Context, sink pipeline.Sink, f FileElement) error {
	r, closeFn, err := openElement(f)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := sendItemStart(ctx, f); err != nil {
		return err
	}
	if d.cfg.Lines {
		err = d.importLines(ctx, sink, r)
	} else {
		err = d.importStream(ctx, sink, r)
	}
	if err != nil {
		return err
	}
	_, err = ctx.SendItemStop()
	return err
}

// importStream decodes consecutive documents. A syntax error ends the
// stream since the decoder cannot resynchronize.
func (d *DocumentDatasource) importStream(ctx *pipeline.Context, sink pipeline.Sink, r io.Reader) error {
	dec := d.newDecoder(r)
	for {
		doc, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return recordFailed(ctx, err)
		}
		if err := emitDocument(ctx, sink, doc, d.cfg.MaxLevel); err != nil {
			return err
		}
	}
}

// importLines decodes one document per non-empty line. A line that does
// not decode is a record error.
func (d *DocumentDatasource) importLines(ctx *pipeline.Context, sink pipeline.Sink, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		doc, err := d.newDecoder(strings.NewReader(text)).Next()
		if err != nil {
			if err := recordFailed(ctx, fmt.Errorf("line %d: %w", line, err)); err != nil {
				return err
			}
			continue
		}
		if err := emitDocument(ctx, sink, doc, d.cfg.MaxLevel); err != nil {
			return err
		}
	}
	return scanner.Err()
}
