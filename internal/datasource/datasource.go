// Package datasource defines the sources records are imported from, and
// their implementations.
package datasource

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
)

// Record event keys.
const (
	KeyRecordStart = "record/_start"
	KeyRecord      = "record"
	recordPrefix   = "record/"
)

// Datasource reads its input and sends every value as a keyed event to
// the sink. It runs on the importing goroutine and returns when the input
// is exhausted, the context is cancelled or an error was not handled.
type Datasource interface {
	Import(ctx *pipeline.Context, sink pipeline.Sink) error
}

// Factory creates the datasource described by cfg.
type Factory func(cfg config.DatasourceConfig, log logger.ILogger) (Datasource, error)

// New creates the datasource described by cfg.
func New(cfg config.DatasourceConfig, log logger.ILogger) (Datasource, error) {
	var ds Datasource
	var err error
	switch strings.ToLower(cfg.Type) {
	case "csv":
		ds, err = NewCSVDatasource(cfg.CSV)
	case "json":
		ds, err = NewJSONDatasource(cfg.JSON)
	case "yaml", "yml":
		ds, err = NewYAMLDatasource(cfg.YAML)
	case "elasticsearch", "es":
		ds, err = NewElasticsearchDatasource(cfg.Elasticsearch, log)
	case "journal":
		ds = NewJournalDatasource(cfg.Journal)
	case "logline", "log":
		ds, err = NewLoglineDatasource(cfg.Logline)
	default:
		return nil, fmt.Errorf("datasource %s: unknown type %q", cfg.Name, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("datasource %s: %w", cfg.Name, err)
	}
	return ds, nil
}

// recordFailed routes a failure inside a record through the pipeline's
// record error handlers. It returns nil when a handler dealt with it.
func recordFailed(ctx *pipeline.Context, err error) error {
	_, herr := ctx.HandleException(err, "record", true)
	return herr
}

// emitRecord counts a record and sends record/_start, the events produced
// by fields and the record end marker. When fields fails and the error is
// handled, the rest of the record is skipped up to and including its end
// marker.
func emitRecord(ctx *pipeline.Context, sink pipeline.Sink, fields func() error) error {
	if err := ctx.Context().Err(); err != nil {
		return err
	}
	if err := ctx.IncrementEmitted(); err != nil {
		return err
	}

	err := func() error {
		if _, err := sink.HandleValue(ctx, KeyRecordStart, model.Null()); err != nil {
			return err
		}
		return fields()
	}()
	if err != nil {
		if err := recordFailed(ctx, err); err != nil {
			return err
		}
		ctx.SkipUntilKey = KeyRecord
	}

	if _, err := sink.HandleValue(ctx, KeyRecord, model.Null()); err != nil {
		return recordFailed(ctx, err)
	}
	return nil
}

// emitDocument sends a decoded document as one record.
func emitDocument(ctx *pipeline.Context, sink pipeline.Sink, doc model.Value, maxLevel int) error {
	return emitRecord(ctx, sink, func() error {
		return sendFields(ctx, sink, doc, maxLevel)
	})
}

// sendFields sends the content of a document: map entries become
// record/<name>, sequence elements record/_v and a scalar document
// record/_v, each flattened up to maxLevel levels.
func sendFields(ctx *pipeline.Context, sink pipeline.Sink, doc model.Value, maxLevel int) error {
	if maxLevel <= 0 {
		maxLevel = pipeline.UnlimitedDepth
	}
	switch doc.Kind() {
	case model.KindMap:
		var err error
		doc.Map().Range(func(k string, v model.Value) bool {
			if k == "" {
				k = "_o"
			}
			err = pipeline.Flatten(ctx, sink, v, recordPrefix+k, maxLevel-1)
			return err == nil
		})
		return err
	case model.KindSeq:
		for _, e := range doc.Seq() {
			if err := pipeline.Flatten(ctx, sink, e, recordPrefix+"_v", maxLevel-1); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := sink.HandleValue(ctx, recordPrefix+"_v", doc)
	return err
}

// parseChar reads a single character attribute: the character itself,
// 0xXX or \uXXXX.
func parseChar(s string, def rune) (rune, error) {
	if s == "" {
		return def, nil
	}
	if r, size := utf8.DecodeRuneInString(s); size == len(s) {
		return r, nil
	}
	lower := strings.ToLower(s)
	if (len(s) == 4 || len(s) == 6) && (strings.HasPrefix(lower, "0x") || (len(s) == 6 && strings.HasPrefix(lower, `\u`))) {
		if n, err := strconv.ParseUint(s[2:], 16, 32); err == nil {
			return rune(n), nil
		}
	}
	return 0, fmt.Errorf("invalid character %q: must be a single char, \\uXXXX or 0xXX", s)
}
