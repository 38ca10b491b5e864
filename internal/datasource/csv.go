package datasource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
)

type headerMode int

const (
	headersNone headerMode = iota
	headersSkip
	headersFieldNames
)

// CSVDatasource imports CSV files. Every row becomes a record whose
// columns are sent as record/<fieldname>, or record/f<index> for columns
// without a name.
type CSVDatasource struct {
	cfg        config.CSVDatasourceConfig
	feeder     *FileFeeder
	headers    headerMode
	fieldNames []string
	delim      rune
	comment    rune
}

// NewCSVDatasource creates a CSV datasource.
func NewCSVDatasource(cfg config.CSVDatasourceConfig) (*CSVDatasource, error) {
	feeder, err := NewFileFeeder(cfg.Files)
	if err != nil {
		return nil, err
	}
	c := &CSVDatasource{cfg: cfg, feeder: feeder}

	switch strings.ToLower(cfg.Headers) {
	case "", "false":
		c.headers = headersNone
	case "true":
		c.headers = headersSkip
	case "fieldnames", "usefornames":
		c.headers = headersFieldNames
	default:
		return nil, fmt.Errorf("invalid headers %q: must be false, true or fieldnames", cfg.Headers)
	}
	if len(cfg.FieldNames) > 0 {
		if c.headers == headersFieldNames {
			return nil, errors.New("cannot specify both fieldnames and headers=fieldnames")
		}
		c.fieldNames = replaceEmptyNames(cfg.FieldNames)
	}

	if c.delim, err = parseChar(cfg.Delimiter, ','); err != nil {
		return nil, err
	}
	if c.comment, err = parseChar(cfg.Comment, '#'); err != nil {
		return nil, err
	}
	if c.comment == c.delim {
		c.comment = 0
	}
	if cfg.Sort != nil && *cfg.Sort < 0 {
		return nil, fmt.Errorf("invalid sort field %d", *cfg.Sort)
	}
	return c, nil
}

// Import reads every file of the feeder.
func (c *CSVDatasource) Import(ctx *pipeline.Context, sink pipeline.Sink) error {
	files, err := c.feeder.Files()
	if err != nil {
		return err
	}
	for _, f := range files {
		ctx.Logger().Infof("importing %s", f.FullName)
		if err := c.importFile(ctx, sink, f); err != nil {
			return fmt.Errorf("file %s: %w", f.FullName, err)
		}
	}
	return nil
}

func (c *CSVDatasource) importFile(ctx *pipeline.Context, sink pipeline.Sink, f FileElement) error {
	r, closeFn, err := openElement(f)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := sendItemStart(ctx, f); err != nil {
		return err
	}

	rdr := c.newReader(r)
	keys := c.initialKeys()
	if c.headers != headersNone {
		header, err := rdr.Read()
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if c.headers == headersFieldNames && header != nil {
			keys = newRecordKeys(replaceEmptyNames(header))
		}
	}

	if c.cfg.Sort != nil {
		err = c.importSorted(ctx, sink, rdr, keys)
	} else {
		err = c.importRows(ctx, sink, rdr, keys)
	}
	if err != nil {
		return err
	}
	_, err = ctx.SendItemStop()
	return err
}

func (c *CSVDatasource) newReader(r io.Reader) *csv.Reader {
	rdr := csv.NewReader(r)
	rdr.Comma = c.delim
	rdr.Comment = c.comment
	rdr.FieldsPerRecord = -1
	rdr.LazyQuotes = c.cfg.Lenient
	return rdr
}

func (c *CSVDatasource) initialKeys() *recordKeys {
	return newRecordKeys(c.fieldNames)
}

// next reads the next row at or after StartAt. Parse errors are routed
// through the record error handlers; a handled one skips the row.
func (c *CSVDatasource) next(ctx *pipeline.Context, rdr *csv.Reader) ([]string, error) {
	for {
		row, err := rdr.Read()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, err
			}
			if err := recordFailed(ctx, err); err != nil {
				return nil, err
			}
			continue
		}
		if c.cfg.StartAt > 0 {
			if line, _ := rdr.FieldPos(0); line < c.cfg.StartAt {
				continue
			}
		}
		return row, nil
	}
}

func (c *CSVDatasource) importRows(ctx *pipeline.Context, sink pipeline.Sink, rdr *csv.Reader, keys *recordKeys) error {
	for {
		row, err := c.next(ctx, rdr)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.emitRow(ctx, sink, row, keys); err != nil {
			return err
		}
	}
}

// importSorted reads all rows first and emits them ordered by the sort
// column, compared case-insensitively.
func (c *CSVDatasource) importSorted(ctx *pipeline.Context, sink pipeline.Sink, rdr *csv.Reader, keys *recordKeys) error {
	col := *c.cfg.Sort
	var rows [][]string
	for {
		row, err := c.next(ctx, rdr)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	sortKey := func(row []string) string {
		if col < len(row) {
			return strings.ToLower(row[col])
		}
		return ""
	}
	sort.SliceStable(rows, func(i, j int) bool { return sortKey(rows[i]) < sortKey(rows[j]) })
	ctx.Logger().Debugf("sorted %d rows on column %d", len(rows), col)

	for i, row := range rows {
		rows[i] = nil
		if err := c.emitRow(ctx, sink, row, keys); err != nil {
			return err
		}
	}
	return nil
}

func (c *CSVDatasource) emitRow(ctx *pipeline.Context, sink pipeline.Sink, row []string, keys *recordKeys) error {
	return emitRecord(ctx, sink, func() error {
		for i, v := range row {
			if c.cfg.Trim {
				v = strings.TrimSpace(v)
			}
			if _, err := sink.HandleValue(ctx, keys.at(i), model.String(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// recordKeys maps column indexes to event keys, generating record/f<i>
// for columns beyond the known names.
type recordKeys struct {
	keys []string
}

func newRecordKeys(names []string) *recordKeys {
	k := &recordKeys{}
	for _, n := range names {
		k.keys = append(k.keys, recordPrefix+n)
	}
	return k
}

func (k *recordKeys) at(i int) string {
	for len(k.keys) <= i {
		k.keys = append(k.keys, fmt.Sprintf("%sf%d", recordPrefix, len(k.keys)))
	}
	return k.keys[i]
}

func replaceEmptyNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if n = strings.TrimSpace(n); n == "" {
			n = fmt.Sprintf("f%d", i)
		}
		out[i] = n
	}
	return out
}

// openElement opens a feeder element, standard input for "-".
func openElement(f FileElement) (io.Reader, func(), error) {
	if f.IsStdin() {
		return os.Stdin, func() {}, nil
	}
	file, err := os.Open(f.FullName)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// sendItemStart announces a feeder element to the pipeline.
func sendItemStart(ctx *pipeline.Context, f FileElement) error {
	if f.IsStdin() {
		_, err := ctx.SendItemStart(model.String(StdinName))
		return err
	}
	return ctx.SendFileItemStart(f.FullName, f.RelName, f.ModTime)
}
