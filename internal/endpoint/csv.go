package endpoint

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// CSVEndpoint writes records as CSV rows. Field names map to column
// indexes: either numbers ("3" or "F3"), or, in lenient mode, names that
// get the next free column on first use. Fields restricts the export to
// the listed names; FieldOrder only fixes the first columns.
type CSVEndpoint struct {
	name      string
	cfg       config.CSVEndpointConfig
	delim     rune
	lenient   bool
	selective bool
	order     []string

	mu      sync.Mutex
	indexes map[string]int
	next    int
	file    io.WriteCloser
	writer  *csv.Writer
	logger  logger.ILogger
}

// NewCSVEndpoint creates a CSV endpoint.
func NewCSVEndpoint(name string, cfg config.CSVEndpointConfig, log logger.ILogger) (*CSVEndpoint, error) {
	if len(cfg.Fields) > 0 && len(cfg.FieldOrder) > 0 {
		return nil, fmt.Errorf("csv endpoint %s: fields and fieldorder cannot be specified together", name)
	}
	e := &CSVEndpoint{
		name:    name,
		cfg:     cfg,
		delim:   ',',
		lenient: cfg.Lenient,
		indexes: make(map[string]int),
		logger:  log.SubLogger("CSVEndpoint"),
	}
	if cfg.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(cfg.Delimiter)
		if size != len(cfg.Delimiter) {
			return nil, fmt.Errorf("csv endpoint %s: delimiter must be a single character", name)
		}
		e.delim = r
	}

	e.order = cfg.Fields
	if len(e.order) == 0 {
		e.order = cfg.FieldOrder
	}
	if len(e.order) > 0 {
		e.lenient = true
		for _, f := range e.order {
			if _, err := e.keyToIndex(f); err != nil {
				return nil, err
			}
		}
		e.selective = len(cfg.Fields) > 0
	}
	return e, nil
}

// Name returns the endpoint name.
func (c *CSVEndpoint) Name() string { return c.name }

// Open creates the output file and writes the header if requested.
func (c *CSVEndpoint) Open(ctx context.Context) error {
	if c.cfg.Path == "" {
		return fmt.Errorf("csv endpoint %s: path is required", c.name)
	}
	f, err := os.Create(c.cfg.Path)
	if err != nil {
		return fmt.Errorf("creating csv file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.file = f
	c.writer = csv.NewWriter(f)
	c.writer.Comma = c.delim
	if c.cfg.Header && len(c.order) > 0 {
		return c.writer.Write(c.order)
	}
	return nil
}

// Close flushes and closes the output file.
func (c *CSVEndpoint) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		return nil
	}
	c.writer.Flush()
	err := errors.Join(c.writer.Error(), c.file.Close())
	c.writer, c.file = nil, nil
	if c.lenient {
		c.logger.Infof("lenient indexes: %s", c.lenientIndexes())
	}
	return err
}

// DataEndpoint creates a writer; all data names share the one file.
func (c *CSVEndpoint) DataEndpoint(dataName string) (DataEndpoint, error) {
	return &csvData{accumulator: newAccumulator(), ep: c, dataName: dataName}, nil
}

func (c *CSVEndpoint) keyToIndex(key string) (int, error) {
	if c.lenient {
		lk := strings.ToLower(key)
		if ix, ok := c.indexes[lk]; ok {
			return ix, nil
		}
		ix := -1
		if !c.selective {
			ix = c.next
			c.next++
		}
		c.indexes[lk] = ix
		return ix, nil
	}

	num := key
	if num != "" && (num[0] == 'f' || num[0] == 'F') {
		num = num[1:]
	}
	ix, err := strconv.Atoi(num)
	if err != nil || ix < 0 {
		return 0, fmt.Errorf("field name %q should be a number or an F with a number", key)
	}
	return ix, nil
}

// lenientIndexes renders the assigned column names in column order.
func (c *CSVEndpoint) lenientIndexes() string {
	type col struct {
		name string
		ix   int
	}
	var cols []col
	for k, ix := range c.indexes {
		if ix >= 0 {
			cols = append(cols, col{k, ix})
		}
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].ix < cols[j].ix })
	names := make([]string, len(cols))
	for i, cl := range cols {
		names[i] = cl.name
	}
	return strings.Join(names, string(c.delim))
}

func (c *CSVEndpoint) writeRecord(rec *model.Map) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writer == nil {
		return fmt.Errorf("csv endpoint %s is not open", c.name)
	}
	var row []string
	var err error
	rec.Range(func(k string, v model.Value) bool {
		var ix int
		if ix, err = c.keyToIndex(k); err != nil {
			return false
		}
		if ix < 0 || v.IsNull() {
			return true
		}
		for len(row) <= ix {
			row = append(row, "")
		}
		row[ix] = csvText(v)
		return true
	})
	if err != nil || len(row) == 0 {
		return err
	}
	return c.writer.Write(row)
}

func csvText(v model.Value) string {
	if v.Kind() == model.KindTime {
		return v.Time().Format(time.RFC3339)
	}
	return v.String()
}

type csvData struct {
	accumulator
	ep       *CSVEndpoint
	dataName string
}

func (d *csvData) Name() string { return qualifiedName(d.ep.name, d.dataName) }

func (d *csvData) Start(ctx context.Context) error { return nil }
func (d *csvData) Stop(ctx context.Context) error  { return nil }

func (d *csvData) Add(ctx context.Context) error {
	return d.flush(d.ep.writeRecord)
}

func (d *csvData) Delete(ctx context.Context, id string) error {
	return ErrDeleteUnsupported
}
