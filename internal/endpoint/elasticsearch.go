package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// IndexerFactory creates a new BulkIndexer.
type IndexerFactory func(cfg config.ElasticsearchEndpointConfig) (esutil.BulkIndexer, error)

// ElasticsearchOption configures the ElasticsearchEndpoint.
type ElasticsearchOption func(*ElasticsearchEndpoint)

// WithIndexerFactory sets a custom factory for creating the BulkIndexer.
// This is primarily used for testing to inject a mock indexer.
func WithIndexerFactory(f IndexerFactory) ElasticsearchOption {
	return func(e *ElasticsearchEndpoint) {
		e.factory = f
	}
}

// ElasticsearchEndpoint writes records to Elasticsearch through a bulk
// indexer. The data name selects the index; IDField, when set, is moved
// out of the document and used as its id.
type ElasticsearchEndpoint struct {
	name    string
	cfg     config.ElasticsearchEndpointConfig
	factory IndexerFactory
	indexer esutil.BulkIndexer
	mu      sync.Mutex
	failed  int
	logger  logger.ILogger
}

// NewElasticsearchEndpoint creates a new Elasticsearch endpoint.
func NewElasticsearchEndpoint(name string, cfg config.ElasticsearchEndpointConfig, log logger.ILogger, opts ...ElasticsearchOption) *ElasticsearchEndpoint {
	e := &ElasticsearchEndpoint{
		name:   name,
		cfg:    cfg,
		logger: log.SubLogger("ElasticsearchEndpoint"),
	}

	// Default factory creates real client and indexer
	e.factory = func(cfg config.ElasticsearchEndpointConfig) (esutil.BulkIndexer, error) {
		esCfg := elasticsearch.Config{
			Addresses: cfg.Addresses,
		}

		if cfg.Username != "" {
			esCfg.Username = cfg.Username
			esCfg.Password = cfg.Password
		}

		client, err := elasticsearch.NewClient(esCfg)
		if err != nil {
			return nil, fmt.Errorf("creating elasticsearch client: %w", err)
		}

		return esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
			Client:        client,
			Index:         cfg.Index,
			NumWorkers:    2,
			FlushBytes:    5e+6, // 5MB
			FlushInterval: cfg.FlushInterval,
		})
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Name returns the endpoint name.
func (e *ElasticsearchEndpoint) Name() string { return e.name }

// Open creates the client and bulk indexer.
func (e *ElasticsearchEndpoint) Open(ctx context.Context) error {
	indexer, err := e.factory(e.cfg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.indexer = indexer
	e.failed = 0
	e.mu.Unlock()
	return nil
}

// Close flushes and closes the bulk indexer.
func (e *ElasticsearchEndpoint) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.indexer == nil {
		return nil
	}
	err := e.indexer.Close(ctx)
	stats := e.indexer.Stats()
	e.logger.Infof("bulk indexer closed: indexed=%d, deleted=%d, failed=%d",
		stats.NumIndexed, stats.NumDeleted, stats.NumFailed)
	e.indexer = nil
	if err == nil && e.failed > 0 {
		err = fmt.Errorf("%d bulk items failed", e.failed)
	}
	return err
}

// DataEndpoint creates a writer for the index named dataName, or the
// configured index when empty.
func (e *ElasticsearchEndpoint) DataEndpoint(dataName string) (DataEndpoint, error) {
	index := dataName
	if index == "" {
		index = e.cfg.Index
	}
	if index == "" {
		return nil, fmt.Errorf("elasticsearch endpoint %s: no index configured", e.name)
	}
	return &esData{accumulator: newAccumulator(), ep: e, dataName: dataName, index: index}, nil
}

func (e *ElasticsearchEndpoint) add(ctx context.Context, item esutil.BulkIndexerItem) error {
	e.mu.Lock()
	indexer := e.indexer
	e.mu.Unlock()
	if indexer == nil {
		return fmt.Errorf("elasticsearch endpoint %s is not open", e.name)
	}

	item.OnFailure = func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
		e.mu.Lock()
		e.failed++
		e.mu.Unlock()
		if err != nil {
			e.logger.Errorf("bulk %s failed: index=%s, id=%s, error=%v", item.Action, item.Index, item.DocumentID, err)
			return
		}
		e.logger.Errorf("bulk %s failed: index=%s, id=%s, type=%s, reason=%s",
			item.Action, item.Index, item.DocumentID, res.Error.Type, res.Error.Reason)
	}
	return indexer.Add(ctx, item)
}

type esData struct {
	accumulator
	ep       *ElasticsearchEndpoint
	dataName string
	index    string
}

func (d *esData) Name() string { return qualifiedName(d.ep.name, d.dataName) }

func (d *esData) Start(ctx context.Context) error { return nil }
func (d *esData) Stop(ctx context.Context) error  { return nil }

func (d *esData) Add(ctx context.Context) error {
	return d.flush(func(rec *model.Map) error {
		id := takeID(rec, d.ep.cfg.IDField)
		data, err := rec.MarshalJSON()
		if err != nil {
			return err
		}
		return d.ep.add(ctx, esutil.BulkIndexerItem{
			Index:      d.index,
			Action:     "index",
			DocumentID: id,
			Body:       bytes.NewReader(data),
		})
	})
}

func (d *esData) Delete(ctx context.Context, id string) error {
	return d.ep.add(ctx, esutil.BulkIndexerItem{
		Index:      d.index,
		Action:     "delete",
		DocumentID: id,
	})
}
