package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
)

const (
	defaultScrollSize = 500
	defaultScrollTime = time.Minute
)

// Hit is one document returned by a search.
type Hit struct {
	Index  string
	ID     string
	Source model.Value
}

// Scroller runs a scrolling search over one index and calls fn for every
// hit. It stops at the first error returned by fn.
type Scroller interface {
	Scroll(ctx context.Context, index string, fn func(Hit) error) error
}

// ElasticsearchOption configures the ElasticsearchDatasource.
type ElasticsearchOption func(*ElasticsearchDatasource)

// WithScroller replaces the Elasticsearch client based scroller.
func WithScroller(s Scroller) ElasticsearchOption {
	return func(d *ElasticsearchDatasource) {
		d.scroller = s
	}
}

// ElasticsearchDatasource scrolls through one or more indices. Up to
// MaxParallel indices are scrolled concurrently; hits are dispatched into
// the pipeline one at a time.
type ElasticsearchDatasource struct {
	cfg      config.ElasticsearchDatasourceConfig
	scroller Scroller
	logger   logger.ILogger
}

// NewElasticsearchDatasource creates an Elasticsearch scroll datasource.
func NewElasticsearchDatasource(cfg config.ElasticsearchDatasourceConfig, log logger.ILogger, opts ...ElasticsearchOption) (*ElasticsearchDatasource, error) {
	if len(cfg.Indices) == 0 {
		return nil, errors.New("no indices configured")
	}
	if cfg.Size <= 0 {
		cfg.Size = defaultScrollSize
	}
	if cfg.Scroll <= 0 {
		cfg.Scroll = defaultScrollTime
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.Query != "" && !json.Valid([]byte(cfg.Query)) {
		return nil, errors.New("query is not valid JSON")
	}

	d := &ElasticsearchDatasource{
		cfg:    cfg,
		logger: log.SubLogger("ElasticsearchDatasource"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.scroller == nil {
		esCfg := elasticsearch.Config{Addresses: cfg.Addresses}
		if cfg.Username != "" {
			esCfg.Username = cfg.Username
			esCfg.Password = cfg.Password
		}
		client, err := elasticsearch.NewClient(esCfg)
		if err != nil {
			return nil, fmt.Errorf("creating elasticsearch client: %w", err)
		}
		d.scroller = &esScroller{client: client, query: cfg.Query, size: cfg.Size, scroll: cfg.Scroll, logger: d.logger}
	}
	return d, nil
}

// Import scrolls all indices and sends every hit as a record with
// record/_index, record/_id and the flattened source fields.
func (d *ElasticsearchDatasource) Import(ctx *pipeline.Context, sink pipeline.Sink) error {
	if _, err := ctx.SendItemStart(model.String(strings.Join(d.cfg.Indices, ","))); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(d.cfg.MaxParallel)
	hits := make(chan Hit, d.cfg.Size)

	var scrollErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, index := range d.cfg.Indices {
			g.Go(func() error {
				return d.scroller.Scroll(gctx, index, func(h Hit) error {
					select {
					case hits <- h:
						return nil
					case <-gctx.Done():
						return gctx.Err()
					}
				})
			})
		}
		scrollErr = g.Wait()
		close(hits)
	}()

	var dispatchErr error
	count := 0
	for h := range hits {
		if dispatchErr != nil {
			continue
		}
		count++
		if err := d.emitHit(ctx, sink, h); err != nil {
			dispatchErr = err
			cancel()
		}
	}
	<-done

	if dispatchErr != nil {
		return dispatchErr
	}
	if scrollErr != nil {
		return scrollErr
	}
	ctx.Logger().Infof("scrolled %d documents from %d indices", count, len(d.cfg.Indices))
	_, err := ctx.SendItemStop()
	return err
}

func (d *ElasticsearchDatasource) emitHit(ctx *pipeline.Context, sink pipeline.Sink, h Hit) error {
	return emitRecord(ctx, sink, func() error {
		if _, err := sink.HandleValue(ctx, recordPrefix+"_index", model.String(h.Index)); err != nil {
			return err
		}
		if _, err := sink.HandleValue(ctx, recordPrefix+"_id", model.String(h.ID)); err != nil {
			return err
		}
		return sendFields(ctx, sink, h.Source, d.cfg.MaxLevel)
	})
}

// esScroller implements Scroller with the search and scroll APIs.
type esScroller struct {
	client *elasticsearch.Client
	query  string
	size   int
	scroll time.Duration
	logger logger.ILogger
}

type searchPage struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []rawHit `json:"hits"`
	} `json:"hits"`
}

type rawHit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

func (s *esScroller) Scroll(ctx context.Context, index string, fn func(Hit) error) error {
	search := s.client.Search
	opts := []func(*esapi.SearchRequest){
		search.WithContext(ctx),
		search.WithIndex(index),
		search.WithSize(s.size),
		search.WithScroll(s.scroll),
	}
	if s.query != "" {
		opts = append(opts, search.WithBody(strings.NewReader(s.query)))
	}
	res, err := search(opts...)
	if err != nil {
		return fmt.Errorf("search %s: %w", index, err)
	}
	page, err := decodePage(res)
	if err != nil {
		return fmt.Errorf("search %s: %w", index, err)
	}

	scrollID := page.ScrollID
	defer func() {
		if scrollID == "" {
			return
		}
		res, err := s.client.ClearScroll(s.client.ClearScroll.WithScrollID(scrollID))
		if err != nil {
			s.logger.Warningf("clear scroll failed: index=%s, error=%v", index, err)
			return
		}
		_ = res.Body.Close()
	}()

	for len(page.Hits.Hits) > 0 {
		for _, raw := range page.Hits.Hits {
			hit, err := raw.decode()
			if err != nil {
				return fmt.Errorf("decoding hit %s/%s: %w", raw.Index, raw.ID, err)
			}
			if err := fn(hit); err != nil {
				return err
			}
		}

		res, err := s.client.Scroll(
			s.client.Scroll.WithContext(ctx),
			s.client.Scroll.WithScrollID(scrollID),
			s.client.Scroll.WithScroll(s.scroll),
		)
		if err != nil {
			return fmt.Errorf("scroll %s: %w", index, err)
		}
		if page, err = decodePage(res); err != nil {
			return fmt.Errorf("scroll %s: %w", index, err)
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}
	return nil
}

func decodePage(res *esapi.Response) (*searchPage, error) {
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("request failed: %s", res.String())
	}
	var page searchPage
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &page, nil
}

func (h rawHit) decode() (Hit, error) {
	src, err := model.DecodeJSON(bytes.NewReader(h.Source))
	if err != nil {
		return Hit{}, err
	}
	return Hit{Index: h.Index, ID: h.ID, Source: src}, nil
}
