package endpoint

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// DefaultBoltBucket is used when neither the data name nor the config
// names a bucket.
const DefaultBoltBucket = "records"

// BoltEndpoint stores records as JSON in a bbolt database, one bucket per
// data name. Records are keyed by IDField, or by a generated uuid.
type BoltEndpoint struct {
	name   string
	cfg    config.BoltEndpointConfig
	mu     sync.Mutex
	db     *bbolt.DB
	logger logger.ILogger
}

// NewBoltEndpoint creates a bbolt endpoint.
func NewBoltEndpoint(name string, cfg config.BoltEndpointConfig, log logger.ILogger) *BoltEndpoint {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBoltBucket
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &BoltEndpoint{
		name:   name,
		cfg:    cfg,
		logger: log.SubLogger("BoltEndpoint"),
	}
}

// Name returns the endpoint name.
func (b *BoltEndpoint) Name() string { return b.name }

// Open opens the database file.
func (b *BoltEndpoint) Open(ctx context.Context) error {
	if b.cfg.Path == "" {
		return fmt.Errorf("bolt endpoint %s: path is required", b.name)
	}
	db, err := bbolt.Open(b.cfg.Path, 0o600, &bbolt.Options{Timeout: b.cfg.Timeout})
	if err != nil {
		return fmt.Errorf("opening bolt database %s: %w", b.cfg.Path, err)
	}
	b.mu.Lock()
	b.db = db
	b.mu.Unlock()
	b.logger.Debugf("bolt database opened: path=%s", b.cfg.Path)
	return nil
}

// Close closes the database.
func (b *BoltEndpoint) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// DataEndpoint creates a writer for the bucket named dataName.
func (b *BoltEndpoint) DataEndpoint(dataName string) (DataEndpoint, error) {
	bucket := dataName
	if bucket == "" {
		bucket = b.cfg.Bucket
	}
	return &boltData{accumulator: newAccumulator(), ep: b, dataName: dataName, bucket: []byte(strings.ToLower(bucket))}, nil
}

func (b *BoltEndpoint) database() (*bbolt.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, fmt.Errorf("bolt endpoint %s is not open", b.name)
	}
	return b.db, nil
}

type boltData struct {
	accumulator
	ep       *BoltEndpoint
	dataName string
	bucket   []byte
}

func (d *boltData) Name() string { return qualifiedName(d.ep.name, d.dataName) }

// Start creates the bucket.
func (d *boltData) Start(ctx context.Context) error {
	db, err := d.ep.database()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(d.bucket)
		return err
	})
}

func (d *boltData) Stop(ctx context.Context) error { return nil }

func (d *boltData) Add(ctx context.Context) error {
	return d.flush(func(rec *model.Map) error {
		db, err := d.ep.database()
		if err != nil {
			return err
		}
		var id string
		if d.ep.cfg.IDField != "" {
			id = rec.GetPath(d.ep.cfg.IDField).String()
		}
		if id == "" {
			id = uuid.NewString()
		}
		data, err := rec.MarshalJSON()
		if err != nil {
			return err
		}
		return db.Update(func(tx *bbolt.Tx) error {
			bkt, err := tx.CreateBucketIfNotExists(d.bucket)
			if err != nil {
				return err
			}
			return bkt.Put([]byte(id), data)
		})
	})
}

func (d *boltData) Delete(ctx context.Context, id string) error {
	db, err := d.ep.database()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(d.bucket)
		if bkt == nil {
			return nil
		}
		return bkt.Delete([]byte(id))
	})
}

// Exists reports whether a record with the given key is stored.
func (d *boltData) Exists(ctx context.Context, id string) (bool, error) {
	db, err := d.ep.database()
	if err != nil {
		return false, err
	}
	found := false
	err = db.View(func(tx *bbolt.Tx) error {
		if bkt := tx.Bucket(d.bucket); bkt != nil {
			found = bkt.Get([]byte(id)) != nil
		}
		return nil
	})
	return found, err
}

// Get returns the stored record for id, or nil.
func (d *boltData) Get(id string) (*model.Map, error) {
	db, err := d.ep.database()
	if err != nil {
		return nil, err
	}
	var out *model.Map
	err = db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(d.bucket)
		if bkt == nil {
			return nil
		}
		data := bkt.Get([]byte(id))
		if data == nil {
			return nil
		}
		v, err := model.DecodeJSON(strings.NewReader(string(data)))
		if err != nil {
			return err
		}
		out = v.Map()
		return nil
	})
	return out, err
}
