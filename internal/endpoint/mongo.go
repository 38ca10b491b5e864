package endpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/GabrielNunesIT/go-libs/logger"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// MongoEndpoint writes records as documents, one collection per data name.
// With IDField set, the field becomes _id and records are upserted.
type MongoEndpoint struct {
	name   string
	cfg    config.MongoEndpointConfig
	mu     sync.Mutex
	client *mongo.Client
	logger logger.ILogger
}

// NewMongoEndpoint creates a MongoDB endpoint.
func NewMongoEndpoint(name string, cfg config.MongoEndpointConfig, log logger.ILogger) (*MongoEndpoint, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo endpoint %s: uri is required", name)
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongo endpoint %s: database is required", name)
	}
	return &MongoEndpoint{
		name:   name,
		cfg:    cfg,
		logger: log.SubLogger("MongoEndpoint"),
	}, nil
}

// Name returns the endpoint name.
func (m *MongoEndpoint) Name() string { return m.name }

// Open connects the client.
func (m *MongoEndpoint) Open(ctx context.Context) error {
	client, err := mongo.Connect(options.Client().ApplyURI(m.cfg.URI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	m.logger.Debugf("mongo endpoint opened: database=%s", m.cfg.Database)
	return nil
}

// Close disconnects the client.
func (m *MongoEndpoint) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	return err
}

// DataEndpoint creates a writer for the collection named dataName.
func (m *MongoEndpoint) DataEndpoint(dataName string) (DataEndpoint, error) {
	coll := dataName
	if coll == "" {
		coll = m.cfg.Collection
	}
	if coll == "" {
		return nil, fmt.Errorf("mongo endpoint %s: no collection configured", m.name)
	}
	return &mongoData{accumulator: newAccumulator(), ep: m, dataName: dataName, collection: coll}, nil
}

func (m *MongoEndpoint) collection(name string) (*mongo.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil, fmt.Errorf("mongo endpoint %s is not open", m.name)
	}
	return m.client.Database(m.cfg.Database).Collection(name), nil
}

// toBSON converts a record into an ordered document.
func toBSON(rec *model.Map) bson.D {
	doc := make(bson.D, 0, rec.Len())
	rec.Range(func(k string, v model.Value) bool {
		doc = append(doc, bson.E{Key: k, Value: bsonValue(v)})
		return true
	})
	return doc
}

func bsonValue(v model.Value) any {
	switch v.Kind() {
	case model.KindMap:
		return toBSON(v.Map())
	case model.KindSeq:
		arr := make(bson.A, len(v.Seq()))
		for i, e := range v.Seq() {
			arr[i] = bsonValue(e)
		}
		return arr
	case model.KindOpaque:
		return v.String()
	}
	return v.Native()
}

type mongoData struct {
	accumulator
	ep         *MongoEndpoint
	dataName   string
	collection string
}

func (d *mongoData) Name() string { return qualifiedName(d.ep.name, d.dataName) }

func (d *mongoData) Start(ctx context.Context) error { return nil }
func (d *mongoData) Stop(ctx context.Context) error  { return nil }

func (d *mongoData) Add(ctx context.Context) error {
	return d.flush(func(rec *model.Map) error {
		coll, err := d.ep.collection(d.collection)
		if err != nil {
			return err
		}
		id := takeID(rec, d.ep.cfg.IDField)
		doc := toBSON(rec)
		if id == "" {
			if _, err := coll.InsertOne(ctx, doc); err != nil {
				return fmt.Errorf("insertOne: %w", err)
			}
			return nil
		}
		doc = append(bson.D{{Key: "_id", Value: id}}, doc...)
		_, err = coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("replaceOne: %w", err)
		}
		return nil
	})
}

func (d *mongoData) Delete(ctx context.Context, id string) error {
	coll, err := d.ep.collection(d.collection)
	if err != nil {
		return err
	}
	if _, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return fmt.Errorf("deleteOne: %w", err)
	}
	return nil
}

// Exists reports whether a document with the given _id is present.
func (d *mongoData) Exists(ctx context.Context, id string) (bool, error) {
	coll, err := d.ep.collection(d.collection)
	if err != nil {
		return false, err
	}
	n, err := coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("countDocuments: %w", err)
	}
	return n > 0, nil
}
