package endpoint

import (
	"fmt"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
)

// New creates the endpoint described by cfg.
func New(cfg config.EndpointConfig, log logger.ILogger) (Endpoint, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("endpoint without name")
	}
	switch strings.ToLower(cfg.Type) {
	case "memory":
		return NewMemoryEndpoint(cfg.Name), nil
	case "", "stdout":
		return NewStdoutEndpoint(cfg.Name, cfg.Stdout, log), nil
	case "json":
		return NewJSONEndpoint(cfg.Name, cfg.JSON, log), nil
	case "csv":
		e, err := NewCSVEndpoint(cfg.Name, cfg.CSV, log)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "elasticsearch", "es":
		return NewElasticsearchEndpoint(cfg.Name, cfg.Elasticsearch, log), nil
	case "bolt":
		return NewBoltEndpoint(cfg.Name, cfg.Bolt, log), nil
	case "sql":
		e, err := NewSQLEndpoint(cfg.Name, cfg.SQL, log)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "mongo", "mongodb":
		e, err := NewMongoEndpoint(cfg.Name, cfg.Mongo, log)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "loki":
		return NewLokiEndpoint(cfg.Name, cfg.Loki, log), nil
	case "victorialogs", "vlogs":
		return NewVictoriaLogsEndpoint(cfg.Name, cfg.VictoriaLogs, log), nil
	}
	return nil, fmt.Errorf("endpoint %s: unknown type %q", cfg.Name, cfg.Type)
}
