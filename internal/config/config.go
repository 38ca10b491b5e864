// Package config provides configuration loading with layered overrides.
// Load order: defaults -> YAML file -> environment variables.
package config

import (
	"os"
	"time"

	configloader "github.com/GabrielNunesIT/go-libs/config-loader"
)

// Config is the root configuration structure for the import engine.
type Config struct {
	LogLevel    string             `koanf:"loglevel" yaml:"log_level" json:"log_level"`
	Engine      EngineConfig       `koanf:"engine"`
	Endpoints   []EndpointConfig   `koanf:"endpoints"`
	Converters  []ConverterConfig  `koanf:"converters"`
	Categories  []CategoryConfig   `koanf:"categories"`
	Pipelines   []PipelineConfig   `koanf:"pipelines"`
	Datasources []DatasourceConfig `koanf:"datasources"`
}

// EngineConfig controls the import run as a whole.
type EngineConfig struct {
	ImportFlags     string        `koanf:"importflags" yaml:"import_flags" json:"import_flags"`
	LogAdds         int           `koanf:"logadds" yaml:"log_adds" json:"log_adds"`
	MaxAdds         int           `koanf:"maxadds" yaml:"max_adds" json:"max_adds"`
	MaxEmits        int           `koanf:"maxemits" yaml:"max_emits" json:"max_emits"`
	Scripts         []string      `koanf:"scripts"`
	RunStore        string        `koanf:"runstore" yaml:"run_store" json:"run_store"`
	Schedule        string        `koanf:"schedule"`
	MetricsAddr     string        `koanf:"metricsaddr" yaml:"metrics_addr" json:"metrics_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// PipelineConfig describes a named pipeline: its static actions and templates.
type PipelineConfig struct {
	Name       string           `koanf:"name"`
	Endpoint   string           `koanf:"endpoint"`
	Converters string           `koanf:"converters"`
	Trace      bool             `koanf:"trace"`
	Actions    []ActionConfig   `koanf:"actions"`
	Templates  []TemplateConfig `koanf:"templates"`
}

// ActionConfig holds the attributes of a single action. Which attributes are
// used depends on Type.
type ActionConfig struct {
	Key        string `koanf:"key"`
	Type       string `koanf:"type"`
	Endpoint   string `koanf:"endpoint"`
	Converters string `koanf:"converters"`
	Script     string `koanf:"script"`
	Forward    string `koanf:"forward"`
	ClrVar     string `koanf:"clrvar"`
	Debug      bool   `koanf:"debug"`

	// Shortcuts used for type inference.
	Add bool `koanf:"add"`
	Nop bool `koanf:"nop"`

	// field
	Field        string `koanf:"field"`
	FieldFromVar string `koanf:"fieldfromvar"`
	ToVar        string `koanf:"tovar"`
	FromVar      string `koanf:"fromvar"`
	FromField    string `koanf:"fromfield"`
	FromValue    string `koanf:"fromvalue"`
	Sep          string `koanf:"sep"`
	Flags        string `koanf:"flags"`

	// category
	Categories string `koanf:"categories"`

	// cond, checkexist, errorhandler
	Cond      string `koanf:"cond"`
	Negate    bool   `koanf:"negate"`
	OnMatch   string `koanf:"onmatch"`
	SkipUntil string `koanf:"skipuntil"`

	// emit
	Prefix   string `koanf:"prefix"`
	MaxLevel int    `koanf:"maxlevel"`

	// except
	Message string `koanf:"message"`
}

// TemplateConfig is an action prototype instantiated for keys matching Expr.
type TemplateConfig struct {
	Expr         string `koanf:"expr"`
	ActionConfig `koanf:",squash"`
}

// ConverterConfig defines a named, configured converter.
type ConverterConfig struct {
	Name       string          `koanf:"name"`
	Type       string          `koanf:"type"`
	Formats    []string        `koanf:"formats"`
	UTC        bool            `koanf:"utc"`
	GroupSep   string          `koanf:"groupsep" yaml:"group_sep" json:"group_sep"`
	DecimalSep string          `koanf:"decimalsep" yaml:"decimal_sep" json:"decimal_sep"`
	Sep        string          `koanf:"sep"`
	Format     string          `koanf:"format"`
	Arguments  []string        `koanf:"arguments"`
	Flags      string          `koanf:"flags"`
	Query      string          `koanf:"query"`
	DumpMissed int             `koanf:"dumpmissed" yaml:"dump_missed" json:"dump_missed"`
	Replace    []ReplaceConfig `koanf:"replace"`
}

// ReplaceConfig is one element of a replace converter.
type ReplaceConfig struct {
	Expr     string `koanf:"expr"`
	Value    string `koanf:"value"`
	Repl     string `koanf:"repl"`
	ReplExpr string `koanf:"replexpr" yaml:"repl_expr" json:"repl_expr"`
}

// CategoryConfig defines a named classification ruleset.
type CategoryConfig struct {
	Name     string               `koanf:"name"`
	Field    string               `koanf:"field"`
	Default  string               `koanf:"default"`
	Multiple bool                 `koanf:"multiple"`
	Rules    []CategoryRuleConfig `koanf:"rules"`
}

// CategoryRuleConfig assigns Category when Field matches Expr.
type CategoryRuleConfig struct {
	Field    string `koanf:"field"`
	Expr     string `koanf:"expr"`
	Category string `koanf:"category"`
}

// EndpointConfig selects an endpoint implementation by Type. Only the
// sub-config matching Type is read.
type EndpointConfig struct {
	Name          string                      `koanf:"name"`
	Type          string                      `koanf:"type"`
	Stdout        StdoutEndpointConfig        `koanf:"stdout"`
	JSON          JSONEndpointConfig          `koanf:"json"`
	CSV           CSVEndpointConfig           `koanf:"csv"`
	Elasticsearch ElasticsearchEndpointConfig `koanf:"elasticsearch"`
	Bolt          BoltEndpointConfig          `koanf:"bolt"`
	SQL           SQLEndpointConfig           `koanf:"sql"`
	Mongo         MongoEndpointConfig         `koanf:"mongo"`
	Loki          LokiEndpointConfig          `koanf:"loki"`
	VictoriaLogs  VictoriaLogsEndpointConfig  `koanf:"victorialogs"`
}

// StdoutEndpointConfig configures the stdout endpoint.
type StdoutEndpointConfig struct {
	Format string `koanf:"format"` // "json" or "text"
}

// JSONEndpointConfig configures the rotating JSON-lines file endpoint.
type JSONEndpointConfig struct {
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"maxsizemb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"maxbackups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"maxagedays" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `koanf:"compress"`
	LineSep    string `koanf:"linesep" yaml:"line_sep" json:"line_sep"`
}

// CSVEndpointConfig configures the CSV file endpoint.
type CSVEndpointConfig struct {
	Path       string   `koanf:"path"`
	Delimiter  string   `koanf:"delimiter"`
	Header     bool     `koanf:"header"`
	Lenient    bool     `koanf:"lenient"`
	Fields     []string `koanf:"fields"`
	FieldOrder []string `koanf:"fieldorder" yaml:"field_order" json:"field_order"`
}

// ElasticsearchEndpointConfig configures the Elasticsearch endpoint.
type ElasticsearchEndpointConfig struct {
	Addresses     []string      `koanf:"addresses"`
	Index         string        `koanf:"index"`
	Username      string        `koanf:"username"`
	Password      string        `koanf:"password"`
	IDField       string        `koanf:"idfield" yaml:"id_field" json:"id_field"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// BoltEndpointConfig configures the bbolt key/value endpoint.
type BoltEndpointConfig struct {
	Path    string        `koanf:"path"`
	Bucket  string        `koanf:"bucket"`
	IDField string        `koanf:"idfield" yaml:"id_field" json:"id_field"`
	Timeout time.Duration `koanf:"timeout"`
}

// SQLEndpointConfig configures the database/sql endpoint.
type SQLEndpointConfig struct {
	Driver   string `koanf:"driver"` // "sqlite", "postgres" or "mysql"
	DSN      string `koanf:"dsn"`
	Table    string `koanf:"table"`
	IDColumn string `koanf:"idcolumn" yaml:"id_column" json:"id_column"`
}

// MongoEndpointConfig configures the MongoDB endpoint.
type MongoEndpointConfig struct {
	URI        string `koanf:"uri"`
	Database   string `koanf:"database"`
	Collection string `koanf:"collection"`
	IDField    string `koanf:"idfield" yaml:"id_field" json:"id_field"`
}

// LokiEndpointConfig configures the Grafana Loki push endpoint. Records
// become log lines; Labels and LabelFields form the stream labels.
type LokiEndpointConfig struct {
	URL           string            `koanf:"url"`
	TenantID      string            `koanf:"tenantid" yaml:"tenant_id" json:"tenant_id"`
	Labels        map[string]string `koanf:"labels"`
	LabelFields   []string          `koanf:"labelfields" yaml:"label_fields" json:"label_fields"`
	MessageField  string            `koanf:"messagefield" yaml:"message_field" json:"message_field"`
	TimeField     string            `koanf:"timefield" yaml:"time_field" json:"time_field"`
	BatchSize     int               `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration     `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// VictoriaLogsEndpointConfig configures the VictoriaLogs jsonline endpoint.
type VictoriaLogsEndpointConfig struct {
	URL           string        `koanf:"url"`
	StreamFields  []string      `koanf:"streamfields" yaml:"stream_fields" json:"stream_fields"`
	MessageField  string        `koanf:"messagefield" yaml:"message_field" json:"message_field"`
	TimeField     string        `koanf:"timefield" yaml:"time_field" json:"time_field"`
	BatchSize     int           `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// DatasourceConfig selects a datasource implementation by Type.
type DatasourceConfig struct {
	Name          string                        `koanf:"name"`
	Type          string                        `koanf:"type"`
	Active        *bool                         `koanf:"active"`
	Pipeline      string                        `koanf:"pipeline"`
	Endpoint      string                        `koanf:"endpoint"`
	LogAdds       int                           `koanf:"logadds" yaml:"log_adds" json:"log_adds"`
	MaxAdds       *int                          `koanf:"maxadds" yaml:"max_adds" json:"max_adds"`
	MaxEmits      *int                          `koanf:"maxemits" yaml:"max_emits" json:"max_emits"`
	CSV           CSVDatasourceConfig           `koanf:"csv"`
	JSON          DocumentDatasourceConfig      `koanf:"json"`
	YAML          DocumentDatasourceConfig      `koanf:"yaml"`
	Elasticsearch ElasticsearchDatasourceConfig `koanf:"elasticsearch"`
	Journal       JournalDatasourceConfig       `koanf:"journal"`
	Logline       LoglineDatasourceConfig       `koanf:"logline"`
}

// IsActive reports whether the datasource takes part in a default run.
func (d DatasourceConfig) IsActive() bool {
	return d.Active == nil || *d.Active
}

// FeederConfig selects the files a file based datasource reads.
type FeederConfig struct {
	Root      string   `koanf:"root"`
	Paths     []string `koanf:"paths"`
	Recursive bool     `koanf:"recursive"`
	Include   []string `koanf:"include"`
	Exclude   []string `koanf:"exclude"`
}

// CSVDatasourceConfig configures the CSV datasource.
type CSVDatasourceConfig struct {
	Files      FeederConfig `koanf:"files"`
	Headers    string       `koanf:"headers"` // "false", "true" or "fieldnames"
	FieldNames []string     `koanf:"fieldnames"`
	Delimiter  string       `koanf:"delimiter"`
	Comment    string       `koanf:"comment"`
	Lenient    bool         `koanf:"lenient"`
	Trim       bool         `koanf:"trim"`
	StartAt    int          `koanf:"startat"`
	Sort       *int         `koanf:"sort"`
}

// DocumentDatasourceConfig configures the JSON and YAML datasources.
type DocumentDatasourceConfig struct {
	Files    FeederConfig `koanf:"files"`
	Lines    bool         `koanf:"lines"`
	MaxLevel int          `koanf:"maxlevel"`
}

// ElasticsearchDatasourceConfig configures the Elasticsearch scroll datasource.
type ElasticsearchDatasourceConfig struct {
	Addresses   []string      `koanf:"addresses"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	Indices     []string      `koanf:"indices"`
	Query       string        `koanf:"query"`
	Size        int           `koanf:"size"`
	Scroll      time.Duration `koanf:"scroll"`
	MaxParallel int           `koanf:"maxparallel"`
	MaxLevel    int           `koanf:"maxlevel"`
}

// LoglineDatasourceConfig configures the text log datasource. Patterns are
// regular expressions with named groups or the preset names combined,
// common, syslog and kv.
type LoglineDatasourceConfig struct {
	Files     FeederConfig      `koanf:"files"`
	Patterns  []string          `koanf:"patterns"`
	JSON      bool              `koanf:"json"`
	Level     bool              `koanf:"level"`
	Hostname  bool              `koanf:"hostname"`
	Fields    map[string]string `koanf:"fields"`
	Unmatched string            `koanf:"unmatched"` // "error" (default), "skip" or "raw"
}

// JournalDatasourceConfig configures the systemd journal datasource.
type JournalDatasourceConfig struct {
	Units []string      `koanf:"units"`
	Since time.Duration `koanf:"since"`
}

// defaults returns the default configuration values.
func defaults() Config {
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			LogAdds:         50000,
			MaxAdds:         -1,
			MaxEmits:        -1,
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from all sources with proper override order.
// Order: defaults -> config file -> environment variables.
func Load(configPath string) (*Config, error) {
	opts := []configloader.Option[Config]{
		configloader.WithDefaults[Config](defaults()),
	}

	if configPath != "" {
		opts = append(opts, configloader.WithFile[Config](configPath))
	} else {
		for _, path := range []string{"./importpipe.yaml", "/etc/importpipe/importpipe.yaml"} {
			if _, err := os.Stat(path); err == nil {
				opts = append(opts, configloader.WithFile[Config](path))
				break
			}
		}
	}

	opts = append(opts, configloader.WithEnv[Config]("IMPORTPIPE_"))

	loader := configloader.NewConfigLoader[Config](opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
