package endpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLEndpoint inserts records as rows through database/sql. The data name
// selects the table; top level fields map to columns.
type SQLEndpoint struct {
	name   string
	cfg    config.SQLEndpointConfig
	mu     sync.Mutex
	db     *sql.DB
	logger logger.ILogger
}

// NewSQLEndpoint creates a SQL endpoint. Driver is one of sqlite, postgres
// or mysql.
func NewSQLEndpoint(name string, cfg config.SQLEndpointConfig, log logger.ILogger) (*SQLEndpoint, error) {
	cfg.Driver = strings.ToLower(cfg.Driver)
	switch cfg.Driver {
	case "sqlite", "postgres":
	case "mysql":
		if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
			return nil, fmt.Errorf("sql endpoint %s: invalid mysql dsn: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("sql endpoint %s: unsupported driver %q", name, cfg.Driver)
	}
	if cfg.IDColumn == "" {
		cfg.IDColumn = "id"
	}
	if !identRe.MatchString(cfg.IDColumn) {
		return nil, fmt.Errorf("sql endpoint %s: invalid id column %q", name, cfg.IDColumn)
	}
	if cfg.Table != "" && !identRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("sql endpoint %s: invalid table %q", name, cfg.Table)
	}
	return &SQLEndpoint{
		name:   name,
		cfg:    cfg,
		logger: log.SubLogger("SQLEndpoint"),
	}, nil
}

// Name returns the endpoint name.
func (s *SQLEndpoint) Name() string { return s.name }

// Open connects and pings the database.
func (s *SQLEndpoint) Open(ctx context.Context) error {
	db, err := sql.Open(s.cfg.Driver, s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %s: %w", s.cfg.Driver, err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	s.logger.Debugf("sql endpoint opened: driver=%s", s.cfg.Driver)
	return nil
}

// Close closes the connection pool.
func (s *SQLEndpoint) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DataEndpoint creates a writer for the table named dataName.
func (s *SQLEndpoint) DataEndpoint(dataName string) (DataEndpoint, error) {
	table := dataName
	if table == "" {
		table = s.cfg.Table
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("sql endpoint %s: invalid table %q", s.name, table)
	}
	return &sqlData{accumulator: newAccumulator(), ep: s, dataName: dataName, table: table}, nil
}

func (s *SQLEndpoint) database() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("sql endpoint %s is not open", s.name)
	}
	return s.db, nil
}

func (s *SQLEndpoint) quote(ident string) string {
	if s.cfg.Driver == "mysql" {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

// placeholder returns the n-th (1 based) bind parameter.
func (s *SQLEndpoint) placeholder(n int) string {
	if s.cfg.Driver == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// insertStatement builds the INSERT for the top level fields of rec.
func (s *SQLEndpoint) insertStatement(table string, rec *model.Map) (string, []any, error) {
	var cols, marks []string
	var args []any
	var err error
	rec.Range(func(k string, v model.Value) bool {
		if !identRe.MatchString(k) {
			err = fmt.Errorf("invalid column name %q", k)
			return false
		}
		cols = append(cols, s.quote(k))
		args = append(args, sqlValue(v))
		marks = append(marks, s.placeholder(len(args)))
		return true
	})
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.quote(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	return query, args, nil
}

// sqlValue converts a value to a driver argument. Containers are stored as JSON.
func sqlValue(v model.Value) any {
	switch v.Kind() {
	case model.KindNull:
		return nil
	case model.KindBool:
		return v.Bool()
	case model.KindInt:
		return v.Int()
	case model.KindFloat:
		return v.Float()
	case model.KindTime:
		return v.Time()
	}
	return v.String()
}

type sqlData struct {
	accumulator
	ep       *SQLEndpoint
	dataName string
	table    string
}

func (d *sqlData) Name() string { return qualifiedName(d.ep.name, d.dataName) }

func (d *sqlData) Start(ctx context.Context) error { return nil }
func (d *sqlData) Stop(ctx context.Context) error  { return nil }

func (d *sqlData) Add(ctx context.Context) error {
	return d.flush(func(rec *model.Map) error {
		db, err := d.ep.database()
		if err != nil {
			return err
		}
		query, args, err := d.ep.insertStatement(d.table, rec)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", d.table, err)
		}
		return nil
	})
}

func (d *sqlData) Delete(ctx context.Context, id string) error {
	db, err := d.ep.database()
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		d.ep.quote(d.table), d.ep.quote(d.ep.cfg.IDColumn), d.ep.placeholder(1))
	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete from %s: %w", d.table, err)
	}
	return nil
}

// Exists reports whether a row with the given id is present.
func (d *sqlData) Exists(ctx context.Context, id string) (bool, error) {
	db, err := d.ep.database()
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s LIMIT 1",
		d.ep.quote(d.table), d.ep.quote(d.ep.cfg.IDColumn), d.ep.placeholder(1))
	var one int
	err = db.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists in %s: %w", d.table, err)
	}
	return true, nil
}
