// Package runstore keeps the administration of import runs: per
// datasource, the most recent runs with their outcome and counters.
package runstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"go.etcd.io/bbolt"
)

// DefaultKeep is the number of runs kept per datasource.
const DefaultKeep = 100

var runsBucket = []byte("runs")

// Run is the outcome of one datasource run.
type Run struct {
	Datasource string        `json:"datasource"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	State      string        `json:"state"`
	Added      int           `json:"added"`
	Emitted    int           `json:"emitted"`
	Deleted    int           `json:"deleted"`
	Skipped    int           `json:"skipped"`
	Errors     int           `json:"errors"`
	Error      string        `json:"error,omitempty"`
}

// Store persists runs in a bbolt database: a bucket per datasource under
// "runs", keyed by start time.
type Store struct {
	db     *bbolt.DB
	keep   int
	logger logger.ILogger
}

// Open opens or creates the run store at path. keep bounds the runs kept
// per datasource; zero selects DefaultKeep.
func Open(path string, keep int, log logger.ILogger) (*Store, error) {
	if path == "" {
		return nil, errors.New("run store path is required")
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening run store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing run store: %w", err)
	}
	return &Store{db: db, keep: keep, logger: log.SubLogger("RunStore")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func runKey(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}

// Record stores a run and drops the oldest runs of its datasource beyond
// the retention.
func (s *Store) Record(r Run) error {
	if r.Datasource == "" {
		return errors.New("run without datasource")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(runsBucket).CreateBucketIfNotExists([]byte(r.Datasource))
		if err != nil {
			return err
		}
		if err := b.Put(runKey(r.Started), data); err != nil {
			return err
		}

		c := b.Cursor()
		n := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		excess := n - s.keep
		if excess <= 0 {
			return nil
		}
		var stale [][]byte
		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		s.logger.Debugf("pruned %d runs of %s", len(stale), r.Datasource)
		return nil
	})
}

// Last returns the most recent run of a datasource.
func (s *Store) Last(datasource string) (Run, bool, error) {
	var run Run
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket).Bucket([]byte(datasource))
		if b == nil {
			return nil
		}
		_, v := b.Cursor().Last()
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &run)
	})
	return run, found, err
}

// History returns up to limit runs of a datasource, newest first. An
// empty datasource lists the runs of all datasources, grouped by name.
// A limit of zero or less returns everything kept.
func (s *Store) History(datasource string, limit int) ([]Run, error) {
	var out []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(runsBucket)
		collect := func(b *bbolt.Bucket) error {
			n := 0
			c := b.Cursor()
			for k, v := c.Last(); k != nil; k, v = c.Prev() {
				if limit > 0 && n >= limit {
					break
				}
				var run Run
				if err := json.Unmarshal(v, &run); err != nil {
					return fmt.Errorf("decoding run: %w", err)
				}
				out = append(out, run)
				n++
			}
			return nil
		}

		if datasource != "" {
			if b := root.Bucket([]byte(datasource)); b != nil {
				return collect(b)
			}
			return nil
		}
		return root.ForEach(func(name, _ []byte) error {
			if b := root.Bucket(name); b != nil {
				return collect(b)
			}
			return nil
		})
	})
	return out, err
}

// Datasources lists the datasources with recorded runs.
func (s *Store) Datasources() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(name, _ []byte) error {
			out = append(out, string(name))
			return nil
		})
	})
	return out, err
}
