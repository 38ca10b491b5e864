//go:build linux && cgo

package datasource

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
)

// JournalDatasource imports entries from the systemd journal.
type JournalDatasource struct {
	cfg config.JournalDatasourceConfig
}

// NewJournalDatasource creates a systemd journal datasource.
func NewJournalDatasource(cfg config.JournalDatasourceConfig) *JournalDatasource {
	return &JournalDatasource{cfg: cfg}
}

// Import reads the journal from Since ago (or the beginning) up to its
// current end.
func (j *JournalDatasource) Import(ctx *pipeline.Context, sink pipeline.Sink) error {
	journal, err := sdjournal.NewJournal()
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer journal.Close()

	// Matches on the same field are ORed by the journal.
	for _, unit := range j.cfg.Units {
		if err := journal.AddMatch(fmt.Sprintf("_SYSTEMD_UNIT=%s", unit)); err != nil {
			return fmt.Errorf("adding unit filter %q: %w", unit, err)
		}
	}

	if j.cfg.Since > 0 {
		since := time.Now().Add(-j.cfg.Since)
		if err := journal.SeekRealtimeUsec(uint64(since.UnixMicro())); err != nil {
			return fmt.Errorf("seeking journal: %w", err)
		}
	} else if err := journal.SeekHead(); err != nil {
		return fmt.Errorf("seeking to journal head: %w", err)
	}

	if _, err := ctx.SendItemStart(model.String("journal")); err != nil {
		return err
	}
	for {
		n, err := journal.Next()
		if err != nil {
			return fmt.Errorf("reading next entry: %w", err)
		}
		if n == 0 {
			break
		}

		entry, err := journal.GetEntry()
		if err != nil {
			if err := recordFailed(ctx, err); err != nil {
				return err
			}
			continue
		}
		doc := model.MapValue(journalRecord(entry.Fields, entry.RealtimeTimestamp))
		if err := emitDocument(ctx, sink, doc, 1); err != nil {
			return err
		}
	}
	_, err = ctx.SendItemStop()
	return err
}
