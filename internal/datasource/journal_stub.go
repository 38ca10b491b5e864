//go:build !linux || !cgo

package datasource

import (
	"fmt"
	"runtime"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
)

// JournalDatasource is a stub for systems without the systemd journal.
type JournalDatasource struct {
	cfg config.JournalDatasourceConfig
}

// NewJournalDatasource creates a journal datasource stub.
func NewJournalDatasource(cfg config.JournalDatasourceConfig) *JournalDatasource {
	return &JournalDatasource{cfg: cfg}
}

// Import returns an error on systems without journal support.
func (j *JournalDatasource) Import(ctx *pipeline.Context, sink pipeline.Sink) error {
	return fmt.Errorf("journal datasource is only supported on Linux with cgo (current OS: %s)", runtime.GOOS)
}
