package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
	"github.com/GabrielNunesIT/import-pipeline/internal/runstore"
)

// DatasourceResult is the outcome of one datasource run.
type DatasourceResult struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	State    pipeline.ErrorState

	Added, Emitted, Deleted, Skipped, Errors int

	// Err is the error that ended the run; Ignored reports whether the
	// import flags let the import continue past it.
	Err     error
	Ignored bool
}

// Run converts the result into a run store entry.
func (r DatasourceResult) Run() runstore.Run {
	run := runstore.Run{
		Datasource: r.Name,
		Started:    r.Started,
		Duration:   r.Duration,
		State:      r.State.String(),
		Added:      r.Added,
		Emitted:    r.Emitted,
		Deleted:    r.Deleted,
		Skipped:    r.Skipped,
		Errors:     r.Errors,
	}
	if r.Err != nil {
		run.Error = r.Err.Error()
	}
	return run
}

// Report summarizes an import.
type Report struct {
	Started     time.Time
	Duration    time.Duration
	Datasources []DatasourceResult
}

// Added returns the records added over all datasources.
func (r *Report) Added() int {
	n := 0
	for _, d := range r.Datasources {
		n += d.Added
	}
	return n
}

// Failed reports whether any datasource ended with an error or a limit.
func (r *Report) Failed() bool {
	for _, d := range r.Datasources {
		if d.Err != nil {
			return true
		}
	}
	return false
}

func (r *Report) String() string {
	parts := make([]string, len(r.Datasources))
	for i, d := range r.Datasources {
		parts[i] = fmt.Sprintf("%s=%s(added=%d)", d.Name, d.State, d.Added)
	}
	return fmt.Sprintf("datasources=%d, added=%d, elapsed=%s [%s]",
		len(r.Datasources), r.Added(), r.Duration.Round(time.Millisecond), strings.Join(parts, ", "))
}
