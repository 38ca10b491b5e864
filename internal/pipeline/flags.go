package pipeline

import (
	"fmt"
	"strings"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
)

// ActionFlags are set by actions and scripts during the dispatch of one event.
type ActionFlags uint32

const (
	// Skip tells the current action to stop after its script hook.
	Skip ActionFlags = 1 << 0
	// SkipRest stops the chain of actions registered for the same key.
	SkipRest ActionFlags = 1 << 2
	// SkipAll combines Skip and SkipRest.
	SkipAll = Skip | SkipRest
	// Handled is set whenever a non no-op action ran.
	Handled ActionFlags = 1 << 8
	// Skipped marks an event swallowed by a pending skip-until key.
	Skipped ActionFlags = 1 << 9
	// ConditionMatched is set by condition actions that matched.
	ConditionMatched ActionFlags = 1 << 10
)

// Has reports whether all bits of f are set.
func (a ActionFlags) Has(f ActionFlags) bool { return a&f == f }

// ImportFlags tune a whole import run.
type ImportFlags uint32

const (
	FullImport ImportFlags = 1 << iota
	TraceValues
	IgnoreErrors
	IgnoreLimited
	Silent
	RetryErrors
	// IgnoreAll ignores both errors and limits.
	IgnoreAll = IgnoreErrors | IgnoreLimited
)

var importFlagNames = map[string]ImportFlags{
	"fullimport":    FullImport,
	"tracevalues":   TraceValues,
	"ignoreerrors":  IgnoreErrors,
	"ignorelimited": IgnoreLimited,
	"ignoreall":     IgnoreAll,
	"silent":        Silent,
	"retryerrors":   RetryErrors,
}

// ParseImportFlags parses a comma or semicolon separated flag list.
func ParseImportFlags(s string) (ImportFlags, error) {
	var f ImportFlags
	for _, part := range config.SplitList(s) {
		v, ok := importFlagNames[strings.ToLower(part)]
		if !ok {
			return 0, fmt.Errorf("unknown import flag %q", part)
		}
		f |= v
	}
	return f, nil
}

// Has reports whether all bits of f are set.
func (i ImportFlags) Has(f ImportFlags) bool { return i&f == f }

// String lists the set flags.
func (i ImportFlags) String() string {
	var parts []string
	for _, n := range []string{"fullimport", "tracevalues", "ignoreerrors", "ignorelimited", "silent", "retryerrors"} {
		if i.Has(importFlagNames[n]) {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, ",")
}

// ErrorState summarizes how a datasource run ended.
type ErrorState uint8

const (
	StateRunning ErrorState = 1 << iota
	StateLimited
	StateError
)

// String renders the state for logs and reports.
func (s ErrorState) String() string {
	switch {
	case s&StateError != 0:
		return "error"
	case s&StateLimited != 0:
		return "limited"
	case s&StateRunning != 0:
		return "running"
	}
	return "ok"
}
