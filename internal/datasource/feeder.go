package datasource

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
)

// StdinName selects standard input instead of a file.
const StdinName = "-"

// FileElement is one file produced by a FileFeeder.
type FileElement struct {
	FullName string
	RelName  string
	ModTime  time.Time
}

// IsStdin reports whether the element stands for standard input.
func (e FileElement) IsStdin() bool { return e.FullName == StdinName }

// FileFeeder lists the files a file based datasource imports. Paths are
// glob patterns relative to Root. A directory named literally is walked;
// a directory matched by a wildcard is walked only when Recursive is set.
// Recursive descends into subdirectories. Include and Exclude patterns
// are matched against base names.
type FileFeeder struct {
	cfg config.FeederConfig
}

// NewFileFeeder validates the patterns and creates a feeder.
func NewFileFeeder(cfg config.FeederConfig) (*FileFeeder, error) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if len(cfg.Paths) == 0 {
		cfg.Paths = []string{"*"}
	}
	for _, group := range [][]string{cfg.Paths, cfg.Include, cfg.Exclude} {
		for _, pattern := range group {
			if _, err := filepath.Match(pattern, ""); err != nil {
				return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
			}
		}
	}
	return &FileFeeder{cfg: cfg}, nil
}

// Files returns the matching files per pattern, in lexical order within a
// pattern. A file matched twice is returned once.
func (f *FileFeeder) Files() ([]FileElement, error) {
	seen := make(map[string]struct{})
	var out []FileElement

	add := func(path string, info fs.FileInfo) {
		if !f.isIncluded(path) || f.isExcluded(path) {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		rel, err := filepath.Rel(f.cfg.Root, path)
		if err != nil {
			rel = path
		}
		out = append(out, FileElement{FullName: path, RelName: rel, ModTime: info.ModTime()})
	}

	for _, pattern := range f.cfg.Paths {
		if pattern == StdinName {
			out = append(out, FileElement{FullName: StdinName, RelName: StdinName, ModTime: time.Now()})
			continue
		}
		wildcard := hasGlobMeta(pattern)
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(f.cfg.Root, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			if !info.IsDir() {
				add(m, info)
				continue
			}
			if wildcard && !f.cfg.Recursive {
				continue
			}
			if err := f.walk(m, add); err != nil {
				return nil, err
			}
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no files matched patterns: %v", f.cfg.Paths)
	}
	return out, nil
}

func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

func (f *FileFeeder) walk(dir string, add func(string, fs.FileInfo)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !f.cfg.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		add(path, info)
		return nil
	})
}

// isIncluded checks if a file matches an include pattern, if any are set.
func (f *FileFeeder) isIncluded(file string) bool {
	if len(f.cfg.Include) == 0 {
		return true
	}
	for _, pattern := range f.cfg.Include {
		if matched, _ := filepath.Match(pattern, filepath.Base(file)); matched {
			return true
		}
	}
	return false
}

// isExcluded checks if a file matches any exclude pattern.
func (f *FileFeeder) isExcluded(file string) bool {
	for _, pattern := range f.cfg.Exclude {
		matched, _ := filepath.Match(pattern, filepath.Base(file))
		if matched {
			return true
		}
	}
	return false
}
