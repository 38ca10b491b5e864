package datasource

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
)

// CommonLogPatterns provides pre-built regex patterns for common log formats.
var CommonLogPatterns = map[string]string{
	// Apache/Nginx Combined Log Format
	"combined": `^(?P<remote_addr>\S+) \S+ (?P<remote_user>\S+) \[(?P<time_local>[^\]]+)\] "(?P<request>[^"]*)" (?P<status>\d+) (?P<body_bytes>\d+|-) "(?P<http_referer>[^"]*)" "(?P<http_user_agent>[^"]*)"`,

	// Common Log Format
	"common": `^(?P<remote_addr>\S+) \S+ (?P<remote_user>\S+) \[(?P<time_local>[^\]]+)\] "(?P<request>[^"]*)" (?P<status>\d+) (?P<body_bytes>\d+|-)`,

	// Syslog (RFC 3164)
	"syslog": `^<(?P<priority>\d+)>(?P<timestamp>\w{3}\s+\d+\s+\d+:\d+:\d+)\s+(?P<hostname>\S+)\s+(?P<program>[^\[:]+)(?:\[(?P<pid>\d+)\])?:\s*(?P<message>.*)`,

	// Key-Value pairs
	"kv": `(?P<key>\w+)=(?P<value>"[^"]*"|\S+)`,
}

// Unmatched line handling.
const (
	unmatchedError = "error"
	unmatchedSkip  = "skip"
	unmatchedRaw   = "raw"
)

type linePattern struct {
	re *regexp.Regexp
	kv bool
}

// LoglineDatasource imports text log files. Every line becomes one record
// whose fields are the named groups of the first matching pattern.
type LoglineDatasource struct {
	cfg       config.LoglineDatasourceConfig
	feeder    *FileFeeder
	patterns  []linePattern
	unmatched string
	hostname  string
	static    []string
}

// NewLoglineDatasource creates a text log datasource.
func NewLoglineDatasource(cfg config.LoglineDatasourceConfig) (*LoglineDatasource, error) {
	feeder, err := NewFileFeeder(cfg.Files)
	if err != nil {
		return nil, err
	}
	l := &LoglineDatasource{cfg: cfg, feeder: feeder, unmatched: strings.ToLower(cfg.Unmatched)}

	switch l.unmatched {
	case "":
		l.unmatched = unmatchedError
	case unmatchedError, unmatchedSkip, unmatchedRaw:
	default:
		return nil, fmt.Errorf("invalid unmatched mode %q: must be error, skip or raw", cfg.Unmatched)
	}

	for _, p := range cfg.Patterns {
		expr, preset := CommonLogPatterns[strings.ToLower(p)]
		if !preset {
			expr = p
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		kv := preset && strings.EqualFold(p, "kv")
		if !kv && !hasNamedGroup(re) {
			return nil, fmt.Errorf("pattern %q has no named groups", p)
		}
		l.patterns = append(l.patterns, linePattern{re: re, kv: kv})
	}
	if len(l.patterns) == 0 && !cfg.JSON && l.unmatched != unmatchedRaw {
		return nil, fmt.Errorf("no patterns configured")
	}

	if cfg.Hostname {
		l.hostname, _ = os.Hostname()
	}
	for k := range cfg.Fields {
		l.static = append(l.static, k)
	}
	sort.Strings(l.static)
	return l, nil
}

func hasNamedGroup(re *regexp.Regexp) bool {
	for _, n := range re.SubexpNames() {
		if n != "" {
			return true
		}
	}
	return false
}

// Import reads every file of the feeder.
func (l *LoglineDatasource) Import(ctx *pipeline.Context, sink pipeline.Sink) error {
	files, err := l.feeder.Files()
	if err != nil {
		return err
	}
	for _, f := range files {
		ctx.Logger().Infof("importing %s", f.FullName)
		if err := l.importFile(ctx, sink, f); err != nil {
			return fmt.Errorf("file %s: %w", f.FullName, err)
		}
	}
	return nil
}

func (l *LoglineDatasource) importFile(ctx *pipeline.Context, sink pipeline.Sink, f FileElement) error {
	r, closeFn, err := openElement(f)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := sendItemStart(ctx, f); err != nil {
		return err
	}
	if err := l.importLines(ctx, sink, f.FullName, r); err != nil {
		return err
	}
	_, err = ctx.SendItemStop()
	return err
}

func (l *LoglineDatasource) importLines(ctx *pipeline.Context, sink pipeline.Sink, name string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line, parsed, unmatched := 0, 0, 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		parsed++
		matched, err := l.importLine(ctx, sink, line, text)
		if !matched {
			unmatched++
		}
		if err != nil {
			return err
		}
	}
	if unmatched > 0 {
		ctx.Logger().Warningf("%s: %d of %d lines matched no pattern (unmatched=%s)", name, unmatched, parsed, l.unmatched)
	}
	return scanner.Err()
}

// importLine parses one line and emits it as a record. It reports whether
// the line was parsed as JSON or matched a pattern.
func (l *LoglineDatasource) importLine(ctx *pipeline.Context, sink pipeline.Sink, line int, text string) (bool, error) {
	if l.cfg.JSON {
		if doc, ok := parseJSONLine(text); ok {
			return true, emitRecord(ctx, sink, func() error {
				if err := sendFields(ctx, sink, doc, pipeline.UnlimitedDepth); err != nil {
					return err
				}
				return l.sendExtras(ctx, sink, text, doc.Map())
			})
		}
	}

	fields, matched := l.match(text)
	if !matched {
		switch l.unmatched {
		case unmatchedSkip:
			ctx.Logger().Debugf("line %d skipped: no pattern matched", line)
			ctx.Skipped++
			return false, nil
		case unmatchedRaw:
			ctx.Logger().Debugf("line %d imported raw: no pattern matched", line)
			fields = model.NewMap()
			fields.Set("message", model.String(text))
		default:
			return false, recordFailed(ctx, fmt.Errorf("line %d: no pattern matched", line))
		}
	}
	return matched, emitRecord(ctx, sink, func() error {
		var err error
		fields.Range(func(k string, v model.Value) bool {
			_, err = sink.HandleValue(ctx, recordPrefix+k, v)
			return err == nil
		})
		if err != nil {
			return err
		}
		return l.sendExtras(ctx, sink, text, fields)
	})
}

// match returns the named groups of the first matching pattern.
func (l *LoglineDatasource) match(text string) (*model.Map, bool) {
	for _, p := range l.patterns {
		if p.kv {
			if m := matchKeyValues(p.re, text); m.Len() > 0 {
				return m, true
			}
			continue
		}
		groups := p.re.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		m := model.NewMap()
		for i, name := range p.re.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			m.Set(name, model.String(groups[i]))
		}
		return m, true
	}
	return nil, false
}

// matchKeyValues collects every key=value pair of a line. Quoted values
// lose their quotes.
func matchKeyValues(re *regexp.Regexp, text string) *model.Map {
	m := model.NewMap()
	for _, kv := range re.FindAllStringSubmatch(text, -1) {
		m.Set(kv[1], model.String(strings.Trim(kv[2], `"`)))
	}
	return m
}

// parseJSONLine decodes a line holding a JSON object.
func parseJSONLine(text string) (model.Value, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return model.Null(), false
	}
	doc, err := model.DecodeJSON(strings.NewReader(trimmed))
	if err != nil || doc.Kind() != model.KindMap {
		return model.Null(), false
	}
	return doc, true
}

// sendExtras sends the detected level, the static fields and the host name
// for fields the line did not provide itself.
func (l *LoglineDatasource) sendExtras(ctx *pipeline.Context, sink pipeline.Sink, text string, have *model.Map) error {
	send := func(name string, v model.Value) error {
		if _, exists := have.Get(name); exists {
			return nil
		}
		_, err := sink.HandleValue(ctx, recordPrefix+name, v)
		return err
	}
	if l.cfg.Level {
		if level := ParseLevel(text); level != "" {
			if err := send("level", model.String(level)); err != nil {
				return err
			}
		}
	}
	for _, k := range l.static {
		if err := send(k, model.String(l.cfg.Fields[k])); err != nil {
			return err
		}
	}
	if l.hostname != "" {
		return send("hostname", model.String(l.hostname))
	}
	return nil
}

// ParseLevel extracts the log level of a line. WARNING is reported as WARN
// and CRITICAL as FATAL.
func ParseLevel(raw string) string {
	raw = strings.ToUpper(raw)
	levels := []string{"FATAL", "CRITICAL", "ERROR", "WARN", "INFO", "DEBUG", "TRACE"}
	for _, level := range levels {
		if strings.Contains(raw, level) {
			if level == "CRITICAL" {
				return "FATAL"
			}
			return level
		}
	}
	return ""
}
