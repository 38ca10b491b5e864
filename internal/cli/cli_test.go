package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/runstore"
	"github.com/GabrielNunesIT/import-pipeline/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var cfgFile, logLevel string
	root := &cobra.Command{Use: "importpipe", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "error", "")
	root.AddCommand(
		NewRunCmd(&cfgFile, &logLevel),
		NewScheduleCmd(&cfgFile, &logLevel),
		NewValidateCmd(&cfgFile),
		NewDumpCmd(&cfgFile),
		NewHistoryCmd(&cfgFile),
		NewVersionCmd(),
	)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// writeProject creates a CSV file and a config importing it into a json
// file endpoint. It returns the config path and the project directory.
func writeProject(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "people.csv"), []byte("name,age\nalice,30\nbob,40\n"), 0o644))

	cfg := `
loglevel: error
engine:
  runstore: ` + filepath.Join(dir, "runs.db") + `
endpoints:
  - name: out
    type: json
    json:
      path: ` + filepath.Join(dir, "out.json") + `
pipelines:
  - name: main
    endpoint: out
    actions:
      - key: record/name
        field: name
      - key: record
        add: true
    templates:
      - expr: "^record/(a.*)$"
        field: "${1}"
datasources:
  - name: people
    type: csv
    csv:
      headers: fieldnames
      files:
        root: ` + dir + `
        paths: ["*.csv"]
`
	path := filepath.Join(dir, "importpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, dir
}

func TestRunCmd_ImportsAndRecords(t *testing.T) {
	cfgPath, dir := writeProject(t)
	metricsPath := filepath.Join(dir, "importpipe.prom")

	_, err := execute(t, "run", "-c", cfgPath, "--metrics-file", metricsPath)
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join(dir, "out.json"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"alice"`)
	assert.Contains(t, lines[0], `"age"`)
	assert.Contains(t, lines[1], `"bob"`)

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `importpipe_datasource_runs_total{datasource="people",state="ok"} 1`)

	history, err := execute(t, "history", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, history, "DATASOURCE")
	assert.Contains(t, history, "people")
}

func TestRunCmd_MaxAddsOverride(t *testing.T) {
	cfgPath, dir := writeProject(t)

	_, err := execute(t, "run", "-c", cfgPath, "--maxadds", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "people")

	_, err = execute(t, "run", "-c", cfgPath, "--maxadds", "1", "--flags", "ignorelimited")
	require.NoError(t, err)

	history, err := execute(t, "history", "-c", cfgPath, "--datasource", "people")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(history), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "limited", "newest run first")
	assert.Contains(t, lines[2], "limited")
	assert.FileExists(t, filepath.Join(dir, "runs.db"))
}

func TestRunCmd_DryRunWritesNothing(t *testing.T) {
	cfgPath, dir := writeProject(t)

	_, err := execute(t, "run", "-c", cfgPath, "--dry-run")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "out.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "dry run must not create the endpoint file")
	_, err = os.Stat(filepath.Join(dir, "runs.db"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "dry run must not record runs")
}

func TestRunCmd_UnknownDatasource(t *testing.T) {
	cfgPath, _ := writeProject(t)

	_, err := execute(t, "run", "-c", cfgPath, "nope")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown datasources: nope")
}

func TestValidateCmd(t *testing.T) {
	cfgPath, _ := writeProject(t)

	out, err := execute(t, "validate", "-c", cfgPath)

	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "Datasources: 1 (people)")
}

func TestValidateCmd_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "importpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loglevel: error\n"), 0o644))

	_, err := execute(t, "validate", "-c", path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine configuration error")
}

func TestDumpCmd(t *testing.T) {
	cfgPath, _ := writeProject(t)

	out, err := execute(t, "dump", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline main (endpoint=out)")
	assert.Contains(t, out, "2 actions")
	assert.Contains(t, out, "record/name")
	assert.Contains(t, out, "1 templates")

	_, err = execute(t, "dump", "-c", cfgPath, "other")
	require.Error(t, err)
}

func TestScheduleCmd_RequiresSchedule(t *testing.T) {
	cfgPath, _ := writeProject(t)

	_, err := execute(t, "schedule", "-c", cfgPath, "--hot-reload=false")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schedule configured")
}

func TestScheduleCmd_InvalidCron(t *testing.T) {
	cfgPath, _ := writeProject(t)

	_, err := execute(t, "schedule", "-c", cfgPath, "--hot-reload=false", "--cron", "not a schedule")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "importpipe dev\n", out)

	out, err = execute(t, "version", "--verbose")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "importpipe dev\n  go: go"), out)
}

func TestApplyImportOverrides(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	addImportFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--maxemits", "5", "--flags", "tracevalues", "--runstore", "/tmp/r.db"}))

	cfg := &config.Config{Engine: config.EngineConfig{MaxAdds: 10, MaxEmits: -1, ImportFlags: "ignoreerrors"}}
	applyImportOverrides(cmd, cfg)

	assert.Equal(t, 10, cfg.Engine.MaxAdds, "unchanged flags keep configured values")
	assert.Equal(t, 5, cfg.Engine.MaxEmits)
	assert.Equal(t, "ignoreerrors,tracevalues", cfg.Engine.ImportFlags)
	assert.Equal(t, "/tmp/r.db", cfg.Engine.RunStore)
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	runs := []runstore.Run{{
		Datasource: "people",
		Started:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local),
		Duration:   1500 * time.Millisecond,
		State:      "error",
		Added:      3,
		Errors:     1,
		Error:      "boom",
	}}

	require.NoError(t, printHistory(&buf, runs))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "DATASOURCE"))
	assert.Contains(t, lines[1], "2024-05-01 10:00:00")
	assert.Contains(t, lines[1], "1.5s")
	assert.Contains(t, lines[1], "boom")
}

func TestFormatKeysAndValues(t *testing.T) {
	assert.Equal(t, "", formatKeysAndValues(nil))
	assert.Equal(t, ", now=1, entry=2", formatKeysAndValues([]interface{}{"now", 1, "entry", 2}))
	assert.Equal(t, ", a=1, odd", formatKeysAndValues([]interface{}{"a", 1, "odd"}))
}

func TestCronLogger(t *testing.T) {
	log, buf := testutil.NewCaptureLogger()
	cl := cronLogger{log: log}

	cl.Info("wake", "now", 1)
	cl.Error(errors.New("boom"), "panic", "entry", 3)

	out := buf.String()
	assert.Contains(t, out, "wake, now=1")
	assert.Contains(t, out, "panic: boom, entry=3")
}

func TestSetupLogging(t *testing.T) {
	var buf bytes.Buffer
	log := SetupLogging("verbose", &buf)
	require.NotNil(t, log)
	assert.Contains(t, buf.String(), `unknown log level "verbose"`)

	buf.Reset()
	log = SetupLogging("error", &buf)
	log.Info("hidden")
	assert.NotContains(t, buf.String(), "hidden")
}
