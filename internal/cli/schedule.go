package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/engine"
)

// NewScheduleCmd creates the schedule command.
func NewScheduleCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run imports on a cron schedule",
		Long: `Schedule runs the import on a cron schedule until interrupted. An import
still running when the next one is due is not overlapped.

Hot-reload: When a config file is specified, changes are applied to the
next import without requiring a restart. SIGHUP forces a reload.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd, cfgFile, logLevel)
		},
	}

	addImportFlags(cmd)
	cmd.Flags().String("cron", "", "cron expression, e.g. \"*/15 * * * *\" or \"@hourly\" (default: engine.schedule)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (default: engine.metricsaddr)")
	cmd.Flags().Bool("hot-reload", true, "enable hot-reload of config file")
	cmd.Flags().Bool("run-now", false, "run one import immediately after starting")

	return cmd
}

// scheduler owns the current engine. Reloads swap the engine between
// imports; an import in progress keeps the engine it started with.
type scheduler struct {
	mu     sync.Mutex
	eng    *engine.Engine
	deps   *engineDeps
	cmd    *cobra.Command
	names  []string
	logger logger.ILogger
}

func (s *scheduler) current() *engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eng
}

// reload builds an engine for cfg and makes it current. The old engine
// stays current when cfg does not build.
func (s *scheduler) reload(cfg *config.Config) error {
	applyImportOverrides(s.cmd, cfg)
	eng, err := s.deps.build(cfg, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.eng = eng
	s.mu.Unlock()
	s.logger.Infof("engine reloaded: pipelines=%d, datasources=%d", len(eng.Pipelines()), len(eng.Datasources()))
	return nil
}

// runOnce runs one import with the current engine.
func (s *scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.current().Import(ctx, s.names)
	switch {
	case err != nil:
		s.logger.Errorf("scheduled import failed: %v", err)
	case report.Failed():
		s.logger.Warningf("scheduled import finished with ignored failures: %s", report)
	}
}

func runSchedule(cmd *cobra.Command, cfgFile, logLevel *string) error {
	cfg, log, err := loadConfigAndLogger(cmd, cfgFile, logLevel)
	if err != nil {
		return err
	}
	applyImportOverrides(cmd, cfg)

	spec, _ := cmd.Flags().GetString("cron")
	if spec == "" {
		spec = cfg.Engine.Schedule
	}
	if spec == "" {
		return errors.New("no schedule configured (engine.schedule or --cron)")
	}
	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" {
		addr = cfg.Engine.MetricsAddr
	}

	deps, err := openEngineDeps(cmd, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warningf("closing run store: %v", err)
		}
	}()

	eng, err := deps.build(cfg, log)
	if err != nil {
		return err
	}
	s := &scheduler{eng: eng, deps: deps, cmd: cmd, logger: log.SubLogger("Scheduler")}
	s.names, _ = cmd.Flags().GetStringSlice("datasource")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl := cronLogger{log: log.SubLogger("Cron")}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	var srv *http.Server
	if addr != "" {
		srv = startMetricsServer(addr, deps, log)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	hotReloadEnabled, _ := cmd.Flags().GetBool("hot-reload")
	if *cfgFile != "" && hotReloadEnabled {
		startConfigWatcher(ctx, cfgFile, s, log)
	}

	c.Start()
	log.Infof("scheduler started: schedule=%q, datasources=%d", spec, len(eng.Datasources()))

	if runNow, _ := cmd.Flags().GetBool("run-now"); runNow {
		go s.runOnce(ctx)
	}

	handleSignals(ctx, cancel, sigChan, cfgFile, s, log)

	return shutdown(c, srv, cfg.Engine.ShutdownTimeout, log)
}

// shutdown stops the scheduler and waits for a running import to finish,
// at most timeout.
func shutdown(c *cron.Cron, srv *http.Server, timeout time.Duration, log logger.ILogger) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	select {
	case <-c.Stop().Done():
	case <-shutdownCtx.Done():
		errs = append(errs, errors.New("timed out waiting for running import"))
	}

	log.Info("scheduler stopped")
	return errors.Join(errs...)
}

func startMetricsServer(addr string, deps *engineDeps, log logger.ILogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", deps.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}

func startConfigWatcher(ctx context.Context, cfgFile *string, s *scheduler, log logger.ILogger) {
	watcher := config.NewConfigWatcher(*cfgFile, log, config.WithValidator(func(cfg *config.Config) error {
		_, err := engine.New(cfg, logger.NewConsoleLogger(io.Discard))
		return err
	}))
	if err := watcher.Start(ctx); err != nil {
		log.Warningf("failed to start config watcher: %v", err)
		return
	}

	log.Infof("hot-reload enabled: config=%s", *cfgFile)

	go func() {
		for {
			select {
			case newCfg := <-watcher.Changes():
				if err := s.reload(newCfg); err != nil {
					log.Errorf("reload failed: %v", err)
				}
			case err := <-watcher.Errors():
				log.Errorf("config watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal, cfgFile *string, s *scheduler, log logger.ILogger) {
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading config")
				newCfg, err := config.Load(*cfgFile)
				if err != nil {
					log.Errorf("failed to reload config: %v", err)
					continue
				}
				if err := s.reload(newCfg); err != nil {
					log.Errorf("reload failed: %v", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Infof("received shutdown signal: %v", sig)
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	log logger.ILogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugf("%s%s", msg, formatKeysAndValues(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorf("%s: %v%s", msg, err, formatKeysAndValues(keysAndValues))
}

func formatKeysAndValues(kv []interface{}) string {
	out := ""
	for i := 0; i+1 < len(kv); i += 2 {
		out += fmt.Sprintf(", %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		out += fmt.Sprintf(", %v", kv[len(kv)-1])
	}
	return out
}
