package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/retrosoft-labs/retrosoft/internal/config"
	"github.com/retrosoft-labs/retrosoft/internal/configwatch"
	"github.com/retrosoft-labs/retrosoft/internal/metrics"
	"github.com/retrosoft-labs/retrosoft/internal/supervisor"
	"github.com/retrosoft-labs/retrosoft/internal/telemetry"
	"github.com/retrosoft-labs/retrosoft/internal/updater"
	"github.com/retrosoft-labs/retrosoft/internal/workerdef"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	releaseFingerprintFile = "release.json"
	controlShutdownTimeout = 5 * time.Second
)

var (
	runMaxRestarts     int
	runBackoff         bool
	runPollInterval    time.Duration
	runReleaseInterval time.Duration
	runPollConfig      bool
)

func init() {
	runCmd.Flags().IntVar(&runMaxRestarts, "max-restarts", 0, "Give up on a worker after this many restarts (0 = unlimited)")
	runCmd.Flags().BoolVar(&runBackoff, "backoff", false, "Delay restarts of crash-looping workers exponentially")
	runCmd.Flags().DurationVar(&runPollInterval, "interval", supervisor.DefaultInterval, "Supervisor poll interval")
	runCmd.Flags().DurationVar(&runReleaseInterval, "release-interval", updater.DefaultCacheMaxAge, "How often to look for a new release")
	runCmd.Flags().BoolVar(&runPollConfig, "poll-config", false, "Poll the config file instead of watching file events")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background daemon",
	Long: `Starts every worker declared in workers.yaml (or the built-in set), restarts
workers that exit, and starts or stops workers when their toggle key changes
in config.json. The control address serves /status and /metrics.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.EnsureDir(); err != nil {
			return err
		}
		defsPath := filepath.Join(config.Dir(), workerdef.FileName)
		defs, usingDefaults, err := workerdef.Load(defsPath)
		if err != nil {
			return err
		}
		if usingDefaults {
			logger.Info("using built-in worker definitions", zap.String("path", defsPath))
		}
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("finding current binary: %w", err)
		}

		policy := supervisor.RestartPolicy{MaxRestarts: runMaxRestarts, Backoff: runBackoff}
		d, err := newDaemon(config.FilePath(), defs, self, policy, logger)
		if err != nil {
			return err
		}
		return d.run(cmd.Context())
	},
}

// daemon owns the long-running pieces started by `run`.
type daemon struct {
	configPath string
	settings   *config.Settings
	toggles    map[string][]string
	sup        *supervisor.Supervisor
	watcher    *configwatch.Watcher
	releases   *updater.Updater
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func newDaemon(configPath string, defs *workerdef.File, self string, policy supervisor.RestartPolicy, l *zap.Logger) (*daemon, error) {
	d := &daemon{
		configPath: configPath,
		settings:   config.Load(configPath),
		toggles:    defs.ByToggle(),
		metrics:    metrics.New(),
		logger:     l,
	}

	reporter := telemetry.New(buildVersion, config.Dir(), d.telemetrySettings,
		telemetry.WithLogger(l.Named("telemetry")))

	sup, err := supervisor.New(defs.Definitions(self, d.settings.Toggle),
		supervisor.WithLogger(l.Named("supervisor")),
		supervisor.WithMetrics(d.metrics),
		supervisor.WithInterval(runPollInterval),
		supervisor.WithPolicy(policy),
		supervisor.WithTask("telemetry", reporter.Run),
	)
	if err != nil {
		return nil, err
	}
	d.sup = sup
	d.releases = newUpdater(d.settings, l, d.metrics)
	d.watcher = configwatch.New(configPath, d.applyConfigChange,
		configwatch.WithLogger(l.Named("config")),
		configwatch.WithMetrics(d.metrics))
	return d, nil
}

// telemetrySettings reads the current toggle from the watcher's snapshot so
// a change takes effect at the next heartbeat.
func (d *daemon) telemetrySettings() (bool, string) {
	s, _ := config.DecodeLenient(d.watcher.Snapshot())
	return s.Telemetry, s.TelemetryURL
}

// applyConfigChange starts or stops the workers bound to each toggle whose
// value changed. An absent toggle counts as enabled, and so does one whose
// value does not decode.
func (d *daemon) applyConfigChange(newCfg, oldCfg map[string]any) {
	settings, invalid := config.DecodeLenient(newCfg)
	if len(invalid) > 0 {
		d.logger.Warn("config values do not decode, using defaults", zap.Strings("keys", invalid))
	}
	for _, key := range configwatch.ChangedKeys(newCfg, oldCfg) {
		key = strings.ToLower(key)
		names := d.toggles[key]
		if len(names) == 0 {
			continue
		}
		on := settings.Toggle(key)
		d.logger.Info("toggle changed", zap.String("key", key), zap.Bool("enabled", on))
		for _, name := range names {
			apply := d.sup.Stop
			if on {
				apply = d.sup.Start
			}
			if err := apply(name); err != nil {
				d.logger.Warn("applying toggle failed", zap.String("worker", name), zap.Error(err))
			}
		}
	}
}

// watchReleases records newer releases in the version cache so the next
// interactive command prints the update banner.
func (d *daemon) watchReleases(ctx context.Context, interval time.Duration) {
	src := updater.NewReleaseSource(d.releases)
	store := updater.OpenFingerprintStore(filepath.Join(config.Dir(), releaseFingerprintFile))
	checker := updater.NewChecker(src, store, d.logger.Named("release"), d.metrics)

	check := func() {
		out, started := checker.Check(ctx, updater.CheckRequest{})
		if !started || out.Kind != updater.OutcomeFound {
			return
		}
		r := src.Latest()
		if r == nil {
			return
		}
		d.logger.Info("new release available", zap.String("current", buildVersion), zap.String("latest", r.Version))
		if err := updater.RecordRelease(config.Dir(), buildVersion, r.Version); err != nil {
			d.logger.Warn("saving version cache failed", zap.Error(err))
		}
		if err := store.Set(updater.ReleaseArtifact, r.Version); err != nil {
			d.logger.Warn("saving release fingerprint failed", zap.Error(err))
		}
	}

	if interval <= 0 {
		interval = updater.DefaultCacheMaxAge
	}
	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

type statusResponse struct {
	Workers []supervisor.Record `json:"workers"`
	Report  string              `json:"report"`
}

// controlRoutes serves the daemon's local control API.
func (d *daemon) controlRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Workers: d.sup.Snapshot(), Report: d.sup.Report()})
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", d.metrics.Handler())
	return r
}

func (d *daemon) serveControl(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           d.controlRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("control server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), controlShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// run blocks until ctx is cancelled. Workers are shut down before it
// returns.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	goBackground := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
				d.logger.Error(name+" stopped", zap.Error(err))
			}
		}()
	}

	goBackground("config watcher", func(ctx context.Context) error {
		if runPollConfig {
			return d.watcher.Poll(ctx, configwatch.DefaultPollInterval)
		}
		return d.watcher.Start(ctx)
	})
	goBackground("control server", func(ctx context.Context) error {
		return d.serveControl(ctx, d.settings.ControlAddr)
	})
	goBackground("release watcher", func(ctx context.Context) error {
		d.watchReleases(ctx, runReleaseInterval)
		return nil
	})

	d.logger.Info("daemon started", zap.Strings("workers", d.sup.Names()), zap.String("version", buildVersion))
	d.sup.Run(ctx)
	cancel()
	wg.Wait()
	d.logger.Info("daemon stopped")
	return nil
}
