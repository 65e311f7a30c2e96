package cli

import (
	"os"
	"path/filepath"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/retrosoft-labs/retrosoft/internal/config"
	"github.com/retrosoft-labs/retrosoft/internal/metrics"
	"github.com/retrosoft-labs/retrosoft/internal/updater"
	"go.uber.org/zap"
)

const fingerprintFile = "fingerprints.json"

func fingerprintPath() string {
	return filepath.Join(config.Dir(), fingerprintFile)
}

// newUpdater builds the GitHub client for the configured repository.
// RETROSOFT_MIRROR overrides where release assets are downloaded from.
func newUpdater(s *config.Settings, l *zap.Logger, m *metrics.Metrics, opts ...updater.Option) *updater.Updater {
	base := []updater.Option{
		updater.WithRepo(s.GitHubRepo),
		updater.WithBranch(s.Branch),
		updater.WithLogger(l),
		updater.WithMetrics(m),
	}
	if mirror := os.Getenv(branding.EnvVar("MIRROR")); mirror != "" {
		base = append(base, updater.WithMirror(mirror))
	}
	return updater.New(buildVersion, append(base, opts...)...)
}

// newLive wires the tracked-file checker and downloader for s.
func newLive(s *config.Settings, l *zap.Logger, m *metrics.Metrics) *updater.Live {
	u := newUpdater(s, l, m)
	store := updater.OpenFingerprintStore(fingerprintPath())
	checker := updater.NewChecker(updater.NewFileSource(u, s.TrackedFiles), store, l, m)
	return updater.NewLive(checker, updater.NewDownloader(u, store, s.InstallDir), l)
}

// logEvents writes live updater events to l until events is closed or done
// is closed.
func logEvents(events <-chan updater.Event, done <-chan struct{}, l *zap.Logger) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fields := []zap.Field{zap.String("event", string(ev.Kind)), zap.Bool("silent", ev.Silent)}
			if len(ev.Files) > 0 {
				fields = append(fields, zap.Strings("files", ev.Files))
			}
			if ev.Err != nil {
				l.Warn("live update", append(fields, zap.Error(ev.Err))...)
				continue
			}
			l.Info("live update", fields...)
		}
	}
}
