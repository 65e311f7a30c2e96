package updater

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"go.uber.org/zap"
)

// bannerRefreshTimeout bounds the background cache refresh.
const bannerRefreshTimeout = 10 * time.Second

// CheckAndPrintBanner prints an update banner from the cached release check.
// It never blocks on the network: a stale cache is refreshed in the
// background for the next invocation. The returned channel closes when
// that refresh (if any) finishes.
func (u *Updater) CheckAndPrintBanner(ctx context.Context, w io.Writer, dir string) <-chan struct{} {
	done := make(chan struct{})

	cache, err := LoadCache(dir)
	if err != nil {
		u.logger.Debug("ignoring unreadable version cache", zap.Error(err))
	}
	if cache != nil && cache.UpdateAvailable && IsNewer(cache.LatestVersion, u.currentVersion) {
		PrintUpdateBanner(w, u.currentVersion, cache.LatestVersion)
	}

	if !IsCacheStale(cache, DefaultCacheMaxAge) {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		u.refreshCache(ctx, dir)
	}()
	return done
}

// PrintUpdateBanner prints the update notification to w.
func PrintUpdateBanner(w io.Writer, current, latest string) {
	fmt.Fprintf(w, "\nUpdate available: %s -> %s\n", current, latest)
	fmt.Fprintf(w, "    Run `%s update` to upgrade\n\n", branding.CLIName())
}

func (u *Updater) refreshCache(ctx context.Context, dir string) {
	ctx, cancel := context.WithTimeout(ctx, bannerRefreshTimeout)
	defer cancel()

	release, err := u.CheckLatestVersion(ctx)
	if err != nil {
		u.logger.Debug("background release check failed", zap.Error(err))
		return
	}
	if err := RecordRelease(dir, u.currentVersion, release.Version); err != nil {
		u.logger.Debug("saving version cache failed", zap.Error(err))
	}
}
