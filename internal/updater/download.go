package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// DownloadResult reports per-artifact download results.
type DownloadResult struct {
	Succeeded []string
	Failed    map[string]error
}

// Err joins the failures, or returns nil when every artifact succeeded.
func (r DownloadResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	slices.Sort(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, r.Failed[name]))
	}
	return errors.Join(errs...)
}

// FailedNames returns the failed artifact names, sorted.
func (r DownloadResult) FailedNames() []string {
	names := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Downloader fetches tracked files into a local directory and records their
// fingerprints. It does not guard against concurrent calls for the same
// artifact; the orchestrator does.
type Downloader struct {
	u       *Updater
	store   *FingerprintStore
	destDir string
}

// NewDownloader writes files under destDir and fingerprints into store.
func NewDownloader(u *Updater, store *FingerprintStore, destDir string) *Downloader {
	return &Downloader{u: u, store: store, destDir: destDir}
}

// DestDir returns the directory files are written to.
func (d *Downloader) DestDir() string {
	return d.destDir
}

// Download fetches every named artifact independently. One artifact's
// failure never aborts the others; a failed artifact keeps its previous
// local content and fingerprint.
func (d *Downloader) Download(ctx context.Context, names []string) DownloadResult {
	type result struct {
		name string
		err  error
	}
	results := make([]result, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = result{name: name, err: d.downloadOne(ctx, name)}
		}(i, name)
	}
	wg.Wait()

	res := DownloadResult{Failed: map[string]error{}}
	for _, r := range results {
		d.u.metrics.ObserveDownload(r.err == nil)
		if r.err != nil {
			d.u.logger.Error("artifact download failed", zap.String("artifact", r.name), zap.Error(r.err))
			res.Failed[r.name] = r.err
			continue
		}
		d.u.logger.Info("artifact updated", zap.String("artifact", r.name))
		res.Succeeded = append(res.Succeeded, r.name)
	}
	slices.Sort(res.Succeeded)
	return res
}

func (d *Downloader) downloadOne(ctx context.Context, name string) error {
	target, err := d.localPath(name)
	if err != nil {
		return err
	}

	data, sha, err := d.u.FetchFile(ctx, name)
	if err != nil {
		return err
	}
	prev, prevErr := os.ReadFile(target)
	if err := writeFileAtomic(target, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if err := d.store.Set(name, sha); err != nil {
		// The fingerprint still describes the old content, so put it back.
		if rerr := d.restore(target, prev, prevErr); rerr != nil {
			d.u.logger.Error("local file no longer matches its fingerprint",
				zap.String("artifact", name), zap.Error(rerr))
		}
		return fmt.Errorf("recording fingerprint for %s: %w", name, err)
	}
	return nil
}

// restore puts back the content target had before a failed update, or
// removes it when it did not exist.
func (d *Downloader) restore(target string, prev []byte, prevErr error) error {
	switch {
	case prevErr == nil:
		return writeFileAtomic(target, prev, 0644)
	case errors.Is(prevErr, os.ErrNotExist):
		return os.Remove(target)
	default:
		return prevErr
	}
}

// localPath maps a repository path into destDir, refusing paths that
// would escape it.
func (d *Downloader) localPath(name string) (string, error) {
	rel := filepath.FromSlash(name)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("refusing to write artifact outside %s: %q", d.destDir, name)
	}
	return filepath.Join(d.destDir, rel), nil
}
