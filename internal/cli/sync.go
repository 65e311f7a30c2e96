package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/retrosoft-labs/retrosoft/internal/config"
	"github.com/retrosoft-labs/retrosoft/internal/updater"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	syncWatch    bool
	syncCheck    bool
	syncInterval time.Duration
)

func init() {
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "Keep running and sync silently on every interval")
	syncCmd.Flags().BoolVar(&syncCheck, "check", false, "Report changed files without downloading them")
	syncCmd.Flags().DurationVar(&syncInterval, "interval", 0, "Check interval for --watch (default: update_interval)")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync tracked files from the GitHub repository",
	Long: `Compares each tracked file with the copy on the configured branch and
downloads the ones that changed into install_dir.

Without --watch the check is manual: every difference is reported, and the
command exits non-zero when the check or a download fails. With --watch the
command runs the silent loop used by the auto_sync worker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		settings := config.Load(config.FilePath())
		live := newLive(settings, logger, nil)

		if syncWatch {
			interval := syncInterval
			if interval <= 0 {
				interval = settings.UpdateInterval
			}
			logger.Info("watching tracked files",
				zap.String("repo", settings.GitHubRepo),
				zap.Strings("files", settings.TrackedFiles),
				zap.Duration("interval", interval))

			done := make(chan struct{})
			defer close(done)
			go logEvents(live.Events(), done, logger)
			live.Run(ctx, interval)
			return nil
		}

		out, err := live.CheckManual(ctx)
		if errors.Is(err, updater.ErrBusy) {
			return err
		}
		if err != nil {
			return fmt.Errorf("checking for updates: %w", err)
		}
		if out.Kind == updater.OutcomeNotFound {
			fmt.Println("Already up to date.")
			return nil
		}

		fmt.Printf("%d file(s) changed:\n", len(out.Changed))
		for _, name := range out.Changed {
			fmt.Printf("  %s\n", name)
		}
		for name, lookupErr := range out.Errors {
			fmt.Fprintf(os.Stderr, "  [WARN] %s: %v\n", name, lookupErr)
		}
		if syncCheck {
			return nil
		}

		res, err := live.Download(ctx, out.Changed, false)
		for _, name := range res.Succeeded {
			fmt.Printf("  [ OK ] %s\n", name)
		}
		for _, name := range res.FailedNames() {
			fmt.Printf("  [FAIL] %s: %v\n", name, res.Failed[name])
		}
		if err != nil {
			return fmt.Errorf("%d download(s) failed", len(res.Failed))
		}
		fmt.Printf("Installed into %s\n", settings.InstallDir)
		return nil
	},
}
