package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/retrosoft-labs/retrosoft/internal/config"
	"github.com/retrosoft-labs/retrosoft/internal/logging"
	"github.com/retrosoft-labs/retrosoft/internal/updater"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

var (
	logLevel string
	logDev   bool

	logger = zap.NewNop()
)

// Commands that run unattended or manage the version themselves never print
// the update banner.
var quietCommands = map[string]bool{
	"update":      true,
	"self-update": true,
	"version":     true,
	"run":         true,
	"serve":       true,
	"listen":      true,
	"sync":        true,
	"status":      true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logDev, "dev", false, "Human-readable development logging")
}

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` keeps a local install in sync with its GitHub repository,
supervises the background workers, and updates itself from GitHub releases.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(logging.Config{Level: logLevel, Development: logDev})
		if err != nil {
			return err
		}
		logger = l

		if quietCommands[cmd.Name()] {
			return nil
		}
		// Non-blocking banner from the cached release check.
		u := updater.New(buildVersion, updater.WithLogger(logger))
		u.CheckAndPrintBanner(cmd.Context(), os.Stderr, config.Dir())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command with build info injected via ldflags.
// SIGINT and SIGTERM cancel the command context.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
