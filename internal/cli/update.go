package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/retrosoft-labs/retrosoft/internal/config"
	"github.com/retrosoft-labs/retrosoft/internal/updater"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	updateCheck   bool
	updateForce   bool
	updateVersion string
)

func init() {
	updateCmd.Flags().BoolVar(&updateCheck, "check", false, "Only check for updates, don't install")
	updateCmd.Flags().BoolVar(&updateForce, "force", false, "Force update even if already on latest version")
	updateCmd.Flags().StringVar(&updateVersion, "version", "", "Install a specific version (e.g., 1.2.0)")

	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:     "update",
	Aliases: []string{"self-update"},
	Short:   "Update " + branding.CLIName() + " to the latest release",
	Long: `Downloads and installs the latest release from GitHub or the mirror set in
` + branding.EnvVar("MIRROR") + `. The archive is checksum-verified, and the previous binary is
restored if the new one fails to report the expected version.

  ` + branding.CLIName() + ` update                  # update to latest
  ` + branding.CLIName() + ` update --check          # check only
  ` + branding.CLIName() + ` update --version 1.2.0  # install specific version`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		settings := config.Load(config.FilePath())
		u := newUpdater(settings, logger, nil, updater.WithProgress(os.Stderr))

		var release *updater.Release
		var err error
		if updateVersion != "" {
			fmt.Fprintf(os.Stderr, "Checking for version %s...\n", updateVersion)
			release, err = u.CheckSpecificVersion(ctx, updateVersion)
		} else {
			fmt.Fprintln(os.Stderr, "Checking for updates...")
			release, err = u.CheckLatestVersion(ctx)
		}
		if err != nil {
			return fmt.Errorf("checking for updates: %w", err)
		}

		available, err := updater.IsUpdateAvailable(buildVersion, release.Version)
		if err != nil {
			// Development builds can always be replaced.
			if buildVersion != "dev" {
				return fmt.Errorf("comparing versions: %w", err)
			}
			available = true
		}
		if err := updater.RecordRelease(config.Dir(), buildVersion, release.Version); err != nil {
			logger.Debug("saving version cache failed", zap.Error(err))
		}

		if updateCheck {
			if available {
				fmt.Printf("Update available: %s -> %s\n", buildVersion, release.Version)
			} else {
				fmt.Printf("You are on the latest version (%s)\n", buildVersion)
			}
			return nil
		}

		if !available && !updateForce {
			fmt.Printf("You are on the latest version (%s)\n", buildVersion)
			return nil
		}

		fmt.Fprintf(os.Stderr, "Downloading %s %s for %s/%s...\n", branding.CLIName(), release.Version, runtime.GOOS, runtime.GOARCH)

		tmpDir, err := os.MkdirTemp("", branding.CLIName()+"-update-*")
		if err != nil {
			return fmt.Errorf("creating temp directory: %w", err)
		}
		defer os.RemoveAll(tmpDir)

		archivePath, err := u.DownloadAsset(ctx, release, tmpDir)
		if err != nil {
			return fmt.Errorf("downloading release: %w", err)
		}

		fmt.Fprintln(os.Stderr, "Verifying checksum...")
		if err := u.VerifyChecksum(ctx, release, archivePath); err != nil {
			return fmt.Errorf("checksum verification failed: %w", err)
		}

		binPath, err := updater.ExtractBinary(archivePath, tmpDir)
		if err != nil {
			return fmt.Errorf("extracting binary: %w", err)
		}

		fmt.Fprintln(os.Stderr, "Installing...")
		currentBinary, err := os.Executable()
		if err != nil {
			return fmt.Errorf("finding current binary: %w", err)
		}
		if err := updater.ReplaceBinary(ctx, binPath, currentBinary, release.Version); err != nil {
			return err
		}

		_ = updater.RecordRelease(config.Dir(), release.Version, release.Version)

		fmt.Printf("Successfully updated to %s\n", release.Version)
		return nil
	},
}
