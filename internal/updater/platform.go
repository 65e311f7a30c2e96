package updater

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
)

// ArchiveName returns the release archive name for the running platform:
// <cli>_<os>_<arch>.tar.gz, or .zip on Windows.
func ArchiveName() string {
	return archiveNameFor(runtime.GOOS, runtime.GOARCH)
}

func archiveNameFor(goos, goarch string) string {
	ext := ".tar.gz"
	if goos == "windows" {
		ext = ".zip"
	}
	return fmt.Sprintf("%s_%s_%s%s", branding.CLIName(), goos, goarch, ext)
}

// SelectAssetForPlatform finds the asset matching the current OS/arch.
func SelectAssetForPlatform(assets []Asset) (*Asset, error) {
	return selectAsset(assets, runtime.GOOS, runtime.GOARCH)
}

func selectAsset(assets []Asset, goos, goarch string) (*Asset, error) {
	expected := archiveNameFor(goos, goarch)
	for i := range assets {
		if assets[i].Name == expected {
			return &assets[i], nil
		}
	}

	// Fall back to any archive carrying the os_arch pair.
	pattern := goos + "_" + goarch
	for i := range assets {
		if strings.Contains(assets[i].Name, pattern) && isArchive(assets[i].Name) {
			return &assets[i], nil
		}
	}
	return nil, fmt.Errorf("no asset found for %s/%s (expected %s)", goos, goarch, expected)
}

func isArchive(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".zip")
}
