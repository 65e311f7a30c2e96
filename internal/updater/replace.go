package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/retrosoft-labs/retrosoft/internal/platform"
)

// verifyTimeout bounds how long a freshly installed binary may take to
// answer "version --json".
const verifyTimeout = 5 * time.Second

// ReplaceBinary swaps currentPath for newPath, keeping a .backup copy until
// the new binary reports expectedVersion. Any failure after the swap rolls
// the backup back into place.
func ReplaceBinary(ctx context.Context, newPath, currentPath, expectedVersion string) error {
	if runtime.GOOS == "windows" {
		return fmt.Errorf("self-update is not supported on Windows; download the latest release from https://github.com/%s/releases", branding.GitHubRepo())
	}

	info, err := os.Stat(currentPath)
	if err != nil {
		return fmt.Errorf("stat current binary: %w", err)
	}
	origPerm := info.Mode().Perm()

	backupPath := currentPath + ".backup"
	if err := moveFile(currentPath, backupPath); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	if err := moveFile(newPath, currentPath); err != nil {
		if rbErr := RollbackBinary(backupPath, currentPath); rbErr != nil {
			return errors.Join(fmt.Errorf("installing new binary: %w", err), rbErr)
		}
		return fmt.Errorf("installing new binary: %w", err)
	}

	if err := platform.Chmod(currentPath, origPerm); err != nil {
		_ = RollbackBinary(backupPath, currentPath)
		return fmt.Errorf("restoring permissions: %w", err)
	}

	if err := VerifyBinary(ctx, currentPath, expectedVersion); err != nil {
		if rbErr := RollbackBinary(backupPath, currentPath); rbErr != nil {
			return errors.Join(fmt.Errorf("verification failed: %w", err), rbErr)
		}
		return fmt.Errorf("verification failed, rolled back: %w", err)
	}

	os.Remove(backupPath)
	return nil
}

// VerifyBinary runs "<binary> version --json" and checks the reported
// version. An empty expectedVersion only checks that the output parses.
func VerifyBinary(ctx context.Context, binaryPath, expectedVersion string) error {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, binaryPath, "version", "--json").Output()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("new binary timed out after %s", verifyTimeout)
	}
	if err != nil {
		return fmt.Errorf("new binary exited with error: %w", err)
	}

	var info map[string]string
	if err := json.Unmarshal(output, &info); err != nil {
		return fmt.Errorf("parsing version output: %w", err)
	}
	if expectedVersion == "" {
		return nil
	}
	got := strings.TrimPrefix(info["version"], "v")
	if got != strings.TrimPrefix(expectedVersion, "v") {
		return fmt.Errorf("new binary reports version %q, expected %q", info["version"], expectedVersion)
	}
	return nil
}

// RollbackBinary restores the backup to the current path.
func RollbackBinary(backupPath, currentPath string) error {
	if err := moveFile(backupPath, currentPath); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}

// moveFile renames src to dst, copying when the rename crosses filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
