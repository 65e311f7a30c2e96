package platform

import (
	"fmt"
	"os"
	"runtime"
)

// ExecutableMode is the mode given to installed binaries.
const ExecutableMode os.FileMode = 0755

// Chmod sets file permissions. It is a no-op on Windows, which has no
// Unix permission bits.
func Chmod(path string, mode os.FileMode) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(path, mode)
}

// MakeExecutable sets ExecutableMode on path regardless of the umask the
// file was created under.
func MakeExecutable(path string) error {
	if err := Chmod(path, ExecutableMode); err != nil {
		return fmt.Errorf("making %s executable: %w", path, err)
	}
	return nil
}
