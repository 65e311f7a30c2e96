package platform

import (
	"errors"
	"os"
	"runtime"
	"syscall"
)

// Terminate asks a process to exit. On Unix it sends SIGTERM; on Windows it
// kills the process. A process that already exited is not an error.
func Terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	var err error
	if runtime.GOOS == "windows" {
		err = p.Kill()
	} else {
		err = p.Signal(syscall.SIGTERM)
	}
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Kill force-stops a process. A process that already exited is not an error.
func Kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
