package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"

	"github.com/retrosoft-labs/retrosoft/internal/platform"
)

// ErrAbsent marks a launch that failed because the executable, script or
// task does not exist.
var ErrAbsent = errors.New("not found")

// instance is one launch of a worker.
type instance interface {
	done() <-chan struct{}
	// exitError is valid once done is closed.
	exitError() error
	pid() int
	stop()
	kill()
}

type processInstance struct {
	cmd *exec.Cmd
	ch  chan struct{}
	err error
}

func startProcess(def Definition) (*processInstance, error) {
	args := def.Args
	if def.Script != "" {
		if _, err := os.Stat(def.Script); err != nil {
			return nil, fmt.Errorf("script %s: %w", def.Script, ErrAbsent)
		}
		args = append(append([]string(nil), args...), def.Script)
	}
	path, err := exec.LookPath(def.Command)
	if err != nil {
		return nil, fmt.Errorf("executable %s: %w", def.Command, ErrAbsent)
	}

	// Nil stdio goes to the null device.
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("executable %s: %w", path, ErrAbsent)
		}
		return nil, fmt.Errorf("starting %s: %w", path, err)
	}

	p := &processInstance{cmd: cmd, ch: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.ch)
	}()
	return p, nil
}

func (p *processInstance) done() <-chan struct{} { return p.ch }
func (p *processInstance) exitError() error      { return p.err }
func (p *processInstance) pid() int              { return p.cmd.Process.Pid }
func (p *processInstance) stop()                 { _ = platform.Terminate(p.cmd.Process) }
func (p *processInstance) kill()                 { _ = platform.Kill(p.cmd.Process) }

// taskInstance runs a TaskFunc. Its context is the cancellation token the
// task is expected to observe.
type taskInstance struct {
	cancel context.CancelFunc
	ch     chan struct{}
	err    error
}

func startTask(parent context.Context, fn TaskFunc) *taskInstance {
	ctx, cancel := context.WithCancel(parent)
	t := &taskInstance{cancel: cancel, ch: make(chan struct{})}
	go func() {
		defer close(t.ch)
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		t.err = fn(ctx)
	}()
	return t
}

func (t *taskInstance) done() <-chan struct{} { return t.ch }
func (t *taskInstance) exitError() error      { return t.err }
func (t *taskInstance) pid() int              { return 0 }
func (t *taskInstance) stop()                 { t.cancel() }

// kill cannot force a goroutine to return.
func (t *taskInstance) kill() { t.cancel() }

// describeExit turns a finished instance's error into LastError text.
func describeExit(kind Kind, err error) string {
	var ee *exec.ExitError
	switch {
	case errors.As(err, &ee):
		if code := ee.ExitCode(); code >= 0 {
			return fmt.Sprintf("exit code %d", code)
		}
		return ee.Error()
	case err != nil:
		return err.Error()
	case kind == KindTask:
		return "task returned"
	default:
		return "exit code 0"
	}
}
