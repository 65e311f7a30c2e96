package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process workers are tested with /bin/sh")
	}
}

func shell(name, script string) Definition {
	return Definition{Name: name, Kind: KindProcess, Command: "/bin/sh", Args: []string{"-c", script}}
}

// waitExit blocks until the worker's current instance has finished.
func waitExit(t *testing.T, s *Supervisor, name string) {
	t.Helper()
	s.mu.Lock()
	inst := s.workers[name].inst
	s.mu.Unlock()
	require.NotNil(t, inst, "%s has no running instance", name)
	select {
	case <-inst.done():
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not exit", name)
	}
}

func record(t *testing.T, s *Supervisor, name string) Record {
	t.Helper()
	r, ok := s.Get(name)
	require.True(t, ok)
	return r
}

func TestNew_DeclaresRecords(t *testing.T) {
	s, err := New([]Definition{
		{Name: "auto_sync", Kind: KindProcess, Command: "retrosoft", Args: []string{"sync", "--watch"}},
		{Name: "telemetry", Kind: KindTask, Disabled: true},
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "auto_sync", snap[0].Name)
	assert.Equal(t, StatusUnknown, snap[0].Status)
	assert.Equal(t, "retrosoft sync --watch", snap[0].Launch)
	assert.Equal(t, StatusStopped, snap[1].Status)
	assert.Equal(t, "task:telemetry", snap[1].Launch)
	assert.Equal(t, []string{"auto_sync", "telemetry"}, s.Names())
}

func TestNew_RejectsBadDefinitions(t *testing.T) {
	tests := map[string][]Definition{
		"duplicate":  {{Name: "a", Kind: KindTask}, {Name: "a", Kind: KindTask}},
		"no name":    {{Kind: KindTask}},
		"no command": {{Name: "a", Kind: KindProcess}},
		"bad kind":   {{Name: "a", Kind: "thread"}},
	}
	for name, defs := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New(defs)
			assert.Error(t, err)
		})
	}
}

func TestPoll_RestartsCrashedProcessOncePerTick(t *testing.T) {
	requireShell(t)
	s, err := New([]Definition{shell("auto_sync", "exit 3")})
	require.NoError(t, err)
	ctx := context.Background()

	s.Poll(ctx)
	assert.Equal(t, StatusRunning, record(t, s, "auto_sync").Status)

	for i := 1; i <= 3; i++ {
		waitExit(t, s, "auto_sync")
		s.Poll(ctx)
		r := record(t, s, "auto_sync")
		assert.Equal(t, i, r.Restarts)
		assert.Equal(t, "exit code 3", r.LastError)
		assert.Equal(t, StatusRunning, r.Status, "relaunched in the same tick")
	}
}

func TestSnapshotAndReportDoNotMutate(t *testing.T) {
	requireShell(t)
	s, err := New([]Definition{shell("notify", "exit 1")})
	require.NoError(t, err)
	s.Poll(context.Background())
	waitExit(t, s, "notify")

	first := s.Report()
	snap := s.Snapshot()
	snap[0].Restarts = 99
	assert.Equal(t, first, s.Report())
	assert.Equal(t, 0, record(t, s, "notify").Restarts)
	assert.Equal(t, StatusRunning, record(t, s, "notify").Status, "exits are only noticed by Poll")
	assert.True(t, strings.HasPrefix(first, "notify: running (restarts: 0, last_error: none)"), first)
}

func TestAbsentScriptIsRetried(t *testing.T) {
	requireShell(t)
	script := filepath.Join(t.TempDir(), "auto_sync.sh")
	def := Definition{Name: "auto_sync", Kind: KindProcess, Command: "/bin/sh", Script: script}
	s, err := New([]Definition{def})
	require.NoError(t, err)
	ctx := context.Background()

	s.Poll(ctx)
	r := record(t, s, "auto_sync")
	assert.Equal(t, StatusAbsent, r.Status)
	assert.Contains(t, r.LastError, script)

	s.Poll(ctx)
	assert.Equal(t, StatusAbsent, record(t, s, "auto_sync").Status)
	assert.Equal(t, 0, record(t, s, "auto_sync").Restarts)

	require.NoError(t, os.WriteFile(script, []byte("sleep 30\n"), 0644))
	s.Poll(ctx)
	r = record(t, s, "auto_sync")
	assert.Equal(t, StatusRunning, r.Status)
	assert.NotZero(t, r.PID)
	assert.Equal(t, 0, r.Restarts)
	s.Shutdown()
}

func TestMissingExecutableIsAbsent(t *testing.T) {
	s, err := New([]Definition{{Name: "x", Kind: KindProcess, Command: "retrosoft-definitely-not-installed"}})
	require.NoError(t, err)
	s.Poll(context.Background())
	r := record(t, s, "x")
	assert.Equal(t, StatusAbsent, r.Status)
	assert.NotEmpty(t, r.LastError)
}

func TestStopPreventsRelaunch(t *testing.T) {
	requireShell(t)
	s, err := New([]Definition{shell("notify", "sleep 30")})
	require.NoError(t, err)
	ctx := context.Background()
	s.Poll(ctx)

	s.mu.Lock()
	inst := s.workers["notify"].inst
	s.mu.Unlock()

	require.NoError(t, s.Stop("notify"))
	assert.Equal(t, StatusStopped, record(t, s, "notify").Status)
	select {
	case <-inst.done():
	case <-time.After(5 * time.Second):
		t.Fatal("process survived SIGTERM")
	}

	s.Poll(ctx)
	r := record(t, s, "notify")
	assert.Equal(t, StatusStopped, r.Status)
	assert.Equal(t, 0, r.Restarts)

	require.NoError(t, s.Start("notify"))
	assert.Equal(t, StatusRunning, record(t, s, "notify").Status)
	s.Shutdown()
}

func TestStartStopUnknown(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Start("nope"), ErrUnknownWorker)
	assert.ErrorIs(t, s.Stop("nope"), ErrUnknownWorker)
}

func TestTaskCrashIsRestarted(t *testing.T) {
	calls := make(chan struct{}, 10)
	s, err := New(
		[]Definition{{Name: "telemetry", Kind: KindTask}},
		WithTask("telemetry", func(ctx context.Context) error {
			calls <- struct{}{}
			return errors.New("boom")
		}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	s.Poll(ctx)
	waitExit(t, s, "telemetry")
	s.Poll(ctx)

	r := record(t, s, "telemetry")
	assert.Equal(t, 1, r.Restarts)
	assert.Equal(t, "boom", r.LastError)
	for range 2 {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("task was not relaunched")
		}
	}
}

func TestTaskPanicIsRecorded(t *testing.T) {
	s, err := New(
		[]Definition{{Name: "telemetry", Kind: KindTask}},
		WithTask("telemetry", func(ctx context.Context) error { panic("nil map") }),
	)
	require.NoError(t, err)
	s.Poll(context.Background())
	waitExit(t, s, "telemetry")
	s.Poll(context.Background())
	assert.Contains(t, record(t, s, "telemetry").LastError, "task panicked: nil map")
}

func TestTaskStopCancelsToken(t *testing.T) {
	cancelled := make(chan struct{})
	release := make(chan struct{})
	s, err := New(
		[]Definition{{Name: "telemetry", Kind: KindTask}},
		WithTask("telemetry", func(ctx context.Context) error {
			<-ctx.Done()
			close(cancelled)
			<-release
			return nil
		}),
	)
	require.NoError(t, err)
	s.Poll(context.Background())

	require.NoError(t, s.Stop("telemetry"))
	assert.Equal(t, StatusStopped, record(t, s, "telemetry").Status, "stop is reported before the task returns")
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("task token was not cancelled")
	}
	close(release)
}

func TestUnregisteredTaskIsAbsent(t *testing.T) {
	s, err := New([]Definition{{Name: "telemetry", Kind: KindTask}})
	require.NoError(t, err)
	s.Poll(context.Background())
	assert.Equal(t, StatusAbsent, record(t, s, "telemetry").Status)

	s.Register("telemetry", func(ctx context.Context) error { <-ctx.Done(); return nil })
	s.Poll(context.Background())
	assert.Equal(t, StatusRunning, record(t, s, "telemetry").Status)
	s.Shutdown()
}

func TestPolicy_MaxRestarts(t *testing.T) {
	s, err := New(
		[]Definition{{Name: "t", Kind: KindTask}},
		WithTask("t", func(ctx context.Context) error { return errors.New("fail") }),
		WithPolicy(RestartPolicy{MaxRestarts: 2}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	s.Poll(ctx)
	for range 2 {
		waitExit(t, s, "t")
		s.Poll(ctx)
	}
	waitExit(t, s, "t")
	s.Poll(ctx)
	s.Poll(ctx)

	r := record(t, s, "t")
	assert.Equal(t, 2, r.Restarts)
	assert.Equal(t, StatusCrashed, r.Status)

	require.NoError(t, s.Start("t"))
	assert.Equal(t, StatusRunning, record(t, s, "t").Status, "Start clears the exhausted state")
}

func TestPolicy_BackoffDefersRelaunch(t *testing.T) {
	s, err := New(
		[]Definition{{Name: "t", Kind: KindTask}},
		WithTask("t", func(ctx context.Context) error { return errors.New("fail") }),
		WithPolicy(RestartPolicy{Backoff: true, InitialBackoff: time.Hour}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	s.Poll(ctx)
	waitExit(t, s, "t")
	s.Poll(ctx)
	r := record(t, s, "t")
	assert.Equal(t, StatusCrashed, r.Status)
	assert.Equal(t, 0, r.Restarts, "a deferred relaunch is not counted yet")

	s.mu.Lock()
	s.workers["t"].nextAttempt = time.Now().Add(-time.Second)
	s.mu.Unlock()
	s.Poll(ctx)
	r = record(t, s, "t")
	assert.Equal(t, 1, r.Restarts)
	assert.NotEqual(t, StatusCrashed, r.Status)
}

func TestRunLaunchesAndShutsDown(t *testing.T) {
	requireShell(t)
	s, err := New(
		[]Definition{shell("notify", "sleep 30"), {Name: "off", Kind: KindTask, Disabled: true}},
		WithInterval(10*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	assert.Eventually(t, func() bool {
		return record(t, s, "notify").Status == StatusRunning
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusStopped, record(t, s, "off").Status)

	cancel()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StatusStopped, record(t, s, "notify").Status)
}
