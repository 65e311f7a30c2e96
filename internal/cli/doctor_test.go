package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/retrosoft-labs/retrosoft/internal/supervisor"
	"github.com/retrosoft-labs/retrosoft/internal/updater"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckConfigFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content *string
		ok      bool
		want    string
	}{
		{"missing", nil, true, "[INFO]"},
		{"valid", ptr(`{"branch": "dev", "update_interval": "10m"}`), true, "[ OK ]"},
		{"malformed", ptr(`{"branch": `), false, "Not valid JSON"},
		{"bad duration", ptr(`{"update_interval": "soon"}`), false, "[FAIL]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0644))
			}
			var out bytes.Buffer
			assert.Equal(t, tt.ok, checkConfigFile(&out, path))
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func ptr(s string) *string { return &s }

func TestCheckWorkerDefs(t *testing.T) {
	dir := t.TempDir()

	var out bytes.Buffer
	f, ok := checkWorkerDefs(&out, filepath.Join(dir, "missing.yaml"))
	require.True(t, ok)
	assert.Len(t, f.Workers, 3)
	assert.Contains(t, out.String(), "built-in definitions")

	bad := filepath.Join(dir, "workers.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("workers:\n  - name: x\n    kind: daemon\n"), 0644))
	out.Reset()
	f, ok = checkWorkerDefs(&out, bad)
	assert.False(t, ok)
	assert.Nil(t, f)
	assert.Contains(t, out.String(), "[FAIL] /workers/0")
}

func TestCheckExecutables(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	script := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(script, []byte("exit 0\n"), 0644))

	var out bytes.Buffer
	ok := checkExecutables(&out, []supervisor.Definition{
		{Name: "shell", Kind: supervisor.KindProcess, Command: "/bin/sh", Script: script},
		{Name: "telemetry", Kind: supervisor.KindTask, Task: "telemetry"},
	})
	assert.True(t, ok)
	assert.Contains(t, out.String(), "[ OK ] shell")
	assert.NotContains(t, out.String(), "telemetry")

	out.Reset()
	ok = checkExecutables(&out, []supervisor.Definition{
		{Name: "gone", Kind: supervisor.KindProcess, Command: "/definitely/not/here"},
		{Name: "noscript", Kind: supervisor.KindProcess, Command: "/bin/sh", Script: "/definitely/not/here.sh"},
	})
	assert.False(t, ok)
	assert.Contains(t, out.String(), "[FAIL] gone")
	assert.Contains(t, out.String(), "[FAIL] noscript: script")
}

func TestCheckGitHub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/contents/version.py" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"path": "version.py", "sha": "0123456789abcdef"}`)
	}))
	defer srv.Close()
	u := updater.New("1.0.0", updater.WithAPIBase(srv.URL), updater.WithRepo("owner/repo"))

	var out bytes.Buffer
	assert.True(t, checkGitHub(context.Background(), &out, u, []string{"version.py"}))
	assert.Contains(t, out.String(), "[ OK ] version.py reachable (sha 0123456)")

	out.Reset()
	assert.False(t, checkGitHub(context.Background(), &out, u, []string{"missing.py"}))
	assert.Contains(t, out.String(), "[FAIL] missing.py")

	out.Reset()
	assert.True(t, checkGitHub(context.Background(), &out, u, nil))
}
