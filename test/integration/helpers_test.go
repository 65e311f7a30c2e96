//go:build integration

package integration_test

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/retrosoft-labs/retrosoft/internal/updater"
)

const testRepo = "owner/repo"

// testEnv holds paths to isolated test directories.
type testEnv struct {
	HomeDir    string // RETROSOFT_HOME: config.json, fingerprints.json
	InstallDir string // where tracked files are written
}

// setupTestEnv creates isolated temp directories and points RETROSOFT_HOME
// at one of them. The env var is restored after the test.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		HomeDir:    t.TempDir(),
		InstallDir: t.TempDir(),
	}
	t.Setenv(branding.EnvVar("HOME"), env.HomeDir)
	return env
}

// fakeRepo serves the GitHub contents endpoint for a mutable file set.
type fakeRepo struct {
	mu    sync.Mutex
	files map[string]string
}

func newFakeRepo(t *testing.T, files map[string]string) (*fakeRepo, *httptest.Server) {
	t.Helper()
	f := &fakeRepo{files: files}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeRepo) set(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = content
}

func (f *fakeRepo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutPrefix(r.URL.Path, "/repos/"+testRepo+"/contents/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	f.mu.Lock()
	content, ok := f.files[name]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":     filepath.Base(name),
		"path":     name,
		"sha":      blobSHA(content),
		"size":     len(content),
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
	})
}

// blobSHA is the git object id GitHub reports for content.
func blobSHA(content string) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00%s", len(content), content)
	return hex.EncodeToString(h.Sum(nil))
}

// newLive wires a live updater against the fake repository.
func newLive(env *testEnv, apiBase string, files []string) *updater.Live {
	u := updater.New("1.0.0", updater.WithAPIBase(apiBase), updater.WithRepo(testRepo))
	store := updater.OpenFingerprintStore(filepath.Join(env.HomeDir, "fingerprints.json"))
	checker := updater.NewChecker(updater.NewFileSource(u, files), store, nil, nil)
	return updater.NewLive(checker, updater.NewDownloader(u, store, env.InstallDir), nil)
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// assertFileNotExists fails the test if the file exists.
func assertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file NOT to exist: %s", path)
	}
}

// assertFileContains fails if the file doesn't exist or doesn't contain substr.
func assertFileContains(t *testing.T, path, substr string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("reading %s: %v", path, err)
		return
	}
	if !strings.Contains(string(data), substr) {
		t.Errorf("file %s does not contain %q.\nContents:\n%s", path, substr, string(data))
	}
}

func fileContains(path, substr string) bool {
	data, err := os.ReadFile(path)
	return err == nil && strings.Contains(string(data), substr)
}
