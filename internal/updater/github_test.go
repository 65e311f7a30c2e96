package updater

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRepo = "owner/repo"

// fakeGitHub serves the contents and releases endpoints for testRepo.
type fakeGitHub struct {
	mu     sync.Mutex
	files  map[string]string
	status map[string]int
	large  map[string]bool
	// brokenRaw makes the download_url of a path fail.
	brokenRaw map[string]bool
	release   string

	// gate, when set, blocks every contents request until closed.
	gate    chan struct{}
	entered chan struct{}

	requests atomic.Int32
	lastAuth atomic.Value
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		files:  map[string]string{},
		status: map[string]int{},
		large:  map[string]bool{},

		brokenRaw: map[string]bool{},
	}
}

func (f *fakeGitHub) setFile(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
}

func (f *fakeGitHub) setStatus(path string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code == 0 {
		delete(f.status, path)
		return
	}
	f.status[path] = code
}

func (f *fakeGitHub) setRelease(tag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.release = tag
}

// blobSHA computes the git blob id GitHub reports for content.
func blobSHA(content string) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00%s", len(content), content)
	return hex.EncodeToString(h.Sum(nil))
}

// wrap60 mimics GitHub's line-wrapped base64 payloads.
func wrap60(s string) string {
	var b strings.Builder
	for len(s) > 60 {
		b.WriteString(s[:60])
		b.WriteByte('\n')
		s = s[60:]
	}
	b.WriteString(s)
	b.WriteByte('\n')
	return b.String()
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	f.lastAuth.Store(r.Header.Get("Authorization"))

	contentsPrefix := "/repos/" + testRepo + "/contents/"
	switch {
	case r.URL.Path == "/repos/"+testRepo+"/releases/latest":
		f.mu.Lock()
		tag := f.release
		f.mu.Unlock()
		if tag == "" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"tag_name": tag, "html_url": "https://example.com/" + tag})

	case strings.HasPrefix(r.URL.Path, contentsPrefix):
		if f.gate != nil {
			select {
			case f.entered <- struct{}{}:
			default:
			}
			<-f.gate
		}
		path := strings.TrimPrefix(r.URL.Path, contentsPrefix)
		f.mu.Lock()
		content, ok := f.files[path]
		code := f.status[path]
		large := f.large[path]
		f.mu.Unlock()
		if code != 0 {
			w.WriteHeader(code)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		resp := map[string]any{
			"name":         path,
			"path":         path,
			"sha":          blobSHA(content),
			"size":         len(content),
			"download_url": "http://" + r.Host + "/raw/" + path,
		}
		if large {
			resp["encoding"] = "none"
			resp["content"] = ""
		} else {
			resp["encoding"] = "base64"
			resp["content"] = wrap60(base64.StdEncoding.EncodeToString([]byte(content)))
		}
		json.NewEncoder(w).Encode(resp)

	case strings.HasPrefix(r.URL.Path, "/raw/"):
		path := strings.TrimPrefix(r.URL.Path, "/raw/")
		f.mu.Lock()
		content, ok := f.files[path]
		broken := f.brokenRaw[path]
		f.mu.Unlock()
		if broken {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(content))

	default:
		http.NotFound(w, r)
	}
}

func newTestUpdater(t *testing.T, f *fakeGitHub, opts ...Option) *Updater {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	base := []Option{WithAPIBase(srv.URL), WithRepo(testRepo), WithHTTPClient(srv.Client())}
	return New("1.0.0", append(base, opts...)...)
}

func TestFetchFile_InlineBase64(t *testing.T) {
	f := newFakeGitHub()
	content := strings.Repeat("print('bonjour')\n", 20)
	f.setFile("navigateur.py", content)
	u := newTestUpdater(t, f)

	data, sha, err := u.FetchFile(context.Background(), "navigateur.py")
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.Equal(t, blobSHA(content), sha)
}

func TestFetchFile_LargeFileUsesDownloadURL(t *testing.T) {
	f := newFakeGitHub()
	f.setFile("accueil.html", "<html></html>")
	f.large["accueil.html"] = true
	u := newTestUpdater(t, f)

	data, sha, err := u.FetchFile(context.Background(), "accueil.html")
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))
	assert.Equal(t, blobSHA("<html></html>"), sha)
}

func TestFetchContentInfo_StatusMapping(t *testing.T) {
	f := newFakeGitHub()
	f.setFile("limited.py", "x")
	f.setStatus("limited.py", http.StatusForbidden)
	f.setFile("broken.py", "x")
	f.setStatus("broken.py", http.StatusBadGateway)
	u := newTestUpdater(t, f)
	ctx := context.Background()

	_, err := u.FetchContentInfo(ctx, "missing.py")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = u.FetchContentInfo(ctx, "limited.py")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = u.FetchContentInfo(ctx, "broken.py")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestNewRequest_UsesGitHubToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "secret-token")
	f := newFakeGitHub()
	f.setFile("version.py", "VERSION = '1.0'")
	u := newTestUpdater(t, f)

	_, err := u.FetchContentInfo(context.Background(), "version.py")
	require.NoError(t, err)
	assert.Equal(t, "token secret-token", f.lastAuth.Load())
}

func TestCheckLatestVersion(t *testing.T) {
	f := newFakeGitHub()
	f.setRelease("v1.4.0")
	u := newTestUpdater(t, f)

	r, err := u.CheckLatestVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.4.0", r.Version)
	assert.Equal(t, "v1.4.0", r.TagName)
}

func TestWithRepo_NormalizesURLs(t *testing.T) {
	tests := map[string]string{
		"owner/repo":                        "owner/repo",
		"https://github.com/owner/repo":     "owner/repo",
		"https://github.com/owner/repo.git": "owner/repo",
		"github.com/owner/repo/":            "owner/repo",
	}
	for in, want := range tests {
		assert.Equal(t, want, New("1.0.0", WithRepo(in)).Repo(), in)
	}
}
