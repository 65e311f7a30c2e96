package updater

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
)

var (
	// ErrNotFound is returned when the release or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is returned on HTTP 403 from the GitHub API.
	ErrRateLimited = errors.New("GitHub API rate limit exceeded. Set GITHUB_TOKEN for higher limits")
)

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.Code)
}

// Content is the contents-endpoint view of one repository file.
type Content struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	Encoding    string `json:"encoding"`
	Content     string `json:"content"`
	DownloadURL string `json:"download_url"`
}

// CheckLatestVersion fetches the latest release from GitHub.
func (u *Updater) CheckLatestVersion(ctx context.Context) (*Release, error) {
	return u.fetchRelease(ctx, fmt.Sprintf("%s/repos/%s/releases/latest", u.apiBase, u.repo))
}

// CheckSpecificVersion fetches a release by tag from GitHub.
func (u *Updater) CheckSpecificVersion(ctx context.Context, tag string) (*Release, error) {
	if !strings.HasPrefix(tag, "v") {
		tag = "v" + tag
	}
	return u.fetchRelease(ctx, fmt.Sprintf("%s/repos/%s/releases/tags/%s", u.apiBase, u.repo, url.PathEscape(tag)))
}

func (u *Updater) fetchRelease(ctx context.Context, endpoint string) (*Release, error) {
	var release Release
	if err := u.getJSON(ctx, endpoint, &release); err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	release.TagName = release.Version

	// If a mirror is configured, rewrite asset download URLs.
	if u.mirror != "" {
		for i := range release.Assets {
			release.Assets[i].DownloadURL = strings.TrimRight(u.mirror, "/") + "/" + release.Assets[i].Name
		}
	}
	return &release, nil
}

// FetchContentInfo returns the metadata (and, for small files, the inline
// content) of one repository file on the tracked branch.
func (u *Updater) FetchContentInfo(ctx context.Context, path string) (*Content, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s",
		u.apiBase, u.repo, escapePath(path), url.QueryEscape(u.branch))

	var c Content
	if err := u.getJSON(ctx, endpoint, &c); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	if c.SHA == "" {
		return nil, fmt.Errorf("fetching %s: response has no sha", path)
	}
	return &c, nil
}

// FetchFile returns the content of a repository file together with the
// blob sha describing exactly that content.
func (u *Updater) FetchFile(ctx context.Context, path string) ([]byte, string, error) {
	c, err := u.FetchContentInfo(ctx, path)
	if err != nil {
		return nil, "", err
	}

	if c.Encoding == "base64" && c.Content != "" {
		// GitHub wraps the base64 payload at 60 columns.
		data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(c.Content, "\n", ""))
		if err != nil {
			return nil, "", fmt.Errorf("decoding %s: %w", path, err)
		}
		return data, c.SHA, nil
	}

	// Files over 1 MB come back without inline content.
	if c.DownloadURL == "" {
		return nil, "", fmt.Errorf("fetching %s: no content and no download URL", path)
	}
	data, err := u.getBytes(ctx, c.DownloadURL)
	if err != nil {
		return nil, "", fmt.Errorf("downloading %s: %w", path, err)
	}
	return data, c.SHA, nil
}

func (u *Updater) newRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", branding.UserAgent())

	// Support optional GitHub token for higher rate limits.
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "token "+token)
	}
	return req, nil
}

func (u *Updater) do(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := u.newRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrRateLimited
	default:
		resp.Body.Close()
		return nil, &StatusError{URL: endpoint, Code: resp.StatusCode}
	}
}

func (u *Updater) getJSON(ctx context.Context, endpoint string, v any) error {
	body, err := u.getBytes(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parsing response JSON: %w", err)
	}
	return nil
}

func (u *Updater) getBytes(ctx context.Context, endpoint string) ([]byte, error) {
	resp, err := u.do(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
