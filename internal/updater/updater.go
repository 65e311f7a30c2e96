package updater

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/retrosoft-labs/retrosoft/internal/metrics"
	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.github.com"

// Release represents a GitHub release.
type Release struct {
	Version   string    `json:"tag_name"`
	TagName   string    `json:"-"`
	Body      string    `json:"body"`
	Assets    []Asset   `json:"assets"`
	Published time.Time `json:"published_at"`
	HTMLURL   string    `json:"html_url"`
}

// Asset represents a downloadable file attached to a release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Updater is the GitHub client shared by the live and release flows.
type Updater struct {
	currentVersion string
	repo           string
	branch         string
	apiBase        string
	mirror         string
	httpClient     *http.Client
	logger         *zap.Logger
	metrics        *metrics.Metrics
	progress       io.Writer
}

// Option configures an Updater.
type Option func(*Updater)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(u *Updater) {
		u.httpClient = c
	}
}

// WithMirror sets a mirror URL for downloading release assets.
func WithMirror(mirror string) Option {
	return func(u *Updater) {
		u.mirror = mirror
	}
}

// WithRepo sets the "owner/repo" to poll. Full GitHub URLs are accepted.
func WithRepo(repo string) Option {
	return func(u *Updater) {
		if r := normalizeRepo(repo); r != "" {
			u.repo = r
		}
	}
}

// WithBranch sets the branch tracked files are read from.
func WithBranch(branch string) Option {
	return func(u *Updater) {
		if branch != "" {
			u.branch = branch
		}
	}
}

// WithAPIBase points the client at a different API root (tests, GHE).
func WithAPIBase(base string) Option {
	return func(u *Updater) {
		u.apiBase = strings.TrimRight(base, "/")
	}
}

// WithLogger sets the logger used by background operations.
func WithLogger(l *zap.Logger) Option {
	return func(u *Updater) {
		u.logger = l
	}
}

// WithMetrics enables check and download counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Updater) {
		u.metrics = m
	}
}

// WithProgress sets where download progress is printed. Nil disables it.
func WithProgress(w io.Writer) Option {
	return func(u *Updater) {
		u.progress = w
	}
}

// New creates an Updater with the given current version and options.
func New(currentVersion string, opts ...Option) *Updater {
	u := &Updater{
		currentVersion: currentVersion,
		repo:           branding.GitHubRepo(),
		branch:         branding.DefaultBranch(),
		apiBase:        defaultAPIBase,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// CurrentVersion returns the version this updater was created with.
func (u *Updater) CurrentVersion() string {
	return u.currentVersion
}

// Repo returns the "owner/repo" being polled.
func (u *Updater) Repo() string {
	return u.repo
}

// normalizeRepo accepts "owner/repo" or a GitHub URL and returns "owner/repo".
func normalizeRepo(repo string) string {
	r := strings.TrimSpace(repo)
	r = strings.TrimSuffix(r, ".git")
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "github.com/"} {
		r = strings.TrimPrefix(r, prefix)
	}
	return strings.Trim(r, "/")
}
