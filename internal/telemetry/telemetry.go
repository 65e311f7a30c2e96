// Package telemetry sends an anonymous periodic heartbeat. It runs as a
// supervised task and stops on its own once telemetry is switched off.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"go.uber.org/zap"
)

const (
	// InstallIDFileName holds the install id inside the home directory.
	InstallIDFileName = "install_id"
	// DefaultInterval is the time between heartbeats.
	DefaultInterval = time.Hour
)

// Heartbeat is the JSON body posted to the telemetry endpoint.
type Heartbeat struct {
	InstallID string    `json:"install_id"`
	Version   string    `json:"version"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
	SentAt    time.Time `json:"sent_at"`
}

// SettingsFunc returns the current telemetry toggle and endpoint. It is
// called before every heartbeat so config changes apply without restart.
type SettingsFunc func() (enabled bool, url string)

// Reporter sends heartbeats.
type Reporter struct {
	version  string
	home     string
	settings SettingsFunc
	client   *retryablehttp.Client
	interval time.Duration
	logger   *zap.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithInterval sets the heartbeat interval.
func WithInterval(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger sets the logger, also used for retry diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// WithRetry bounds the retries of one heartbeat.
func WithRetry(retries int, waitMin, waitMax time.Duration) Option {
	return func(r *Reporter) {
		r.client.RetryMax = retries
		r.client.RetryWaitMin = waitMin
		r.client.RetryWaitMax = waitMax
	}
}

// New creates a Reporter storing its install id under home.
func New(version, home string, settings SettingsFunc, opts ...Option) *Reporter {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 30 * time.Second
	client.HTTPClient.Timeout = 15 * time.Second

	r := &Reporter{
		version:  version,
		home:     home,
		settings: settings,
		client:   client,
		interval: DefaultInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.client.Logger = leveledLogger{r.logger.Sugar()}
	return r
}

// LoadInstallID returns the persisted install id, creating one on first
// use. An unreadable or invalid id is replaced.
func LoadInstallID(home string) (string, error) {
	path := filepath.Join(home, InstallIDFileName)
	if data, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id.String(), nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", home, err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("writing install id: %w", err)
	}
	return id, nil
}

// Send posts one heartbeat to url.
func (r *Reporter) Send(ctx context.Context, url string) error {
	id, err := LoadInstallID(r.home)
	if err != nil {
		return err
	}
	body, err := json.Marshal(Heartbeat{
		InstallID: id,
		Version:   r.version,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding heartbeat: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", branding.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending heartbeat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("heartbeat rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Run sends a heartbeat every interval until ctx is cancelled or telemetry
// is switched off. It has the shape of a supervisor task.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		enabled, url := r.settings()
		if !enabled {
			r.logger.Info("telemetry disabled, stopping")
			return nil
		}
		if url != "" {
			if err := r.Send(ctx, url); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
