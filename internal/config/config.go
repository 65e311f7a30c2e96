package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/spf13/viper"
)

const (
	fileName = "config"
	fileType = "json"
)

// Recognized keys.
const (
	KeyGitHubRepo     = "github_repo"
	KeyBranch         = "branch"
	KeyNotifierURL    = "notifier_url"
	KeyTelemetry      = "telemetry"
	KeyAutoSync       = "auto_sync"
	KeyNotifications  = "notifications"
	KeyUpdateInterval = "update_interval"
	KeyTrackedFiles   = "tracked_files"
	KeyInstallDir     = "install_dir"
	KeyTelemetryURL   = "telemetry_url"
	KeyControlAddr    = "control_addr"
)

// DefaultTrackedFiles are the repository files kept in sync by the live updater.
var DefaultTrackedFiles = []string{"navigateur.py", "version.py", "updater.py", "accueil.html"}

// Settings is the typed view of the configuration file.
type Settings struct {
	GitHubRepo     string        `mapstructure:"github_repo"`
	Branch         string        `mapstructure:"branch"`
	NotifierURL    string        `mapstructure:"notifier_url"`
	Telemetry      bool          `mapstructure:"telemetry"`
	AutoSync       bool          `mapstructure:"auto_sync"`
	Notifications  bool          `mapstructure:"notifications"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	TrackedFiles   []string      `mapstructure:"tracked_files"`
	InstallDir     string        `mapstructure:"install_dir"`
	TelemetryURL   string        `mapstructure:"telemetry_url"`
	ControlAddr    string        `mapstructure:"control_addr"`
}

// Toggle reports the value of a boolean feature key. Unknown keys are
// considered enabled, matching the "absent means on" rule for toggles.
func (s *Settings) Toggle(key string) bool {
	switch key {
	case KeyTelemetry:
		return s.Telemetry
	case KeyAutoSync:
		return s.AutoSync
	case KeyNotifications:
		return s.Notifications
	default:
		return true
	}
}

// Dir returns the path to the state directory (~/.retrosoft/), honouring
// RETROSOFT_HOME.
func Dir() string {
	if v := os.Getenv(branding.EnvVar("HOME")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the config file (~/.retrosoft/config.json).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the state directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyGitHubRepo, branding.GitHubRepo())
	v.SetDefault(KeyBranch, branding.DefaultBranch())
	v.SetDefault(KeyNotifierURL, branding.NotifierURL())
	v.SetDefault(KeyTelemetry, true)
	v.SetDefault(KeyAutoSync, true)
	v.SetDefault(KeyNotifications, true)
	v.SetDefault(KeyUpdateInterval, "5m")
	v.SetDefault(KeyTrackedFiles, DefaultTrackedFiles)
	v.SetDefault(KeyInstallDir, filepath.Join(Dir(), "app"))
	v.SetDefault(KeyTelemetryURL, "")
	v.SetDefault(KeyControlAddr, "127.0.0.1:8765")
}

// ReadSnapshot returns the raw key/value content of the config file.
// A missing, unreadable, or malformed file yields an empty map.
func ReadSnapshot(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{}
	}
	var snap map[string]any
	if err := json.Unmarshal(data, &snap); err != nil || snap == nil {
		return map[string]any{}
	}
	return snap
}

func newViper(snapshot map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(fileType)
	v.SetEnvPrefix(branding.EnvPrefix())
	v.AutomaticEnv()
	setDefaults(v)
	if len(snapshot) > 0 {
		// MergeConfigMap lowercases keys in place.
		if err := v.MergeConfigMap(CloneSnapshot(snapshot)); err != nil {
			return nil, fmt.Errorf("merging config snapshot: %w", err)
		}
	}
	return v, nil
}

// Decode turns a snapshot into Settings, applying defaults and
// RETROSOFT_-prefixed environment overrides. Values of the wrong type are
// reported as an error; callers that must not fail use Load.
func Decode(snapshot map[string]any) (*Settings, error) {
	v, err := newViper(snapshot)
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if len(s.TrackedFiles) == 0 {
		s.TrackedFiles = append([]string(nil), DefaultTrackedFiles...)
	}
	if s.UpdateInterval <= 0 {
		s.UpdateInterval = 5 * time.Minute
	}
	return &s, nil
}

// DecodeLenient decodes every key it can. Keys whose value has the wrong
// type keep their defaults and are returned, sorted, in invalid.
func DecodeLenient(snapshot map[string]any) (s *Settings, invalid []string) {
	if full, err := Decode(snapshot); err == nil {
		return full, nil
	}
	valid := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		if _, err := Decode(map[string]any{k: v}); err != nil {
			invalid = append(invalid, k)
			continue
		}
		valid[k] = v
	}
	slices.Sort(invalid)
	s, err := Decode(valid)
	if err != nil {
		s, _ = Decode(nil)
	}
	return s, invalid
}

// Load reads and decodes the config file at path. It never fails: a
// malformed file degrades to the defaults, and a badly typed value only
// resets its own key.
func Load(path string) *Settings {
	s, _ := DecodeLenient(ReadSnapshot(path))
	return s
}

// CloneSnapshot returns a deep copy of a snapshot.
func CloneSnapshot(snap map[string]any) map[string]any {
	out := make(map[string]any, len(snap))
	for k, v := range snap {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneSnapshot(t)
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}

// Get returns a config value by key, formatted as a string. Returns the
// default when the key is absent from the file.
func Get(path, key string) (string, error) {
	v, err := newViper(ReadSnapshot(path))
	if err != nil {
		return "", err
	}
	val := v.Get(key)
	if val == nil {
		return "", nil
	}
	if list, ok := val.([]string); ok {
		return strings.Join(list, ","), nil
	}
	if list, ok := val.([]any); ok {
		parts := make([]string, len(list))
		for i, p := range list {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ","), nil
	}
	return fmt.Sprint(val), nil
}

// Set writes a key and rewrites the whole config file through a temp file
// and rename. Other keys keep their spelling; an existing key that differs
// from key only in case is replaced. "true"/"false" are stored as JSON
// booleans and comma-separated values for tracked_files as a list;
// everything else is stored as a string.
func Set(path, key, value string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	snap := ReadSnapshot(path)
	for k := range snap {
		if strings.EqualFold(k, key) {
			delete(snap, k)
		}
	}
	snap[key] = parseValue(key, value)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

func parseValue(key, value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if key == KeyTrackedFiles {
		var files []string
		for _, f := range strings.Split(value, ",") {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}
		return files
	}
	return value
}
