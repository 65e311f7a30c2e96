// Package branding provides compile-time identity values for the daemon.
//
// branding.yaml is embedded with //go:embed; forks edit it and rebuild.
package branding

import (
	_ "embed"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName       string `yaml:"cli_name"`
	DisplayName   string `yaml:"display_name"`
	Description   string `yaml:"description"`
	HomeDir       string `yaml:"home_dir"`
	EnvPrefix     string `yaml:"env_prefix"`
	GoModule      string `yaml:"go_module"`
	GitHubRepo    string `yaml:"github_repo"`
	DefaultBranch string `yaml:"default_branch"`
	NotifierURL   string `yaml:"notifier_url"`
}

func load() {
	once.Do(func() {
		// Hard defaults in case the embedded file is empty.
		defaults = brand{
			CLIName:       "retrosoft",
			DisplayName:   "Retrosoft",
			Description:   "Update, supervision and notification companion for the Retrosoft browser",
			HomeDir:       ".retrosoft",
			EnvPrefix:     "RETROSOFT",
			GoModule:      "github.com/retrosoft-labs/retrosoft",
			GitHubRepo:    "qjslk/navigateur-rapide",
			DefaultBranch: "main",
			NotifierURL:   "ws://localhost:8000/ws",
		}
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "retrosoft").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name.
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".retrosoft").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "RETROSOFT").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// GitHubRepo returns the "owner/repo" string the updater polls.
func GitHubRepo() string { load(); return defaults.GitHubRepo }

// DefaultBranch returns the branch tracked files are fetched from.
func DefaultBranch() string { load(); return defaults.DefaultBranch }

// NotifierURL returns the default WebSocket URL of the notification server.
func NotifierURL() string { load(); return defaults.NotifierURL }

// UserAgent returns the User-Agent sent on outbound HTTP requests.
func UserAgent() string { load(); return defaults.CLIName + "-updater" }

// EnvVar returns a fully qualified env var name, e.g., EnvVar("HOME") → "RETROSOFT_HOME".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}
