// Package config resolves the proofloop home directory and loads engine
// settings from <home>/config.yaml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the user-editable engine configuration. Zero values fall back
// to built-in defaults.
type Settings struct {
	Agent struct {
		Command string        `yaml:"command"`
		Args    []string      `yaml:"args"`
		Model   string        `yaml:"model"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"agent"`

	Budget struct {
		WallTimeLimit time.Duration `yaml:"wall_time_limit"`
		MaxIterations int           `yaml:"max_iterations"`
	} `yaml:"budget"`

	Store struct {
		Driver string `yaml:"driver"` // sqlite (default) or postgres
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`

	Metrics struct {
		Listen string `yaml:"listen"` // e.g. ":9464"; empty disables
	} `yaml:"metrics"`

	Notify struct {
		SlackWebhookURL string `yaml:"slack_webhook_url"`
		SlackChannel    string `yaml:"slack_channel"`
	} `yaml:"notify"`

	AutoApprove    bool   `yaml:"auto_approve"`
	AllowDangerous bool   `yaml:"allow_dangerous"`
	MCPRegistry    string `yaml:"mcp_registry"`
}

// SettingsPath returns <home>/config.yaml.
func SettingsPath(home string) string {
	return filepath.Join(home, "config.yaml")
}

// LoadSettings reads settings from home. A missing file yields defaults,
// not an error.
func LoadSettings(home string) (*Settings, error) {
	var s Settings
	data, err := os.ReadFile(SettingsPath(home))
	if err != nil {
		if os.IsNotExist(err) {
			return &s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveSettings writes settings to home.
func SaveSettings(home string, s *Settings) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(SettingsPath(home), data, 0o644)
}
