package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel   = "deepseek-chat"
	DefaultBaseURL = "https://api.deepseek.com/v1"
)

// Config captures the tunable runtime settings for the agent.
type Config struct {
	Model                 string   `yaml:"model"`
	BaseURL               string   `yaml:"base_url"`
	Temperature           float64  `yaml:"temperature"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
	WorkDir               string   `yaml:"work_dir"`
	Encoding              string   `yaml:"encoding"`
	Protocol              string   `yaml:"protocol"`
	Fold                  bool     `yaml:"fold"`
	Summary               bool     `yaml:"summary"`
	Dialogue              bool     `yaml:"dialogue"`
	MuteLog               []string `yaml:"mute_log"`
	CommandTimeoutSeconds int      `yaml:"command_timeout_seconds"`
	MaxNudges             int      `yaml:"max_nudges"`
	MaxSteps              int      `yaml:"max_steps"`
	BrowserTimeoutSeconds int      `yaml:"browser_timeout_seconds"`
	BrowserUserAgent      string   `yaml:"browser_user_agent"`
	Browser               string   `yaml:"browser"`
	BrowserExecPath       string   `yaml:"browser_exec_path"`
	Journal               bool     `yaml:"journal"`
	JournalPath           string   `yaml:"journal_path"`
	ConversationDir       string   `yaml:"conversation_dir"`
	LogDir                string   `yaml:"log_dir"`
	NewLogOnStart         bool     `yaml:"new_log_on_start"`
	HistoryPath           string   `yaml:"history_path"`
}

// Default returns the settings used when no config file exists. Booleans
// that default to true live here rather than in applyDefaults, since a zero
// bool cannot be told apart from an explicit false.
func Default() Config {
	cfg := Config{
		Model:         DefaultModel,
		BaseURL:       DefaultBaseURL,
		Temperature:   0.2,
		Protocol:      "tools",
		Fold:          true,
		Summary:       true,
		Dialogue:      true,
		Journal:       true,
		NewLogOnStart: true,
	}
	cfg.applyDefaults()
	return cfg
}

// EnsureDefaultConfig creates config.yaml with defaults if it doesn't exist.
func EnsureDefaultConfig() error {
	configPath := Path()
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Path is the config file location. MOMOKA_CONFIG_PATH wins over the config dir.
func Path() string {
	if p := os.Getenv("MOMOKA_CONFIG_PATH"); p != "" {
		return p
	}
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// LoadUserConfig loads configuration from ~/.momoka/config.yaml.
// If the file doesn't exist, returns defaults.
func LoadUserConfig() (Config, error) {
	configPath := Path()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(configPath)
}

// Load reads the YAML configuration at path over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		c.WorkDir = "."
	}
	if strings.TrimSpace(c.Protocol) == "" {
		c.Protocol = "tools"
	}
	if c.CommandTimeoutSeconds <= 0 {
		c.CommandTimeoutSeconds = 10
	}
	if c.MaxNudges <= 0 {
		c.MaxNudges = 3
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 200
	}
	if c.BrowserTimeoutSeconds <= 0 {
		c.BrowserTimeoutSeconds = 30
	}
	if strings.TrimSpace(c.Browser) == "" {
		c.Browser = "http"
	}
	if c.JournalPath == "" {
		c.JournalPath = filepath.Join(GetConfigDir(), "journal.db")
	}
	if c.ConversationDir == "" {
		c.ConversationDir = filepath.Join(GetConfigDir(), "conversations")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(GetConfigDir(), "logs")
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(GetConfigDir(), "input_history")
	}
}

func (c Config) validate() error {
	// Temperature validation (typical LLM range is 0-2.0)
	if c.Temperature < 0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %f)", c.Temperature)
	}
	// Timeout sanity checks
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.CommandTimeoutSeconds > 3600 {
		return fmt.Errorf("command_timeout_seconds cannot exceed 3600 (1 hour)")
	}
	if c.BrowserTimeoutSeconds > 600 {
		return fmt.Errorf("browser_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	switch strings.ToLower(strings.TrimSpace(c.Protocol)) {
	case "tools", "text":
	default:
		return fmt.Errorf("protocol must be \"tools\" or \"text\" (got %q)", c.Protocol)
	}
	switch strings.ToLower(strings.TrimSpace(c.Browser)) {
	case "http", "chrome":
	default:
		return fmt.Errorf("browser must be \"http\" or \"chrome\" (got %q)", c.Browser)
	}
	if c.MaxNudges > 50 {
		return fmt.Errorf("max_nudges cannot exceed 50")
	}
	if c.Journal && strings.TrimSpace(c.JournalPath) == "" {
		return fmt.Errorf("journal_path must be set when journal is enabled")
	}
	return nil
}

// RequestTimeout turns the integer value into a duration for HTTP clients.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CommandTimeout is the wall-clock limit for run_command.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// BrowserTimeout bounds each browser request.
func (c Config) BrowserTimeout() time.Duration {
	return time.Duration(c.BrowserTimeoutSeconds) * time.Second
}

// ContextProfile names the history profile implied by the fold toggle.
func (c Config) ContextProfile() string {
	if c.Fold {
		return "fold"
	}
	return "none"
}

// ResolvedWorkDir returns the absolute work dir, expanding a leading "~".
func (c Config) ResolvedWorkDir() (string, error) {
	dir := strings.TrimSpace(c.WorkDir)
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return filepath.Abs(dir)
}

func GetConfigDir() string {
	if configDir := os.Getenv("MOMOKA_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".momoka"
	}
	return filepath.Join(home, ".momoka")
}

// Save writes the config to the user's config file
func Save(c Config) error {
	configPath := Path()
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
