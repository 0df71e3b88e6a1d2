package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorString string
	}{
		{
			name: "valid config passes",
			modifyFunc: func(c *Config) {
				c.Temperature = 0.7
				c.RequestTimeoutSeconds = 90
				c.CommandTimeoutSeconds = 60
			},
			expectError: false,
		},
		{
			name: "text protocol passes",
			modifyFunc: func(c *Config) {
				c.Protocol = "TEXT"
			},
			expectError: false,
		},
		{
			name: "unknown protocol fails",
			modifyFunc: func(c *Config) {
				c.Protocol = "xml"
			},
			expectError: true,
			errorString: "protocol must be",
		},
		{
			name: "chrome browser passes",
			modifyFunc: func(c *Config) {
				c.Browser = "chrome"
			},
			expectError: false,
		},
		{
			name: "unknown browser fails",
			modifyFunc: func(c *Config) {
				c.Browser = "lynx"
			},
			expectError: true,
			errorString: "browser must be",
		},
		{
			name: "negative temperature fails",
			modifyFunc: func(c *Config) {
				c.Temperature = -0.5
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "temperature > 2.0 fails",
			modifyFunc: func(c *Config) {
				c.Temperature = 3.0
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "request timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.RequestTimeoutSeconds = 9999
			},
			expectError: true,
			errorString: "request_timeout_seconds cannot exceed",
		},
		{
			name: "command timeout > 3600 fails",
			modifyFunc: func(c *Config) {
				c.CommandTimeoutSeconds = 9999
			},
			expectError: true,
			errorString: "command_timeout_seconds cannot exceed",
		},
		{
			name: "browser timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.BrowserTimeoutSeconds = 601
			},
			expectError: true,
			errorString: "browser_timeout_seconds cannot exceed",
		},
		{
			name: "journal without path fails",
			modifyFunc: func(c *Config) {
				c.Journal = true
				c.JournalPath = " "
			},
			expectError: true,
			errorString: "journal_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create valid base config
			cfg := Config{
				Model:                 "m",
				Protocol:              "tools",
				Temperature:           0.2,
				RequestTimeoutSeconds: 90,
				CommandTimeoutSeconds: 10,
				BrowserTimeoutSeconds: 30,
				MaxNudges:             3,
				JournalPath:           "/tmp/journal.db",
				Browser:               "http",
			}

			tt.modifyFunc(&cfg)

			err := cfg.validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorString) {
					t.Errorf("Expected error containing %q, got %q", tt.errorString, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestLoadKeepsTrueDefaultsUnlessOverridden(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MOMOKA_CONFIG_DIR", dir)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("model: gpt-test\nsummary: false\nmute_log: [CMD]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "gpt-test" || cfg.Summary {
		t.Fatalf("explicit values lost: %+v", cfg)
	}
	if !cfg.Fold || !cfg.Dialogue || !cfg.Journal {
		t.Fatalf("unspecified booleans should keep defaults: %+v", cfg)
	}
	if cfg.MaxNudges != 3 || cfg.CommandTimeoutSeconds != 10 {
		t.Fatalf("numeric defaults missing: %+v", cfg)
	}
	if cfg.JournalPath != filepath.Join(dir, "journal.db") {
		t.Fatalf("journal path = %q", cfg.JournalPath)
	}
	if len(cfg.MuteLog) != 1 || cfg.MuteLog[0] != "CMD" {
		t.Fatalf("mute_log = %v", cfg.MuteLog)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("protocol: smoke-signals\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestEnsureDefaultConfigAndSave(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MOMOKA_CONFIG_DIR", dir)
	t.Setenv("MOMOKA_CONFIG_PATH", "")

	if err := EnsureDefaultConfig(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	cfg, err := LoadUserConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Protocol != "tools" || cfg.Model != DefaultModel {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	cfg.Protocol = "text"
	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A second ensure must not clobber the saved file.
	if err := EnsureDefaultConfig(); err != nil {
		t.Fatal(err)
	}
	reloaded, err := LoadUserConfig()
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Protocol != "text" {
		t.Fatalf("protocol = %q after save", reloaded.Protocol)
	}
}

func TestResolvedWorkDirExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg := Config{WorkDir: "~/proj"}
	got, err := cfg.ResolvedWorkDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "proj") {
		t.Fatalf("got %q", got)
	}
}
