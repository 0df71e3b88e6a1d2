package credentials

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"momoka/internal/config"
)

func TestResolveAPIKeyPrefersEnvironment(t *testing.T) {
	m := NewManagerAt(filepath.Join(t.TempDir(), "credentials.yaml"))
	creds, _ := m.Load()
	creds.SetAPIKey("https://api.example.com/v1", "stored")
	if err := m.Save(creds); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvAPIKey, "")
	key, err := m.ResolveAPIKey("https://API.example.com/other")
	if err != nil || key != "stored" {
		t.Fatalf("key=%q err=%v", key, err)
	}

	t.Setenv(EnvAPIKey, "from-env")
	key, err = m.ResolveAPIKey("https://api.example.com/v1")
	if err != nil || key != "from-env" {
		t.Fatalf("key=%q err=%v", key, err)
	}
}

func TestResolveAPIKeyMissing(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	m := NewManagerAt(filepath.Join(t.TempDir(), "none.yaml"))
	if _, err := m.ResolveAPIKey("https://nowhere.test/v1"); err == nil || !strings.Contains(err.Error(), "nowhere.test") {
		t.Fatalf("expected missing-key error naming the host, got %v", err)
	}
}

func TestSaveRestrictsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "credentials.yaml")
	m := NewManagerAt(path)
	if err := m.Save(&Credentials{}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v", info.Mode().Perm())
	}
}

func TestOnboardWritesKeyAndConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MOMOKA_CONFIG_DIR", dir)
	t.Setenv("MOMOKA_CONFIG_PATH", "")
	m := NewManagerAt(filepath.Join(dir, "credentials.yaml"))

	input := strings.Join([]string{
		"https://llm.internal.test/v1",
		"", // keep default model
		"/srv/work",
		"text",
		"",
		"sk-secret",
	}, "\n") + "\n"
	var out bytes.Buffer
	cfg, err := NewWizard(strings.NewReader(input), &out).Onboard(m, config.Default())
	if err != nil {
		t.Fatalf("onboard: %v", err)
	}
	if cfg.Protocol != "text" || cfg.WorkDir != "/srv/work" || cfg.Model != config.DefaultModel {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !strings.Contains(out.String(), "API key cannot be empty") {
		t.Fatalf("empty key should be re-asked: %q", out.String())
	}

	creds, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if creds.GetAPIKey("https://llm.internal.test") != "sk-secret" {
		t.Fatalf("stored endpoints %v", creds.ListEndpoints())
	}
	saved, err := config.LoadUserConfig()
	if err != nil {
		t.Fatal(err)
	}
	if saved.BaseURL != "https://llm.internal.test/v1" {
		t.Fatalf("config base_url = %q", saved.BaseURL)
	}
}
