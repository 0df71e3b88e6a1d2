package credentials

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvAPIKey overrides any stored key when set.
const EnvAPIKey = "MOMOKA_API_KEY"

// Credentials stores API keys per endpoint host.
type Credentials struct {
	Endpoints map[string]Endpoint `yaml:"endpoints"`
}

// Endpoint stores authentication details for a single OpenAI-compatible host.
type Endpoint struct {
	APIKey string `yaml:"api_key"`
}

// Manager handles credential storage and retrieval
type Manager struct {
	path string
}

// NewManager creates a new credential manager.
// MOMOKA_CREDENTIALS_PATH wins; otherwise ~/.momoka/credentials.yaml.
func NewManager() *Manager {
	credPath := os.Getenv("MOMOKA_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = filepath.Join(configDir(), "credentials.yaml")
	}
	return &Manager{path: credPath}
}

// NewManagerAt stores credentials at an explicit path.
func NewManagerAt(path string) *Manager {
	return &Manager{path: path}
}

func configDir() string {
	if dir := os.Getenv("MOMOKA_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".momoka"
	}
	return filepath.Join(home, ".momoka")
}

// Load reads credentials from disk
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{Endpoints: make(map[string]Endpoint)}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Endpoints == nil {
		creds.Endpoints = make(map[string]Endpoint)
	}
	return &creds, nil
}

// Save writes credentials to disk
func (m *Manager) Save(creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	// user-only read/write
	if err := os.WriteFile(m.path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Exists checks if credentials file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Path returns the credentials file path
func (m *Manager) Path() string {
	return m.path
}

// ResolveAPIKey returns the key to use for baseURL: the environment override
// first, then the stored key for the endpoint host.
func (m *Manager) ResolveAPIKey(baseURL string) (string, error) {
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		return key, nil
	}
	creds, err := m.Load()
	if err != nil {
		return "", err
	}
	if key := creds.GetAPIKey(baseURL); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("no API key for %s; run with -setup or set %s", EndpointKey(baseURL), EnvAPIKey)
}

// EndpointKey reduces a base URL to the host used as the storage key.
func EndpointKey(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(baseURL)
	}
	return strings.ToLower(u.Host)
}

// IsConfigured checks if an endpoint has a key
func (c *Credentials) IsConfigured(baseURL string) bool {
	return c.GetAPIKey(baseURL) != ""
}

// GetAPIKey returns the API key for an endpoint
func (c *Credentials) GetAPIKey(baseURL string) string {
	if c.Endpoints == nil {
		return ""
	}
	return c.Endpoints[EndpointKey(baseURL)].APIKey
}

// SetAPIKey stores the API key for an endpoint
func (c *Credentials) SetAPIKey(baseURL, apiKey string) {
	if c.Endpoints == nil {
		c.Endpoints = make(map[string]Endpoint)
	}
	c.Endpoints[EndpointKey(baseURL)] = Endpoint{APIKey: apiKey}
}

// Remove drops the stored key for an endpoint
func (c *Credentials) Remove(baseURL string) {
	if c.Endpoints != nil {
		delete(c.Endpoints, EndpointKey(baseURL))
	}
}

// ListEndpoints returns the hosts that have a key, sorted.
func (c *Credentials) ListEndpoints() []string {
	names := make([]string, 0, len(c.Endpoints))
	for name, ep := range c.Endpoints {
		if ep.APIKey != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
