package credentials

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"momoka/internal/config"
)

// Wizard asks the setup questions on in and prints to out.
type Wizard struct {
	in  *bufio.Reader
	out io.Writer
}

func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{in: bufio.NewReader(in), out: out}
}

// Onboard runs the interactive first-time setup: endpoint, model, work dir
// and API key. The key goes to the credentials file, the rest to config.yaml.
func (w *Wizard) Onboard(manager *Manager, cfg config.Config) (config.Config, error) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "═══════════════════════════════════════════════════════════")
	fmt.Fprintln(w.out, "  Momoka setup")
	fmt.Fprintln(w.out, "═══════════════════════════════════════════════════════════")
	fmt.Fprintln(w.out)

	cfg.BaseURL = w.promptWithDefault("API base URL (OpenAI-compatible)", cfg.BaseURL)
	cfg.Model = w.promptWithDefault("Model", cfg.Model)
	cfg.WorkDir = w.promptWithDefault("Work directory", cfg.WorkDir)
	proto := w.promptWithDefault("Protocol [tools/text]", cfg.Protocol)
	switch strings.ToLower(proto) {
	case "tools", "text":
		cfg.Protocol = strings.ToLower(proto)
	default:
		return cfg, fmt.Errorf("invalid protocol: %s", proto)
	}

	apiKey, err := w.apiKey(EndpointKey(cfg.BaseURL))
	if err != nil {
		return cfg, err
	}

	creds, err := manager.Load()
	if err != nil {
		return cfg, err
	}
	creds.SetAPIKey(cfg.BaseURL, apiKey)
	if err := manager.Save(creds); err != nil {
		return cfg, fmt.Errorf("save credentials: %w", err)
	}
	if err := config.Save(cfg); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "✓ API key saved to:", manager.Path())
	fmt.Fprintln(w.out, "✓ Config saved to:", config.Path())
	fmt.Fprintln(w.out)
	return cfg, nil
}

func (w *Wizard) apiKey(host string) (string, error) {
	for attempts := 0; attempts < 3; attempts++ {
		apiKey, eof := w.prompt(fmt.Sprintf("Enter the API key for %s", host))
		if apiKey != "" {
			return apiKey, nil
		}
		if eof {
			break
		}
		fmt.Fprintln(w.out, "❌ API key cannot be empty. Please try again.")
	}
	return "", fmt.Errorf("no API key entered")
}

func (w *Wizard) prompt(msg string) (string, bool) {
	fmt.Fprintf(w.out, "%s: ", msg)
	line, err := w.in.ReadString('\n')
	return strings.TrimSpace(line), err != nil
}

func (w *Wizard) promptWithDefault(msg, defaultValue string) string {
	fmt.Fprintf(w.out, "%s [%s]: ", msg, defaultValue)
	line, _ := w.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultValue
	}
	return line
}
