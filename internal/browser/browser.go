// Package browser provides the page-automation collaborator behind the
// agent's browser actions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Backend names accepted by New.
const (
	BackendHTTP   = "http"
	BackendChrome = "chrome"
)

var (
	// ErrNoPage is returned by every page operation before open succeeds.
	ErrNoPage = errors.New("no page is open; use open first")
	// ErrNoElement means a selector matched nothing usable.
	ErrNoElement = errors.New("no matching element")
	// ErrUnsupported marks operations the backend cannot perform.
	ErrUnsupported = errors.New("not supported by this browser backend")
	// ErrNoHistory is returned by Back and Forward at either end of history.
	ErrNoHistory = errors.New("no page in that direction of history")
)

// Session is a stateful browsing session: one current page, a history
// stack, and a cookie jar shared by navigation and downloads.
type Session interface {
	Open(ctx context.Context, rawURL string) (string, error)
	ReadPage(ctx context.Context, maxChars int) (string, error)
	FindText(ctx context.Context, text string, limit int) (string, error)
	Click(ctx context.Context, selector string) (string, error)
	TypeText(ctx context.Context, selector, text string) (string, error)
	SelectOption(ctx context.Context, selector, value string) (string, error)
	Hover(ctx context.Context, selector string) (string, error)
	Back(ctx context.Context) (string, error)
	Forward(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, dir string) (string, error)
	ExportPDF(ctx context.Context, dir string) (string, error)
	Download(ctx context.Context, rawURL, dir string) (string, error)
	Upload(ctx context.Context, selector, path string) (string, error)
	EvaluateScript(ctx context.Context, script string) (string, error)
	Close() (string, error)
}

// New builds the session for a backend name. An empty name selects the HTTP
// backend.
func New(backend string, opts Options) (Session, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendHTTP:
		return NewHTTP(opts)
	case BackendChrome:
		return NewChrome(opts), nil
	default:
		return nil, fmt.Errorf("unknown browser backend %q (want %q or %q)", backend, BackendHTTP, BackendChrome)
	}
}

// renderPage formats the read_page view shared by both backends: visible
// text cut to maxChars runes, then the interactive element list.
func renderPage(location, text string, maxChars int, elems []string) string {
	if maxChars > 0 {
		if runes := []rune(text); len(runes) > maxChars {
			text = string(runes[:maxChars]) + fmt.Sprintf("\n...(truncated, %d chars total)", len(runes))
		}
	}
	var out strings.Builder
	fmt.Fprintf(&out, "Page: %s\n\n-- text --\n%s\n\n-- interactive elements --\n", location, text)
	out.WriteString(strings.Join(elems, "\n"))
	return out.String()
}

// cleanLines normalises whitespace per line and drops blank lines.
func cleanLines(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if line = normalizeWhitespace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// saveDownload performs req and streams a successful body into dir.
func saveDownload(client *http.Client, req *http.Request, dir string) (string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("download %s: status %d", req.URL, resp.StatusCode)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, downloadName(resp, req.URL))
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	n, copyErr := io.Copy(f, resp.Body)
	if err := f.Close(); copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		os.Remove(dest)
		return "", copyErr
	}
	return fmt.Sprintf("Downloaded %s to %s (%d bytes)", req.URL, dest, n), nil
}
