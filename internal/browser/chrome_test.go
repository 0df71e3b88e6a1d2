package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const hoverPage = `<html><head><title>Menu</title>
<style>#menu { display: none } #trigger:hover + #menu { display: block }</style></head>
<body>
<button id="trigger" onmouseover="document.title = 'hovered'">Open menu</button>
<div id="menu">Settings</div>
<select id="color"><option value="r">Red</option><option value="g">Green</option></select>
<input id="user" type="text">
<a id="next" href="/next">Next page</a>
</body></html>`

// chromePath finds a Chrome binary or skips the test.
func chromePath(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("MOMOKA_CHROME"); p != "" {
		return p
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary found; set MOMOKA_CHROME to run")
	return ""
}

func newChromeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "xyz", Path: "/"})
		fmt.Fprint(w, hoverPage)
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Next</title></head><body><p>second</p></body></html>`)
	})
	mux.HandleFunc("/file.txt", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("sid")
		if err != nil {
			http.Error(w, "no cookie", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="report.txt"`)
		fmt.Fprint(w, "payload "+c.Value)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New("", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*HTTP); !ok {
		t.Fatalf("default backend is %T", s)
	}
	s, err = New(" Chrome ", Options{})
	if err != nil {
		t.Fatal(err)
	}
	idle, ok := s.(*Chrome)
	if !ok {
		t.Fatalf("chrome backend is %T", s)
	}
	if _, err := idle.EvaluateScript(context.Background(), "1"); !errors.Is(err, ErrNoPage) {
		t.Fatalf("idle chrome should report ErrNoPage, got %v", err)
	}
	if out, _ := idle.Close(); out != "Browser was not open." {
		t.Fatalf("close idle: %q", out)
	}
	if _, err := New("lynx", Options{}); err == nil {
		t.Fatal("unknown backend should fail")
	}
}

func TestChromeRendersAndRunsScripts(t *testing.T) {
	c := NewChrome(Options{ExecPath: chromePath(t)})
	t.Cleanup(func() { c.Close() })
	srv := newChromeServer(t)
	ctx := context.Background()

	out, err := c.Open(ctx, srv.URL+"/")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !strings.Contains(out, "(status 200)") || !strings.Contains(out, "Title: Menu") {
		t.Fatalf("open output %q", out)
	}

	page, err := c.ReadPage(ctx, 4000)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page, "Open menu") || strings.Contains(page, "Settings") {
		t.Fatalf("hidden menu should not be read before hover:\n%s", page)
	}
	if !strings.Contains(page, "[button] button#trigger") {
		t.Fatalf("missing interactive element:\n%s", page)
	}

	if _, err := c.Hover(ctx, "#trigger"); err != nil {
		t.Fatalf("hover: %v", err)
	}
	if got, err := c.EvaluateScript(ctx, "document.title"); err != nil || got != "Script result: hovered" {
		t.Fatalf("hover did not fire mouseover: %q %v", got, err)
	}
	if got, _ := c.EvaluateScript(ctx, "getComputedStyle(document.getElementById('menu')).display"); got != "Script result: block" {
		t.Fatalf(":hover style not applied: %q", got)
	}
	if _, err := c.Hover(ctx, "#missing"); !errors.Is(err, ErrNoElement) {
		t.Fatalf("hover missing: %v", err)
	}

	if got, _ := c.EvaluateScript(ctx, "1 + 2"); got != "Script result: 3" {
		t.Fatalf("eval number: %q", got)
	}
	if got, _ := c.EvaluateScript(ctx, "Promise.resolve({a: 1})"); got != `Script result: {"a":1}` {
		t.Fatalf("eval promise: %q", got)
	}
	if got, _ := c.EvaluateScript(ctx, "void 0"); got != "Script result: undefined" {
		t.Fatalf("eval undefined: %q", got)
	}
	if _, err := c.EvaluateScript(ctx, "throw new Error('boom')"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("eval error: %v", err)
	}

	if _, err := c.SelectOption(ctx, "#color", "Green"); err != nil {
		t.Fatalf("select by label: %v", err)
	}
	if got, _ := c.EvaluateScript(ctx, "document.getElementById('color').value"); got != "Script result: g" {
		t.Fatalf("select value: %q", got)
	}
	if _, err := c.SelectOption(ctx, "#user", "x"); !errors.Is(err, ErrNoElement) {
		t.Fatalf("select on input: %v", err)
	}
	if _, err := c.TypeText(ctx, "#user", "ada"); err != nil {
		t.Fatalf("type: %v", err)
	}
	if got, _ := c.EvaluateScript(ctx, "document.getElementById('user').value"); got != "Script result: ada" {
		t.Fatalf("typed value: %q", got)
	}

	found, err := c.FindText(ctx, "Next", 5)
	if err != nil || !strings.Contains(found, "a#next") {
		t.Fatalf("find: %q %v", found, err)
	}
}

func TestChromeCapturesAndNavigates(t *testing.T) {
	c := NewChrome(Options{ExecPath: chromePath(t)})
	t.Cleanup(func() { c.Close() })
	srv := newChromeServer(t)
	ctx := context.Background()

	if _, err := c.Open(ctx, srv.URL+"/"); err != nil {
		t.Fatalf("open: %v", err)
	}

	dir := t.TempDir()
	if _, err := c.Screenshot(ctx, dir); err != nil {
		t.Fatalf("screenshot: %v", err)
	}
	if _, err := c.ExportPDF(ctx, dir); err != nil {
		t.Fatalf("pdf: %v", err)
	}
	magic := map[string][]byte{".png": []byte("\x89PNG"), ".pdf": []byte("%PDF")}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("expected a png and a pdf, got %v", entries)
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		want := magic[filepath.Ext(e.Name())]
		if want == nil || !bytes.HasPrefix(data, want) {
			t.Fatalf("%s is not a real capture", e.Name())
		}
	}

	out, err := c.Download(ctx, "/file.txt", dir)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	if err != nil || string(data) != "payload xyz" {
		t.Fatalf("download %q: %q %v", out, data, err)
	}

	if out, err := c.Click(ctx, "#next"); err != nil || !strings.Contains(out, "/next") {
		t.Fatalf("click: %q %v", out, err)
	}
	if out, err := c.Back(ctx); err != nil || !strings.Contains(out, "Title: Menu") {
		t.Fatalf("back: %q %v", out, err)
	}
	if _, err := c.Back(ctx); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("back past first page: %v", err)
	}
	if out, err := c.Forward(ctx); err != nil || !strings.Contains(out, "Title: Next") {
		t.Fatalf("forward: %q %v", out, err)
	}

	if out, _ := c.Close(); out != "Browser closed." {
		t.Fatalf("close: %q", out)
	}
	if _, err := c.ReadPage(ctx, 10); !errors.Is(err, ErrNoPage) {
		t.Fatalf("expected ErrNoPage after close, got %v", err)
	}
}
