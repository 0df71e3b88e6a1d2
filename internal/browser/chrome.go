package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const hoverSettle = 400 * time.Millisecond

// Chrome drives a headless Chrome over the DevTools protocol. The browser
// starts on the first Open and stops on Close; scripts, hover styles,
// screenshots and PDF export all run in the real engine.
type Chrome struct {
	mu      sync.Mutex
	timeout time.Duration
	agent   string
	exec    string

	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

// NewChrome returns an idle session. No process is started until Open.
func NewChrome(opts Options) *Chrome {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = defaultUserAgent
	}
	return &Chrome{timeout: timeout, agent: agent, exec: opts.ExecPath}
}

func (c *Chrome) start() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.UserAgent(c.agent))
	if c.exec != "" {
		opts = append(opts, chromedp.ExecPath(c.exec))
	}
	// Chrome refuses to start its sandbox as root.
	if os.Geteuid() == 0 {
		opts = append(opts, chromedp.NoSandbox)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)
	// The first Run must use the tab context itself, otherwise its
	// cancellation would tear the browser down.
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("start chrome: %w", err)
	}
	c.tab, c.tabCancel, c.allocCancel = tab, tabCancel, allocCancel
	return nil
}

// run executes actions on the tab, bounded by the session timeout and by
// the caller's context.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	if c.tab == nil {
		return ErrNoPage
	}
	runCtx, cancel := context.WithTimeout(c.tab, c.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// runNav is run for actions that trigger a navigation; it waits for the new
// document and returns its main response.
func (c *Chrome) runNav(ctx context.Context, actions ...chromedp.Action) (*network.Response, error) {
	if c.tab == nil {
		return nil, ErrNoPage
	}
	runCtx, cancel := context.WithTimeout(c.tab, c.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.RunResponse(runCtx, actions...)
}

func (c *Chrome) location(ctx context.Context) (string, string, error) {
	var loc, title string
	err := c.run(ctx, chromedp.Location(&loc), chromedp.Title(&title))
	return loc, title, err
}

func (c *Chrome) describe(ctx context.Context, verb string) (string, error) {
	loc, title, err := c.location(ctx)
	if err != nil {
		return "", err
	}
	out := fmt.Sprintf("%s %s", verb, loc)
	if title = normalizeWhitespace(title); title != "" {
		out += "\nTitle: " + title
	}
	return out, nil
}

// exists reports ErrNoElement up front; chromedp's query actions would
// otherwise wait for the selector until the timeout.
func (c *Chrome) exists(ctx context.Context, selector string) error {
	var found bool
	if err := c.run(ctx, chromedp.Evaluate(fmt.Sprintf("document.querySelector(%s) !== null", jsString(selector)), &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return nil
}

func (c *Chrome) Open(ctx context.Context, rawURL string) (string, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !target.IsAbs() && c.tab != nil {
		if loc, _, err := c.location(ctx); err == nil {
			if base, err := url.Parse(loc); err == nil {
				target = base.ResolveReference(target)
			}
		}
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "", fmt.Errorf("unsupported url %q: only http and https are allowed", rawURL)
	}
	if c.tab == nil {
		if err := c.start(); err != nil {
			return "", err
		}
	}

	resp, err := c.runNav(ctx, chromedp.Navigate(target.String()))
	if err != nil {
		return "", err
	}
	status := 0
	if resp != nil {
		status = int(resp.Status)
	}
	loc, title, err := c.location(ctx)
	if err != nil {
		return "", err
	}
	out := fmt.Sprintf("Opened %s (status %d)", loc, status)
	if title = normalizeWhitespace(title); title != "" {
		out += "\nTitle: " + title
	}
	return out, nil
}

const elementsScript = `(() => {
  const out = [];
  for (const el of document.querySelectorAll('input, button, a, select, textarea')) {
    if (out.length >= %d) break;
    if (el.type === 'hidden' || !el.getClientRects().length) continue;
    const tag = el.tagName.toLowerCase();
    let sel = tag;
    if (el.id) sel = tag + '#' + el.id;
    else if (el.name) sel = tag + '[name="' + el.name + '"]';
    else if (el.classList.length) sel = tag + '.' + Array.from(el.classList).join('.');
    const label = ((el.innerText || '').trim() || el.value || el.placeholder || '').replace(/\s+/g, ' ').slice(0, 20);
    out.push('[' + tag + '] ' + sel + ' | type=' + (el.getAttribute('type') || '') + ' | ' + JSON.stringify(label));
  }
  return out;
})()`

func (c *Chrome) ReadPage(ctx context.Context, maxChars int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		loc   string
		text  string
		elems []string
	)
	err := c.run(ctx,
		chromedp.Location(&loc),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
		chromedp.Evaluate(fmt.Sprintf(elementsScript, maxElements), &elems),
	)
	if err != nil {
		return "", err
	}
	return renderPage(loc, cleanLines(text), maxChars, elems), nil
}

const findScript = `((needle, limit) => {
  const out = [];
  const walker = document.createTreeWalker(document.body || document.documentElement, NodeFilter.SHOW_TEXT);
  while (out.length < limit && walker.nextNode()) {
    const node = walker.currentNode;
    const el = node.parentElement;
    if (!el || !node.data.includes(needle)) continue;
    if (['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE'].includes(el.tagName) || !el.getClientRects().length) continue;
    const tag = el.tagName.toLowerCase();
    let sel = tag;
    if (el.id) sel = tag + '#' + el.id;
    else if (el.getAttribute('name')) sel = tag + '[name="' + el.getAttribute('name') + '"]';
    else if (el.classList.length) sel = tag + '.' + Array.from(el.classList).join('.');
    out.push({tag: tag, selector: sel, text: node.data.trim()});
  }
  return out;
})(%s, %d)`

type textMatch struct {
	Tag      string `json:"tag"`
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

func (c *Chrome) FindText(ctx context.Context, needle string, limit int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	var matches []textMatch
	if err := c.run(ctx, chromedp.Evaluate(fmt.Sprintf(findScript, jsString(needle), limit), &matches)); err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No visible element contains %q.", needle), nil
	}
	lines := make([]string, 0, len(matches))
	for i, m := range matches {
		lines = append(lines, fmt.Sprintf("  [%d] <%s> selector: %s\n      text: %s", i+1, m.Tag, m.Selector, truncateRunes(m.Text, snippetRunes)))
	}
	return fmt.Sprintf("Found %d elements containing %q:\n%s", len(lines), needle, strings.Join(lines, "\n")), nil
}

// navigatesScript reports whether clicking the element loads a new document:
// a link to another location or a form submit control.
const navigatesScript = `(sel => {
  const el = document.querySelector(sel);
  if (!el) return false;
  const link = el.closest('a[href]');
  if (link) {
    const href = link.getAttribute('href');
    return !href.startsWith('#') && !href.toLowerCase().startsWith('javascript:');
  }
  const submit = el.closest('button, input');
  return !!(submit && submit.form && (submit.type === 'submit' || submit.type === 'image'));
})(%s)`

func (c *Chrome) Click(ctx context.Context, selector string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.exists(ctx, selector); err != nil {
		return "", err
	}
	var navigates bool
	if err := c.run(ctx, chromedp.Evaluate(fmt.Sprintf(navigatesScript, jsString(selector)), &navigates)); err != nil {
		return "", err
	}
	click := chromedp.Click(selector, chromedp.ByQuery)
	if !navigates {
		if err := c.run(ctx, click); err != nil {
			return "", err
		}
		return fmt.Sprintf("Clicked %s", selector), nil
	}
	if _, err := c.runNav(ctx, click); err != nil {
		return "", err
	}
	return c.describe(ctx, "Clicked "+selector+", now at")
}

func (c *Chrome) TypeText(ctx context.Context, selector, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.exists(ctx, selector); err != nil {
		return "", err
	}
	if err := c.run(ctx, chromedp.Clear(selector, chromedp.ByQuery), chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Typed into %s: %s", selector, text), nil
}

const selectScript = `((sel, want) => {
  const el = document.querySelector(sel);
  if (!el) return {status: 'missing'};
  if (el.tagName !== 'SELECT') return {status: 'not-select'};
  const opts = Array.from(el.options);
  let o = opts.find(o => o.value === want) || opts.find(o => o.text.replace(/\s+/g, ' ').trim() === want);
  if (!o && /^\d+$/.test(want.trim())) o = opts[parseInt(want, 10)];
  if (!o) return {status: 'no-option'};
  el.value = o.value;
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return {status: 'ok', label: o.text.replace(/\s+/g, ' ').trim()};
})(%s, %s)`

// SelectOption matches by value, then visible label, then zero-based index.
func (c *Chrome) SelectOption(ctx context.Context, selector, value string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res struct {
		Status string `json:"status"`
		Label  string `json:"label"`
	}
	if err := c.run(ctx, chromedp.Evaluate(fmt.Sprintf(selectScript, jsString(selector), jsString(value)), &res)); err != nil {
		return "", err
	}
	switch res.Status {
	case "ok":
		return fmt.Sprintf("Selected option %q in %s", res.Label, selector), nil
	case "not-select":
		return "", fmt.Errorf("%w: %s is not a select element", ErrNoElement, selector)
	case "no-option":
		return "", fmt.Errorf("%w: option %q in %s (tried value, label, index)", ErrNoElement, value, selector)
	default:
		return "", fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
}

// Hover moves the mouse to the element's centre so :hover rules and
// mouseover listeners fire.
func (c *Chrome) Hover(ctx context.Context, selector string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.exists(ctx, selector); err != nil {
		return "", err
	}
	move := chromedp.QueryAfter(selector, func(ctx context.Context, _ runtime.ExecutionContextID, nodes ...*cdp.Node) error {
		if len(nodes) == 0 {
			return fmt.Errorf("%w: %s", ErrNoElement, selector)
		}
		box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(ctx)
		if err != nil {
			return err
		}
		if len(box.Content) < 8 {
			return fmt.Errorf("%w: %s has no layout box", ErrNoElement, selector)
		}
		q := box.Content
		x := (q[0] + q[2] + q[4] + q[6]) / 4
		y := (q[1] + q[3] + q[5] + q[7]) / 4
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	}, chromedp.ByQuery)
	if err := c.run(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery), move, chromedp.Sleep(hoverSettle)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Hovered over %s", selector), nil
}

func (c *Chrome) Back(ctx context.Context) (string, error) {
	return c.step(ctx, -1, "Went back to")
}

func (c *Chrome) Forward(ctx context.Context) (string, error) {
	return c.step(ctx, 1, "Went forward to")
}

// step moves through the tab's history. The blank entry a fresh tab starts
// on does not count as a page.
func (c *Chrome) step(ctx context.Context, delta int, verb string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		cur     int64
		entries []*cdppage.NavigationEntry
	)
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cur, entries, err = cdppage.GetNavigationHistory().Do(ctx)
		return err
	}))
	if err != nil {
		return "", err
	}
	next := int(cur) + delta
	if next < 0 || next >= len(entries) || entries[next].URL == "about:blank" {
		return "", ErrNoHistory
	}
	nav := chromedp.NavigateBack()
	if delta > 0 {
		nav = chromedp.NavigateForward()
	}
	if err := c.run(ctx, nav, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return "", err
	}
	return c.describe(ctx, verb)
}

func (c *Chrome) Screenshot(ctx context.Context, dir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf []byte
	// Quality 100 keeps the capture lossless PNG.
	if err := c.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return "", err
	}
	target, err := writeCapture(dir, fmt.Sprintf("screenshot_%d.png", time.Now().Unix()), buf)
	if err != nil {
		return "", err
	}
	return "Screenshot saved to " + target, nil
}

func (c *Chrome) ExportPDF(ctx context.Context, dir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf []byte
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = cdppage.PrintToPDF().
			WithPaperWidth(8.27).
			WithPaperHeight(11.69).
			WithPrintBackground(true).
			Do(ctx)
		return err
	}))
	if err != nil {
		return "", err
	}
	target, err := writeCapture(dir, fmt.Sprintf("page_%d.pdf", time.Now().Unix()), buf)
	if err != nil {
		return "", err
	}
	return "PDF saved to " + target, nil
}

func writeCapture(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", err
	}
	return target, nil
}

// Download fetches rawURL outside the tab, carrying the tab's cookies for
// that URL so authenticated files come through.
func (c *Chrome) Download(ctx context.Context, rawURL, dir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	loc, _, err := c.location(ctx)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	target := base.ResolveReference(ref)

	var cookies []*network.Cookie
	err = c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithUrls([]string{target.String()}).Do(ctx)
		return err
	}))
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.agent)
	for _, ck := range cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	return saveDownload(http.DefaultClient, req, dir)
}

func (c *Chrome) Upload(ctx context.Context, selector, localPath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, err := os.Stat(localPath)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("local file does not exist: %s", localPath)
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	if err := c.exists(ctx, selector); err != nil {
		return "", err
	}
	if err := c.run(ctx, chromedp.SetUploadFiles(selector, []string{abs}, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Attached %s to %s", abs, selector), nil
}

// EvaluateScript runs script in the page and reports its value as JSON.
// Promises are awaited.
func (c *Chrome) EvaluateScript(ctx context.Context, script string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		obj *runtime.RemoteObject
		exc *runtime.ExceptionDetails
	)
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		obj, exc, err = runtime.Evaluate(script).WithReturnByValue(true).WithAwaitPromise(true).Do(ctx)
		return err
	}))
	if err != nil {
		return "", err
	}
	if exc != nil {
		msg := exc.Text
		if exc.Exception != nil && exc.Exception.Description != "" {
			msg = exc.Exception.Description
		}
		return "", fmt.Errorf("script error: %s", msg)
	}
	return "Script result: " + remoteValue(obj), nil
}

func remoteValue(obj *runtime.RemoteObject) string {
	if obj == nil || obj.Type == runtime.TypeUndefined {
		return "undefined"
	}
	if obj.Type == runtime.TypeString {
		var s string
		if err := json.Unmarshal(obj.Value, &s); err == nil {
			return s
		}
	}
	if len(obj.Value) == 0 {
		return obj.Description
	}
	return string(obj.Value)
}

func (c *Chrome) Close() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tab == nil {
		return "Browser was not open.", nil
	}
	c.tabCancel()
	c.allocCancel()
	c.tab, c.tabCancel, c.allocCancel = nil, nil, nil
	return "Browser closed.", nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

var _ Session = (*Chrome)(nil)
