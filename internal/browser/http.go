package browser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxBody   = 4 << 20
	defaultUserAgent = "Momoka/1.0"
	maxElements      = 50
	snippetRunes     = 80
)

// Options configures a browser session.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// ExecPath overrides Chrome discovery for the chrome backend.
	ExecPath string
}

// HTTP is a Session that fetches pages over plain HTTP and keeps the parsed
// document in memory. Typed values, selections, and attached files live in
// that document until a form is submitted. Scripts are never executed.
type HTTP struct {
	mu      sync.Mutex
	client  *http.Client
	agent   string
	maxBody int64
	history []*page
	cursor  int
}

type page struct {
	url     *url.URL
	status  int
	doc     *goquery.Document
	uploads map[*html.Node]string
}

// NewHTTP returns a session with an empty history and its own cookie jar.
func NewHTTP(opts Options) (*HTTP, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = defaultUserAgent
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &HTTP{
		client:  &http.Client{Timeout: timeout, Jar: jar},
		agent:   agent,
		maxBody: maxBody,
		cursor:  -1,
	}, nil
}

func (b *HTTP) current() (*page, error) {
	if b.cursor < 0 || b.cursor >= len(b.history) {
		return nil, ErrNoPage
	}
	return b.history[b.cursor], nil
}

func (b *HTTP) push(p *page) {
	b.history = append(b.history[:b.cursor+1], p)
	b.cursor = len(b.history) - 1
}

func (b *HTTP) Open(ctx context.Context, rawURL string) (string, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !target.IsAbs() {
		if p, err := b.current(); err == nil {
			target = p.url.ResolveReference(target)
		}
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "", fmt.Errorf("unsupported url %q: only http and https are allowed", rawURL)
	}
	p, err := b.fetch(ctx, http.MethodGet, target.String(), nil, "")
	if err != nil {
		return "", err
	}
	b.push(p)
	return describe("Opened", p), nil
}

func (b *HTTP) fetch(ctx context.Context, method, target string, body io.Reader, contentType string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", b.agent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.maxBody))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &page{
		url:     resp.Request.URL,
		status:  resp.StatusCode,
		doc:     doc,
		uploads: map[*html.Node]string{},
	}, nil
}

func describe(verb string, p *page) string {
	title := normalizeWhitespace(p.doc.Find("title").First().Text())
	out := fmt.Sprintf("%s %s (status %d)", verb, p.url, p.status)
	if title != "" {
		out += "\nTitle: " + title
	}
	return out
}

func (b *HTTP) ReadPage(_ context.Context, maxChars int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.current()
	if err != nil {
		return "", err
	}
	var elems []string
	p.doc.Find("input, button, a, select, textarea").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(elems) >= maxElements {
			return false
		}
		if hidden(sel.Nodes[0]) {
			return true
		}
		tag := goquery.NodeName(sel)
		label := firstNonEmpty(normalizeWhitespace(sel.Text()), sel.AttrOr("value", ""), sel.AttrOr("placeholder", ""))
		elems = append(elems, fmt.Sprintf("[%s] %s | type=%s | %q", tag, selectorFor(sel), sel.AttrOr("type", ""), truncateRunes(label, 20)))
		return true
	})
	return renderPage(p.url.String(), visibleText(p.doc), maxChars, elems), nil
}

func (b *HTTP) FindText(_ context.Context, needle string, limit int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.current()
	if err != nil {
		return "", err
	}
	if limit <= 0 {
		limit = 10
	}
	var lines []string
	body := p.doc.Find("body")
	if body.Length() == 0 {
		body = p.doc.Selection
	}
	for _, root := range body.Nodes {
		walkText(root, func(n *html.Node) bool {
			if len(lines) >= limit {
				return false
			}
			if n.Parent == nil || !strings.Contains(n.Data, needle) {
				return true
			}
			sel := p.doc.FindNodes(n.Parent)
			lines = append(lines, fmt.Sprintf("  [%d] <%s> selector: %s\n      text: %s",
				len(lines)+1, n.Parent.Data, selectorFor(sel), truncateRunes(strings.TrimSpace(n.Data), snippetRunes)))
			return true
		})
	}
	if len(lines) == 0 {
		return fmt.Sprintf("No visible element contains %q.", needle), nil
	}
	return fmt.Sprintf("Found %d elements containing %q:\n%s", len(lines), needle, strings.Join(lines, "\n")), nil
}

func (b *HTTP) find(selector string) (*page, *goquery.Selection, error) {
	p, err := b.current()
	if err != nil {
		return nil, nil, err
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return p, sel, nil
}

func (b *HTTP) Click(ctx context.Context, selector string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, sel, err := b.find(selector)
	if err != nil {
		return "", err
	}
	tag := goquery.NodeName(sel)
	kind := strings.ToLower(sel.AttrOr("type", ""))

	switch {
	case tag == "a":
		href, ok := sel.Attr("href")
		if !ok || strings.HasPrefix(href, "#") {
			return fmt.Sprintf("Clicked %s (no navigation)", selector), nil
		}
		if strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return "", fmt.Errorf("click %s: script links: %w", selector, ErrUnsupported)
		}
		ref, err := url.Parse(href)
		if err != nil {
			return "", fmt.Errorf("bad href %q: %w", href, err)
		}
		next, err := b.fetch(ctx, http.MethodGet, p.url.ResolveReference(ref).String(), nil, "")
		if err != nil {
			return "", err
		}
		b.push(next)
		return describe("Clicked "+selector+", now at", next), nil
	case tag == "input" && (kind == "checkbox" || kind == "radio"):
		toggle(sel, kind)
		return fmt.Sprintf("Clicked %s (checked=%t)", selector, hasAttr(sel, "checked")), nil
	case (tag == "button" && kind != "button" && kind != "reset") || (tag == "input" && (kind == "submit" || kind == "image")):
		form := sel.Closest("form")
		if form.Length() == 0 {
			return fmt.Sprintf("Clicked %s (not inside a form)", selector), nil
		}
		next, err := b.submit(ctx, p, form, sel)
		if err != nil {
			return "", err
		}
		b.push(next)
		return describe("Submitted form via "+selector+", now at", next), nil
	default:
		return fmt.Sprintf("Clicked %s (no link or form action; scripts are not run)", selector), nil
	}
}

func toggle(sel *goquery.Selection, kind string) {
	if kind == "checkbox" {
		if hasAttr(sel, "checked") {
			sel.RemoveAttr("checked")
		} else {
			sel.SetAttr("checked", "checked")
		}
		return
	}
	name := sel.AttrOr("name", "")
	scope := sel.Closest("form")
	if scope.Length() == 0 {
		scope = sel.ParentsFiltered("body")
	}
	if name != "" {
		scope.Find(`input[type="radio"]`).Each(func(_ int, other *goquery.Selection) {
			if other.AttrOr("name", "") == name {
				other.RemoveAttr("checked")
			}
		})
	}
	sel.SetAttr("checked", "checked")
}

type formField struct {
	name  string
	value string
	file  string
}

func (b *HTTP) submit(ctx context.Context, p *page, form, submitter *goquery.Selection) (*page, error) {
	method := strings.ToUpper(submitter.AttrOr("formmethod", form.AttrOr("method", http.MethodGet)))
	action := submitter.AttrOr("formaction", form.AttrOr("action", ""))
	ref, err := url.Parse(action)
	if err != nil {
		return nil, fmt.Errorf("bad form action %q: %w", action, err)
	}
	target := p.url.ResolveReference(ref)

	fields := collectFields(p, form)
	if name := submitter.AttrOr("name", ""); name != "" {
		fields = append(fields, formField{name: name, value: submitter.AttrOr("value", "")})
	}

	multipartForm := strings.EqualFold(form.AttrOr("enctype", ""), "multipart/form-data")
	values := url.Values{}
	for _, f := range fields {
		if f.file != "" {
			multipartForm = true
			continue
		}
		values.Add(f.name, f.value)
	}

	if method != http.MethodPost {
		target.RawQuery = values.Encode()
		return b.fetch(ctx, http.MethodGet, target.String(), nil, "")
	}
	if !multipartForm {
		return b.fetch(ctx, http.MethodPost, target.String(), strings.NewReader(values.Encode()), "application/x-www-form-urlencoded")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		if f.file == "" {
			if err := mw.WriteField(f.name, f.value); err != nil {
				return nil, err
			}
			continue
		}
		if err := attachFile(mw, f.name, f.file); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return b.fetch(ctx, http.MethodPost, target.String(), &buf, mw.FormDataContentType())
}

func attachFile(mw *multipart.Writer, field, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	part, err := mw.CreateFormFile(field, filepath.Base(localPath))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func collectFields(p *page, form *goquery.Selection) []formField {
	var fields []formField
	form.Find("input, textarea, select").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name == "" || hasAttr(sel, "disabled") {
			return
		}
		switch goquery.NodeName(sel) {
		case "textarea":
			fields = append(fields, formField{name: name, value: sel.Text()})
		case "select":
			opt := sel.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = sel.Find("option").First()
			}
			if opt.Length() > 0 {
				fields = append(fields, formField{name: name, value: optionValue(opt)})
			}
		default:
			switch strings.ToLower(sel.AttrOr("type", "text")) {
			case "submit", "image", "button", "reset":
			case "checkbox", "radio":
				if hasAttr(sel, "checked") {
					fields = append(fields, formField{name: name, value: sel.AttrOr("value", "on")})
				}
			case "file":
				if local, ok := p.uploads[sel.Nodes[0]]; ok {
					fields = append(fields, formField{name: name, file: local})
				}
			default:
				fields = append(fields, formField{name: name, value: sel.AttrOr("value", "")})
			}
		}
	})
	return fields
}

func (b *HTTP) TypeText(_ context.Context, selector, text string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, sel, err := b.find(selector)
	if err != nil {
		return "", err
	}
	switch goquery.NodeName(sel) {
	case "textarea":
		sel.SetText(text)
	case "input":
		switch strings.ToLower(sel.AttrOr("type", "text")) {
		case "submit", "image", "button", "reset", "checkbox", "radio", "file":
			return "", fmt.Errorf("%w: %s is not a text input", ErrNoElement, selector)
		}
		sel.SetAttr("value", text)
	default:
		return "", fmt.Errorf("%w: %s is not a text input", ErrNoElement, selector)
	}
	return fmt.Sprintf("Typed into %s: %s", selector, text), nil
}

// SelectOption matches by value, then visible label, then zero-based index.
func (b *HTTP) SelectOption(_ context.Context, selector, value string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, sel, err := b.find(selector)
	if err != nil {
		return "", err
	}
	if goquery.NodeName(sel) != "select" {
		return "", fmt.Errorf("%w: %s is not a select element", ErrNoElement, selector)
	}
	options := sel.Find("option")
	chosen := options.FilterFunction(func(_ int, opt *goquery.Selection) bool {
		return optionValue(opt) == value
	}).First()
	if chosen.Length() == 0 {
		chosen = options.FilterFunction(func(_ int, opt *goquery.Selection) bool {
			return normalizeWhitespace(opt.Text()) == value
		}).First()
	}
	if chosen.Length() == 0 {
		if idx, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && idx >= 0 && idx < options.Length() {
			chosen = options.Eq(idx)
		}
	}
	if chosen.Length() == 0 {
		return "", fmt.Errorf("%w: option %q in %s (tried value, label, index)", ErrNoElement, value, selector)
	}
	options.RemoveAttr("selected")
	chosen.SetAttr("selected", "selected")
	return fmt.Sprintf("Selected option %q in %s", normalizeWhitespace(chosen.Text()), selector), nil
}

func (b *HTTP) Hover(_ context.Context, selector string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, _, err := b.find(selector); err != nil {
		return "", err
	}
	return "", fmt.Errorf("hover %s: %w; set browser: chrome", selector, ErrUnsupported)
}

func (b *HTTP) Back(context.Context) (string, error) {
	return b.step(-1, "Went back to")
}

func (b *HTTP) Forward(context.Context) (string, error) {
	return b.step(1, "Went forward to")
}

func (b *HTTP) step(delta int, verb string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.current(); err != nil {
		return "", err
	}
	next := b.cursor + delta
	if next < 0 || next >= len(b.history) {
		return "", ErrNoHistory
	}
	b.cursor = next
	return describe(verb, b.history[next]), nil
}

func (b *HTTP) Screenshot(_ context.Context, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.current(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("screenshot needs a rendering engine: %w; set browser: chrome", ErrUnsupported)
}

// ExportPDF cannot render, so it saves the current document as HTML next to
// where the PDF would have gone.
func (b *HTTP) ExportPDF(_ context.Context, dir string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.current()
	if err != nil {
		return "", err
	}
	markup, err := p.doc.Html()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(dir, fmt.Sprintf("page_%d.html", time.Now().Unix()))
	if err := os.WriteFile(target, []byte(markup), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("PDF rendering needs browser: chrome; saved an HTML snapshot to %s", target), nil
}

func (b *HTTP) Download(ctx context.Context, rawURL, dir string) (string, error) {
	b.mu.Lock()
	p, err := b.current()
	b.mu.Unlock()
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	target := p.url.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", b.agent)
	return saveDownload(b.client, req, dir)
}

func downloadName(resp *http.Response, target *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := filepath.Base(params["filename"]); name != "." && name != "/" && name != "" {
				return name
			}
		}
	}
	if name := path.Base(target.Path); name != "." && name != "/" && name != "" {
		return name
	}
	return fmt.Sprintf("download_%d", time.Now().Unix())
}

func (b *HTTP) Upload(_ context.Context, selector, localPath string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, sel, err := b.find(selector)
	if err != nil {
		return "", err
	}
	if goquery.NodeName(sel) != "input" || !strings.EqualFold(sel.AttrOr("type", ""), "file") {
		return "", fmt.Errorf("%w: %s is not a file input", ErrNoElement, selector)
	}
	info, err := os.Stat(localPath)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("local file does not exist: %s", localPath)
	}
	p.uploads[sel.Nodes[0]] = localPath
	return fmt.Sprintf("Attached %s to %s; it is sent when the form is submitted.", localPath, selector), nil
}

func (b *HTTP) EvaluateScript(_ context.Context, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.current(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("script evaluation: %w; set browser: chrome", ErrUnsupported)
}

func (b *HTTP) Close() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) == 0 {
		return "Browser was not open.", nil
	}
	b.history = nil
	b.cursor = -1
	return "Browser closed.", nil
}

var skipTags = map[string]bool{"script": true, "style": true, "noscript": true, "template": true, "head": true}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "header": true, "footer": true, "nav": true,
	"ul": true, "ol": true, "form": true, "pre": true, "blockquote": true, "main": true,
}

func hidden(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if skipTags[cur.Data] {
			return true
		}
		for _, a := range cur.Attr {
			if a.Key == "hidden" {
				return true
			}
			if a.Key == "type" && cur.Data == "input" && strings.EqualFold(a.Val, "hidden") {
				return true
			}
			if a.Key == "style" && strings.Contains(strings.ReplaceAll(strings.ToLower(a.Val), " ", ""), "display:none") {
				return true
			}
		}
	}
	return false
}

// walkText visits visible text nodes in document order until fn returns false.
func walkText(n *html.Node, fn func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && hidden(n) {
		return true
	}
	if n.Type == html.TextNode {
		return fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkText(c, fn) {
			return false
		}
	}
	return true
}

func visibleText(doc *goquery.Document) string {
	var raw strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hidden(n) {
			return
		}
		if n.Type == html.TextNode {
			raw.WriteString(n.Data)
			return
		}
		block := n.Type == html.ElementNode && blockTags[n.Data]
		if block {
			raw.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			raw.WriteByte('\n')
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return cleanLines(raw.String())
}

func selectorFor(sel *goquery.Selection) string {
	tag := goquery.NodeName(sel)
	if id := sel.AttrOr("id", ""); id != "" {
		return tag + "#" + id
	}
	if name := sel.AttrOr("name", ""); name != "" {
		return fmt.Sprintf("%s[name=%q]", tag, name)
	}
	if classes := strings.Fields(sel.AttrOr("class", "")); len(classes) > 0 {
		return tag + "." + strings.Join(classes, ".")
	}
	return tag
}

func optionValue(opt *goquery.Selection) string {
	if v, ok := opt.Attr("value"); ok {
		return v
	}
	return normalizeWhitespace(opt.Text())
}

func hasAttr(sel *goquery.Selection, name string) bool {
	_, ok := sel.Attr(name)
	return ok
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

var _ Session = (*HTTP)(nil)
