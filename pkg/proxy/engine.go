package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deskos/edge/pkg/ruleset"
)

// Mode selects what the proxy does with a target URL.
type Mode string

const (
	// ModeCheck reports whether the target permits iframe embedding.
	ModeCheck Mode = "check"
	// ModeProxy serves the target's content with embedding restrictions
	// stripped and navigation interception injected.
	ModeProxy Mode = "proxy"
	// ModeSnapshot serves a pre-rendered snapshot from the external cache.
	ModeSnapshot Mode = "ai"
)

// ParseMode maps a query value to a Mode, defaulting to proxy.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(s)) {
	case ModeCheck:
		return ModeCheck
	case ModeSnapshot:
		return ModeSnapshot
	default:
		return ModeProxy
	}
}

// Verdict is the embedding-check outcome. It is always produced, even on
// upstream failure: errors become a blocked verdict with the error as the
// reason.
type Verdict struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	Title      string `json:"title,omitempty"`
	WaybackURL string `json:"waybackUrl,omitempty"`
}

// Request is a resolved proxy request: normalized target, effective mode,
// and any matched ruleset rule. Synthetic is set when the resolution already
// produced a final verdict and no upstream fetch should happen.
type Request struct {
	Target      *url.URL
	Mode        Mode
	AutoProxied bool
	Archived    bool
	Synthetic   *Verdict
	Rule        ruleset.Rule
	HasRule     bool
}

// Content is a successfully proxied upstream response. Exactly one of HTML
// (rewritten, fully buffered) or Body (unmodified stream) is set.
type Content struct {
	Status int
	Header http.Header
	Title  string
	HTML   []byte
	Body   io.ReadCloser
}

// Doer is the slice of http.Client the engine depends on.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// PermissiveCSP replaces whatever the upstream sent so the page can be
	// framed by anyone while staying sandboxed.
	PermissiveCSP = "frame-ancestors *; sandbox allow-scripts allow-forms allow-same-origin allow-popups"

	// TitleHeader carries the extracted page title (URL-encoded) on HTML
	// proxy responses.
	TitleHeader = "X-Proxied-Page-Title"
)

// Engine performs embedding checks and transforming fetches. It holds no
// per-request state; every method is safe for concurrent use.
type Engine struct {
	client       Doer
	rules        ruleset.Ruleset
	log          *logrus.Logger
	userAgent    string
	checkTimeout time.Duration
	proxyTimeout time.Duration
}

type Option func(*Engine)

func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithUserAgent(ua string) Option {
	return func(e *Engine) { e.userAgent = ua }
}

func WithTimeouts(check, proxy time.Duration) Option {
	return func(e *Engine) {
		e.checkTimeout = check
		e.proxyTimeout = proxy
	}
}

func NewEngine(client Doer, rules ruleset.Ruleset, opts ...Option) *Engine {
	e := &Engine{
		client:       client,
		rules:        rules,
		log:          logrus.StandardLogger(),
		userAgent:    defaultUserAgent,
		checkTimeout: 10 * time.Second,
		proxyTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve normalizes rawURL and determines the effective mode. Cache-read
// mode keeps the target untouched: the year selects a cache entry, not an
// archival capture. For the other modes an archival date rewrites the target
// to a snapshot and forces proxy mode; otherwise an auto-proxied domain
// forces proxy mode, except that an explicit check request short-circuits to
// a synthetic blocked verdict with no upstream fetch.
func (e *Engine) Resolve(rawURL string, mode Mode, year, month string) (*Request, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if year != "" && !archiveYearRe.MatchString(year) {
		return nil, fmt.Errorf("invalid year %q", year)
	}
	if month != "" && !archiveMonthRe.MatchString(month) {
		return nil, fmt.Errorf("invalid month %q", month)
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("invalid url %q: missing host", rawURL)
	}

	req := &Request{Target: target, Mode: mode}

	// Cache reads never fetch upstream, so neither the archival rewrite nor
	// the auto-proxy list has anything to force for them.
	if mode == ModeSnapshot {
		return req, nil
	}

	if year != "" {
		snapshot, err := url.Parse(SnapshotURL(target, year, month))
		if err != nil {
			return nil, fmt.Errorf("invalid snapshot url: %w", err)
		}
		req.Target = snapshot
		req.Mode = ModeProxy
		req.Archived = true
		return req, nil
	}

	if rule, ok := e.rules.Match(target.Hostname(), target.Path); ok {
		if mode == ModeCheck {
			req.Synthetic = &Verdict{Allowed: false, Reason: "Auto-proxied domain"}
			return req, nil
		}
		req.Mode = ModeProxy
		req.AutoProxied = true
		req.Rule = rule
		req.HasRule = true
	}

	return req, nil
}

// Check fetches the target and reports whether it permits embedding.
// Blocked verdicts carry a best-effort archival snapshot URL so the caller
// can offer a fallback.
func (e *Engine) Check(ctx context.Context, target *url.URL) Verdict {
	v := e.check(ctx, target)
	if !v.Allowed {
		if wb, err := e.lookupWayback(ctx, target); err == nil {
			v.WaybackURL = wb
		}
	}
	return v
}

func (e *Engine) check(ctx context.Context, target *url.URL) Verdict {
	ctx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Verdict{Reason: err.Error()}
	}
	e.setBrowserHeaders(req, ruleset.Headers{})

	resp, err := e.client.Do(req)
	if err != nil {
		return Verdict{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Verdict{Reason: fmt.Sprintf("Upstream returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))}
	}

	if xfo := resp.Header.Get("X-Frame-Options"); xfo != "" && XFOBlocks(xfo) {
		return Verdict{Reason: "X-Frame-Options: " + xfo}
	}
	if value, blocked := CSPBlocks(resp.Header.Get("Content-Security-Policy")); blocked {
		return Verdict{Reason: "Content-Security-Policy: frame-ancestors " + value}
	}

	var title string
	if IsHTML(resp.Header.Get("Content-Type")) {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return Verdict{Reason: err.Error()}
		}
		body := string(raw)
		title = ExtractTitle(body)
		if meta := ExtractMetaCSP(body); meta != "" {
			if value, blocked := CSPBlocks(meta); blocked {
				return Verdict{
					Reason: "Content-Security-Policy (meta): frame-ancestors " + value,
					Title:  title,
				}
			}
		}
	}

	return Verdict{Allowed: true, Title: title}
}

// Proxy fetches the resolved target and republishes it embeddable: blocking
// headers stripped, a permissive CSP and wildcard CORS set, and, for HTML,
// navigation and styling injected. Non-HTML bodies stream through untouched.
func (e *Engine) Proxy(ctx context.Context, preq *Request) (*Content, *Error) {
	target := *preq.Target
	if preq.HasRule {
		if err := preq.Rule.ModifyURL(&target); err != nil {
			e.log.WithError(err).Warn("rule URL modification failed, using original")
			target = *preq.Target
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.proxyTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		cancel()
		return nil, connectionError(err)
	}
	e.setBrowserHeaders(req, preq.Rule.Headers)

	resp, err := e.client.Do(req)
	if err != nil {
		cancel()
		return nil, connectionError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, upstreamError(resp)
	}

	header := e.sanitizeHeaders(resp.Header, preq.Rule.Headers.CSP)

	if !IsHTML(resp.Header.Get("Content-Type")) {
		return &Content{
			Status: resp.StatusCode,
			Header: header,
			Body:   &cancelReadCloser{rc: resp.Body, cancel: cancel},
		}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	cancel()
	if err != nil {
		return nil, connectionError(err)
	}

	body, title := e.rewriteHTML(string(raw), preq)
	header.Del("Content-Length")
	if title != "" {
		header.Set(TitleHeader, url.QueryEscape(title))
	}

	return &Content{
		Status: resp.StatusCode,
		Header: header,
		Title:  title,
		HTML:   []byte(body),
	}, nil
}

// setBrowserHeaders makes the upstream request look like a real browser.
// Rule overrides win; a value of "none" suppresses the header.
func (e *Engine) setBrowserHeaders(req *http.Request, overrides ruleset.Headers) {
	ua := e.userAgent
	if overrides.UserAgent != "" {
		ua = overrides.UserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	switch overrides.Referer {
	case "":
		req.Header.Set("Referer", req.URL.Scheme+"://"+req.URL.Host+"/")
	case "none":
	default:
		req.Header.Set("Referer", overrides.Referer)
	}

	if overrides.Cookie != "" && overrides.Cookie != "none" {
		req.Header.Set("Cookie", overrides.Cookie)
	}
}

// hop-by-hop and framing headers never survive the proxy.
var strippedHeaders = []string{
	"X-Frame-Options",
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"Set-Cookie",
}

func (e *Engine) sanitizeHeaders(upstream http.Header, cspOverride string) http.Header {
	header := upstream.Clone()
	for _, name := range strippedHeaders {
		header.Del(name)
	}
	csp := PermissiveCSP
	if cspOverride != "" {
		csp = cspOverride
	}
	header.Set("Content-Security-Policy", csp)
	header.Set("Access-Control-Allow-Origin", "*")
	return header
}

func (e *Engine) rewriteHTML(body string, preq *Request) (string, string) {
	title := ExtractTitle(body)

	head := fmt.Sprintf("<base href=%q>", preq.Target.String())
	if title != "" {
		head += fmt.Sprintf(`<meta name="proxied-title" content=%q>`, title)
	}
	head += fontOverrideStyle

	body = InjectHead(body, head)
	body = InjectBody(body, navigationScript)

	if preq.HasRule {
		out, err := preq.Rule.Apply(body)
		if err != nil {
			e.log.WithError(err).Warn("rule body rewrite failed, serving standard rewrite")
			return body, title
		}
		body = out
	}
	return body, title
}

// fontOverrideStyle nudges proxied pages toward the host environment's
// system font stack.
const fontOverrideStyle = `<style data-proxy-font-override>body{font-family:"Geneva","Helvetica Neue",Helvetica,Arial,sans-serif}</style>`

// navigationScript intercepts anchor clicks inside the framed page,
// resolves them against the injected base, and hands navigation to the
// embedding host instead of letting the frame navigate itself.
const navigationScript = `<script data-proxy-navigation>(function(){document.addEventListener("click",function(ev){var a=ev.target&&ev.target.closest?ev.target.closest("a"):null;if(!a)return;var href=a.getAttribute("href");if(!href)return;ev.preventDefault();var resolved;try{resolved=new URL(href,document.baseURI).href}catch(e){return}window.parent.postMessage({type:"iframeNavigation",url:resolved},"*")},true)})();</script>`

// cancelReadCloser ties the proxy-mode deadline to the streamed body: the
// timer is released only once the caller finishes reading.
type cancelReadCloser struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Read(p []byte) (int, error) { return c.rc.Read(p) }

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.rc.Close()
}
