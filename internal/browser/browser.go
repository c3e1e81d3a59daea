package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/aliexpress-credential-scraper/internal/session"
)

// ProxyConfig routes the browsing context through an upstream proxy.
type ProxyConfig struct {
	Server   string
	Username string
	Password string
}

// Enabled reports whether a proxy server is configured at all.
func (p *ProxyConfig) Enabled() bool {
	return p != nil && p.Server != ""
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Proxy          *ProxyConfig
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}

// stealthScript runs before any page script and removes the most obvious
// automation fingerprints. It does not defeat behavioral challenges, it
// only keeps the fingerprint check from tripping first.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

// Browser owns one browser process and one browsing context. All state is
// ephemeral; cookie persistence lives in the session store.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	b := &Browser{
		opts:   opts,
		logger: slog.Default().With("component", "browser"),
	}
	if err := b.launch(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Browser) launch() error {
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &b.opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-extensions",
			"--window-size=1920,1080",
		},
	}
	if b.opts.Proxy.Enabled() {
		launchOpts.Proxy = &playwright.Proxy{
			Server: b.opts.Proxy.Server,
		}
		if b.opts.Proxy.Username != "" {
			launchOpts.Proxy.Username = &b.opts.Proxy.Username
			launchOpts.Proxy.Password = &b.opts.Proxy.Password
		}
		b.logger.Info("launching with proxy", "server", b.opts.Proxy.Server)
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &b.opts.UserAgent,
		IgnoreHttpsErrors: playwright.Bool(true),
		Viewport: &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := context.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		b.logger.Warn("failed to install stealth script", "error", err)
	}

	b.pw = pw
	b.browser = browser
	b.context = context
	b.logger.Info("browser launched", "headless", b.opts.Headless)
	return nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))
	return page, nil
}

func (b *Browser) Context() playwright.BrowserContext {
	return b.context
}

// UserAgent returns the user agent the context was created with.
func (b *Browser) UserAgent() string {
	return b.opts.UserAgent
}

// ProxyEnabled reports whether the context routes through a proxy. The
// orchestrator picks plain HTTP for target URLs in that case.
func (b *Browser) ProxyEnabled() bool {
	return b.opts.Proxy.Enabled()
}

// InjectCookies applies a stored session's cookies to the context before
// navigation.
func (b *Browser) InjectCookies(sess *session.Session) error {
	if sess == nil || len(sess.Cookies) == 0 {
		return nil
	}

	cookies := make([]playwright.OptionalCookie, 0, len(sess.Cookies))
	for _, c := range sess.Cookies {
		if c.Name == "" || c.Value == "" || c.Domain == "" {
			continue
		}
		oc := playwright.OptionalCookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: playwright.String(c.Domain),
			Path:   playwright.String(orDefault(c.Path, "/")),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		if c.HTTPOnly {
			oc.HttpOnly = playwright.Bool(true)
		}
		if c.Secure {
			oc.Secure = playwright.Bool(true)
		}
		if ss := sameSiteAttr(c.SameSite); ss != nil {
			oc.SameSite = ss
		}
		cookies = append(cookies, oc)
	}
	if len(cookies) == 0 {
		return nil
	}
	if err := b.context.AddCookies(cookies); err != nil {
		return fmt.Errorf("failed to inject cookies: %w", err)
	}
	b.logger.Info("injected cookies", "count", len(cookies))
	return nil
}

// ExtractCookies snapshots the context's cookie jar into a new session
// stamped with the current time.
func (b *Browser) ExtractCookies() (*session.Session, error) {
	raw, err := b.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read context cookies: %w", err)
	}

	cookies := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		sc := session.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			sc.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, sc)
	}

	return &session.Session{
		Cookies:    cookies,
		UserAgent:  b.opts.UserAgent,
		CapturedAt: time.Now(),
		ProxyUsed:  b.opts.Proxy.Enabled(),
	}, nil
}

// HealthCheck probes the context by opening and closing a page. A context
// that cannot do that anymore is not worth dragging forward.
func (b *Browser) HealthCheck() bool {
	if b.context == nil {
		return false
	}
	page, err := b.context.NewPage()
	if err != nil {
		b.logger.Warn("health check failed", "error", err)
		return false
	}
	if err := page.Close(); err != nil {
		b.logger.Warn("health check page close failed", "error", err)
		return false
	}
	return true
}

// Restart tears the browser and context down and launches fresh ones. Only
// in-memory state is lost; persisted cookies survive via the session store.
func (b *Browser) Restart() error {
	b.logger.Info("restarting browser session")
	b.teardown()
	if err := b.launch(); err != nil {
		return fmt.Errorf("failed to relaunch browser: %w", err)
	}
	return nil
}

func (b *Browser) teardown() {
	if b.context != nil {
		if err := b.context.Close(); err != nil {
			b.logger.Warn("failed to close context", "error", err)
		}
		b.context = nil
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			b.logger.Warn("failed to close browser", "error", err)
		}
		b.browser = nil
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			b.logger.Warn("failed to stop playwright", "error", err)
		}
		b.pw = nil
	}
}

func (b *Browser) Close() error {
	b.teardown()
	return nil
}

// NavigateWithRetry drives page.Goto with a bounded retry loop, backing off
// linearly between attempts. Navigation timeouts are recoverable.
func (b *Browser) NavigateWithRetry(page playwright.Page, url string, maxRetries int) (playwright.Response, error) {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			time.Sleep(time.Duration(i+1) * time.Second)
		}
		resp, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateNetworkidle,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		b.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}
	return nil, fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func sameSiteAttr(s string) *playwright.SameSiteAttribute {
	switch s {
	case "Strict", "strict":
		return playwright.SameSiteAttributeStrict
	case "Lax", "lax":
		return playwright.SameSiteAttributeLax
	case "None", "none":
		return playwright.SameSiteAttributeNone
	}
	return nil
}
