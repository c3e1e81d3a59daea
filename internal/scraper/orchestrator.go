package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/aliexpress-credential-scraper/internal/browser"
	"github.com/maltedev/aliexpress-credential-scraper/internal/capture"
	"github.com/maltedev/aliexpress-credential-scraper/internal/captcha"
	"github.com/maltedev/aliexpress-credential-scraper/internal/config"
	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
	"github.com/maltedev/aliexpress-credential-scraper/internal/parser"
	"github.com/maltedev/aliexpress-credential-scraper/internal/ratelimit"
	"github.com/maltedev/aliexpress-credential-scraper/internal/retry"
	"github.com/maltedev/aliexpress-credential-scraper/internal/session"
)

// credentialPage is the render endpoint for a store's compliance documents.
// The scheme is substituted at navigation time: proxied runs go over plain
// http because the upstream exit node terminates TLS itself.
const credentialPage = "%s://shoprenderview.aliexpress.com/credential/showcredential.htm?storeNum=%s"

// navAttempts bounds the navigation retry loop; timeouts on this host
// are common and usually clear on the next try.
const navAttempts = 3

// certificateSelectors is the DOM fallback cascade, most specific first.
var certificateSelectors = []string{
	"img.certificate-image",
	".credential-container img",
	".certificate img",
	"img[src^='data:image/']",
}

// browserSession is the slice of browser.Browser the orchestrator needs.
type browserSession interface {
	NewPage() (playwright.Page, error)
	NavigateWithRetry(page playwright.Page, url string, maxRetries int) (playwright.Response, error)
	ProxyEnabled() bool
	InjectCookies(sess *session.Session) error
	ExtractCookies() (*session.Session, error)
	HealthCheck() bool
	Restart() error
}

var _ browserSession = (*browser.Browser)(nil)

// Orchestrator drives the full pass over a batch of store targets. It is
// not safe for concurrent use; run one orchestrator per browser.
type Orchestrator struct {
	browser     browserSession
	interceptor *capture.Interceptor
	table       *capture.Table
	sessions    *session.Store
	limiter     ratelimit.RateLimiter
	parser      *parser.CredentialParser
	cfg         config.ScraperConfig
	captchaCfg  config.CaptchaConfig
	minImage    int
	logger      *slog.Logger

	// consecutive challenge failures across targets
	captchaFailures int

	// scrapeOne and targetURL are swapped out in tests
	scrapeOne func(ctx context.Context, storeID string) *models.ScrapeResult
	targetURL func(storeID string) string
}

func NewOrchestrator(b *browser.Browser, sessions *session.Store, cfg *config.Config) *Orchestrator {
	table := capture.NewTable()
	o := &Orchestrator{
		browser:     b,
		interceptor: capture.NewInterceptor(table),
		table:       table,
		sessions:    sessions,
		limiter:     ratelimit.NewSimpleRateLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax),
		parser:      parser.NewCredentialParser(),
		cfg:         cfg.Scraper,
		captchaCfg:  cfg.Captcha,
		minImage:    cfg.Capture.MinImageBytes,
		logger:      slog.Default().With("component", "orchestrator"),
	}
	o.scrapeOne = o.scrapeTarget
	o.targetURL = o.credentialURL
	return o
}

// Run scrapes every target in order and returns one result per target. A
// batch never aborts on a single bad target; the error return is reserved
// for context cancellation.
func (o *Orchestrator) Run(ctx context.Context, storeIDs []string) ([]models.ScrapeResult, error) {
	o.restoreSession()

	results := make([]models.ScrapeResult, 0, len(storeIDs))
	for i, id := range storeIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		o.ensureHealthySession()

		res := o.scrapeWithRetries(ctx, id)
		results = append(results, *res)

		if res.Succeeded() {
			o.persistSession()
		}

		if i < len(storeIDs)-1 {
			if err := o.limiter.Wait(ctx); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// scrapeWithRetries runs up to MaxRetries full passes over one target.
// Each pass replaces the previous result wholesale, so a failed retry can
// never erase data from an earlier success.
func (o *Orchestrator) scrapeWithRetries(ctx context.Context, storeID string) *models.ScrapeResult {
	var res *models.ScrapeResult
	attempts := o.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		res = o.scrapeOne(ctx, storeID)
		if res.Succeeded() {
			return res
		}
		o.logger.Warn("target pass failed",
			"store_id", storeID,
			"attempt", attempt,
			"error", res.Error)
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return res
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return res
}

// scrapeTarget is one full pass: navigate, pass the challenge, wait for
// the credential API, then wait for rendered certificates.
func (o *Orchestrator) scrapeTarget(ctx context.Context, storeID string) *models.ScrapeResult {
	started := time.Now()
	url := o.targetURL(storeID)
	res := &models.ScrapeResult{
		StoreID:   storeID,
		Status:    models.StatusError,
		URL:       url,
		ScrapedAt: started,
	}
	finish := func() *models.ScrapeResult {
		return o.finalize(res, started)
	}
	fail := func(err error) *models.ScrapeResult {
		res.Error = err.Error()
		return finish()
	}

	o.table.Clear(storeID)

	page, err := o.browser.NewPage()
	if err != nil {
		return fail(fmt.Errorf("open page: %w", err))
	}
	defer page.Close()

	if err := o.interceptor.Attach(page, storeID); err != nil {
		return fail(fmt.Errorf("attach interceptor: %w", err))
	}

	resp, err := o.browser.NavigateWithRetry(page, url, navAttempts)
	if err != nil {
		return fail(fmt.Errorf("navigate %s: %w", url, err))
	}
	if resp != nil {
		res.StatusCode = resp.Status()
	}

	if err := sleep(ctx, o.cfg.SettleDelay); err != nil {
		return fail(err)
	}

	if err := o.passChallenge(ctx, page, storeID); err != nil {
		return fail(err)
	}

	if err := o.awaitCredentialResponse(ctx, page, storeID); err != nil {
		// The DOM can still render certificates served from cache, so
		// the pass keeps going.
		o.logger.Warn("credential api not observed", "store_id", storeID, "error", err)
	}

	if err := o.awaitRenderedImages(ctx, page, storeID); err != nil {
		if !o.parseRenderedPage(page, storeID) {
			return fail(err)
		}
	}

	res.FinalURL = page.URL()
	res.Status = models.StatusSuccess
	out := finish()
	if len(out.Images) == 0 && !o.table.HasResponse(storeID, models.APITypeCredential) {
		out.Status = models.StatusError
		out.Error = "no credential data captured"
	}
	return out
}

// finalize folds the capture table into the result. Whatever landed
// there belongs to the result even when the pass as a whole failed.
func (o *Orchestrator) finalize(res *models.ScrapeResult, started time.Time) *models.ScrapeResult {
	res.Responses = o.table.ResponsesFor(res.StoreID)
	res.Images = filterImages(o.table.ImagesFor(res.StoreID), o.minImage)
	res.Duration = time.Since(started)
	return res
}

// parseRenderedPage is the last-resort extraction path: when neither the
// network capture nor the live DOM poll produced images, the rendered
// HTML is parsed once with the full selector cascade. Some store layouts
// inline their certificates in markup the poll misses.
func (o *Orchestrator) parseRenderedPage(page playwright.Page, storeID string) bool {
	html, err := page.Content()
	if err != nil {
		o.logger.Warn("page content unavailable", "store_id", storeID, "error", err)
		return false
	}
	return o.recoverFromHTML(html, page.URL(), storeID)
}

func (o *Orchestrator) recoverFromHTML(html, pageURL, storeID string) bool {
	parsed, err := o.parser.Parse(html, storeID, pageURL)
	if err != nil {
		o.logger.Warn("rendered page parse failed", "store_id", storeID, "error", err)
		return false
	}
	added := 0
	for _, img := range parsed.Images {
		if o.table.AddImage(img) {
			added++
		}
	}
	if added == 0 {
		return false
	}
	o.logger.Info("images recovered from rendered html", "store_id", storeID, "count", added)
	return true
}

// passChallenge detects and solves the slider, then gives the unblocked
// page time to fire its data calls. A punish URL lingering after a solve
// means the solve was accepted but the redirect back never happened, so
// the target page is loaded again directly.
func (o *Orchestrator) passChallenge(ctx context.Context, page playwright.Page, storeID string) error {
	solver := captcha.NewSolver(page, captcha.WithMaxAttempts(o.captchaCfg.MaxAttempts))
	solved, err := solver.DetectAndSolve(ctx)
	if err != nil {
		return fmt.Errorf("challenge: %w", err)
	}

	switch solver.State() {
	case captcha.Clear:
		return nil
	case captcha.Exhausted:
		o.captchaFailures++
		return fmt.Errorf("challenge unsolved after %d attempts", o.captchaCfg.MaxAttempts)
	}

	if !solved {
		o.captchaFailures++
		return fmt.Errorf("challenge not cleared")
	}

	o.captchaFailures = 0
	if err := sleep(ctx, o.cfg.PostSolveDelay); err != nil {
		return err
	}

	if isPunishURL(page.URL()) {
		o.logger.Info("still on challenge url after solve, renavigating", "store_id", storeID)
		if _, err := o.browser.NavigateWithRetry(page, o.targetURL(storeID), navAttempts); err != nil {
			return fmt.Errorf("renavigate after solve: %w", err)
		}
		if err := sleep(ctx, o.cfg.SettleDelay); err != nil {
			return err
		}
	}
	return nil
}

// awaitCredentialResponse polls the capture table for the credential API
// hit, reloading the page once mid-wait if nothing has arrived.
func (o *Orchestrator) awaitCredentialResponse(ctx context.Context, page playwright.Page, storeID string) error {
	reloaded := false
	pol := retry.Policy{
		MaxAttempts: int(o.cfg.CredentialWait/time.Second) + 1,
		BaseDelay:   time.Second,
		Multiplier:  1,
		MaxDelay:    time.Second,
	}
	done, _, err := pol.DoUntil(ctx, o.cfg.CredentialWait, func(waited time.Duration) (bool, error) {
		if o.table.HasResponse(storeID, models.APITypeCredential) {
			return true, nil
		}
		if !reloaded && waited >= o.cfg.CredentialWait/2 {
			reloaded = true
			o.logger.Debug("reloading to retrigger credential api", "store_id", storeID)
			if _, err := page.Reload(); err != nil {
				return false, fmt.Errorf("reload: %w", err)
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("credential api silent for %s", o.cfg.CredentialWait)
	}
	return nil
}

// awaitRenderedImages polls the DOM for certificate images with an
// exponential backoff, re-running challenge detection periodically in
// case one appears mid-wait. Found data URIs are folded into the capture
// table, which dedupes them against network-extracted copies.
func (o *Orchestrator) awaitRenderedImages(ctx context.Context, page playwright.Page, storeID string) error {
	delay := time.Second
	lastRecheck := time.Now()
	deadline := time.Now().Add(o.cfg.ImageWaitCeiling)

	for {
		srcs, err := domImageSources(page)
		if err != nil {
			return fmt.Errorf("poll dom images: %w", err)
		}
		added := 0
		for _, src := range srcs {
			img, ok := o.domImage(storeID, page.URL(), src)
			if !ok {
				continue
			}
			if o.table.AddImage(img) {
				added++
			}
		}
		if added > 0 || len(o.table.ImagesFor(storeID)) > 0 {
			o.logger.Info("certificate images present",
				"store_id", storeID,
				"from_dom", added,
				"total", len(o.table.ImagesFor(storeID)))
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("no certificate images after %s", o.cfg.ImageWaitCeiling)
		}

		if time.Since(lastRecheck) >= o.captchaCfg.RecheckInterval {
			lastRecheck = time.Now()
			solver := captcha.NewSolver(page, captcha.WithMaxAttempts(o.captchaCfg.MaxAttempts))
			if present, _ := solver.Detect(ctx); present {
				o.logger.Warn("challenge appeared during image wait", "store_id", storeID)
				if _, err := solver.Solve(ctx); err != nil {
					return fmt.Errorf("mid-wait challenge: %w", err)
				}
			}
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > 8*time.Second {
			delay = 8 * time.Second
		}
	}
}

// domImage turns an inline data URI found on the page into an extracted
// image record. Non-inline sources are skipped; remote certificate URLs
// always come with an inline twin on this page.
func (o *Orchestrator) domImage(storeID, pageURL, src string) (models.ExtractedImage, bool) {
	if !capture.IsBase64Image(src) {
		return models.ExtractedImage{}, false
	}
	return models.ExtractedImage{
		StoreID:     storeID,
		Base64Data:  src,
		Format:      capture.DetectFormat(src),
		JSONPath:    "dom",
		SourceURL:   pageURL,
		ContentHash: capture.ContentHash(src),
		ExtractedAt: time.Now(),
	}, true
}

// ensureHealthySession restarts the browser when the challenge failure
// streak crosses the threshold or the browser stops answering. The streak
// resets after the restart so one bad patch costs one restart, not one
// per subsequent target.
func (o *Orchestrator) ensureHealthySession() {
	needsRestart := false
	if o.captchaFailures >= o.captchaCfg.RestartThreshold {
		o.logger.Warn("challenge failure streak hit threshold, restarting browser",
			"failures", o.captchaFailures)
		needsRestart = true
	} else if !o.browser.HealthCheck() {
		o.logger.Warn("browser unresponsive, restarting")
		needsRestart = true
	}
	if !needsRestart {
		return
	}
	if err := o.browser.Restart(); err != nil {
		o.logger.Error("browser restart failed", "error", err)
		return
	}
	o.captchaFailures = 0
	o.restoreSession()
}

// restoreSession injects stored cookies into the fresh browser context
// when a valid session file exists. A missing or stale file just means a
// cold start.
func (o *Orchestrator) restoreSession() {
	sess, err := o.sessions.Load()
	if err != nil {
		o.logger.Warn("session load failed", "error", err)
		return
	}
	if sess == nil || o.sessions.IsExpired(sess) {
		return
	}
	if err := o.browser.InjectCookies(sess); err != nil {
		o.logger.Warn("cookie injection failed", "error", err)
		return
	}
	o.logger.Info("session restored", "cookies", len(sess.Cookies))
}

func (o *Orchestrator) persistSession() {
	sess, err := o.browser.ExtractCookies()
	if err != nil {
		o.logger.Warn("cookie extraction failed", "error", err)
		return
	}
	sess.ProxyUsed = o.browser.ProxyEnabled()
	if err := o.sessions.Save(sess); err != nil {
		o.logger.Warn("session save failed", "error", err)
	}
}

func (o *Orchestrator) credentialURL(storeID string) string {
	scheme := "https"
	if o.browser.ProxyEnabled() {
		scheme = "http"
	}
	return fmt.Sprintf(credentialPage, scheme, storeID)
}

// Table exposes the capture table, mainly for result inspection.
func (o *Orchestrator) Table() *capture.Table {
	return o.table
}

func isPunishURL(url string) bool {
	lower := strings.ToLower(url)
	for _, marker := range []string{"punish", "captcha", "verify"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func filterImages(imgs []models.ExtractedImage, minBytes int) []models.ExtractedImage {
	if minBytes <= 0 {
		return imgs
	}
	out := imgs[:0]
	for _, img := range imgs {
		if len(img.Base64Data) >= minBytes {
			out = append(out, img)
		}
	}
	return out
}

// domImageSources pulls the src of every certificate image currently in
// the DOM, trying each selector in turn.
func domImageSources(page playwright.Page) ([]string, error) {
	raw, err := page.Evaluate(collectImagesScript, certificateSelectors)
	if err != nil {
		return nil, err
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, nil
	}
	srcs := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok && s != "" {
			srcs = append(srcs, s)
		}
	}
	return srcs, nil
}

const collectImagesScript = `(selectors) => {
	for (const sel of selectors) {
		const els = document.querySelectorAll(sel);
		if (els.length > 0) {
			return Array.from(els).map(el => el.getAttribute('src') || '');
		}
	}
	return [];
}`

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
