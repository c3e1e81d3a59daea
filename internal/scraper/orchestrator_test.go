package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/aliexpress-credential-scraper/internal/capture"
	"github.com/maltedev/aliexpress-credential-scraper/internal/config"
	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
	"github.com/maltedev/aliexpress-credential-scraper/internal/parser"
	"github.com/maltedev/aliexpress-credential-scraper/internal/ratelimit"
	"github.com/maltedev/aliexpress-credential-scraper/internal/session"
)

type fakeBrowser struct {
	proxy         bool
	healthy       bool
	restarts      int
	restartErr    error
	injected      int
	extracted     int
	extractedSess *session.Session
}

func (f *fakeBrowser) NewPage() (playwright.Page, error) { return nil, fmt.Errorf("no page in tests") }
func (f *fakeBrowser) NavigateWithRetry(playwright.Page, string, int) (playwright.Response, error) {
	return nil, fmt.Errorf("no navigation in tests")
}
func (f *fakeBrowser) ProxyEnabled() bool { return f.proxy }
func (f *fakeBrowser) InjectCookies(*session.Session) error {
	f.injected++
	return nil
}
func (f *fakeBrowser) ExtractCookies() (*session.Session, error) {
	f.extracted++
	if f.extractedSess != nil {
		return f.extractedSess, nil
	}
	return &session.Session{
		Cookies:    []session.Cookie{{Name: "_m_h5_tk", Value: "tok_1"}, {Name: "_m_h5_tk_enc", Value: "enc"}},
		CapturedAt: time.Now(),
	}, nil
}
func (f *fakeBrowser) HealthCheck() bool { return f.healthy }
func (f *fakeBrowser) Restart() error {
	f.restarts++
	return f.restartErr
}

func testOrchestrator(t *testing.T, b *fakeBrowser) *Orchestrator {
	t.Helper()
	table := capture.NewTable()
	o := &Orchestrator{
		browser:     b,
		interceptor: capture.NewInterceptor(table),
		table:       table,
		sessions:    session.NewStore(filepath.Join(t.TempDir(), "cookies.json"), time.Hour),
		limiter:     ratelimit.NewSimpleRateLimiter(0, 0),
		parser:      parser.NewCredentialParser(),
		cfg: config.ScraperConfig{
			MaxRetries: 3,
		},
		captchaCfg: config.CaptchaConfig{
			MaxAttempts:      3,
			RestartThreshold: 3,
		},
		minImage: 10,
		logger:   slog.Default(),
	}
	o.targetURL = o.credentialURL
	return o
}

func successResult(storeID string) *models.ScrapeResult {
	return &models.ScrapeResult{
		StoreID: storeID,
		Status:  models.StatusSuccess,
		Images: []models.ExtractedImage{
			{StoreID: storeID, Base64Data: "payload-long-enough", ContentHash: "h"},
		},
	}
}

func errorResult(storeID, msg string) *models.ScrapeResult {
	return &models.ScrapeResult{StoreID: storeID, Status: models.StatusError, Error: msg}
}

func TestScrapeWithRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("later success supersedes earlier failures", func(t *testing.T) {
		b := &fakeBrowser{healthy: true}
		o := testOrchestrator(t, b)

		calls := 0
		o.scrapeOne = func(ctx context.Context, storeID string) *models.ScrapeResult {
			calls++
			if calls < 2 {
				return errorResult(storeID, fmt.Sprintf("fail %d", calls))
			}
			return successResult(storeID)
		}

		res := o.scrapeWithRetries(ctx, "100")
		assert.Equal(t, 2, calls)
		assert.True(t, res.Succeeded())
		assert.Empty(t, res.Error)
	})

	t.Run("final failure is returned after budget", func(t *testing.T) {
		b := &fakeBrowser{healthy: true}
		o := testOrchestrator(t, b)
		o.cfg.MaxRetries = 2

		calls := 0
		o.scrapeOne = func(ctx context.Context, storeID string) *models.ScrapeResult {
			calls++
			return errorResult(storeID, fmt.Sprintf("fail %d", calls))
		}

		res := o.scrapeWithRetries(ctx, "100")
		assert.Equal(t, 2, calls)
		assert.False(t, res.Succeeded())
		assert.Equal(t, "fail 2", res.Error)
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("batch survives individual failures", func(t *testing.T) {
		b := &fakeBrowser{healthy: true}
		o := testOrchestrator(t, b)
		o.cfg.MaxRetries = 1

		o.scrapeOne = func(ctx context.Context, storeID string) *models.ScrapeResult {
			if storeID == "200" {
				return errorResult(storeID, "challenge unsolved")
			}
			return successResult(storeID)
		}

		results, err := o.Run(ctx, []string{"100", "200", "300"})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.True(t, results[0].Succeeded())
		assert.False(t, results[1].Succeeded())
		assert.True(t, results[2].Succeeded())
	})

	t.Run("session saved only after success", func(t *testing.T) {
		b := &fakeBrowser{healthy: true}
		o := testOrchestrator(t, b)
		o.cfg.MaxRetries = 1

		o.scrapeOne = func(ctx context.Context, storeID string) *models.ScrapeResult {
			return errorResult(storeID, "nope")
		}
		_, err := o.Run(ctx, []string{"100"})
		require.NoError(t, err)
		assert.Equal(t, 0, b.extracted)

		o.scrapeOne = func(ctx context.Context, storeID string) *models.ScrapeResult {
			return successResult(storeID)
		}
		_, err = o.Run(ctx, []string{"100"})
		require.NoError(t, err)
		assert.Equal(t, 1, b.extracted)

		loaded, err := o.sessions.Load()
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Len(t, loaded.Cookies, 2)
	})

	t.Run("cancelled context stops the batch", func(t *testing.T) {
		b := &fakeBrowser{healthy: true}
		o := testOrchestrator(t, b)
		cctx, cancel := context.WithCancel(ctx)

		o.scrapeOne = func(ctx context.Context, storeID string) *models.ScrapeResult {
			cancel()
			return successResult(storeID)
		}

		results, err := o.Run(cctx, []string{"100", "200"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, results, 1)
	})
}

func TestEnsureHealthySession(t *testing.T) {
	t.Run("failure streak forces exactly one restart", func(t *testing.T) {
		b := &fakeBrowser{healthy: true}
		o := testOrchestrator(t, b)

		o.captchaFailures = 3
		o.ensureHealthySession()
		assert.Equal(t, 1, b.restarts)
		assert.Equal(t, 0, o.captchaFailures)

		// streak reset means the next target does not restart again
		o.ensureHealthySession()
		assert.Equal(t, 1, b.restarts)
	})

	t.Run("below threshold leaves browser alone", func(t *testing.T) {
		b := &fakeBrowser{healthy: true}
		o := testOrchestrator(t, b)

		o.captchaFailures = 2
		o.ensureHealthySession()
		assert.Equal(t, 0, b.restarts)
		assert.Equal(t, 2, o.captchaFailures)
	})

	t.Run("unresponsive browser restarts", func(t *testing.T) {
		b := &fakeBrowser{healthy: false}
		o := testOrchestrator(t, b)

		o.ensureHealthySession()
		assert.Equal(t, 1, b.restarts)
	})

	t.Run("restart failure keeps the streak", func(t *testing.T) {
		b := &fakeBrowser{healthy: true, restartErr: fmt.Errorf("browser gone")}
		o := testOrchestrator(t, b)

		o.captchaFailures = 3
		o.ensureHealthySession()
		assert.Equal(t, 3, o.captchaFailures)
	})
}

func TestTargetURL(t *testing.T) {
	b := &fakeBrowser{healthy: true}
	o := testOrchestrator(t, b)

	assert.Equal(t,
		"https://shoprenderview.aliexpress.com/credential/showcredential.htm?storeNum=12345",
		o.targetURL("12345"))

	b.proxy = true
	assert.Equal(t,
		"http://shoprenderview.aliexpress.com/credential/showcredential.htm?storeNum=12345",
		o.targetURL("12345"))
}

func TestIsPunishURL(t *testing.T) {
	assert.True(t, isPunishURL("https://www.aliexpress.com/punish/xyz"))
	assert.True(t, isPunishURL("https://x.com/CAPTCHA/page"))
	assert.True(t, isPunishURL("https://x.com/verify?t=1"))
	assert.False(t, isPunishURL("https://shoprenderview.aliexpress.com/credential/showcredential.htm"))
}

func TestFilterImages(t *testing.T) {
	imgs := []models.ExtractedImage{
		{Base64Data: "tiny"},
		{Base64Data: "this payload is definitely long enough to keep"},
	}

	kept := filterImages(imgs, 10)
	require.Len(t, kept, 1)
	assert.Contains(t, kept[0].Base64Data, "long enough")

	t.Run("zero minimum keeps everything", func(t *testing.T) {
		all := filterImages([]models.ExtractedImage{{Base64Data: "a"}}, 0)
		assert.Len(t, all, 1)
	})
}

func TestFinalizePreservesCapturedData(t *testing.T) {
	b := &fakeBrowser{healthy: true}
	o := testOrchestrator(t, b)

	o.table.AddImage(models.ExtractedImage{
		StoreID: "100", Base64Data: "first certificate payload", ContentHash: "h1",
	})
	o.table.AddImage(models.ExtractedImage{
		StoreID: "100", Base64Data: "second certificate payload", ContentHash: "h2",
	})
	o.table.PutResponse("100", models.CapturedResponse{
		URL:     "https://acs.aliexpress.us/h5/mtop.ae.merchant.shop.credential.get/1.0/",
		APIType: models.APITypeCredential,
	})

	// A pass that blows up after capture must still surface what landed.
	res := &models.ScrapeResult{
		StoreID: "100",
		Status:  models.StatusError,
		Error:   "credential response parse failed",
	}
	out := o.finalize(res, time.Now())

	assert.False(t, out.Succeeded())
	assert.Equal(t, "credential response parse failed", out.Error)
	require.Len(t, out.Images, 2)
	assert.Contains(t, out.Responses, string(models.APITypeCredential))
}

func TestRecoverFromHTML(t *testing.T) {
	dataURI := "data:image/png;base64," + strings.Repeat("iVBORw0KGgo", 30)
	html := `<html><body>
		<div class="credential-container">
			<img class="certificate-image" src="` + dataURI + `">
		</div>
	</body></html>`

	t.Run("parses inline certificates into the table", func(t *testing.T) {
		b := &fakeBrowser{healthy: true}
		o := testOrchestrator(t, b)

		require.True(t, o.recoverFromHTML(html, "https://example.com/credential", "100"))
		imgs := o.table.ImagesFor("100")
		require.Len(t, imgs, 1)
		assert.Equal(t, models.FormatPNG, imgs[0].Format)
		assert.Equal(t, "100", imgs[0].StoreID)
	})

	t.Run("already-captured copies do not count as recovery", func(t *testing.T) {
		b := &fakeBrowser{healthy: true}
		o := testOrchestrator(t, b)

		require.True(t, o.recoverFromHTML(html, "https://example.com/credential", "100"))
		assert.False(t, o.recoverFromHTML(html, "https://example.com/credential", "100"))
		assert.Len(t, o.table.ImagesFor("100"), 1)
	})

	t.Run("page without certificates recovers nothing", func(t *testing.T) {
		b := &fakeBrowser{healthy: true}
		o := testOrchestrator(t, b)

		assert.False(t, o.recoverFromHTML("<html><body>nothing here</body></html>", "https://example.com", "100"))
	})
}
