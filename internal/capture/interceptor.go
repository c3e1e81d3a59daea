package capture

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

// Interceptor attaches network hooks to a page and feeds the capture
// table. It observes only; every request is allowed through.
type Interceptor struct {
	table  *Table
	logger *slog.Logger
}

func NewInterceptor(table *Table) *Interceptor {
	return &Interceptor{
		table:  table,
		logger: slog.Default().With("component", "interceptor"),
	}
}

func (ic *Interceptor) Table() *Table {
	return ic.table
}

// Attach installs the request and response hooks. Must run before the
// page navigates or the earliest API calls are missed.
func (ic *Interceptor) Attach(page playwright.Page, storeID string) error {
	err := page.Route("**/*", func(route playwright.Route) {
		url := route.Request().URL()
		if IsCredentialAPI(url) {
			ic.logger.Info("credential API request in flight", "url", url)
		}
		if err := route.Continue(); err != nil {
			ic.logger.Debug("route continue failed", "url", url, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to install route hook: %w", err)
	}

	page.OnResponse(func(response playwright.Response) {
		ic.handleResponse(response, storeID)
	})

	ic.logger.Info("network interception attached", "store_id", storeID)
	return nil
}

func (ic *Interceptor) handleResponse(response playwright.Response, storeID string) {
	url := response.URL()
	status := response.Status()
	if !IsInteresting(url) || status != 200 {
		return
	}

	contentType := response.Headers()["content-type"]
	apiType := Classify(url)

	switch {
	case strings.Contains(contentType, "application/json"):
		body, err := response.Text()
		if err != nil {
			ic.logger.Warn("failed to read response body", "url", url, "error", err)
			return
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(body), &decoded); err != nil {
			ic.logger.Debug("interesting response was not a JSON object", "url", url)
			return
		}
		ic.captureJSON(storeID, url, status, contentType, apiType, decoded)

	case strings.Contains(contentType, "text/"):
		body, err := response.Text()
		if err != nil {
			ic.logger.Warn("failed to read response body", "url", url, "error", err)
			return
		}
		captured := models.CapturedResponse{
			URL:         url,
			APIType:     apiType,
			StatusCode:  status,
			ContentType: contentType,
			RawText:     body,
			CapturedAt:  time.Now(),
		}

		// Credential responses arrive as JSONP when requested through a
		// script tag; unwrap and treat like JSON.
		if decoded, ok := ParseJSONP(body); ok {
			captured.JSON = decoded
			ic.table.PutResponse(storeID, captured)
			ic.extractFrom(decoded, storeID, url)
			return
		}
		ic.table.PutResponse(storeID, captured)
	}
}

func (ic *Interceptor) captureJSON(storeID, url string, status int, contentType string, apiType models.APIType, decoded map[string]any) {
	ic.table.PutResponse(storeID, models.CapturedResponse{
		URL:         url,
		APIType:     apiType,
		StatusCode:  status,
		ContentType: contentType,
		JSON:        decoded,
		CapturedAt:  time.Now(),
	})
	ic.logger.Info("captured API response", "store_id", storeID, "api_type", apiType, "url", url)
	ic.extractFrom(decoded, storeID, url)
}

// extractFrom pulls images out of a decoded body: the credential fast
// path first, then the generic recursive scan for anything it missed.
func (ic *Interceptor) extractFrom(decoded map[string]any, storeID, url string) {
	if IsCredentialShape(decoded, url) {
		if img, ok := CredentialImage(decoded, storeID, url); ok {
			if ic.table.AddImage(img) {
				ic.logger.Info("extracted credential image",
					"store_id", storeID, "format", img.Format, "size", len(img.Base64Data))
			}
		}
	}

	for _, img := range ExtractImages(decoded, storeID, url) {
		if ic.table.AddImage(img) {
			ic.logger.Info("extracted image from response",
				"store_id", storeID, "path", img.JSONPath, "format", img.Format)
		}
	}
}
