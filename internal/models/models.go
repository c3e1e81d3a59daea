package models

import (
	"time"
)

// APIType classifies a captured response by the endpoint it came from.
type APIType string

const (
	APITypeCredential    APIType = "credential"
	APITypeLicense       APIType = "license"
	APITypeCertificate   APIType = "certificate"
	APITypeQualification APIType = "qualification"
	APITypeShopInfo      APIType = "shop_info"
	APITypeUnknown       APIType = "unknown"
)

// ImageFormat is the detected encoding of an extracted image.
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "jpeg"
	FormatPNG     ImageFormat = "png"
	FormatGIF     ImageFormat = "gif"
	FormatWEBP    ImageFormat = "webp"
	FormatBMP     ImageFormat = "bmp"
	FormatUnknown ImageFormat = "unknown"
)

// Target identifies one store whose credential page is scraped.
type Target struct {
	StoreID string `json:"store_id"`
}

// CapturedResponse is one interesting API response captured in flight.
type CapturedResponse struct {
	URL         string         `json:"url"`
	APIType     APIType        `json:"api_type"`
	StatusCode  int            `json:"status_code"`
	ContentType string         `json:"content_type"`
	JSON        map[string]any `json:"data,omitempty"`
	RawText     string         `json:"raw_text,omitempty"`
	CapturedAt  time.Time      `json:"captured_at"`
}

// ExtractedImage is a base64 image pulled out of a captured response or
// off the rendered DOM.
type ExtractedImage struct {
	StoreID     string      `json:"store_id"`
	Base64Data  string      `json:"base64_data"`
	Format      ImageFormat `json:"format"`
	JSONPath    string      `json:"json_path,omitempty"`
	SourceURL   string      `json:"source_url"`
	APIName     string      `json:"api_name,omitempty"`
	APIVersion  string      `json:"api_version,omitempty"`
	APIStatus   []string    `json:"api_status,omitempty"`
	ContentHash string      `json:"content_hash"`
	ExtractedAt time.Time   `json:"extracted_at"`
}

// ScrapeStatus is the terminal status of one target pass.
type ScrapeStatus string

const (
	StatusSuccess ScrapeStatus = "success"
	StatusError   ScrapeStatus = "error"
)

// ScrapeResult is the immutable outcome of one orchestrator pass over a
// target. Retries produce a fresh result that supersedes the prior one.
type ScrapeResult struct {
	StoreID    string                      `json:"store_id"`
	Status     ScrapeStatus                `json:"status"`
	URL        string                      `json:"url,omitempty"`
	FinalURL   string                      `json:"final_url,omitempty"`
	StatusCode int                         `json:"status_code,omitempty"`
	Responses  map[string]CapturedResponse `json:"network_data"`
	Images     []ExtractedImage            `json:"images"`
	Error      string                      `json:"error,omitempty"`
	ScrapedAt  time.Time                   `json:"scraped_at"`
	Duration   time.Duration               `json:"duration"`
}

// Succeeded reports whether the pass reached its terminal success state.
func (r *ScrapeResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
