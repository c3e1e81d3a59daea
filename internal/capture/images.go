package capture

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

const (
	// minBase64Len is the floor below which a string is never treated as
	// an image payload.
	minBase64Len = 100
	// minBareBase64Len applies to strings without a data: prefix, which
	// need a longer run before the alphabet match is trustworthy.
	minBareBase64Len = 1000
)

var (
	base64Alphabet = regexp.MustCompile(`^[A-Za-z0-9+/]{100,}={0,2}$`)
	dataURLFormat  = regexp.MustCompile(`^data:image/([^;]+);base64,`)
)

// IsBase64Image applies the capture heuristic: a data:image/ URL of
// plausible size, or a long uninterrupted base64 run.
func IsBase64Image(s string) bool {
	if len(s) < minBase64Len {
		return false
	}
	if strings.HasPrefix(s, "data:image/") {
		return true
	}
	return len(s) > minBareBase64Len && base64Alphabet.MatchString(s)
}

// DetectFormat identifies the image encoding. Decoded magic numbers win
// over a declared data-URL prefix, which the target sometimes gets wrong.
func DetectFormat(b64 string) models.ImageFormat {
	payload := b64
	if i := strings.Index(payload, "base64,"); i >= 0 {
		payload = payload[i+len("base64,"):]
	}

	if len(payload) >= 20 {
		if decoded, err := base64.StdEncoding.DecodeString(payload[:20]); err == nil {
			if f := formatFromMagic(decoded); f != models.FormatUnknown {
				return f
			}
		}
	}

	if m := dataURLFormat.FindStringSubmatch(b64); m != nil {
		switch strings.ToLower(m[1]) {
		case "jpeg", "jpg":
			return models.FormatJPEG
		case "png":
			return models.FormatPNG
		case "gif":
			return models.FormatGIF
		case "webp":
			return models.FormatWEBP
		case "bmp":
			return models.FormatBMP
		}
	}
	return models.FormatUnknown
}

func formatFromMagic(b []byte) models.ImageFormat {
	switch {
	case len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF:
		return models.FormatJPEG
	case len(b) >= 8 && string(b[:8]) == "\x89PNG\r\n\x1a\n":
		return models.FormatPNG
	case len(b) >= 6 && (string(b[:6]) == "GIF87a" || string(b[:6]) == "GIF89a"):
		return models.FormatGIF
	case len(b) >= 12 && string(b[:4]) == "RIFF" && string(b[8:12]) == "WEBP":
		return models.FormatWEBP
	case len(b) >= 2 && b[0] == 'B' && b[1] == 'M':
		return models.FormatBMP
	}
	return models.FormatUnknown
}

// ContentHash fingerprints an image payload for per-target deduplication.
func ContentHash(b64 string) string {
	sum := sha1.Sum([]byte(b64))
	return hex.EncodeToString(sum[:])
}

// ExtractImages walks a decoded JSON tree and returns every string value
// that passes the base64-image heuristic, annotated with its JSON path.
func ExtractImages(data any, storeID, sourceURL string) []models.ExtractedImage {
	var out []models.ExtractedImage
	walkJSON(data, "", func(path, value string) {
		if !IsBase64Image(value) {
			return
		}
		out = append(out, models.ExtractedImage{
			StoreID:     storeID,
			Base64Data:  value,
			Format:      DetectFormat(value),
			JSONPath:    path,
			SourceURL:   sourceURL,
			ContentHash: ContentHash(value),
			ExtractedAt: time.Now(),
		})
	})
	return out
}

func walkJSON(node any, path string, visit func(path, value string)) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			walkJSON(child, childPath, visit)
		}
	case []any:
		for i, child := range v {
			walkJSON(child, fmt.Sprintf("%s[%d]", path, i), visit)
		}
	case string:
		visit(path, v)
	}
}

// CredentialImage is the fast path for the credential endpoint's known
// shape {data:{data:{url:<base64>}}}. It records the API metadata next to
// the image so a later shape change is diagnosable from results alone.
func CredentialImage(body map[string]any, storeID, sourceURL string) (models.ExtractedImage, bool) {
	data, _ := body["data"].(map[string]any)
	inner, _ := data["data"].(map[string]any)
	payload, _ := inner["url"].(string)
	if len(payload) <= minBase64Len {
		return models.ExtractedImage{}, false
	}

	img := models.ExtractedImage{
		StoreID:     storeID,
		Base64Data:  payload,
		Format:      DetectFormat(payload),
		JSONPath:    "data.data.url",
		SourceURL:   sourceURL,
		ContentHash: ContentHash(payload),
		ExtractedAt: time.Now(),
	}
	if api, ok := body["api"].(string); ok {
		img.APIName = api
	} else {
		img.APIName = CredentialAPI
	}
	if v, ok := body["v"].(string); ok {
		img.APIVersion = v
	}
	if ret, ok := body["ret"].([]any); ok {
		for _, r := range ret {
			if s, ok := r.(string); ok {
				img.APIStatus = append(img.APIStatus, s)
			}
		}
	}
	return img, true
}

// IsCredentialShape reports whether a decoded body matches the credential
// endpoint's response structure.
func IsCredentialShape(body map[string]any, url string) bool {
	if !IsCredentialAPI(url) {
		if api, _ := body["api"].(string); api != CredentialAPI {
			return false
		}
	}
	data, _ := body["data"].(map[string]any)
	inner, _ := data["data"].(map[string]any)
	payload, _ := inner["url"].(string)
	return len(payload) > minBase64Len
}
