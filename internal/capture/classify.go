package capture

import (
	"regexp"
	"strings"

	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

// CredentialAPI is the endpoint the certificate page fetches its business
// license image from; the interceptor has a dedicated fast path for it.
const CredentialAPI = "mtop.ae.merchant.shop.credential.get"

var certificatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`credential`),
	regexp.MustCompile(`certificate`),
	regexp.MustCompile(`license`),
	regexp.MustCompile(`business.*license`),
	regexp.MustCompile(`qualification`),
	regexp.MustCompile(`mtop.*credential`),
	regexp.MustCompile(`merchant.*shop.*credential`),
	regexp.MustCompile(`shop.*info`),
	regexp.MustCompile(`company.*info`),
	regexp.MustCompile(`store.*info`),
	regexp.MustCompile(`seller.*info`),
}

var apiHostMarkers = []string{"mtop", "api", "h5", "ajax", "service"}

// IsInteresting decides whether a URL is worth capturing. The heuristics
// are deliberately broad; classification narrows the tag afterwards.
func IsInteresting(url string) bool {
	lower := strings.ToLower(url)
	for _, re := range certificatePatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	if strings.Contains(lower, "aliexpress.com") {
		for _, marker := range apiHostMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

// IsCredentialAPI reports whether the URL is the credential endpoint itself.
func IsCredentialAPI(url string) bool {
	return strings.Contains(strings.ToLower(url), CredentialAPI)
}

// Classify tags a captured URL with the API family it belongs to.
func Classify(url string) models.APIType {
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, "credential"):
		return models.APITypeCredential
	case strings.Contains(lower, "license"):
		return models.APITypeLicense
	case strings.Contains(lower, "certificate"):
		return models.APITypeCertificate
	case strings.Contains(lower, "qualification"):
		return models.APITypeQualification
	case strings.Contains(lower, "shop"), strings.Contains(lower, "store"):
		return models.APITypeShopInfo
	}
	return models.APITypeUnknown
}
