package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/aliexpress-credential-scraper/internal/capture"
	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

// SellerInfo is the company block rendered alongside the certificates.
type SellerInfo struct {
	CompanyName    string `json:"company_name,omitempty"`
	LicenseNumber  string `json:"license_number,omitempty"`
	LegalPerson    string `json:"legal_person,omitempty"`
	RegisteredAddr string `json:"registered_address,omitempty"`
}

// CredentialPage is everything extractable from the rendered HTML. It is
// the fallback path for stores whose certificate API never fires; the
// network capture remains the primary source.
type CredentialPage struct {
	Seller SellerInfo              `json:"seller"`
	Images []models.ExtractedImage `json:"images"`
}

// CredentialParser pulls certificate images and seller fields out of a
// rendered credential page.
type CredentialParser struct {
	imageSelectors []string
	fieldLabels    map[string]*regexp.Regexp
}

func NewCredentialParser() *CredentialParser {
	return &CredentialParser{
		imageSelectors: []string{
			"img.certificate-image",
			".credential-container img",
			".certificate img",
			"img[src^='data:image/']",
		},
		fieldLabels: map[string]*regexp.Regexp{
			"company": regexp.MustCompile(`(?i)(company\s*name|企业名称)`),
			"license": regexp.MustCompile(`(?i)(license|registration)\s*(no|number)|注册号|统一社会信用代码`),
			"legal":   regexp.MustCompile(`(?i)legal\s*(person|representative)|法定代表人`),
			"address": regexp.MustCompile(`(?i)(registered\s*)?address|住所|地址`),
		},
	}
}

// Parse extracts everything it can find; an empty page yields an empty
// result, not an error.
func (p *CredentialParser) Parse(html, storeID, sourceURL string) (*CredentialPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := &CredentialPage{
		Seller: p.extractSeller(doc),
		Images: p.extractImages(doc, storeID, sourceURL),
	}
	return page, nil
}

func (p *CredentialParser) extractImages(doc *goquery.Document, storeID, sourceURL string) []models.ExtractedImage {
	var images []models.ExtractedImage
	seen := make(map[string]struct{})

	for _, sel := range p.imageSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			src, ok := s.Attr("src")
			if !ok || !capture.IsBase64Image(src) {
				return
			}
			hash := capture.ContentHash(src)
			if _, dup := seen[hash]; dup {
				return
			}
			seen[hash] = struct{}{}
			images = append(images, models.ExtractedImage{
				StoreID:     storeID,
				Base64Data:  src,
				Format:      capture.DetectFormat(src),
				JSONPath:    "dom",
				SourceURL:   sourceURL,
				ContentHash: hash,
				ExtractedAt: time.Now(),
			})
		})
	}

	return images
}

// extractSeller walks label/value pairs. The page renders them as dt/dd
// and as sibling spans depending on locale, so both layouts are tried.
func (p *CredentialParser) extractSeller(doc *goquery.Document) SellerInfo {
	info := SellerInfo{}

	assign := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		switch {
		case p.fieldLabels["company"].MatchString(label) && info.CompanyName == "":
			info.CompanyName = value
		case p.fieldLabels["license"].MatchString(label) && info.LicenseNumber == "":
			info.LicenseNumber = value
		case p.fieldLabels["legal"].MatchString(label) && info.LegalPerson == "":
			info.LegalPerson = value
		case p.fieldLabels["address"].MatchString(label) && info.RegisteredAddr == "":
			info.RegisteredAddr = value
		}
	}

	doc.Find("dt").Each(func(_ int, s *goquery.Selection) {
		assign(s.Text(), s.Next().Text())
	})

	doc.Find(".info-item, .detail-item, li").Each(func(_ int, s *goquery.Selection) {
		label := s.Find(".label, .name, span").First().Text()
		value := s.Find(".value, .content, span").Last().Text()
		if label != value {
			assign(label, value)
		}
	})

	return info
}
