package captcha

// Catalog is the injectable set of UI matchers the solver works from.
// Selector lists are ordered most to least specific; first match wins.
type Catalog struct {
	// DetectionSelectors mark a challenge as present when any matches a
	// visible element.
	DetectionSelectors []string
	// HandleSelectors locate the draggable slider handle.
	HandleSelectors []string
	// TrackSelectors locate the handle's containing track, tried via
	// closest() from the handle.
	TrackSelectors []string
	// URLMarkers flag a challenge redirect by substring in the page URL.
	URLMarkers []string
	// ContentKeywords flag a challenge by phrases in the page text. This
	// is a fallback scan and tolerates false positives.
	ContentKeywords []string
}

// DefaultCatalog matches the slider challenge the target currently serves.
func DefaultCatalog() Catalog {
	return Catalog{
		DetectionSelectors: []string{
			`iframe[src*="nocaptcha"]`,
			`iframe[src*="captcha"]`,
			`div[class*="nc-container"]`,
			`div[class*="nc_wrapper"]`,
			`div[class*="slider-wrap"]`,
			`[class*="nc_scale"]`,
			`.nc_iconfont.btn_slide`,
			`.btn_slide`,
			`[class*="captcha"]`,
			`[id*="captcha"]`,
			`.captcha-container`,
			`.verification-container`,
			`.slider-container`,
			`span[data-nc-lang="SLIDE"]`,
			`.nc-lang-cnt`,
		},
		HandleSelectors: []string{
			`.nc_iconfont.btn_slide`,
			`.btn_slide`,
			`[class*="nc_iconfont"]`,
			`[class*="btn_slide"]`,
			`.nc-container .nc-btn`,
			`.slidetounlock`,
			`.captcha-slider`,
		},
		TrackSelectors: []string{
			`[class*="nc_scale"]`,
			`.nc-container`,
			`[class*="slider"]`,
			`.captcha-container`,
		},
		URLMarkers: []string{
			"punish",
			"captcha",
			"verify",
			"challenge",
		},
		ContentKeywords: []string{
			"unusual traffic",
			"slide to verify",
			"security verification",
			"sorry, we have detected",
			"click to feedback",
		},
	}
}
