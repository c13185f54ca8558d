package models

import (
	"strings"
	"time"
)

// Banner kinds map to the page positions the front end renders.
const (
	BannerKindStickyBottom = "sticky_bottom"
	BannerKindCenterPopup  = "center_popup"
	BannerKindSidebar      = "sidebar"
	BannerKindInline       = "inline"
	BannerKindHeader       = "header"
)

// Device constraint values for banner targeting.
const (
	DeviceAny     = "any"
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
)

// ClickedIPCap bounds the per-banner dedup set. Past the cap the oldest half
// is dropped; unique_clicks keeps its cumulative value.
const ClickedIPCap = 10000

// Banner is one promotional creative with targeting rules, weighted-draw
// parameters and cumulative counters.
type Banner struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	ImageURL       string `json:"imageUrl"`
	MobileImageURL string `json:"mobileImageUrl,omitempty"`
	AltText        string `json:"altText,omitempty"`
	// TargetSlug routes clicks through the bridge; TargetURL is a direct
	// destination. TargetSlug wins when both are set.
	TargetSlug string `json:"targetSlug,omitempty"`
	TargetURL  string `json:"targetUrl,omitempty"`

	Kind    string     `json:"kind"`
	Active  bool       `json:"active"`
	StartAt *time.Time `json:"startAt,omitempty"`
	EndAt   *time.Time `json:"endAt,omitempty"`

	DeviceConstraint string   `json:"deviceConstraint"`
	TargetArticles   []string `json:"targetArticles,omitempty"`
	TargetCategories []string `json:"targetCategories,omitempty"`

	Weight   int `json:"weight"`
	Priority int `json:"priority"`

	DisplayWidthPercent int  `json:"displayWidthPercent"`
	ShowDelaySeconds    int  `json:"showDelaySeconds"`
	AutoHideAfterMs     int  `json:"autoHideAfterMs"`
	Dismissible         bool `json:"dismissible"`

	Impressions  int64 `json:"impressions"`
	Clicks       int64 `json:"clicks"`
	UniqueClicks int64 `json:"uniqueClicks"`
}

// IsActiveAt reports whether the banner may be served at the given time. Both
// window bounds are checked when present.
func (b *Banner) IsActiveAt(now time.Time) bool {
	if !b.Active {
		return false
	}
	if b.StartAt != nil && now.Before(*b.StartAt) {
		return false
	}
	if b.EndAt != nil && now.After(*b.EndAt) {
		return false
	}
	return true
}

// MatchesDevice applies the device constraint. An unknown visitor device only
// matches unconstrained banners.
func (b *Banner) MatchesDevice(device string) bool {
	if b.DeviceConstraint == "" || b.DeviceConstraint == DeviceAny {
		return true
	}
	return b.DeviceConstraint == device
}

// MatchesArticle reports whether the banner targets the given article slug.
// An empty target list matches every article.
func (b *Banner) MatchesArticle(slug string) bool {
	if len(b.TargetArticles) == 0 {
		return true
	}
	slug = NormalizeSlug(slug)
	for _, a := range b.TargetArticles {
		if NormalizeSlug(a) == slug {
			return true
		}
	}
	return false
}

// MatchesCategory reports whether the banner targets the given category. An
// empty target list matches every category.
func (b *Banner) MatchesCategory(category string) bool {
	if len(b.TargetCategories) == 0 {
		return true
	}
	category = strings.ToLower(strings.TrimSpace(category))
	for _, c := range b.TargetCategories {
		if strings.ToLower(strings.TrimSpace(c)) == category {
			return true
		}
	}
	return false
}

// CTR returns clicks over impressions, zero when nothing was shown yet.
func (b *Banner) CTR() float64 {
	if b.Impressions == 0 {
		return 0
	}
	return float64(b.Clicks) / float64(b.Impressions)
}
