// Package models defines the data records shared by the stores, the
// persistence adapter and the HTTP handlers.
package models

import (
	"strings"
	"time"
)

// Link is one managed affiliate link with its landing-page metadata and
// cumulative click counters.
type Link struct {
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ImageURL    string     `json:"imageUrl"`
	Author      string     `json:"author"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	TargetURL   string     `json:"targetUrl"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	TotalClicks int64      `json:"totalClicks"`
	ValidClicks int64      `json:"validClicks"`
}

// IsAvailable reports whether the link may be served at the given time: the
// active flag is set and any expiry lies in the future.
func (l *Link) IsAvailable(now time.Time) bool {
	if l == nil || !l.Active {
		return false
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	return true
}

// NormalizeSlug lowercases and trims a slug so lookups are case and
// whitespace insensitive.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
