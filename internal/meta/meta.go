// Package meta injects social-preview metadata into the landing template.
// Injection is a pure byte transformation: no I/O, deterministic output.
package meta

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/affbridge/affbridge/internal/models"
)

// Placeholder tokens the template carries. Unknown tokens pass through
// untouched.
const (
	TokenTitle         = "__META_TITLE__"
	TokenDescription   = "__META_DESCRIPTION__"
	TokenImage         = "__META_IMAGE__"
	TokenURL           = "__META_URL__"
	TokenSiteName      = "__META_SITE_NAME__"
	TokenType          = "__META_TYPE__"
	TokenAuthor        = "__META_AUTHOR__"
	TokenPublishedTime = "__META_PUBLISHED_TIME__"
)

// Meta holds the values substituted into the template. Missing fields become
// empty strings in the output, never the literal placeholder.
type Meta struct {
	Title         string
	Description   string
	Image         string
	URL           string
	SiteName      string
	Type          string
	Author        string
	PublishedTime string
}

// FromLink builds the Meta for a link record. url is the absolute request URL.
func FromLink(l *models.Link, url, siteName string) Meta {
	m := Meta{
		Title:       l.Title,
		Description: l.Description,
		Image:       l.ImageURL,
		URL:         url,
		SiteName:    siteName,
		Type:        "article",
		Author:      l.Author,
	}
	if l.PublishedAt != nil {
		m.PublishedTime = l.PublishedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// NotFound is the metadata served for unknown, inactive or expired slugs.
// The page still returns 200 so crawlers index a valid document.
func NotFound(url, siteName string) Meta {
	return Meta{
		Title:    "Không tìm thấy",
		URL:      url,
		SiteName: siteName,
		Type:     "website",
	}
}

// Error is the metadata for the generic failure page. Internal detail never
// reaches the title.
func Error(url, siteName string) Meta {
	return Meta{
		Title:    "Lỗi - " + siteName,
		URL:      url,
		SiteName: siteName,
		Type:     "website",
	}
}

// Inject substitutes the eight placeholder tokens with HTML-escaped values.
func Inject(template []byte, m Meta) []byte {
	r := strings.NewReplacer(
		TokenTitle, html.EscapeString(m.Title),
		TokenDescription, html.EscapeString(m.Description),
		TokenImage, html.EscapeString(m.Image),
		TokenURL, html.EscapeString(m.URL),
		TokenSiteName, html.EscapeString(m.SiteName),
		TokenType, html.EscapeString(m.Type),
		TokenAuthor, html.EscapeString(m.Author),
		TokenPublishedTime, html.EscapeString(m.PublishedTime),
	)
	return []byte(r.Replace(string(template)))
}

// FallbackPage builds the minimal page served when the template was never
// loaded: meta tags plus a client-side redirect to the site root.
func FallbackPage(m Meta) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"vi\">\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(m.Title))
	writeMetaTag(&b, "property", "og:title", m.Title)
	writeMetaTag(&b, "property", "og:description", m.Description)
	writeMetaTag(&b, "property", "og:image", m.Image)
	writeMetaTag(&b, "property", "og:url", m.URL)
	writeMetaTag(&b, "property", "og:site_name", m.SiteName)
	writeMetaTag(&b, "property", "og:type", m.Type)
	writeMetaTag(&b, "name", "twitter:card", "summary_large_image")
	writeMetaTag(&b, "name", "twitter:title", m.Title)
	writeMetaTag(&b, "name", "twitter:description", m.Description)
	writeMetaTag(&b, "name", "twitter:image", m.Image)
	b.WriteString("<meta http-equiv=\"refresh\" content=\"0;url=/\">\n")
	b.WriteString("</head>\n<body></body>\n</html>\n")
	return []byte(b.String())
}

func writeMetaTag(b *strings.Builder, attr, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "<meta %s=\"%s\" content=\"%s\">\n", attr, key, html.EscapeString(value))
}
