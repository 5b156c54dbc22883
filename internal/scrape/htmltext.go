package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var sanitizePolicy = bluemonday.UGCPolicy()

// SanitizeHTML strips dangerous markup from a ficha description before it
// is persisted. Descriptions come from an external API and may carry HTML.
func SanitizeHTML(html string) string {
	return sanitizePolicy.Sanitize(html)
}

// HTMLToText converts HTML to plain text with collapsed whitespace, for
// feeding description text into the score engine. Non-HTML input passes
// through unchanged apart from whitespace cleanup.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
