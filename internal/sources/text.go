package sources

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText strips HTML markup and entities from s and collapses whitespace.
// Search APIs return snippets with <span class="searchmatch"> and similar tags.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseSpaces(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpaces(s)
	}
	return collapseSpaces(doc.Text())
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
