package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Reference is a product mentioned by an entry.
type Reference struct {
	ExternalID string
	Title      string
}

// Rule extracts product references from an entry page.
type Rule func(doc *goquery.Document) []Reference

// Rules are applied to every entry page, in order.
var Rules = []Rule{
	anchorRule(".hatena-asin-detail-title > a"), // Hatena's own product embed
	anchorRule(".booklink-name > a"),            // Yomereba
	anchorRule(".kaerebalink-name > a"),         // Kaereba
}

// anchorRule reads references from the anchors matching selector.
func anchorRule(selector string) Rule {
	return func(doc *goquery.Document) []Reference {
		var refs []Reference
		doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
			id, ok := ExternalIDFromURL(a.AttrOr("href", ""))
			if !ok {
				return
			}
			refs = append(refs, Reference{ExternalID: id, Title: strings.TrimSpace(a.Text())})
		})
		return refs
	}
}

// ExtractReferences applies every rule and keeps the first reference of each
// external id.
func ExtractReferences(doc *goquery.Document) []Reference {
	seen := make(map[string]bool)
	var refs []Reference
	for _, rule := range Rules {
		for _, ref := range rule(doc) {
			if seen[ref.ExternalID] {
				continue
			}
			seen[ref.ExternalID] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// ExternalIDFromURL returns the path segment between "ASIN/" and the next
// "/".
func ExternalIDFromURL(href string) (string, bool) {
	const marker = "ASIN/"
	i := strings.Index(href, marker)
	if i < 0 {
		return "", false
	}
	rest := href[i+len(marker):]
	j := strings.Index(rest, "/")
	if j <= 0 {
		return "", false
	}
	return rest[:j], true
}
