package catalog

import "strings"

// ComicDomain is the only domain the pipeline ranks.
const ComicDomain = "comic"

// DomainRule assigns Domain to items with a browse node containing Keyword.
type DomainRule struct {
	Keyword string
	Domain  string
}

// DomainKeywords is consulted in order by Classify.
var DomainKeywords = []DomainRule{
	{Keyword: "コミック", Domain: ComicDomain},
	{Keyword: "マンガ", Domain: ComicDomain},
}

// Classify returns the domain of the first rule matching one of the item's
// browse nodes.
func Classify(item Item) (string, bool) {
	for _, rule := range DomainKeywords {
		for _, node := range item.BrowseNodes {
			if strings.Contains(node, rule.Keyword) {
				return rule.Domain, true
			}
		}
	}
	return "", false
}

// IsInDomain reports whether the item is a comic.
func IsInDomain(item Item) bool {
	domain, ok := Classify(item)
	return ok && domain == ComicDomain
}

// Tags derives tag names from authors, the publisher and every "/" segment
// of every browse node name. Names are trimmed, empty names dropped and
// duplicates removed, keeping first occurrence order.
func Tags(item Item) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		tags = append(tags, name)
	}

	for _, a := range item.Authors {
		add(a)
	}
	add(item.Publisher)
	for _, node := range item.BrowseNodes {
		for _, segment := range strings.Split(node, "/") {
			add(segment)
		}
	}
	return tags
}
