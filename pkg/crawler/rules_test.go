package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalIDFromURL(t *testing.T) {
	tests := []struct {
		href string
		id   string
		ok   bool
	}{
		{"https://d.hatena.ne.jp/asin/4088820983/hatena-blog-22", "", false},
		{"http://www.amazon.co.jp/exec/obidos/ASIN/4088820983/hatena-blog-22/", "4088820983", true},
		{"https://www.amazon.co.jp/exec/obidos/ASIN/B07XYZ1234/", "B07XYZ1234", true},
		{"https://www.amazon.co.jp/exec/obidos/ASIN/4088820983", "", false},
		{"https://www.amazon.co.jp/exec/obidos/ASIN//x", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		id, ok := ExternalIDFromURL(tt.href)
		assert.Equal(t, tt.ok, ok, tt.href)
		assert.Equal(t, tt.id, id, tt.href)
	}
}

const referencePage = `<html><body>
<div class="hatena-asin-detail">
  <p class="hatena-asin-detail-title"><a href="https://www.amazon.co.jp/exec/obidos/ASIN/4088820983/hatena-blog-22/">ONE PIECE 100</a></p>
</div>
<div class="booklink-box">
  <div class="booklink-name"><a href="https://www.amazon.co.jp/exec/obidos/ASIN/4088820983/yomereba-22/">ONE PIECE 100 (again)</a></div>
  <div class="booklink-name"><a href="https://example.com/no-id">Unrelated</a></div>
</div>
<div class="kaerebalink-box">
  <div class="kaerebalink-name"><a href="https://www.amazon.co.jp/exec/obidos/ASIN/B07XYZ1234/kaereba-22/"> Gadget </a></div>
</div>
</body></html>`

func TestExtractReferences(t *testing.T) {
	doc := parseDoc(t, "https://a.example/entry/1", referencePage)

	refs := ExtractReferences(doc)
	assert.Equal(t, []Reference{
		{ExternalID: "4088820983", Title: "ONE PIECE 100"},
		{ExternalID: "B07XYZ1234", Title: "Gadget"},
	}, refs)
}

func TestEachRuleMatchesItsMarkup(t *testing.T) {
	doc := parseDoc(t, "https://a.example/entry/1", referencePage)
	counts := make([]int, len(Rules))
	for i, rule := range Rules {
		counts[i] = len(rule(doc))
	}
	assert.Equal(t, []int{1, 1, 1}, counts)
}
