package crawler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/mangarank/pkg/logger"
)

func directoryPage(more string, urls ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for _, u := range urls {
		fmt.Fprintf(&b, `<li cllass="blog-list-content"><a href="%s">blog %s</a></li>`, u, u)
	}
	b.WriteString("</ul>")
	if more != "" {
		fmt.Fprintf(&b, `<div class="more"><a href="%s">more</a></div>`, more)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newGroupCrawler(t *testing.T, ps *pageServer) (*GroupCrawler, func() []string) {
	store := newTestStore(t)
	opts := testOptions
	opts.GroupURL = ps.URL + "/g/1/blogs"
	c := NewGroupCrawler(store, newTestFetcher(), logger.NewNoOp(), opts)
	urls := func() []string {
		sites, err := store.ListSites(context.Background(), 0, 100)
		require.NoError(t, err)
		var out []string
		for _, s := range sites {
			out = append(out, s.URL)
		}
		return out
	}
	return c, urls
}

func TestGroupCrawlerWalksPages(t *testing.T) {
	ps := newPageServer(t)
	ps.set("/g/1/blogs", directoryPage("https://hatenablog.com/g/1/blogs?page=2", "https://a.example/", "https://b.example/", "https://a.example/"))
	ps.set("/g/1/blogs?page=2", directoryPage("", "https://c.example/"))
	c, urls := newGroupCrawler(t, ps)

	res, err := c.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Found)
	assert.Empty(t, res.Next)
	assert.Equal(t, []string{"https://a.example/", "https://b.example/", "https://c.example/"}, urls())

	res, err = c.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, res.Found)
	assert.Len(t, urls(), 3)
	assert.Equal(t, 1, ps.hitCount("/g/1/blogs?page=2"), "second run must stop at the first known blog")
}

func TestGroupCrawlerStopsAtKnownSite(t *testing.T) {
	ps := newPageServer(t)
	ps.set("/g/1/blogs", directoryPage("?page=2", "https://c.example/"))
	c, urls := newGroupCrawler(t, ps)
	_, err := c.Run(context.Background(), "")
	require.NoError(t, err)

	ps.set("/g/1/blogs", directoryPage("?page=2", "https://a.example/", "https://b.example/", "https://c.example/", "https://d.example/"))
	res, err := c.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.Empty(t, res.Next)
	assert.NotContains(t, urls(), "https://d.example/")
}

func TestGroupCrawlerResumesFromCursor(t *testing.T) {
	ps := newPageServer(t)
	ps.set("/g/1/blogs?page=3", directoryPage("", "https://z.example/"))
	c, urls := newGroupCrawler(t, ps)

	res, err := c.Run(context.Background(), ps.URL+"/g/1/blogs?page=3")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Found)
	assert.Equal(t, []string{"https://z.example/"}, urls())
	assert.Zero(t, ps.hitCount("/g/1/blogs"))
}

func TestGroupCrawlerStopsOnErrorStatus(t *testing.T) {
	ps := newPageServer(t)
	ps.setStatus("/g/1/blogs", http.StatusServiceUnavailable)
	c, urls := newGroupCrawler(t, ps)

	res, err := c.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, res.Found)
	assert.Empty(t, urls())
}

func TestGroupCrawlerReportsResumePointOnFailure(t *testing.T) {
	ps := newPageServer(t)
	ps.set("/g/1/blogs", directoryPage("?page=2", "https://a.example/"))
	c, _ := newGroupCrawler(t, ps)
	page2 := ps.URL + "/g/1/blogs?page=2"
	c.fetcher = &fakeFetcher{errs: map[string]error{page2: fmt.Errorf("connection reset")}, next: c.fetcher}

	res, err := c.Run(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, 1, res.Found)
	assert.Equal(t, page2, res.Next)
}
