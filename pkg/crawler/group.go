package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/japaniel/mangarank/pkg/db"
	"github.com/japaniel/mangarank/pkg/fetch"
	"github.com/japaniel/mangarank/pkg/logger"
)

// DefaultGroupURL lists the blogs of the manga group.
const DefaultGroupURL = "http://hatenablog.com/g/11696248318754550860/blogs"

// The group directory misspells the class attribute.
const (
	siteLinkSelector = "[cllass=blog-list-content] > a"
	morePageSelector = ".more > a"
)

// GroupResult summarizes a GroupCrawler run.
type GroupResult struct {
	Found int
	// Next is the page a later run should resume from, empty when the
	// directory has been fully walked.
	Next string
}

// GroupCrawler discovers blogs from the group directory. The directory lists
// newest blogs first, so a run stops at the first blog it already knows.
type GroupCrawler struct {
	store   *db.Store
	fetcher Fetcher
	log     logger.Interface
	opts    Options
}

// NewGroupCrawler creates a GroupCrawler.
func NewGroupCrawler(store *db.Store, fetcher Fetcher, log logger.Interface, opts Options) *GroupCrawler {
	opts = opts.withDefaults()
	if opts.GroupURL == "" {
		opts.GroupURL = DefaultGroupURL
	}
	return &GroupCrawler{store: store, fetcher: fetcher, log: log, opts: opts}
}

// Run walks the directory starting at cursor, or at the first page when
// cursor is empty.
func (c *GroupCrawler) Run(ctx context.Context, cursor string) (GroupResult, error) {
	log := logger.ForRun(c.log, "groups")
	next := cursor
	if next == "" {
		next = c.opts.GroupURL
	}

	var result GroupResult
	for next != "" {
		resp, err := c.fetcher.Get(ctx, next)
		if err != nil {
			result.Next = next
			return result, fmt.Errorf("fetch %s: %w", next, err)
		}
		if !resp.OK() {
			log.Info("directory page unavailable, stopping", "url", next, "status", resp.StatusCode)
			return result, nil
		}

		var (
			found     int
			following string
			processed bool
		)
		err = paced(ctx, c.opts.Delay, func(ctx context.Context) error {
			var perr error
			found, following, perr = c.registerSites(ctx, log, resp)
			processed = perr == nil
			return perr
		})
		result.Found += found
		if processed {
			next = following
		}
		if err != nil {
			result.Next = next
			return result, err
		}
	}

	log.Info("group crawl finished", "found", result.Found)
	return result, nil
}

// registerSites stores the new blogs of a page and returns the next page, or
// "" when a known blog was reached or there are no more pages.
func (c *GroupCrawler) registerSites(ctx context.Context, log logger.Interface, resp *fetch.Response) (int, string, error) {
	doc, err := resp.Document()
	if err != nil {
		return 0, "", err
	}

	var (
		pending []db.Site
		known   bool
	)
	seen := make(map[string]bool)
	for _, site := range extractSites(doc) {
		if seen[site.URL] {
			continue
		}
		seen[site.URL] = true

		exists, err := c.store.SiteExists(ctx, site.URL)
		if err != nil {
			return 0, "", err
		}
		if exists {
			log.Debug("reached known site", "url", site.URL)
			known = true
			break
		}
		pending = append(pending, site)
	}

	if len(pending) > 0 {
		if err := c.store.AddSites(ctx, pending); err != nil {
			return 0, "", err
		}
		for _, site := range pending {
			log.Info("site added", "title", site.Title, "url", site.URL)
		}
	}
	if known {
		return len(pending), "", nil
	}
	return len(pending), c.nextPage(doc), nil
}

func extractSites(doc *goquery.Document) []db.Site {
	var sites []db.Site
	doc.Find(siteLinkSelector).Each(func(_ int, a *goquery.Selection) {
		href, ok := resolve(doc.Url, a.AttrOr("href", ""))
		if !ok {
			return
		}
		sites = append(sites, db.Site{Title: strings.TrimSpace(a.Text()), URL: href})
	})
	return sites
}

// nextPage appends the query string of the "more" link to the directory URL.
func (c *GroupCrawler) nextPage(doc *goquery.Document) string {
	href, ok := doc.Find(morePageSelector).First().Attr("href")
	if !ok {
		return ""
	}
	more, err := url.Parse(strings.TrimSpace(href))
	if err != nil || more.RawQuery == "" {
		return ""
	}
	base, err := url.Parse(c.opts.GroupURL)
	if err != nil {
		return ""
	}
	base.RawQuery = more.RawQuery
	base.Fragment = ""
	return base.String()
}
