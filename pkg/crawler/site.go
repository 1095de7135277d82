package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/japaniel/mangarank/pkg/db"
	"github.com/japaniel/mangarank/pkg/fetch"
	"github.com/japaniel/mangarank/pkg/logger"
)

const (
	archiveEntrySelector = ".archive-entry"
	archiveDateSelector  = ".archive-date > a > time"
	entryTitleSelector   = "a.entry-title-link"
	pagerNextSelector    = ".pager-next > a"
)

// searchPath narrows a blog's listing to entries that mention products.
const searchPath = "search?q=asin"

// SiteResult summarizes a SiteCrawler run.
type SiteResult struct {
	Found int
	// LastSiteID is the last site fully processed.
	LastSiteID int64
}

// SiteCrawler discovers entries of every known blog. Listings are newest
// first, so a blog is left at the first entry already stored.
type SiteCrawler struct {
	store   *db.Store
	fetcher Fetcher
	log     logger.Interface
	opts    Options
}

// NewSiteCrawler creates a SiteCrawler.
func NewSiteCrawler(store *db.Store, fetcher Fetcher, log logger.Interface, opts Options) *SiteCrawler {
	return &SiteCrawler{store: store, fetcher: fetcher, log: log, opts: opts.withDefaults()}
}

// Run crawls the sites with id greater than afterSiteID.
func (c *SiteCrawler) Run(ctx context.Context, afterSiteID int64) (SiteResult, error) {
	log := logger.ForRun(c.log, "sites")
	result := SiteResult{LastSiteID: afterSiteID}
	for {
		sites, err := c.store.ListSites(ctx, result.LastSiteID, c.opts.BatchSize)
		if err != nil {
			return result, err
		}
		if len(sites) == 0 {
			break
		}
		for _, site := range sites {
			found, err := c.crawlSite(ctx, log.With("site_id", site.ID), site)
			result.Found += found
			if err != nil {
				return result, err
			}
			result.LastSiteID = site.ID
		}
	}
	log.Info("site crawl finished", "found", result.Found, "last_site_id", result.LastSiteID)
	return result, nil
}

func (c *SiteCrawler) crawlSite(ctx context.Context, log logger.Interface, site db.Site) (int, error) {
	next, err := listingURL(site.URL)
	if err != nil {
		log.Warn("skipping site with invalid url", "url", site.URL, "error", err)
		return 0, nil
	}

	total := 0
	for next != "" {
		resp, err := c.fetcher.Get(ctx, next)
		if err != nil {
			if ctx.Err() == nil && (fetch.IsTLSError(err) || fetch.IsHostNotFound(err)) {
				log.Warn("site unreachable, continuing with next site", "url", next, "error", err)
				return total, nil
			}
			return total, fmt.Errorf("fetch %s: %w", next, err)
		}
		if !resp.OK() {
			log.Debug("listing unavailable", "url", next, "status", resp.StatusCode)
			return total, nil
		}

		var (
			found     int
			following string
		)
		err = paced(ctx, c.opts.Delay, func(ctx context.Context) error {
			var perr error
			found, following, perr = c.saveEntries(ctx, log, site, resp)
			return perr
		})
		total += found
		if err != nil {
			return total, fmt.Errorf("site %s: %w", site.URL, err)
		}
		next = following
	}
	log.Debug("site crawled", "title", site.Title, "found", total)
	return total, nil
}

func listingURL(siteURL string) (string, error) {
	base, err := url.Parse(siteURL)
	if err != nil {
		return "", err
	}
	if !base.IsAbs() {
		return "", errors.New("not an absolute url")
	}
	ref, _ := url.Parse(searchPath)
	return base.ResolveReference(ref).String(), nil
}

// saveEntries stores the new entries of a listing page and returns the next
// page, or "" when a known entry was reached or there are no more pages.
func (c *SiteCrawler) saveEntries(ctx context.Context, log logger.Interface, site db.Site, resp *fetch.Response) (int, string, error) {
	doc, err := resp.Document()
	if err != nil {
		return 0, "", err
	}

	var (
		pending []db.Entry
		known   bool
	)
	seen := make(map[string]bool)
	for _, entry := range extractEntries(doc, site.ID) {
		if seen[entry.URL] {
			continue
		}
		seen[entry.URL] = true

		exists, err := c.store.EntryExists(ctx, entry.URL)
		if err != nil {
			return 0, "", err
		}
		if exists {
			log.Debug("reached known entry", "url", entry.URL)
			known = true
			break
		}
		pending = append(pending, entry)
	}

	if len(pending) > 0 {
		if err := c.store.AddEntries(ctx, pending); err != nil {
			return 0, "", err
		}
		for _, e := range pending {
			log.Info("entry added", "title", e.Title, "url", e.URL)
		}
	}
	if known {
		return len(pending), "", nil
	}
	next, _ := resolve(doc.Url, doc.Find(pagerNextSelector).First().AttrOr("href", ""))
	return len(pending), next, nil
}

// extractEntries returns the well-formed entries of a listing page. Entries
// without a parseable or storable date are dropped.
func extractEntries(doc *goquery.Document, siteID int64) []db.Entry {
	var entries []db.Entry
	doc.Find(archiveEntrySelector).Each(func(_ int, s *goquery.Selection) {
		datetime, ok := s.Find(archiveDateSelector).First().Attr("datetime")
		if !ok {
			return
		}
		publishedAt, err := dateparse.ParseIn(strings.TrimSpace(datetime), time.UTC)
		if err != nil || !db.StorableTime(publishedAt) {
			return
		}

		a := s.Find(entryTitleSelector).First()
		href, ok := resolve(doc.Url, a.AttrOr("href", ""))
		if !ok {
			return
		}
		entries = append(entries, db.Entry{
			SiteID:      siteID,
			Title:       strings.TrimSpace(a.Text()),
			URL:         href,
			PublishedAt: publishedAt,
		})
	})
	return entries
}
