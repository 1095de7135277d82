package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/japaniel/mangarank/pkg/db"
	"github.com/japaniel/mangarank/pkg/fetch"
	"github.com/japaniel/mangarank/pkg/logger"
	"github.com/japaniel/mangarank/pkg/reading"
)

// EntryResult summarizes an EntryCrawler run.
type EntryResult struct {
	Crawled int
	// Linked counts new entry to product links.
	Linked int
	// LastEntryID is the last entry processed, crawled or skipped.
	LastEntryID int64
}

// EntryCrawler extracts product references from uncrawled entries. The
// fetcher must not follow redirects, so that a moved entry is observable.
type EntryCrawler struct {
	store   *db.Store
	fetcher Fetcher
	log     logger.Interface
	opts    Options
}

// NewEntryCrawler creates an EntryCrawler.
func NewEntryCrawler(store *db.Store, fetcher Fetcher, log logger.Interface, opts Options) *EntryCrawler {
	return &EntryCrawler{store: store, fetcher: fetcher, log: log, opts: opts.withDefaults()}
}

// Run crawls the uncrawled entries with id greater than afterEntryID.
func (c *EntryCrawler) Run(ctx context.Context, afterEntryID int64) (EntryResult, error) {
	log := logger.ForRun(c.log, "entries")
	result := EntryResult{LastEntryID: afterEntryID}
	for {
		entries, err := c.store.ListUncrawledEntries(ctx, result.LastEntryID, c.opts.BatchSize)
		if err != nil {
			return result, err
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			crawled, linked, err := c.crawlEntry(ctx, log, entry)
			if err != nil {
				return result, fmt.Errorf("entry %s: %w", entry.URL, err)
			}
			if crawled {
				result.Crawled++
			}
			result.Linked += linked
			result.LastEntryID = entry.ID
		}
	}
	log.Info("entry crawl finished", "crawled", result.Crawled, "linked", result.Linked)
	return result, nil
}

func (c *EntryCrawler) crawlEntry(ctx context.Context, log logger.Interface, entry db.Entry) (bool, int, error) {
	resp, err := c.fetcher.Get(ctx, entry.URL)
	if err != nil {
		return false, 0, err
	}

	var (
		crawled bool
		linked  int
	)
	err = paced(ctx, c.opts.Delay, func(ctx context.Context) error {
		var perr error
		crawled, linked, perr = c.registerProducts(ctx, log, entry, resp)
		return perr
	})
	return crawled, linked, err
}

func (c *EntryCrawler) registerProducts(ctx context.Context, log logger.Interface, entry db.Entry, resp *fetch.Response) (bool, int, error) {
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusFound:
		log.Info("entry gone", "url", entry.URL, "status", resp.StatusCode)
		return true, 0, c.store.MarkEntryCrawled(ctx, entry.ID)
	case !resp.OK():
		log.Warn("entry fetch failed", "url", entry.URL, "status", resp.StatusCode)
		return false, 0, nil
	}

	doc, err := resp.Document()
	if err != nil {
		return false, 0, err
	}

	linked := 0
	for _, ref := range ExtractReferences(doc) {
		product, err := c.findOrAddProduct(ctx, ref)
		if err != nil {
			return false, linked, err
		}
		isNew, err := c.store.LinkEntryProduct(ctx, entry.ID, product.ID)
		if err != nil {
			return false, linked, err
		}
		if isNew {
			linked++
			log.Info("product linked", "external_id", ref.ExternalID, "title", ref.Title, "url", entry.URL)
		}
	}

	if strings.TrimSpace(entry.Title) == "" {
		c.backfillTitle(ctx, log, entry, resp, doc)
	}
	if err := c.store.MarkEntryCrawled(ctx, entry.ID); err != nil {
		return false, linked, err
	}
	return true, linked, nil
}

// findOrAddProduct inserts new products immediately since an entry may
// mention the same product more than once.
func (c *EntryCrawler) findOrAddProduct(ctx context.Context, ref Reference) (*db.Product, error) {
	p, err := c.store.FindProductByExternalID(ctx, ref.ExternalID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	p = &db.Product{ExternalID: ref.ExternalID, Title: ref.Title}
	err = c.store.AddProduct(ctx, p)
	if errors.Is(err, db.ErrDuplicate) {
		return c.store.FindProductByExternalID(ctx, ref.ExternalID)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// backfillTitle fills a blank entry title with the article title, falling
// back to the document title.
func (c *EntryCrawler) backfillTitle(ctx context.Context, log logger.Interface, entry db.Entry, resp *fetch.Response, doc *goquery.Document) {
	title, err := reading.Title(resp.Body, resp.URL)
	if err != nil || title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		log.Debug("no title found", "url", entry.URL, "error", err)
		return
	}
	if err := c.store.SetEntryTitle(ctx, entry.ID, title); err != nil {
		log.Warn("title backfill failed", "url", entry.URL, "error", err)
		return
	}
	log.Debug("title backfilled", "url", entry.URL, "title", title)
}
