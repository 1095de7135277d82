package crawler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/japaniel/mangarank/pkg/catalog"
	"github.com/japaniel/mangarank/pkg/db"
	"github.com/japaniel/mangarank/pkg/fetch"
	"github.com/japaniel/mangarank/pkg/logger"
)

// Default catalog retry policy.
const (
	DefaultLookupRetries    = 3
	DefaultLookupRetryDelay = 200 * time.Millisecond
)

// TagReader derives the kana reading stored with new tags.
type TagReader interface {
	Reading(text string) string
}

// CatalogOptions tunes the CatalogCrawler.
type CatalogOptions struct {
	BatchSize int
	// Delay is the minimum time spent saving one lookup's results.
	Delay      time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// CatalogResult summarizes a CatalogCrawler run.
type CatalogResult struct {
	Classified int
	InDomain   int
	// LastProductID is the last product whose lookup completed.
	LastProductID int64
}

// CatalogCrawler classifies unclassified products with catalog data and tags
// the in-domain ones.
type CatalogCrawler struct {
	store   *db.Store
	lookup  catalog.Lookuper
	readers TagReader
	log     logger.Interface
	opts    CatalogOptions
}

// NewCatalogCrawler creates a CatalogCrawler. readers may be nil, in which
// case tags are stored without a reading.
func NewCatalogCrawler(store *db.Store, lookup catalog.Lookuper, readers TagReader, log logger.Interface, opts CatalogOptions) *CatalogCrawler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &CatalogCrawler{store: store, lookup: lookup, readers: readers, log: log, opts: opts}
}

// Run classifies the products with id greater than afterProductID. Products
// whose id cannot be looked up are skipped and stay unclassified.
func (c *CatalogCrawler) Run(ctx context.Context, afterProductID int64) (CatalogResult, error) {
	log := logger.ForRun(c.log, "catalog")
	result := CatalogResult{LastProductID: afterProductID}
	cursor := afterProductID
	for {
		products, err := c.store.ListUnclassifiedProducts(ctx, cursor, c.opts.BatchSize)
		if err != nil {
			return result, err
		}
		if len(products) == 0 {
			break
		}

		pending := make(map[string]db.Product, catalog.MaxLookupIDs)
		var ids []string
		flush := func() error {
			if len(ids) == 0 {
				return nil
			}
			classified, inDomain, err := c.crawlProducts(ctx, log, ids, pending)
			result.Classified += classified
			result.InDomain += inDomain
			if err != nil {
				return err
			}
			result.LastProductID = cursor
			ids = ids[:0]
			clear(pending)
			return nil
		}

		for _, p := range products {
			cursor = p.ID
			if !catalog.ValidID(p.ExternalID) {
				log.Debug("skipping unresolvable id", "external_id", p.ExternalID)
				continue
			}
			ids = append(ids, p.ExternalID)
			pending[p.ExternalID] = p
			if len(ids) >= catalog.MaxLookupIDs {
				if err := flush(); err != nil {
					return result, err
				}
			}
		}
		if err := flush(); err != nil {
			return result, err
		}
		result.LastProductID = cursor
	}
	log.Info("catalog crawl finished", "classified", result.Classified, "in_domain", result.InDomain)
	return result, nil
}

func (c *CatalogCrawler) crawlProducts(ctx context.Context, log logger.Interface, ids []string, pending map[string]db.Product) (int, int, error) {
	resp, err := c.lookupWithRetry(ctx, log, ids)
	if err != nil {
		log.Error("catalog lookup failed", "ids", strings.Join(ids, ","), "error", err)
		return 0, 0, err
	}
	for _, apiErr := range resp.Errors {
		log.Error("catalog reported an error", "code", apiErr.Code, "message", apiErr.Message)
	}
	if len(resp.Items) == 0 {
		return 0, 0, nil
	}

	var classified, inDomain int
	err = paced(ctx, c.opts.Delay, func(ctx context.Context) error {
		var perr error
		classified, inDomain, perr = c.saveItems(ctx, log, resp.Items, pending)
		return perr
	})
	return classified, inDomain, err
}

// lookupWithRetry retries a failed lookup up to MaxRetries times and joins
// the errors of every attempt when all fail.
func (c *CatalogCrawler) lookupWithRetry(ctx context.Context, log logger.Interface, ids []string) (*catalog.Response, error) {
	var errs []error
	for attempt := 0; ; attempt++ {
		resp, err := c.lookup.Lookup(ctx, ids)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, err)
		if attempt >= c.opts.MaxRetries || ctx.Err() != nil {
			return nil, errors.Join(errs...)
		}
		log.Warn("catalog lookup failed, retrying", "attempt", attempt+1, "throttled", catalog.IsThrottled(err), "error", err)
		if err := fetch.Sleep(ctx, c.opts.RetryDelay); err != nil {
			return nil, errors.Join(append(errs, err)...)
		}
	}
}

func (c *CatalogCrawler) saveItems(ctx context.Context, log logger.Interface, items []catalog.Item, pending map[string]db.Product) (int, int, error) {
	var classified, inDomain int
	created := make(map[string]*db.Tag)
	for _, item := range items {
		p, ok := pending[item.ASIN]
		if !ok {
			continue
		}

		isComic := catalog.IsInDomain(item)
		p.Apply(db.Details{
			IsInDomain:  isComic,
			DetailURL:   item.DetailPageURL,
			ImageURL:    item.ImageURL,
			Author:      strings.Join(item.Authors, ","),
			Publisher:   item.Publisher,
			PublishedOn: item.PublishedOn,
			Description: strings.Join(item.Features, "\n"),
		})

		err := c.store.InTx(ctx, func(tx *db.Store) error {
			if err := tx.UpdateProductDetails(ctx, &p); err != nil {
				return err
			}
			if !isComic {
				return nil
			}
			for _, name := range catalog.Tags(item) {
				tag, err := c.resolveTag(ctx, tx, name, created)
				if err != nil {
					return err
				}
				if _, err := tx.LinkProductTag(ctx, p.ID, tag.ID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return classified, inDomain, fmt.Errorf("save %s: %w", item.ASIN, err)
		}

		classified++
		if isComic {
			inDomain++
		}
		log.Info("product classified", "external_id", item.ASIN, "title", p.Title, "in_domain", isComic)
	}
	return classified, inDomain, nil
}

// resolveTag finds a tag by name or creates it. Tags created during the
// current lookup are remembered so each new name is inserted once.
func (c *CatalogCrawler) resolveTag(ctx context.Context, tx *db.Store, name string, created map[string]*db.Tag) (*db.Tag, error) {
	if tag, ok := created[name]; ok {
		return tag, nil
	}
	tag, err := tx.FindTagByName(ctx, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	tag = &db.Tag{Name: name}
	if c.readers != nil {
		if r := c.readers.Reading(name); r != "" {
			tag.Reading = sql.NullString{String: r, Valid: true}
		}
	}
	if err := tx.AddTag(ctx, tag); err != nil {
		return nil, err
	}
	created[name] = tag
	return tag, nil
}
