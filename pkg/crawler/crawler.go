// Package crawler implements the resumable batch stages that discover blogs,
// their entries and the products the entries mention, and that enrich those
// products from the catalog.
//
// Every stage is a single sequential flow. Each page or entry is processed
// concurrently with a politeness delay, and the next unit starts only when
// both have finished.
package crawler

import (
	"context"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/japaniel/mangarank/pkg/fetch"
)

// Default stage settings.
const (
	DefaultDelay     = time.Second
	DefaultBatchSize = 100
)

// Fetcher retrieves web pages.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Response, error)
}

// Options tunes the blog crawling stages.
type Options struct {
	// GroupURL is the directory page that lists the group's blogs.
	GroupURL string
	// Delay is the minimum time spent per page or entry.
	Delay     time.Duration
	BatchSize int
}

func (o Options) withDefaults() Options {
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	return o
}

// paced runs fn alongside a delay and returns when both are done.
func paced(ctx context.Context, delay time.Duration, fn func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fn(gctx) })
	g.Go(func() error { return fetch.Sleep(gctx, delay) })
	return g.Wait()
}

// resolve returns href as an absolute URL relative to base.
func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}
