package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/mangarank/pkg/catalog"
	"github.com/japaniel/mangarank/pkg/db"
	"github.com/japaniel/mangarank/pkg/logger"
)

// fakeCatalog serves items by id and fails the first failures calls.
type fakeCatalog struct {
	mu       sync.Mutex
	items    map[string]catalog.Item
	apiErrs  []catalog.APIError
	failures int
	calls    [][]string
}

func (f *fakeCatalog) Lookup(_ context.Context, ids []string) (*catalog.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), ids...))
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("lookup failure %d", len(f.calls))
	}
	resp := &catalog.Response{Errors: f.apiErrs}
	for _, id := range ids {
		if item, ok := f.items[id]; ok {
			resp.Items = append(resp.Items, item)
		}
	}
	return resp, nil
}

type upperReader struct{}

func (upperReader) Reading(text string) string { return "よみ:" + text }

func comic(id string, authors ...string) catalog.Item {
	return catalog.Item{
		ASIN:          id,
		DetailPageURL: "https://www.amazon.co.jp/dp/" + id,
		ImageURL:      "https://images.example/" + id + ".jpg",
		Authors:       authors,
		Publisher:     "集英社",
		BrowseNodes:   []string{"少年コミック/ジャンプ"},
		Features:      []string{"a", "b"},
	}
}

func addTestProducts(t *testing.T, store *db.Store, ids ...string) []db.Product {
	t.Helper()
	products := make([]db.Product, len(ids))
	for i, id := range ids {
		products[i] = db.Product{ExternalID: id, Title: "title " + id}
		require.NoError(t, store.AddProduct(context.Background(), &products[i]))
	}
	return products
}

var testCatalogOptions = CatalogOptions{BatchSize: 100, MaxRetries: 3, RetryDelay: time.Millisecond}

func TestCatalogCrawlerClassifiesAndTags(t *testing.T) {
	conn, store := newTestDB(t)
	products := addTestProducts(t, store, "4088820983", "4088820991", "B000NOVEL1", "SHORT")
	fc := &fakeCatalog{
		items: map[string]catalog.Item{
			"4088820983": comic("4088820983", "尾田栄一郎"),
			"4088820991": comic("4088820991", " 尾田栄一郎 ", "編集部"),
			"B000NOVEL1": {ASIN: "B000NOVEL1", Publisher: "新潮社", BrowseNodes: []string{"文芸"}},
		},
		apiErrs: []catalog.APIError{{Code: "ItemNotAccessible", Message: "x"}},
	}
	c := NewCatalogCrawler(store, fc, upperReader{}, logger.NewNoOp(), testCatalogOptions)

	res, err := c.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Classified)
	assert.Equal(t, 2, res.InDomain)
	assert.Equal(t, products[3].ID, res.LastProductID)
	require.Len(t, fc.calls, 1)
	assert.Equal(t, []string{"4088820983", "4088820991", "B000NOVEL1"}, fc.calls[0])

	p, err := store.FindProductByExternalID(context.Background(), "4088820991")
	require.NoError(t, err)
	assert.True(t, p.IsInDomain.Bool)
	assert.Equal(t, " 尾田栄一郎 ,編集部", p.Author.String)
	assert.Equal(t, "集英社", p.Publisher.String)
	assert.Equal(t, "a\nb", p.Description.String)

	novel, err := store.FindProductByExternalID(context.Background(), "B000NOVEL1")
	require.NoError(t, err)
	assert.True(t, novel.IsInDomain.Valid)
	assert.False(t, novel.IsInDomain.Bool)

	short, err := store.FindProductByExternalID(context.Background(), "SHORT")
	require.NoError(t, err)
	assert.False(t, short.IsInDomain.Valid, "ids that cannot be looked up stay unclassified")

	var names []string
	require.NoError(t, conn.Select(&names, `SELECT name FROM tags ORDER BY id`))
	assert.Equal(t, []string{"尾田栄一郎", "集英社", "少年コミック", "ジャンプ", "編集部"}, names)
	var reading string
	require.NoError(t, conn.Get(&reading, `SELECT reading FROM tags WHERE name = '集英社'`))
	assert.Equal(t, "よみ:集英社", reading)
	assert.Equal(t, 9, countRows(t, conn, "product_tags"))
}

func TestCatalogCrawlerNeverReclassifies(t *testing.T) {
	_, store := newTestDB(t)
	addTestProducts(t, store, "4088820983")
	fc := &fakeCatalog{items: map[string]catalog.Item{"4088820983": comic("4088820983", "A")}}
	c := NewCatalogCrawler(store, fc, nil, logger.NewNoOp(), testCatalogOptions)

	_, err := c.Run(context.Background(), 0)
	require.NoError(t, err)

	fc.items["4088820983"] = catalog.Item{ASIN: "4088820983", BrowseNodes: []string{"文芸"}}
	res, err := c.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, res.Classified)
	assert.Len(t, fc.calls, 1)

	p, err := store.FindProductByExternalID(context.Background(), "4088820983")
	require.NoError(t, err)
	assert.True(t, p.IsInDomain.Bool)
}

func TestCatalogCrawlerSplitsLookups(t *testing.T) {
	_, store := newTestDB(t)
	var ids []string
	for i := 0; i < 23; i++ {
		ids = append(ids, fmt.Sprintf("40000000%02d", i))
	}
	addTestProducts(t, store, ids...)
	fc := &fakeCatalog{items: map[string]catalog.Item{}}
	opts := testCatalogOptions
	opts.BatchSize = 15
	c := NewCatalogCrawler(store, fc, nil, logger.NewNoOp(), opts)

	res, err := c.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, res.Classified)
	var sizes []int
	for _, call := range fc.calls {
		sizes = append(sizes, len(call))
	}
	assert.Equal(t, []int{10, 5, 8}, sizes)
}

func TestCatalogCrawlerRetriesLookups(t *testing.T) {
	_, store := newTestDB(t)
	addTestProducts(t, store, "4088820983")
	fc := &fakeCatalog{failures: 3, items: map[string]catalog.Item{"4088820983": comic("4088820983", "A")}}
	c := NewCatalogCrawler(store, fc, nil, logger.NewNoOp(), testCatalogOptions)

	res, err := c.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Classified)
	assert.Len(t, fc.calls, 4)
}

func TestCatalogCrawlerGivesUpAfterRetries(t *testing.T) {
	_, store := newTestDB(t)
	addTestProducts(t, store, "4088820983")
	fc := &fakeCatalog{failures: 10}
	c := NewCatalogCrawler(store, fc, nil, logger.NewNoOp(), testCatalogOptions)

	res, err := c.Run(context.Background(), 0)
	require.Error(t, err)
	assert.Len(t, fc.calls, 4)
	assert.Zero(t, res.LastProductID)
	for i := 1; i <= 4; i++ {
		assert.Contains(t, err.Error(), fmt.Sprintf("lookup failure %d", i))
	}
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	assert.Len(t, joined.Unwrap(), 4)
}
