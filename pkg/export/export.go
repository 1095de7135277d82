// Package export renders the ranked product dataset as static JSON files.
package export

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/japaniel/mangarank/pkg/db"
	"github.com/japaniel/mangarank/pkg/logger"
)

// File names written by the exporter.
const (
	ItemsFile   = "items.json"
	TagsFile    = "tags.json"
	EntriesFile = "entries.json"
)

const (
	DefaultMaxItems   = 1000
	MaxEntriesPerItem = 100
)

// Files lists every file the exporter writes, in write order.
var Files = []string{ItemsFile, TagsFile, EntriesFile}

type ItemTag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Item struct {
	ID            string     `json:"id"`
	ASIN          string     `json:"asin"`
	Title         string     `json:"title"`
	DetailPageURL string     `json:"detailPageUrl"`
	ImageURL      string     `json:"imageUrl"`
	Author        string     `json:"author"`
	Publisher     string     `json:"publisher"`
	Description   string     `json:"description"`
	Score         int64      `json:"score"`
	PublishedOn   *time.Time `json:"publishedOn,omitempty"`
	Tags          []ItemTag  `json:"tags"`
}

// TagSummary counts how many exported items carry a tag.
type TagSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Entry struct {
	ASIN        string    `json:"asin"`
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Dataset is the in-memory form of the three export files.
type Dataset struct {
	Items   []Item
	Tags    []TagSummary
	Entries []Entry
}

// OpenFunc opens the destination for a named export file.
type OpenFunc func(name string) (io.WriteCloser, error)

type Exporter struct {
	store    *db.Store
	log      logger.Interface
	maxItems int
}

// NewExporter creates an Exporter. maxItems <= 0 selects DefaultMaxItems.
func NewExporter(store *db.Store, log logger.Interface, maxItems int) *Exporter {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Exporter{store: store, log: log, maxItems: maxItems}
}

// Export writes the export files into dir, creating it when missing.
func (e *Exporter) Export(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	return e.ExportTo(ctx, func(name string) (io.WriteCloser, error) {
		return os.Create(filepath.Join(dir, name))
	})
}

// ExportTo builds the dataset and writes each file through open.
func (e *Exporter) ExportTo(ctx context.Context, open OpenFunc) error {
	ds, err := e.Build(ctx)
	if err != nil {
		return err
	}
	docs := map[string]any{
		ItemsFile:   ds.Items,
		TagsFile:    ds.Tags,
		EntriesFile: ds.Entries,
	}
	for _, name := range Files {
		if err := write(open, name, docs[name]); err != nil {
			return err
		}
	}
	e.log.Info("export written", "items", len(ds.Items), "tags", len(ds.Tags), "entries", len(ds.Entries))
	return nil
}

// Build loads the dataset from the store.
func (e *Exporter) Build(ctx context.Context) (*Dataset, error) {
	products, err := e.store.ListRankedProducts(ctx, e.maxItems)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	tagsByProduct, err := e.store.ListTagsByProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Items:   make([]Item, 0, len(products)),
		Tags:    []TagSummary{},
		Entries: []Entry{},
	}
	occurrences := map[int64]int{}
	tagsByID := map[int64]db.Tag{}
	for _, p := range products {
		item := newItem(p)
		for _, t := range tagsByProduct[p.ID] {
			item.Tags = append(item.Tags, ItemTag{ID: formatID(t.ID), Name: t.Name, Count: t.Count})
			occurrences[t.ID]++
			tagsByID[t.ID] = t
		}
		ds.Items = append(ds.Items, item)

		entries, err := e.store.ListEntriesByProduct(ctx, p.ID, MaxEntriesPerItem)
		if err != nil {
			return nil, err
		}
		for _, en := range entries {
			ds.Entries = append(ds.Entries, Entry{
				ASIN:        p.ExternalID,
				ID:          fmt.Sprintf("%d_%d", en.ID, p.ID),
				URL:         en.URL,
				Title:       en.Title,
				PublishedAt: en.PublishedAt.UTC(),
			})
		}
	}

	tags := make([]db.Tag, 0, len(tagsByID))
	for _, t := range tagsByID {
		tags = append(tags, t)
	}
	slices.SortFunc(tags, func(a, b db.Tag) int {
		return cmp.Or(
			cmp.Compare(a.Reading.String, b.Reading.String),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.ID, b.ID),
		)
	})
	for _, t := range tags {
		ds.Tags = append(ds.Tags, TagSummary{ID: formatID(t.ID), Name: t.Name, Count: occurrences[t.ID]})
	}
	return ds, nil
}

func newItem(p db.Product) Item {
	item := Item{
		ID:            formatID(p.ID),
		ASIN:          p.ExternalID,
		Title:         p.Title,
		DetailPageURL: p.DetailURL.String,
		ImageURL:      p.ImageURL.String,
		Author:        p.Author.String,
		Publisher:     p.Publisher.String,
		Description:   p.Description.String,
		Score:         p.Score.Int64,
		Tags:          []ItemTag{},
	}
	if p.PublishedOn.Valid {
		t := p.PublishedOn.Time.UTC()
		item.PublishedOn = &t
	}
	return item
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func write(open OpenFunc, name string, v any) (err error) {
	w, err := open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", name, cerr))
		}
	}()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return nil
}
