package db

import (
	"database/sql"
	"time"
)

// Bounds of the datetime range every supported engine can store.
var (
	MinStoredTime = time.Date(1753, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxStoredTime = time.Date(9999, time.December, 31, 23, 59, 59, 997_000_000, time.UTC)
)

// StorableTime reports whether t lies within [MinStoredTime, MaxStoredTime].
func StorableTime(t time.Time) bool {
	return !t.Before(MinStoredTime) && !t.After(MaxStoredTime)
}

// Site is a blog discovered from the group directory.
type Site struct {
	ID    int64  `db:"id"`
	Title string `db:"title"`
	URL   string `db:"url"`
}

// Entry is a single blog post belonging to a Site.
type Entry struct {
	ID          int64     `db:"id"`
	SiteID      int64     `db:"site_id"`
	Title       string    `db:"title"`
	URL         string    `db:"url"`
	PublishedAt time.Time `db:"published_at"`
	IsCrawled   bool      `db:"is_crawled"`
}

// Product is a catalog item referenced from at least one Entry.
// IsInDomain stays NULL until the catalog lookup classified it.
type Product struct {
	ID          int64          `db:"id"`
	ExternalID  string         `db:"external_id"`
	Title       string         `db:"title"`
	DetailURL   sql.NullString `db:"detail_url"`
	ImageURL    sql.NullString `db:"image_url"`
	Author      sql.NullString `db:"author"`
	Publisher   sql.NullString `db:"publisher"`
	PublishedOn sql.NullTime   `db:"published_on"`
	Description sql.NullString `db:"description"`
	IsInDomain  sql.NullBool   `db:"is_in_domain"`
	Score       sql.NullInt64  `db:"score"`
	Rank        sql.NullInt64  `db:"rank_no"`
	Row         sql.NullInt64  `db:"row_no"`
}

// Details holds the catalog attributes written back onto a Product.
type Details struct {
	IsInDomain  bool
	DetailURL   string
	ImageURL    string
	Author      string
	Publisher   string
	PublishedOn *time.Time
	Description string
}

// Apply copies d onto p. Empty strings are stored as NULL.
func (p *Product) Apply(d Details) {
	p.IsInDomain = sql.NullBool{Bool: d.IsInDomain, Valid: true}
	p.DetailURL = nullString(d.DetailURL)
	p.ImageURL = nullString(d.ImageURL)
	p.Author = nullString(d.Author)
	p.Publisher = nullString(d.Publisher)
	p.Description = nullString(d.Description)
	if d.PublishedOn != nil {
		p.PublishedOn = sql.NullTime{Time: d.PublishedOn.UTC(), Valid: true}
	} else {
		p.PublishedOn = sql.NullTime{}
	}
}

// Tag is a label derived from catalog data. Count is denormalized and
// maintained by the score calculator.
type Tag struct {
	ID      int64          `db:"id"`
	Name    string         `db:"name"`
	Count   int            `db:"count"`
	Reading sql.NullString `db:"reading"`
}

// EntryProduct links an Entry with a Product it mentions.
type EntryProduct struct {
	EntryID   int64 `db:"entry_id"`
	ProductID int64 `db:"product_id"`
}

// ProductTag links a Product with a Tag.
type ProductTag struct {
	TagID     int64         `db:"tag_id"`
	ProductID int64         `db:"product_id"`
	Rank      sql.NullInt64 `db:"rank_no"`
	Row       sql.NullInt64 `db:"row_no"`
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
