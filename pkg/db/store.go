package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("duplicate key")
)

// Executor is satisfied by *sqlx.DB and *sqlx.Tx.
type Executor interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Store is the repository over the pipeline tables. Queries are written with
// '?' placeholders and rebound for the connection's driver.
type Store struct {
	conn *sqlx.DB // nil when bound to a transaction
	ex   Executor
}

// NewStore wraps an open connection.
func NewStore(conn *sqlx.DB) *Store {
	return &Store{conn: conn, ex: conn}
}

// InTx runs fn inside a transaction. The transaction is rolled back when fn
// returns an error. Calling InTx on a transaction-bound Store runs fn inline.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.conn == nil {
		return fn(s)
	}
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()

	if err := fn(&Store{ex: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Exec runs a raw statement.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.ex.ExecContext(ctx, s.ex.Rebind(query), args...)
}

// Snapshot writes a consistent copy of a SQLite database to dest.
func (s *Store) Snapshot(ctx context.Context, dest string) error {
	if s.ex.DriverName() != DriverSQLite {
		return fmt.Errorf("snapshot: unsupported driver %q", s.ex.DriverName())
	}
	if _, err := s.ex.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// isUniqueConstraintErr returns true when the error indicates a unique/constraint violation
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "duplicate key")
}

func (s *Store) insert(ctx context.Context, what, query string, args ...any) (int64, error) {
	var id int64
	if err := s.ex.QueryRowxContext(ctx, s.ex.Rebind(query), args...).Scan(&id); err != nil {
		if isUniqueConstraintErr(err) {
			return 0, fmt.Errorf("insert %s: %w: %v", what, ErrDuplicate, err)
		}
		return 0, fmt.Errorf("insert %s: %w", what, err)
	}
	return id, nil
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := s.ex.GetContext(ctx, &n, s.ex.Rebind(query), args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

// link inserts a join row and reports whether it was new.
func (s *Store) link(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.ex.ExecContext(ctx, s.ex.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SiteExists reports whether a site with the given url is stored.
func (s *Store) SiteExists(ctx context.Context, url string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM sites WHERE url = ?`, url)
}

// AddSites inserts sites in one transaction and fills in their IDs.
func (s *Store) AddSites(ctx context.Context, sites []Site) error {
	return s.InTx(ctx, func(tx *Store) error {
		for i := range sites {
			id, err := tx.insert(ctx, "site "+sites[i].URL,
				`INSERT INTO sites (title, url) VALUES (?, ?) RETURNING id`,
				sites[i].Title, sites[i].URL)
			if err != nil {
				return err
			}
			sites[i].ID = id
		}
		return nil
	})
}

// ListSites returns up to limit sites with id greater than afterID, ordered by id.
func (s *Store) ListSites(ctx context.Context, afterID int64, limit int) ([]Site, error) {
	var sites []Site
	err := s.ex.SelectContext(ctx, &sites, s.ex.Rebind(
		`SELECT id, title, url FROM sites WHERE id > ? ORDER BY id LIMIT ?`), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

// EntryExists reports whether an entry with the given url is stored.
func (s *Store) EntryExists(ctx context.Context, url string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM entries WHERE url = ?`, url)
}

// AddEntries inserts entries in one transaction and fills in their IDs.
func (s *Store) AddEntries(ctx context.Context, entries []Entry) error {
	return s.InTx(ctx, func(tx *Store) error {
		for i := range entries {
			e := &entries[i]
			id, err := tx.insert(ctx, "entry "+e.URL,
				`INSERT INTO entries (site_id, title, url, published_at, is_crawled) VALUES (?, ?, ?, ?, ?) RETURNING id`,
				e.SiteID, e.Title, e.URL, e.PublishedAt.UTC(), e.IsCrawled)
			if err != nil {
				return err
			}
			e.ID = id
		}
		return nil
	})
}

const entryColumns = `id, site_id, title, url, published_at, is_crawled`

// ListUncrawledEntries returns up to limit uncrawled entries with id greater
// than afterID, ordered by id.
func (s *Store) ListUncrawledEntries(ctx context.Context, afterID int64, limit int) ([]Entry, error) {
	var entries []Entry
	err := s.ex.SelectContext(ctx, &entries, s.ex.Rebind(
		`SELECT `+entryColumns+` FROM entries WHERE is_crawled = FALSE AND id > ? ORDER BY id LIMIT ?`),
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list uncrawled entries: %w", err)
	}
	return entries, nil
}

// MarkEntryCrawled flags the entry as crawled. The flag is never cleared.
func (s *Store) MarkEntryCrawled(ctx context.Context, entryID int64) error {
	if _, err := s.Exec(ctx, `UPDATE entries SET is_crawled = TRUE WHERE id = ?`, entryID); err != nil {
		return fmt.Errorf("mark entry %d crawled: %w", entryID, err)
	}
	return nil
}

// SetEntryTitle replaces the title of an entry.
func (s *Store) SetEntryTitle(ctx context.Context, entryID int64, title string) error {
	if _, err := s.Exec(ctx, `UPDATE entries SET title = ? WHERE id = ?`, title, entryID); err != nil {
		return fmt.Errorf("set entry %d title: %w", entryID, err)
	}
	return nil
}

// ListEntriesByProduct returns up to limit entries that mention the product,
// newest first.
func (s *Store) ListEntriesByProduct(ctx context.Context, productID int64, limit int) ([]Entry, error) {
	var entries []Entry
	err := s.ex.SelectContext(ctx, &entries, s.ex.Rebind(
		`SELECT e.id, e.site_id, e.title, e.url, e.published_at, e.is_crawled
		 FROM entries e
		 JOIN entry_products ep ON ep.entry_id = e.id
		 WHERE ep.product_id = ?
		 ORDER BY e.published_at DESC, e.id DESC
		 LIMIT ?`), productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries of product %d: %w", productID, err)
	}
	return entries, nil
}

const productColumns = `id, external_id, title, detail_url, image_url, author, publisher,
	published_on, description, is_in_domain, score, rank_no, row_no`

// FindProductByExternalID returns ErrNotFound when no product has the id.
func (s *Store) FindProductByExternalID(ctx context.Context, externalID string) (*Product, error) {
	var p Product
	err := s.ex.GetContext(ctx, &p, s.ex.Rebind(
		`SELECT `+productColumns+` FROM products WHERE external_id = ?`), externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find product %s: %w", externalID, err)
	}
	return &p, nil
}

// AddProduct inserts a product with its external id and title only.
func (s *Store) AddProduct(ctx context.Context, p *Product) error {
	id, err := s.insert(ctx, "product "+p.ExternalID,
		`INSERT INTO products (external_id, title) VALUES (?, ?) RETURNING id`,
		p.ExternalID, p.Title)
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// LinkEntryProduct links an entry with a product and reports whether the
// link is new.
func (s *Store) LinkEntryProduct(ctx context.Context, entryID, productID int64) (bool, error) {
	linked, err := s.link(ctx,
		`INSERT INTO entry_products (entry_id, product_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		entryID, productID)
	if err != nil {
		return false, fmt.Errorf("link entry %d to product %d: %w", entryID, productID, err)
	}
	return linked, nil
}

// ListUnclassifiedProducts returns up to limit products whose is_in_domain is
// NULL with id greater than afterID, ordered by id.
func (s *Store) ListUnclassifiedProducts(ctx context.Context, afterID int64, limit int) ([]Product, error) {
	var products []Product
	err := s.ex.SelectContext(ctx, &products, s.ex.Rebind(
		`SELECT `+productColumns+` FROM products WHERE is_in_domain IS NULL AND id > ? ORDER BY id LIMIT ?`),
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unclassified products: %w", err)
	}
	return products, nil
}

// UpdateProductDetails writes the catalog attributes of p. Products that were
// already classified are left untouched.
func (s *Store) UpdateProductDetails(ctx context.Context, p *Product) error {
	_, err := s.Exec(ctx,
		`UPDATE products
		 SET is_in_domain = ?, detail_url = ?, image_url = ?, author = ?, publisher = ?,
		     published_on = ?, description = ?
		 WHERE id = ? AND is_in_domain IS NULL`,
		p.IsInDomain, p.DetailURL, p.ImageURL, p.Author, p.Publisher,
		p.PublishedOn, p.Description, p.ID)
	if err != nil {
		return fmt.Errorf("update product %d: %w", p.ID, err)
	}
	return nil
}

// ListRankedProducts returns in-domain products that have a display row,
// ordered by row.
func (s *Store) ListRankedProducts(ctx context.Context, limit int) ([]Product, error) {
	var products []Product
	err := s.ex.SelectContext(ctx, &products, s.ex.Rebind(
		`SELECT `+productColumns+` FROM products
		 WHERE is_in_domain = TRUE AND row_no IS NOT NULL
		 ORDER BY row_no LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list ranked products: %w", err)
	}
	return products, nil
}

// FindTagByName returns ErrNotFound when no tag has the name.
func (s *Store) FindTagByName(ctx context.Context, name string) (*Tag, error) {
	var t Tag
	err := s.ex.GetContext(ctx, &t, s.ex.Rebind(
		`SELECT id, name, count, reading FROM tags WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tag %q: %w", name, err)
	}
	return &t, nil
}

// AddTag inserts a tag and fills in its ID.
func (s *Store) AddTag(ctx context.Context, t *Tag) error {
	id, err := s.insert(ctx, "tag "+t.Name,
		`INSERT INTO tags (name, count, reading) VALUES (?, 0, ?) RETURNING id`,
		t.Name, t.Reading)
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// LinkProductTag links a product with a tag and reports whether the link is new.
func (s *Store) LinkProductTag(ctx context.Context, productID, tagID int64) (bool, error) {
	linked, err := s.link(ctx,
		`INSERT INTO product_tags (tag_id, product_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		tagID, productID)
	if err != nil {
		return false, fmt.Errorf("link product %d to tag %d: %w", productID, tagID, err)
	}
	return linked, nil
}

// ListTagsByProducts returns the tags of each product, ordered by tag count.
func (s *Store) ListTagsByProducts(ctx context.Context, productIDs []int64) (map[int64][]Tag, error) {
	out := make(map[int64][]Tag, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(
		`SELECT pt.product_id, t.id, t.name, t.count, t.reading
		 FROM product_tags pt
		 JOIN tags t ON t.id = pt.tag_id
		 WHERE pt.product_id IN (?)
		 ORDER BY t.count, t.id`, productIDs)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ProductID int64 `db:"product_id"`
		Tag
	}
	if err := s.ex.SelectContext(ctx, &rows, s.ex.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list product tags: %w", err)
	}
	for _, r := range rows {
		out[r.ProductID] = append(out[r.ProductID], r.Tag)
	}
	return out, nil
}
