package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/mangarank/pkg/db"
	"github.com/japaniel/mangarank/pkg/fetch"
)

func newTestDB(t *testing.T) (*sqlx.DB, *db.Store) {
	t.Helper()
	conn, err := db.Open(db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.InitDB(conn))
	return conn, db.NewStore(conn)
}

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	_, store := newTestDB(t)
	return store
}

func countRows(t *testing.T, conn *sqlx.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

func newTestFetcher() *fetch.Client {
	return fetch.New(fetch.Options{Retries: -1, Timeout: 5 * time.Second})
}

var testOptions = Options{Delay: 0, BatchSize: 2}

// pageServer serves fixed HTML bodies by request URI and records hits.
type pageServer struct {
	*httptest.Server
	mu     sync.Mutex
	pages  map[string]string
	status map[string]int
	hits   map[string]int
}

func newPageServer(t *testing.T) *pageServer {
	ps := &pageServer{pages: map[string]string{}, status: map[string]int{}, hits: map[string]int{}}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		uri := r.URL.RequestURI()
		ps.hits[uri]++
		if code, ok := ps.status[uri]; ok {
			if code == http.StatusFound {
				http.Redirect(w, r, "/elsewhere", code)
				return
			}
			w.WriteHeader(code)
			return
		}
		body, ok := ps.pages[uri]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pageServer) set(uri, body string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.pages[uri] = body
}

func (ps *pageServer) setStatus(uri string, code int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.status[uri] = code
}

func (ps *pageServer) hitCount(uri string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.hits[uri]
}

// fakeFetcher returns canned results by URL.
type fakeFetcher struct {
	errs map[string]error
	next Fetcher
}

func (f *fakeFetcher) Get(ctx context.Context, url string) (*fetch.Response, error) {
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return f.next.Get(ctx, url)
}

func TestPacedWaitsForDelay(t *testing.T) {
	start := time.Now()
	err := paced(context.Background(), 30*time.Millisecond, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestPacedReturnsWorkError(t *testing.T) {
	boom := fmt.Errorf("boom")
	start := time.Now()
	err := paced(context.Background(), time.Hour, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestResolve(t *testing.T) {
	got, ok := resolve(nil, "https://a.example/x")
	assert.True(t, ok)
	assert.Equal(t, "https://a.example/x", got)

	_, ok = resolve(nil, "javascript:void(0)")
	assert.False(t, ok)
	_, ok = resolve(nil, "  ")
	assert.False(t, ok)

	base, _ := url.Parse("https://a.example/blog/search?q=asin")
	got, ok = resolve(base, "/blog/entry/1")
	assert.True(t, ok)
	assert.Equal(t, "https://a.example/blog/entry/1", got)
}

func parseDoc(t *testing.T, rawURL, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	doc.Url, err = url.Parse(rawURL)
	require.NoError(t, err)
	return doc
}
