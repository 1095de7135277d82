package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitDBCreatesSchema verifies InitDB creates every pipeline table with
// the columns the store relies on, and that re-running it is harmless.
func TestInitDBCreatesSchema(t *testing.T) {
	conn, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, InitDB(conn))
	require.NoError(t, InitDB(conn))

	want := map[string][]string{
		"sites":          {"id", "title", "url"},
		"entries":        {"id", "site_id", "title", "url", "published_at", "is_crawled"},
		"products":       {"id", "external_id", "is_in_domain", "score", "rank_no", "row_no"},
		"tags":           {"id", "name", "count", "reading"},
		"entry_products": {"entry_id", "product_id"},
		"product_tags":   {"tag_id", "product_id", "rank_no", "row_no"},
	}
	for table, cols := range want {
		var got []string
		require.NoError(t, conn.Select(&got, `SELECT name FROM pragma_table_info(?)`, table), table)
		for _, c := range cols {
			assert.Contains(t, got, c, "table %s", table)
		}
	}
}

func TestEntriesCascadeWithSite(t *testing.T) {
	conn, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, InitDB(conn))

	conn.MustExec(`INSERT INTO sites (title, url) VALUES ('a', 'https://a.example/')`)
	conn.MustExec(`INSERT INTO entries (site_id, title, url, published_at) VALUES (1, 'e', 'https://a.example/e', '2020-01-01 00:00:00')`)
	conn.MustExec(`DELETE FROM sites WHERE id = 1`)

	var n int
	require.NoError(t, conn.Get(&n, `SELECT COUNT(*) FROM entries`))
	assert.Zero(t, n)
}
