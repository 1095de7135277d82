package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/mangarank/pkg/db"
)

// isolate runs the command in an empty directory with a file database so no
// local config.yaml or .env leaks into the test.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	dbPath := filepath.Join(dir, "test.db")
	t.Setenv("MANGARANK_DATABASE_DSN", dbPath+"?_foreign_keys=on")
	t.Setenv("MANGARANK_CRAWLER_DELAY", "0s")
	t.Setenv("MANGARANK_LOG_LEVEL", "debug")
	return dbPath
}

func execute(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestGroupsCommand(t *testing.T) {
	dbPath := isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><ul>
			<li cllass="blog-list-content"><a href="https://a.example/">A</a></li>
			<li cllass="blog-list-content"><a href="https://b.example/">B</a></li>
		</ul></body></html>`))
	}))
	defer srv.Close()
	t.Setenv("MANGARANK_CRAWLER_GROUP_URL", srv.URL+"/g/1/blogs")

	out, err := execute(context.Background(), "groups")
	require.NoError(t, err, out)
	assert.Contains(t, out, "site added")

	conn, err := db.Open(db.DriverSQLite, dbPath)
	require.NoError(t, err)
	defer conn.Close()
	var n int
	require.NoError(t, conn.Get(&n, `SELECT COUNT(*) FROM sites`))
	assert.Equal(t, 2, n)
}

func TestScoreAndExportOnEmptyDatabase(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	out, err := execute(ctx, "score")
	require.NoError(t, err, out)
	assert.Contains(t, out, "aggregation finished")

	outDir := filepath.Join(t.TempDir(), "dist")
	out, err = execute(ctx, "export", "--dir", outDir)
	require.NoError(t, err, out)
	for _, name := range []string{"items.json", "tags.json", "entries.json"} {
		b, err := os.ReadFile(filepath.Join(outDir, name))
		require.NoError(t, err, name)
		var v []any
		require.NoError(t, json.Unmarshal(b, &v), name)
		assert.Empty(t, v, name)
	}
}

func TestRequestBuildCommand(t *testing.T) {
	isolate(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			hits.Add(1)
		}
	}))
	defer srv.Close()
	t.Setenv("MANGARANK_BUILD_WEBHOOK_URL", srv.URL+"/hook")

	out, err := execute(context.Background(), "request-build")
	require.NoError(t, err, out)
	assert.EqualValues(t, 1, hits.Load())
}

func TestCommandsValidateTheirSettings(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	_, err := execute(ctx, "catalog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog.access_key")

	_, err = execute(ctx, "upload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.endpoint")

	_, err = execute(ctx, "request-build")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build.webhook_url")

	_, err = execute(ctx, "--log-level", "loud", "score")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestScheduleCommand(t *testing.T) {
	isolate(t)

	t.Setenv("MANGARANK_SCHEDULE_CRON", "not a cron")
	_, err := execute(context.Background(), "schedule")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse schedule")

	t.Setenv("MANGARANK_SCHEDULE_CRON", "0 3 * * *")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := execute(ctx, "schedule")
	require.NoError(t, err, out)
	assert.Contains(t, out, "scheduler stopped")
}

func TestUnknownCommand(t *testing.T) {
	isolate(t)
	_, err := execute(context.Background(), "frobnicate")
	assert.Error(t, err)
}
