package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"github.com/japaniel/mangarank/pkg/catalog"
	"github.com/japaniel/mangarank/pkg/config"
	"github.com/japaniel/mangarank/pkg/crawler"
	"github.com/japaniel/mangarank/pkg/db"
	"github.com/japaniel/mangarank/pkg/export"
	"github.com/japaniel/mangarank/pkg/fetch"
	"github.com/japaniel/mangarank/pkg/logger"
	"github.com/japaniel/mangarank/pkg/publish"
	"github.com/japaniel/mangarank/pkg/reading"
	"github.com/japaniel/mangarank/pkg/score"
)

// app holds what the sub-commands share. The database is opened on first use.
type app struct {
	cfg  *config.Config
	log  *logger.Logger
	conn *sqlx.DB
	st   *db.Store
}

func newApp(cfgPath, logLevel string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding, Output: logOut})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) store() (*db.Store, error) {
	if a.st != nil {
		return a.st, nil
	}
	conn, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.InitDB(conn); err != nil {
		conn.Close()
		return nil, err
	}
	a.conn = conn
	a.st = db.NewStore(conn)
	return a.st, nil
}

func (a *app) Close() error {
	_ = a.log.Sync() // fails on terminals
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *app) fetcher(followRedirects bool) *fetch.Client {
	return fetch.New(fetch.Options{
		UserAgent:       a.cfg.Crawler.UserAgent,
		Timeout:         a.cfg.Crawler.Timeout,
		FollowRedirects: followRedirects,
	})
}

func (a *app) crawlerOptions() crawler.Options {
	return crawler.Options{
		GroupURL:  a.cfg.Crawler.GroupURL,
		Delay:     a.cfg.Crawler.Delay,
		BatchSize: a.cfg.Crawler.BatchSize,
	}
}

func (a *app) runGroups(ctx context.Context) error {
	st, err := a.store()
	if err != nil {
		return err
	}
	res, err := crawler.NewGroupCrawler(st, a.fetcher(true), a.log, a.crawlerOptions()).Run(ctx, "")
	a.log.Info("groups finished", "found", res.Found, "next", res.Next)
	return err
}

func (a *app) runSites(ctx context.Context) error {
	st, err := a.store()
	if err != nil {
		return err
	}
	res, err := crawler.NewSiteCrawler(st, a.fetcher(true), a.log, a.crawlerOptions()).Run(ctx, 0)
	a.log.Info("sites finished", "found", res.Found, "last_site_id", res.LastSiteID)
	return err
}

// runEntries fetches without following redirects; a 302 marks an entry gone.
func (a *app) runEntries(ctx context.Context) error {
	st, err := a.store()
	if err != nil {
		return err
	}
	res, err := crawler.NewEntryCrawler(st, a.fetcher(false), a.log, a.crawlerOptions()).Run(ctx, 0)
	a.log.Info("entries finished", "crawled", res.Crawled, "linked", res.Linked, "last_entry_id", res.LastEntryID)
	return err
}

func (a *app) runCatalog(ctx context.Context) error {
	if err := a.cfg.ValidateCatalog(); err != nil {
		return err
	}
	st, err := a.store()
	if err != nil {
		return err
	}
	analyzer, err := reading.NewAnalyzer()
	if err != nil {
		return fmt.Errorf("create analyzer: %w", err)
	}
	c := a.cfg.Catalog
	client := catalog.NewClient(catalog.Config{
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		PartnerTag:  c.PartnerTag,
		Host:        c.Host,
		Region:      c.Region,
		Marketplace: c.Marketplace,
		Rate:        c.Rate,
	})
	res, err := crawler.NewCatalogCrawler(st, client, analyzer, a.log, crawler.CatalogOptions{
		BatchSize:  a.cfg.Crawler.BatchSize,
		Delay:      a.cfg.Crawler.Delay,
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay,
	}).Run(ctx, 0)
	a.log.Info("catalog finished", "classified", res.Classified, "in_domain", res.InDomain, "last_product_id", res.LastProductID)
	return err
}

func (a *app) runScore(ctx context.Context) error {
	st, err := a.store()
	if err != nil {
		return err
	}
	return score.NewCalculator(st, a.log).Calculate(ctx)
}

func (a *app) exporter() (*export.Exporter, error) {
	st, err := a.store()
	if err != nil {
		return nil, err
	}
	return export.NewExporter(st, a.log, a.cfg.Export.MaxItems), nil
}

func (a *app) runExport(ctx context.Context, dir string) error {
	ex, err := a.exporter()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = a.cfg.Export.Dir
	}
	return ex.Export(ctx, dir)
}

func (a *app) objectStore() (publish.ObjectStore, error) {
	if err := a.cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	return publish.NewObjectStore(a.cfg.Storage)
}

func (a *app) runUpload(ctx context.Context) error {
	objects, err := a.objectStore()
	if err != nil {
		return err
	}
	ex, err := a.exporter()
	if err != nil {
		return err
	}
	return publish.NewUploader(ex, objects, a.cfg.Storage.DataBucket, a.log).Upload(ctx)
}

// runBackup uploads a consistent snapshot of the SQLite database.
func (a *app) runBackup(ctx context.Context) error {
	if a.cfg.Database.Driver != db.DriverSQLite {
		a.log.Warn("backup skipped, only sqlite databases are backed up", "driver", a.cfg.Database.Driver)
		return nil
	}
	objects, err := a.objectStore()
	if err != nil {
		return err
	}
	st, err := a.store()
	if err != nil {
		return err
	}
	tmpDir, err := os.MkdirTemp("", "mangarank-backup-")
	if err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "mangarank.db")
	if err := st.Snapshot(ctx, snapshot); err != nil {
		return err
	}
	_, err = publish.NewBackuper(objects, a.cfg.Storage.BackupBucket, a.log).Backup(ctx, snapshot)
	return err
}

func (a *app) runCleanBackup(ctx context.Context) error {
	objects, err := a.objectStore()
	if err != nil {
		return err
	}
	removed, err := publish.NewCleaner(objects, a.cfg.Storage.BackupBucket, a.cfg.Storage.BackupRetention, a.log).Clean(ctx)
	a.log.Info("backups cleaned", "removed", removed)
	return err
}

func (a *app) runRequestBuild(ctx context.Context) error {
	if err := a.cfg.ValidateBuild(); err != nil {
		return err
	}
	return publish.NewBuildRequester(a.fetcher(true), a.cfg.Build.WebhookURL, a.log).Request(ctx)
}

// stage is one named step of the full pipeline.
type stage struct {
	name string
	run  func(ctx context.Context) error
}

func (a *app) pipeline() []stage {
	return []stage{
		{"groups", a.runGroups},
		{"sites", a.runSites},
		{"entries", a.runEntries},
		{"catalog", a.runCatalog},
		{"score", a.runScore},
		{"upload", a.runUpload},
		{"backup", a.runBackup},
		{"clean-backup", a.runCleanBackup},
		{"request-build", a.runRequestBuild},
	}
}

// runAll runs every stage in order and stops at the first failure.
func (a *app) runAll(ctx context.Context) error {
	for _, s := range a.pipeline() {
		a.log.Info("stage started", "stage", s.name)
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}
