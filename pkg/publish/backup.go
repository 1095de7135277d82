package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/japaniel/mangarank/pkg/logger"
)

const (
	backupPrefix      = "mangarank"
	backupContentType = "application/x-sqlite3"
)

// BackupName returns the object name of a backup taken at t.
func BackupName(t time.Time) string {
	return backupPrefix + t.UTC().Format("20060102150405") + ".db"
}

// Backuper uploads database files to the backup bucket.
type Backuper struct {
	objects ObjectStore
	bucket  string
	log     logger.Interface
	now     func() time.Time
}

func NewBackuper(objects ObjectStore, bucket string, log logger.Interface) *Backuper {
	return &Backuper{objects: objects, bucket: bucket, log: log, now: time.Now}
}

// Backup uploads the file at path. A missing file is logged and skipped.
// It returns the object name, or "" when nothing was uploaded.
func (b *Backuper) Backup(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		b.log.Warn("database file not found, skipping backup", "path", path)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open backup source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat backup source: %w", err)
	}
	name := BackupName(b.now())
	_, err = b.objects.PutObject(ctx, b.bucket, name, f, info.Size(),
		minio.PutObjectOptions{ContentType: backupContentType})
	if err != nil {
		return "", fmt.Errorf("upload backup %s: %w", name, err)
	}
	b.log.Info("backup uploaded", "bucket", b.bucket, "object", name, "size", info.Size())
	return name, nil
}

// Cleaner deletes backups older than the retention window.
type Cleaner struct {
	objects   ObjectStore
	bucket    string
	retention time.Duration
	log       logger.Interface
	now       func() time.Time
}

func NewCleaner(objects ObjectStore, bucket string, retention time.Duration, log logger.Interface) *Cleaner {
	return &Cleaner{objects: objects, bucket: bucket, retention: retention, log: log, now: time.Now}
}

// Clean removes every object in the bucket last modified before now minus
// the retention, and returns how many were removed.
func (c *Cleaner) Clean(ctx context.Context) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cutoff := c.now().Add(-c.retention)
	removed := 0
	for obj := range c.objects.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return removed, fmt.Errorf("list backups: %w", obj.Err)
		}
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := c.objects.RemoveObject(ctx, c.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove backup %s: %w", obj.Key, err)
		}
		c.log.Info("backup removed", "object", obj.Key, "last_modified", obj.LastModified)
		removed++
	}
	return removed, nil
}
