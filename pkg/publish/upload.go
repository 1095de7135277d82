package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/japaniel/mangarank/pkg/export"
	"github.com/japaniel/mangarank/pkg/logger"
)

const jsonContentType = "application/json"

// Exporter writes the dataset files through an export.OpenFunc.
type Exporter interface {
	ExportTo(ctx context.Context, open export.OpenFunc) error
}

// Uploader puts the exported files into the data bucket.
type Uploader struct {
	exporter Exporter
	objects  ObjectStore
	bucket   string
	log      logger.Interface
}

func NewUploader(exporter Exporter, objects ObjectStore, bucket string, log logger.Interface) *Uploader {
	return &Uploader{exporter: exporter, objects: objects, bucket: bucket, log: log}
}

// Upload exports into memory and stores every file under its own name.
func (u *Uploader) Upload(ctx context.Context) error {
	log := logger.ForRun(u.log, "upload")
	return u.exporter.ExportTo(ctx, func(name string) (io.WriteCloser, error) {
		return &objectWriter{ctx: ctx, u: u, log: log, name: name}, nil
	})
}

// objectWriter buffers one file and uploads it on Close.
type objectWriter struct {
	bytes.Buffer
	ctx  context.Context
	u    *Uploader
	log  logger.Interface
	name string
}

func (w *objectWriter) Close() error {
	_, err := w.u.objects.PutObject(w.ctx, w.u.bucket, w.name, bytes.NewReader(w.Bytes()), int64(w.Len()),
		minio.PutObjectOptions{ContentType: jsonContentType})
	if err != nil {
		return fmt.Errorf("upload %s: %w", w.name, err)
	}
	w.log.Info("uploaded", "bucket", w.u.bucket, "object", w.name, "size", w.Len())
	return nil
}
