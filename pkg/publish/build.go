package publish

import (
	"context"
	"fmt"

	"github.com/japaniel/mangarank/pkg/fetch"
	"github.com/japaniel/mangarank/pkg/logger"
)

// Poster sends a request body to a URL.
type Poster interface {
	Post(ctx context.Context, rawURL, contentType string, body []byte) (*fetch.Response, error)
}

// BuildRequester triggers the static site build hook.
type BuildRequester struct {
	client  Poster
	hookURL string
	log     logger.Interface
}

func NewBuildRequester(client Poster, hookURL string, log logger.Interface) *BuildRequester {
	return &BuildRequester{client: client, hookURL: hookURL, log: log}
}

// Request POSTs an empty body to the hook. Any non-2xx status is an error.
func (r *BuildRequester) Request(ctx context.Context) error {
	resp, err := r.client.Post(ctx, r.hookURL, "", nil)
	if err != nil {
		return fmt.Errorf("request build: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("request build: unexpected status %d", resp.StatusCode)
	}
	r.log.Info("build requested", "status", resp.StatusCode)
	return nil
}
