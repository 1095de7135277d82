package fetch

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Default retry policy for transport failures.
const (
	DefaultRetries    = 3
	DefaultRetryDelay = 500 * time.Millisecond
)

// RetryTransport retries a request when the underlying transport fails.
// HTTP responses of any status are returned as is. After the last attempt the
// errors of every attempt are joined.
type RetryTransport struct {
	Base    http.RoundTripper
	Retries int
	Delay   time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	var errs []error
	for attempt := 0; attempt <= t.Retries; attempt++ {
		if attempt > 0 {
			if err := Sleep(req.Context(), t.Delay); err != nil {
				errs = append(errs, err)
				break
			}
			if req.Body != nil && req.Body != http.NoBody {
				if req.GetBody == nil {
					break
				}
				body, err := req.GetBody()
				if err != nil {
					errs = append(errs, err)
					break
				}
				req = req.Clone(req.Context())
				req.Body = body
			}
		}

		resp, err := base.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt+1, err))
		if req.Context().Err() != nil || IsTLSError(err) || IsHostNotFound(err) {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// drain discards the rest of a body so the connection can be reused.
func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()
}
