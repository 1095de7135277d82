// Package fetch is the outbound HTTP client shared by the crawling stages.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMaxBodySize caps how much of a response body is read.
const DefaultMaxBodySize int64 = 10 << 20

const maxRedirects = 10

// Options configures a Client.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// Retries and RetryDelay control RetryTransport. Zero values use the
	// defaults; a negative Retries disables retrying.
	Retries    int
	RetryDelay time.Duration
	// FollowRedirects makes the client follow redirects, except downgrades
	// from https to http. When false, 3xx responses are returned as is.
	FollowRedirects bool
	MaxBodySize     int64
	Transport       http.RoundTripper
}

// Client performs GET and POST requests with browser-like headers.
type Client struct {
	http      *http.Client
	userAgent string
	maxBody   int64
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	// URL is the final request URL after redirects.
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Document parses the body as HTML.
func (r *Response) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.URL, err)
	}
	doc.Url = r.URL
	return doc, nil
}

// New creates a Client.
func New(opts Options) *Client {
	retries := opts.Retries
	switch {
	case retries == 0:
		retries = DefaultRetries
	case retries < 0:
		retries = 0
	}
	delay := opts.RetryDelay
	if delay == 0 {
		delay = DefaultRetryDelay
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}

	hc := &http.Client{
		Timeout:   opts.Timeout,
		Transport: &RetryTransport{Base: opts.Transport, Retries: retries, Delay: delay},
	}
	if opts.FollowRedirects {
		hc.CheckRedirect = checkRedirect
	} else {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &Client{http: hc, userAgent: opts.UserAgent, maxBody: maxBody}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}
	if via[len(via)-1].URL.Scheme == "https" && req.URL.Scheme == "http" {
		return http.ErrUseLastResponse
	}
	return nil
}

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setBrowserHeaders(req)
	return c.do(req)
}

// Post sends body to rawURL.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer drain(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL, err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) setBrowserHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
