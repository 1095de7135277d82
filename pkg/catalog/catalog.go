// Package catalog looks up products in the Product Advertising API and
// classifies them.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Lookup limits.
const (
	// MaxLookupIDs is the largest number of ids accepted by one lookup.
	MaxLookupIDs = 10
	// IDLength is the length of every id the catalog can resolve.
	IDLength = 10
)

// Item is a catalog record.
type Item struct {
	ASIN          string
	Title         string
	DetailPageURL string
	ImageURL      string
	Authors       []string
	Publisher     string
	PublishedOn   *time.Time
	// BrowseNodes holds the display names of the item's browse nodes.
	BrowseNodes []string
	Features    []string
}

// APIError is an error reported by the catalog for part of a request.
type APIError struct {
	Code    string
	Message string
}

func (e APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Response is the result of a lookup. Errors may be set alongside Items.
type Response struct {
	Items  []Item
	Errors []APIError
}

// StatusError is returned when the catalog rejects a whole request.
type StatusError struct {
	StatusCode int
	Errors     []APIError
}

func (e *StatusError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("catalog: status %d", e.StatusCode)
	}
	msgs := make([]string, len(e.Errors))
	for i, ae := range e.Errors {
		msgs[i] = ae.Error()
	}
	return fmt.Sprintf("catalog: status %d: %s", e.StatusCode, strings.Join(msgs, "; "))
}

// Lookuper resolves up to MaxLookupIDs ids.
type Lookuper interface {
	Lookup(ctx context.Context, ids []string) (*Response, error)
}

// ValidID reports whether id can be looked up.
func ValidID(id string) bool {
	return len(id) == IDLength
}
