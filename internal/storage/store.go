// Package storage persists product records with their change history.
// Every mutation is a single atomic statement keyed on the record identity,
// so concurrent upserts of the same product never lose history entries.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/masahif/adtrail/internal/models"
)

var (
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("product not found")
	// ErrUnsupportedIdentity is returned for identity fields a backend cannot key on.
	ErrUnsupportedIdentity = errors.New("unsupported identity fields")
)

// DefaultIdentity keys records by listing URL.
var DefaultIdentity = []string{"url"}

// ProductStore is the document store behind the pipeline.
type ProductStore interface {
	// BulkUpsert stores every item independently. Invalid items and per-item
	// failures are reported in the result, never as the returned error.
	BulkUpsert(ctx context.Context, items []models.ProductSummary, identity ...string) (*BulkResult, error)
	// UpdateDetail overwrites the detail fields and appends one views and one
	// location history entry.
	UpdateDetail(ctx context.Context, url string, detail models.ProductDetail) error
	FindByURL(ctx context.Context, url string) (*models.ProductRecord, error)
	Find(ctx context.Context, f Filter) ([]models.ProductRecord, error)
	Count(ctx context.Context, f Filter) (int64, error)
	// DeleteAll removes every record. Administrative use only.
	DeleteAll(ctx context.Context) (int64, error)
	Close() error
}

// Filter narrows Find and Count. Zero values match everything.
type Filter struct {
	Category    string
	Subcategory string
	Limit       int
}

// BulkResult is the outcome of BulkUpsert.
type BulkResult struct {
	URLs         []string      `json:"urls"`
	InvalidItems []InvalidItem `json:"invalidItems,omitempty"`
	Errors       []ItemError   `json:"errors,omitempty"`
}

// InvalidItem is an item rejected by validation.
type InvalidItem struct {
	Item   models.ProductSummary `json:"item"`
	Fields []models.FieldError   `json:"fields"`
}

// ItemError is an item the store failed to write.
type ItemError struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

// checkItem validates a summary and its identity fields.
func checkItem(item *models.ProductSummary, identity []string) []models.FieldError {
	verr := &models.ValidationError{}
	if err := item.Validate(); err != nil {
		errors.As(err, &verr)
	}
	for _, field := range identity {
		if v, ok := identityValue(item, field); ok && v == "" {
			verr.Add(field, fmt.Sprintf("identity field %s is empty", field))
		}
	}
	return verr.Fields
}

// identityValue reads a top-level summary field usable as identity.
func identityValue(item *models.ProductSummary, field string) (string, bool) {
	switch field {
	case "url":
		return item.URL, true
	case "productId":
		return item.ProductID, true
	case "category":
		return item.Category, true
	case "subcategory":
		return item.Subcategory, true
	default:
		return "", false
	}
}

func normalizeIdentity(identity []string) []string {
	if len(identity) == 0 {
		return DefaultIdentity
	}
	return identity
}

// newRecord is the document created on first upsert of a summary.
func newRecord(item models.ProductSummary, now time.Time) models.ProductRecord {
	return models.ProductRecord{
		ProductSummary:       item,
		PriceHistory:         []models.HistoryEntry[float64]{{Value: item.Price, UpdatedAt: now}},
		IsOutstandingHistory: []models.HistoryEntry[bool]{{Value: item.IsOutstanding, UpdatedAt: now}},
		LocationHistory:      []models.HistoryEntry[models.Location]{},
		ViewsHistory:         []models.HistoryEntry[float64]{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
