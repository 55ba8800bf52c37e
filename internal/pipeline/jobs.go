package pipeline

import (
	"fmt"
	"strings"

	"github.com/masahif/adtrail/internal/models"
)

// ListingJob asks stage one to crawl a category. Missing page values fall
// back to the crawler defaults.
type ListingJob struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	PageNumber  *int   `json:"pageNumber,omitempty"`
	TotalPages  *int   `json:"totalPages,omitempty"`
}

// Validate implements the submission check for the listing queue.
func (j *ListingJob) Validate() error {
	verr := &models.ValidationError{}
	if strings.TrimSpace(j.Category) == "" {
		verr.Add("category", "Category is required")
	}
	return verr.Err()
}

// StorageBatch is a stage two payload. Items are validated one by one when
// stored, so a bad item never rejects the batch.
type StorageBatch []models.ProductSummary

// DetailTarget names one stored record to enrich.
type DetailTarget struct {
	URL string `json:"url"`
}

// DetailBatch is a stage three payload.
type DetailBatch []DetailTarget

// Validate rejects targets without a URL.
func (b DetailBatch) Validate() error {
	verr := &models.ValidationError{}
	for i, t := range b {
		if strings.TrimSpace(t.URL) == "" {
			verr.Add(fmt.Sprintf("[%d].url", i), "URL is required")
		}
	}
	return verr.Err()
}

// Chunk splits items into consecutive batches of at most size elements.
// A non-positive size yields a single batch.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches
}
