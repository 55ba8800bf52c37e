// Package pipeline declares the three chained stages of a scrape: crawl the
// listing pages, store the summaries, then enrich each stored record with
// its detail page.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/masahif/adtrail/internal/metrics"
	"github.com/masahif/adtrail/internal/models"
	"github.com/masahif/adtrail/internal/queue"
	"github.com/masahif/adtrail/internal/scraper"
	"github.com/masahif/adtrail/internal/storage"
)

// Queue names.
const (
	ListingQueue = "listing"
	StorageQueue = "storage"
	DetailQueue  = "detail"
)

// ListingFetcher crawls listing pages. Implemented by scraper.ListingCrawler.
type ListingFetcher interface {
	FetchListings(ctx context.Context, req scraper.ListingRequest, rep scraper.Reporter) ([]models.ProductSummary, error)
}

// DetailFetcher reads one item page. Implemented by scraper.DetailScraper.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, itemURL string, rep scraper.Reporter) (*models.ProductDetail, error)
}

// StageOptions is the retry and worker policy of one queue.
type StageOptions struct {
	Attempts    int           `mapstructure:"attempts" yaml:"attempts"`
	Backoff     time.Duration `mapstructure:"backoff" yaml:"backoff"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
}

// Config tunes batching, retries and pacing.
type Config struct {
	Listing StageOptions `mapstructure:"listing" yaml:"listing"`
	Storage StageOptions `mapstructure:"storage" yaml:"storage"`
	Detail  StageOptions `mapstructure:"detail" yaml:"detail"`

	ListingBatchSize int           `mapstructure:"listing_batch_size" yaml:"listing_batch_size"`
	DetailBatchSize  int           `mapstructure:"detail_batch_size" yaml:"detail_batch_size"`
	DetailDelayMin   time.Duration `mapstructure:"detail_delay_min" yaml:"detail_delay_min"`
	DetailDelayMax   time.Duration `mapstructure:"detail_delay_max" yaml:"detail_delay_max"`
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		Listing:          StageOptions{Attempts: 2, Backoff: 5 * time.Second, Concurrency: 1},
		Storage:          StageOptions{Attempts: 3, Backoff: 5 * time.Second, Concurrency: 2},
		Detail:           StageOptions{Attempts: 2, Backoff: 5 * time.Second, Concurrency: 1},
		ListingBatchSize: 50,
		DetailBatchSize:  20,
		DetailDelayMin:   time.Second,
		DetailDelayMax:   3 * time.Second,
	}
}

// Deps are the collaborators the stages run against.
type Deps struct {
	Listings ListingFetcher
	Details  DetailFetcher
	Store    storage.ProductStore
	Metrics  *metrics.Metrics
	Config   Config
}

// ListingOutcome is the stored result of a listing job.
type ListingOutcome struct {
	Count int                     `json:"count"`
	Items []models.ProductSummary `json:"-"`
}

// StorageOutcome is the stored result of a storage job.
type StorageOutcome struct {
	Stored       int                   `json:"stored"`
	InvalidItems []storage.InvalidItem `json:"invalidItems,omitempty"`
	Errors       []storage.ItemError   `json:"errors,omitempty"`
	URLs         []string              `json:"-"`
}

// DetailOutcome is the stored result of a detail job.
type DetailOutcome struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Stages builds the ordered stage list for queue.NewOrchestrator.
func Stages(deps Deps) []queue.Stage {
	cfg := deps.Config
	r := &runner{deps: deps, sleep: sleepContext}

	return []queue.Stage{
		queue.Define(stageConfig(ListingQueue, StorageQueue, cfg.Listing), r.crawl,
			func(out ListingOutcome) [][]models.ProductSummary {
				return Chunk(out.Items, cfg.ListingBatchSize)
			}),
		queue.Define(stageConfig(StorageQueue, DetailQueue, cfg.Storage), r.store,
			func(out StorageOutcome) [][]DetailTarget {
				targets := make([]DetailTarget, len(out.URLs))
				for i, u := range out.URLs {
					targets[i] = DetailTarget{URL: u}
				}
				return Chunk(targets, cfg.DetailBatchSize)
			}),
		queue.Define(stageConfig(DetailQueue, "", cfg.Detail), r.enrich,
			(func(DetailOutcome) []struct{})(nil)),
	}
}

func stageConfig(name, next string, o StageOptions) queue.StageConfig {
	return queue.StageConfig{
		Name:        name,
		Next:        next,
		Attempts:    o.Attempts,
		Backoff:     o.Backoff,
		Concurrency: o.Concurrency,
	}
}

type runner struct {
	deps  Deps
	sleep func(ctx context.Context, d time.Duration) error
}

func (r *runner) crawl(ctx context.Context, jc *queue.JobContext, job ListingJob) (ListingOutcome, error) {
	req := scraper.ListingRequest{
		Category:    job.Category,
		Subcategory: job.Subcategory,
		StartPage:   scraper.DefaultStartPage,
		MaxPages:    scraper.DefaultMaxPages,
	}
	if job.PageNumber != nil {
		req.StartPage = *job.PageNumber
	}
	if job.TotalPages != nil {
		req.MaxPages = *job.TotalPages
	}

	items, err := r.deps.Listings.FetchListings(ctx, req, jc)
	if err != nil {
		var invalid *scraper.InvalidParameterError
		if errors.As(err, &invalid) {
			return ListingOutcome{}, queue.Permanent(err)
		}
		return ListingOutcome{}, err
	}

	jc.Log(fmt.Sprintf("Scraped %d products from %s", len(items), job.Category))
	return ListingOutcome{Count: len(items), Items: items}, nil
}

func (r *runner) store(ctx context.Context, jc *queue.JobContext, batch StorageBatch) (StorageOutcome, error) {
	res, err := r.deps.Store.BulkUpsert(ctx, batch, storage.DefaultIdentity...)
	if err != nil {
		return StorageOutcome{}, fmt.Errorf("bulk upsert: %w", err)
	}

	for _, inv := range res.InvalidItems {
		jc.Log(fmt.Sprintf("Invalid product %s: %s", inv.Item.URL, (&models.ValidationError{Fields: inv.Fields}).Error()))
	}
	for _, e := range res.Errors {
		jc.Log(fmt.Sprintf("Failed to store product %s: %s", e.URL, e.Message))
	}

	r.deps.Metrics.AddUpserts("stored", len(res.URLs))
	r.deps.Metrics.AddUpserts("invalid", len(res.InvalidItems))
	r.deps.Metrics.AddUpserts("error", len(res.Errors))

	// Nothing was written, so a retry cannot duplicate history.
	if len(res.Errors) > 0 && len(res.URLs) == 0 && len(res.InvalidItems) == 0 {
		return StorageOutcome{}, fmt.Errorf("every product in the batch failed to store: %s", res.Errors[0].Message)
	}

	jc.Log(fmt.Sprintf("Stored %d of %d products", len(res.URLs), len(batch)))
	jc.Progress(100)
	return StorageOutcome{
		Stored:       len(res.URLs),
		InvalidItems: res.InvalidItems,
		Errors:       res.Errors,
		URLs:         res.URLs,
	}, nil
}

func (r *runner) enrich(ctx context.Context, jc *queue.JobContext, batch DetailBatch) (DetailOutcome, error) {
	var out DetailOutcome

	for i, target := range batch {
		if i > 0 {
			if err := r.sleep(ctx, r.detailDelay()); err != nil {
				return out, err
			}
		}

		updated, err := r.enrichOne(ctx, jc, target.URL)
		if err != nil {
			return out, err
		}
		if updated {
			out.Updated++
		} else {
			out.Skipped++
		}
		jc.Progress(float64(i+1) * 100 / float64(len(batch)))
	}

	jc.Log(fmt.Sprintf("Updated %d products, skipped %d", out.Updated, out.Skipped))
	return out, nil
}

// enrichOne reports whether the record was updated. Only errors that make
// the rest of the batch pointless are returned.
func (r *runner) enrichOne(ctx context.Context, jc *queue.JobContext, url string) (bool, error) {
	if _, err := r.deps.Store.FindByURL(ctx, url); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jc.Log("Product not found: " + url)
			r.deps.Metrics.IncDetail("missing")
			return false, nil
		}
		return false, fmt.Errorf("look up %s: %w", url, err)
	}

	detail, err := r.deps.Details.FetchDetail(ctx, url, jc)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		var sessErr *scraper.SessionError
		if errors.As(err, &sessErr) {
			return false, err
		}
		jc.Log(fmt.Sprintf("Failed to scrape product %s: %v", url, err))
		r.deps.Metrics.IncDetail("failed")
		return false, nil
	}
	if detail == nil {
		jc.Log("No detail data for product " + url)
		r.deps.Metrics.IncDetail("empty")
		return false, nil
	}

	if err := r.deps.Store.UpdateDetail(ctx, url, *detail); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jc.Log("Product not found: " + url)
			r.deps.Metrics.IncDetail("missing")
			return false, nil
		}
		return false, fmt.Errorf("update detail of %s: %w", url, err)
	}
	r.deps.Metrics.IncDetail("updated")
	return true, nil
}

// detailDelay picks a pause in [DetailDelayMin, DetailDelayMax].
func (r *runner) detailDelay() time.Duration {
	lo, hi := r.deps.Config.DetailDelayMin, r.deps.Config.DetailDelayMax
	if hi <= lo {
		return max(lo, 0)
	}
	return lo + rand.N(hi-lo+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
