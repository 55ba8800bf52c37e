// Package scraper extracts listing summaries and item details from the
// classifieds site through a headless browser session.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/masahif/adtrail/internal/browser"
	"github.com/masahif/adtrail/internal/metrics"
	"github.com/masahif/adtrail/internal/models"
	"github.com/masahif/adtrail/internal/normalize"
)

// Defaults applied by callers that leave the page window unset.
const (
	DefaultStartPage = 1
	DefaultMaxPages  = 100
)

// Config configures both scrapers.
type Config struct {
	BaseURL         string
	Selectors       Selectors
	ItemConcurrency int
	Limiter         *HostLimiter
	Metrics         *metrics.Metrics
}

// ListingRequest selects the category pages to walk.
type ListingRequest struct {
	Category    string
	Subcategory string
	StartPage   int
	MaxPages    int
}

// ListingCrawler walks a category's result pages.
type ListingCrawler struct {
	browser browser.Browser
	cfg     Config
}

// NewListingCrawler creates a crawler that opens one session per walk.
func NewListingCrawler(b browser.Browser, cfg Config) *ListingCrawler {
	cfg.Selectors = cfg.Selectors.withDefaults()
	if cfg.ItemConcurrency <= 0 {
		cfg.ItemConcurrency = 4
	}
	return &ListingCrawler{browser: b, cfg: cfg}
}

// BuildListingURL returns the search URL for a category page. Empty
// parameters are left out.
func BuildListingURL(base, category, subcategory string, page int) string {
	var params []string
	if category != "" {
		params = append(params, "category="+url.QueryEscape(category))
	}
	if subcategory != "" {
		params = append(params, "subcategory="+url.QueryEscape(subcategory))
	}
	if page > 0 {
		params = append(params, "page="+strconv.Itoa(page))
	}

	u := strings.TrimRight(base, "/") + "/search"
	if len(params) > 0 {
		u += "?" + strings.Join(params, "&")
	}
	return u
}

// FetchListings walks the requested pages sequentially and returns the
// accepted items, unique by URL, in the order they were first seen.
// A page that fails for any reason is logged and skipped. Only a failure to
// open the browser session aborts the walk.
func (c *ListingCrawler) FetchListings(ctx context.Context, req ListingRequest, rep Reporter) ([]models.ProductSummary, error) {
	rep = reporterOrNop(rep)

	if strings.TrimSpace(req.Category) == "" {
		return nil, &InvalidParameterError{Param: "category"}
	}
	if req.StartPage <= 0 || req.MaxPages <= 0 {
		return []models.ProductSummary{}, nil
	}

	session, err := c.browser.NewSession(ctx)
	if err != nil {
		return nil, &SessionError{Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Debug("Failed to close browser session", "error", err)
		}
	}()

	results := make([]models.ProductSummary, 0)
	seen := make(map[string]struct{})
	pager := NewPaginator(req.StartPage, req.MaxPages)

	for {
		page, ok := pager.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rep.Progress(pager.Progress())

		pageURL := BuildListingURL(c.cfg.BaseURL, req.Category, req.Subcategory, page)
		items, hasNext, err := c.crawlPage(ctx, session, req, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var loadErr *PageLoadError
			if errors.As(err, &loadErr) {
				slog.Warn("Skipping listing page", "page", page, "url", pageURL, "status", loadErr.Status)
			} else {
				slog.Warn("Skipping listing page", "page", page, "url", pageURL, "error", err)
			}
			rep.Log(fmt.Sprintf("Error processing page %d: %v", page, err))
			c.cfg.Metrics.IncPage("failed")
			pager.Fail()
			continue
		}

		added := 0
		for _, item := range items {
			if _, dup := seen[item.URL]; dup {
				continue
			}
			seen[item.URL] = struct{}{}
			results = append(results, item)
			added++
		}
		c.cfg.Metrics.IncPage("ok")
		c.cfg.Metrics.AddItems(added, len(items)-added)

		rep.Log(fmt.Sprintf("Number of products processed on page (%d) : %d", page, added))
		slog.Info("Listing page processed", "category", req.Category, "page", page, "items", added, "has_next", hasNext)
		pager.Succeed(hasNext)
	}

	rep.Progress(100)
	return results, nil
}

// crawlPage loads one result page and extracts its accepted items.
func (c *ListingCrawler) crawlPage(ctx context.Context, session browser.Session, req ListingRequest, pageURL string) ([]models.ProductSummary, bool, error) {
	if err := c.cfg.Limiter.Wait(ctx, pageURL); err != nil {
		return nil, false, err
	}

	status, err := session.Navigate(ctx, pageURL)
	if err != nil {
		return nil, false, err
	}
	if status != 200 {
		return nil, false, &PageLoadError{Status: status, URL: pageURL}
	}

	sel := c.cfg.Selectors
	if err := session.WaitReady(ctx, sel.ListContainer, sel.NextPage); err != nil {
		return nil, false, fmt.Errorf("wait for listing: %w", err)
	}

	doc, err := snapshot(ctx, session)
	if err != nil {
		return nil, false, err
	}

	origin := pageOrigin(ctx, session, pageURL)
	items := c.extractItems(doc, origin, req)
	return items, hasNextPage(doc, sel), nil
}

// rawItem is what a single list entry yields before validation.
type rawItem struct {
	href        string
	price       string
	description string
	image       string
	outstanding bool
}

// extractItems reads every list entry with a bounded number of goroutines
// and keeps the results in document order.
func (c *ListingCrawler) extractItems(doc *goquery.Document, origin string, req ListingRequest) []models.ProductSummary {
	sel := c.cfg.Selectors
	entries := doc.Find(sel.ListContainer).Find(sel.Item)

	raws := make([]rawItem, entries.Length())
	sem := make(chan struct{}, c.cfg.ItemConcurrency)
	var wg sync.WaitGroup

	entries.Each(func(i int, s *goquery.Selection) {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			raws[i] = readItem(s, sel)
		}()
	})
	wg.Wait()

	items := make([]models.ProductSummary, 0, len(raws))
	for _, raw := range raws {
		fullURL, ok := normalize.BuildFullURL(origin, raw.href)
		if raw.href == "" || !ok || raw.price == "" || raw.image == "" {
			continue
		}

		cost := normalize.ParseCost(raw.price)
		item := models.ProductSummary{
			Category:      req.Category,
			Subcategory:   req.Subcategory,
			URL:           fullURL,
			Cost:          raw.price,
			Currency:      cost.Currency,
			Price:         cost.Value,
			Description:   raw.description,
			ImageURL:      raw.image,
			IsOutstanding: raw.outstanding,
		}
		if id, ok := normalize.ExtractIDFromURL(fullURL, normalize.KindProductID); ok {
			item.ProductID = id
		}
		items = append(items, item)
	}
	return items
}

func readItem(s *goquery.Selection, sel Selectors) rawItem {
	href, _ := s.Find(sel.ItemLink).First().Attr("href")
	image, _ := s.Find(sel.ItemImage).First().Attr("src")
	return rawItem{
		href:        strings.TrimSpace(href),
		price:       text(s.Find(sel.ItemPrice)),
		description: text(s.Find(sel.ItemText)),
		image:       strings.TrimSpace(image),
		outstanding: s.Find(sel.Outstanding).Length() > 0,
	}
}

func hasNextPage(doc *goquery.Document, sel Selectors) bool {
	next := doc.Find(sel.NextPage).First()
	if next.Length() == 0 {
		return false
	}
	return !next.HasClass(sel.DisabledClass)
}

// snapshot serializes the live DOM and parses it for querying.
func snapshot(ctx context.Context, session browser.Session) (*goquery.Document, error) {
	raw, err := session.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// pageOrigin returns scheme://host of the page the browser ended up on,
// falling back to the requested URL.
func pageOrigin(ctx context.Context, session browser.Session, requested string) string {
	loc, err := session.Location(ctx)
	if err != nil || loc == "" {
		loc = requested
	}
	u, err := url.Parse(loc)
	if err != nil || u.Host == "" {
		return requested
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}
