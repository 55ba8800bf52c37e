package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/masahif/adtrail/internal/browser"
	"github.com/masahif/adtrail/internal/models"
	"github.com/masahif/adtrail/internal/normalize"
)

// MsgUnexpectedStructure is logged when neither detail region is found.
const MsgUnexpectedStructure = "Page structure unexpected: missing views/location or seller/contact container"

// DetailScraper reads views, location and seller contact from an item page.
type DetailScraper struct {
	browser browser.Browser
	cfg     Config
}

// NewDetailScraper creates a scraper that opens one session per call.
func NewDetailScraper(b browser.Browser, cfg Config) *DetailScraper {
	cfg.Selectors = cfg.Selectors.withDefaults()
	return &DetailScraper{browser: b, cfg: cfg}
}

// FetchDetail loads itemURL and extracts its detail data. It returns a nil
// detail and nil error when the page carries neither expected region.
func (d *DetailScraper) FetchDetail(ctx context.Context, itemURL string, rep Reporter) (*models.ProductDetail, error) {
	rep = reporterOrNop(rep)

	if strings.TrimSpace(itemURL) == "" {
		return nil, &InvalidParameterError{Param: "url"}
	}

	session, err := d.browser.NewSession(ctx)
	if err != nil {
		return nil, &SessionError{Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Debug("Failed to close browser session", "error", err)
		}
	}()

	if err := d.cfg.Limiter.Wait(ctx, itemURL); err != nil {
		return nil, err
	}

	status, err := session.Navigate(ctx, itemURL)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, &PageLoadError{Status: status, URL: itemURL}
	}
	if err := session.WaitReady(ctx, "body"); err != nil {
		return nil, fmt.Errorf("wait for detail page: %w", err)
	}

	doc, err := snapshot(ctx, session)
	if err != nil {
		return nil, err
	}

	detail := d.parseDetail(doc, itemURL)
	if detail == nil {
		slog.Warn(MsgUnexpectedStructure, "url", itemURL)
		rep.Log(MsgUnexpectedStructure)
	}
	return detail, nil
}

func (d *DetailScraper) parseDetail(doc *goquery.Document, itemURL string) *models.ProductDetail {
	sel := d.cfg.Selectors
	info := doc.Find(sel.InfoContainer).First()
	seller := doc.Find(sel.SellerContainer).First()

	if info.Length() == 0 && seller.Length() == 0 {
		return nil
	}

	detail := &models.ProductDetail{}

	if info.Length() > 0 {
		detail.Views = normalize.ParseViews(text(info.Find(sel.Views)))
		loc := normalize.ParseLocation(text(info.Find(sel.Location)))
		detail.Location = models.Location{State: loc.State, Municipality: loc.Municipality}
	}

	if seller.Length() > 0 {
		detail.Seller = models.Seller{
			Name:     text(seller.Find(sel.SellerName)),
			WhatsApp: lastPathSegment(attr(seller.Find(sel.WhatsAppLink), "href")),
			Phone:    afterScheme(attr(seller.Find(sel.PhoneLink), "href")),
			Email:    afterScheme(attr(seller.Find(sel.EmailLink), "href")),
		}
		// Listings without a tel: link usually carry the number in the slug.
		if detail.Seller.Phone == "" {
			if phone, ok := normalize.ExtractIDFromURL(itemURL, normalize.KindPhoneNumber); ok {
				detail.Seller.Phone = phone
			}
		}
	}

	return detail
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.First().Attr(name)
	return strings.TrimSpace(v)
}

// lastPathSegment turns "https://wa.me/5355555555?text=hi" into "5355555555".
func lastPathSegment(href string) string {
	if i := strings.IndexByte(href, '?'); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndexByte(href, '/'); i >= 0 {
		href = href[i+1:]
	}
	return strings.TrimSpace(href)
}

// afterScheme turns "tel:+5355555555" into "+5355555555".
func afterScheme(href string) string {
	if i := strings.IndexByte(href, ':'); i >= 0 {
		return strings.TrimSpace(href[i+1:])
	}
	return ""
}
