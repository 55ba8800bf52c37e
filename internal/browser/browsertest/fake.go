// Package browsertest provides an in-memory browser.Browser serving canned
// pages, for tests of code that drives a browser.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/masahif/adtrail/internal/browser"
)

// Page is a canned response.
type Page struct {
	Status int
	HTML   string
	// Err, when set, is returned from Navigate instead of a response.
	Err error
}

// Browser serves Pages keyed by exact URL. Unknown URLs answer 404.
type Browser struct {
	// SessionErr, when set, makes NewSession fail.
	SessionErr error

	mu      sync.Mutex
	pages   map[string]Page
	visits  []string
	open    int
	created int
}

// New returns a Browser serving pages.
func New(pages map[string]Page) *Browser {
	if pages == nil {
		pages = make(map[string]Page)
	}
	return &Browser{pages: pages}
}

// Set adds or replaces a page.
func (b *Browser) Set(url string, p Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = p
}

func (b *Browser) NewSession(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SessionErr != nil {
		return nil, b.SessionErr
	}
	b.open++
	b.created++
	return &session{b: b}, nil
}

func (b *Browser) Close() error { return nil }

// Visits returns every navigated URL in order.
func (b *Browser) Visits() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.visits...)
}

// OpenSessions returns sessions created but not yet closed.
func (b *Browser) OpenSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// SessionsCreated returns the total number of sessions handed out.
func (b *Browser) SessionsCreated() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created
}

type session struct {
	b       *Browser
	current string
	page    Page
	closed  bool
}

func (s *session) Navigate(ctx context.Context, url string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.b.mu.Lock()
	s.b.visits = append(s.b.visits, url)
	page, ok := s.b.pages[url]
	s.b.mu.Unlock()

	if !ok {
		page = Page{Status: 404, HTML: "<html><body>not found</body></html>"}
	}
	if page.Err != nil {
		return 0, page.Err
	}
	s.current, s.page = url, page
	return page.Status, nil
}

func (s *session) WaitReady(ctx context.Context, selectors ...string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.page.HTML))
	if err != nil {
		return err
	}
	for _, sel := range selectors {
		if doc.Find(sel).Length() == 0 {
			return fmt.Errorf("waiting for %q: %w", sel, context.DeadlineExceeded)
		}
	}
	return nil
}

func (s *session) HTML(ctx context.Context) (string, error) {
	if s.current == "" {
		return "", errors.New("no page loaded")
	}
	return s.page.HTML, nil
}

func (s *session) Location(ctx context.Context) (string, error) {
	return s.current, nil
}

func (s *session) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.b.open--
	}
	return nil
}
