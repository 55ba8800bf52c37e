// Package browser wraps headless Chrome behind a small interface so the
// scrapers can be exercised against canned HTML in tests.
package browser

import (
	"context"
	"errors"
	"io"
)

// ErrNoResponse is returned by Navigate when the browser produced no main
// document response.
var ErrNoResponse = errors.New("no response for main document")

// Browser hands out exclusive page sessions.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
	io.Closer
}

// Session is one browser tab. It must be closed on every exit path to
// release the underlying target.
type Session interface {
	// Navigate loads url and returns the HTTP status of the main document.
	Navigate(ctx context.Context, url string) (int, error)
	// WaitReady blocks until every selector is present in the DOM.
	WaitReady(ctx context.Context, selectors ...string) error
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Location returns the current document URL.
	Location(ctx context.Context) (string, error)
	io.Closer
}
